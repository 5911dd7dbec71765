package dispatch

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LubyRuffy/gemb2o/backend"
	"github.com/LubyRuffy/gemb2o/pool"
	"go.uber.org/zap"
)

// Upstream 是 Dispatcher 用到的上游接口，*backend.Client 实现了它。
type Upstream interface {
	StreamAssist(ctx context.Context, token string, req backend.ChatRequest) (*backend.ChatResponse, error)
	AddContextFile(ctx context.Context, token, session, configID string, file backend.InlineFile) (string, error)
	ListSessionFiles(ctx context.Context, token, session, configID string) (map[string]backend.FileMetadata, error)
	DownloadFile(ctx context.Context, token, session, fileID string) ([]byte, error)
	FetchURL(ctx context.Context, rawURL string) ([]byte, string, error)
}

type Config struct {
	Pool     *pool.Pool
	Upstream Upstream
	// Files 为空时使用新的内存表。
	Files  *FileRegistry
	Usage  UsageRecorder
	Logger *zap.Logger
}

// Dispatcher 把一次请求按轮询分配到账号上，失败时换下一个账号重试。
type Dispatcher struct {
	pool     *pool.Pool
	upstream Upstream
	files    *FileRegistry
	usage    UsageRecorder
	logger   *zap.Logger
}

func New(config Config) (*Dispatcher, error) {
	if config.Pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if config.Upstream == nil {
		return nil, fmt.Errorf("upstream is required")
	}
	d := &Dispatcher{
		pool:     config.Pool,
		upstream: config.Upstream,
		files:    config.Files,
		usage:    config.Usage,
		logger:   config.Logger,
	}
	if d.files == nil {
		d.files = NewFileRegistry()
	}
	if d.usage == nil {
		d.usage = nopUsageRecorder{}
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	return d, nil
}

func (d *Dispatcher) Pool() *pool.Pool { return d.pool }

func (d *Dispatcher) Files() *FileRegistry { return d.files }

// Request 是一次对话请求。
type Request struct {
	Model string
	Query string
	// FileIDs 是 /v1/files 返回的 OpenAI file id。
	FileIDs []string
	// Images 在每次尝试时上传到当次账号的会话；ImageURLs 先下载再上传。
	Images          []backend.InlineFile
	ImageURLs       []string
	ForceNewSession bool
}

type Result struct {
	Text     string
	Thoughts []string
	Images   []backend.Image
	Account  int
	Session  string
	Attempts int
}

// Content 返回文本加上以 markdown data URL 附加的图片。
func (r *Result) Content() string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(r.Text)
	for _, img := range r.Images {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "![%s](data:%s;base64,%s)", firstNonEmpty(img.Name, "image"), img.MIMEType, base64.StdEncoding.EncodeToString(img.Data))
	}
	return b.String()
}

// run 最多尝试账号总数次。没有可用账号立即返回 pool.ErrNoAvailableAccounts；
// 其余错误记为本次尝试失败并换下一个账号，账号是否下线只由 pool 决定。
func (d *Dispatcher) run(ctx context.Context, op string, attempt func(ctx context.Context, idx int) error) (int, int, error) {
	total, _ := d.pool.Count()
	var lastErr error
	for n := 1; n <= total; n++ {
		if err := ctx.Err(); err != nil {
			return -1, n - 1, err
		}
		idx, _, err := d.pool.NextAccount()
		if err != nil {
			if lastErr != nil && errors.Is(err, pool.ErrNoAvailableAccounts) {
				return -1, n - 1, fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return -1, n - 1, err
		}
		if err := attempt(ctx, idx); err != nil {
			lastErr = err
			d.logger.Warn("attempt failed",
				zap.String("op", op),
				zap.Int("account", idx),
				zap.Int("attempt", n),
				zap.Int("total", total),
				zap.Error(err))
			continue
		}
		d.logger.Info("attempt succeeded", zap.String("op", op), zap.Int("account", idx), zap.Int("attempt", n))
		return idx, n, nil
	}
	if lastErr == nil {
		return -1, 0, pool.ErrNoAvailableAccounts
	}
	d.logger.Error("all accounts failed", zap.String("op", op), zap.Int("attempts", total), zap.Error(lastErr))
	return -1, total, &AllAccountsFailedError{Attempts: total, Last: lastErr}
}

// Chat 执行一次对话。成功后生成文件的下载失败只记录日志，不影响结果。
func (d *Dispatcher) Chat(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	fileIDs := d.files.Resolve(req.FileIDs)
	if strings.TrimSpace(req.Query) == "" && len(fileIDs) == 0 && len(req.Images) == 0 && len(req.ImageURLs) == 0 {
		return nil, ErrEmptyRequest
	}

	var (
		resp    *backend.ChatResponse
		session pool.Session
	)
	idx, attempts, err := d.run(ctx, "chat", func(ctx context.Context, idx int) error {
		s, err := d.pool.EnsureSession(ctx, idx, req.ForceNewSession)
		if err != nil {
			return err
		}
		ids := append([]string(nil), fileIDs...)
		ids = append(ids, d.uploadImages(ctx, s, req)...)

		r, err := d.upstream.StreamAssist(ctx, s.Token, backend.ChatRequest{
			Session:  s.Name,
			ConfigID: s.ConfigID,
			Query:    req.Query,
			FileIDs:  ids,
		})
		if err != nil {
			return err
		}
		resp, session = r, s
		return nil
	})

	u := Usage{
		Operation:   "chat",
		Model:       req.Model,
		Account:     idx,
		Attempts:    attempts,
		Success:     err == nil,
		PromptChars: len([]rune(req.Query)),
	}
	if err != nil {
		u.Duration = time.Since(start)
		u.Error = err.Error()
		d.usage.Record(ctx, u)
		return nil, err
	}

	result := &Result{
		Text:     resp.Text,
		Thoughts: resp.Thoughts,
		Images:   resp.Images,
		Account:  idx,
		Session:  firstNonEmpty(resp.Session, session.Name),
		Attempts: attempts,
	}
	result.Images = append(result.Images, d.fetchArtifacts(ctx, session, result.Session, resp.Files)...)

	u.Duration = time.Since(start)
	u.CompletionChars = len([]rune(result.Text))
	d.usage.Record(ctx, u)
	return result, nil
}

func (d *Dispatcher) uploadImages(ctx context.Context, s pool.Session, req Request) []string {
	files := append([]backend.InlineFile(nil), req.Images...)
	for _, u := range req.ImageURLs {
		data, mimeType, err := d.upstream.FetchURL(ctx, u)
		if err != nil {
			d.logger.Warn("skip image url", zap.String("url", u), zap.Error(err))
			continue
		}
		files = append(files, backend.InlineFile{
			Name:     "url_" + newFileID()[5:13] + backend.FileExtension(mimeType),
			MIMEType: mimeType,
			Data:     data,
		})
	}

	var ids []string
	for _, f := range files {
		id, err := d.upstream.AddContextFile(ctx, s.Token, s.Name, s.ConfigID, f)
		if err != nil {
			d.logger.Warn("skip inline image upload", zap.String("name", f.Name), zap.Error(err))
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (d *Dispatcher) fetchArtifacts(ctx context.Context, s pool.Session, session string, refs []backend.FileRef) []backend.Image {
	if len(refs) == 0 || session == "" {
		return nil
	}
	meta, err := d.upstream.ListSessionFiles(ctx, s.Token, session, s.ConfigID)
	if err != nil {
		d.logger.Warn("list session files failed", zap.String("session", session), zap.Error(err))
		meta = nil
	}

	var images []backend.Image
	for _, ref := range refs {
		name, path := ref.Name, session
		if m, ok := meta[ref.FileID]; ok {
			name = firstNonEmpty(name, m.Name)
			path = firstNonEmpty(m.Session, session)
		}
		data, err := d.upstream.DownloadFile(ctx, s.Token, path, ref.FileID)
		if err != nil {
			d.logger.Warn("download file failed", zap.String("file_id", ref.FileID), zap.Error(err))
			continue
		}
		images = append(images, backend.Image{FileID: ref.FileID, Name: name, MIMEType: ref.MIMEType, Data: data})
	}
	return images
}

// FileUpload 是 /v1/files 上传的内容。
type FileUpload struct {
	Filename string
	MIMEType string
	Purpose  string
	Data     []byte
}

// UploadFile 借用一个账号的会话上传文件，并把映射记入文件表。
func (d *Dispatcher) UploadFile(ctx context.Context, f FileUpload) (FileRecord, error) {
	var providerID string
	var session pool.Session
	idx, _, err := d.run(ctx, "upload", func(ctx context.Context, idx int) error {
		s, err := d.pool.EnsureSession(ctx, idx, false)
		if err != nil {
			return err
		}
		id, err := d.upstream.AddContextFile(ctx, s.Token, s.Name, s.ConfigID, backend.InlineFile{
			Name:     f.Filename,
			MIMEType: f.MIMEType,
			Data:     f.Data,
		})
		if err != nil {
			return err
		}
		providerID, session = id, s
		return nil
	})
	if err != nil {
		return FileRecord{}, err
	}
	return d.files.Add(FileRecord{
		ProviderID: providerID,
		Session:    session.Name,
		Account:    idx,
		Filename:   f.Filename,
		MIMEType:   f.MIMEType,
		Bytes:      len(f.Data),
		Purpose:    firstNonEmpty(f.Purpose, "assistants"),
	}), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
