package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// InlineFile 是随请求一起提交、需要先上传为上下文文件的内容。
type InlineFile struct {
	Name     string
	MIMEType string
	Data     []byte
}

type addContextFileBody struct {
	AddContextFileRequest struct {
		FileContents string `json:"fileContents"`
		FileName     string `json:"fileName"`
		MIMEType     string `json:"mimeType"`
		Name         string `json:"name"`
	} `json:"addContextFileRequest"`
	AdditionalParams additionalParams `json:"additionalParams"`
	ConfigID         string           `json:"configId"`
}

// AddContextFile 把文件上传到 session 下，返回上游的 fileId。
func (c *Client) AddContextFile(ctx context.Context, token, session, configID string, file InlineFile) (string, error) {
	var body addContextFileBody
	body.AddContextFileRequest.FileContents = base64.StdEncoding.EncodeToString(file.Data)
	body.AddContextFileRequest.FileName = file.Name
	body.AddContextFileRequest.MIMEType = file.MIMEType
	body.AddContextFileRequest.Name = session
	body.AdditionalParams.Token = "-"
	body.ConfigID = configID

	status, data, err := c.postJSON(ctx, c.config.UploadTimeout, c.endpoint("widgetAddContextFile"), token, body)
	if err != nil {
		return "", err
	}
	if status != 200 {
		return "", &StatusError{Op: "add context file", Status: status, Body: truncate(string(data), maxErrBodyBytes)}
	}

	var resp struct {
		AddContextFileResponse struct {
			FileID string `json:"fileId"`
		} `json:"addContextFileResponse"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("malformed add context file response: %w", err)
	}
	if resp.AddContextFileResponse.FileID == "" {
		return "", fmt.Errorf("add context file response missing fileId: %s", truncate(string(data), maxErrBodyBytes))
	}
	return resp.AddContextFileResponse.FileID, nil
}

// FileMetadata 是 widgetListSessionFileMetadata 返回的单个文件描述。
type FileMetadata struct {
	FileID   string `json:"fileId"`
	Name     string `json:"name"`
	MIMEType string `json:"mimeType"`
	Session  string `json:"session"`
}

// ListSessionFiles 返回会话中 AI 生成的文件，按 fileId 索引。
func (c *Client) ListSessionFiles(ctx context.Context, token, session, configID string) (map[string]FileMetadata, error) {
	body := map[string]any{
		"configId":         configID,
		"additionalParams": additionalParams{Token: "-"},
		"listSessionFileMetadataRequest": map[string]string{
			"name":   session,
			"filter": "file_origin_type = AI_GENERATED",
		},
	}
	status, data, err := c.postJSON(ctx, c.config.ControlTimeout, c.endpoint("widgetListSessionFileMetadata"), token, body)
	if err != nil {
		return nil, err
	}
	if status != 200 {
		return nil, &StatusError{Op: "list session files", Status: status, Body: truncate(string(data), maxErrBodyBytes)}
	}

	var resp struct {
		ListSessionFileMetadataResponse struct {
			FileMetadata []FileMetadata `json:"fileMetadata"`
		} `json:"listSessionFileMetadataResponse"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("malformed list session files response: %w", err)
	}
	out := make(map[string]FileMetadata, len(resp.ListSessionFileMetadataResponse.FileMetadata))
	for _, meta := range resp.ListSessionFileMetadataResponse.FileMetadata {
		if meta.FileID != "" {
			out[meta.FileID] = meta
		}
	}
	return out, nil
}

// DownloadFile 下载 session 下的文件。上游有时返回 base64 文本而不是原始字节，这里会还原。
func (c *Client) DownloadFile(ctx context.Context, token, session, fileID string) ([]byte, error) {
	u := c.config.BaseURL + "/" + strings.TrimLeft(session, "/") + ":downloadFile?fileId=" + url.QueryEscape(fileID) + "&alt=media"

	ctx, cancel := context.WithTimeout(ctx, c.config.DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, token)

	status, data, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		return nil, &StatusError{Op: "download file", Status: status, Body: truncate(string(data), maxErrBodyBytes)}
	}
	return maybeBase64Image(data), nil
}

func maybeBase64Image(data []byte) []byte {
	text := bytes.TrimSpace(data)
	if !bytes.HasPrefix(text, []byte("iVBORw0KGgo")) && !bytes.HasPrefix(text, []byte("/9j/")) {
		return data
	}
	decoded, err := base64.StdEncoding.DecodeString(string(text))
	if err != nil {
		return data
	}
	return decoded
}

// FetchURL 下载远程图片，返回内容和 MIME 类型。
func (c *Client) FetchURL(ctx context.Context, rawURL string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.ControlTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s failed: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if !isSuccess(resp.StatusCode) {
		return nil, "", &StatusError{Op: "fetch url", Status: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, "", err
	}
	mimeType := "image/png"
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil && mt != "" {
		mimeType = mt
	}
	return data, mimeType, nil
}

// ParseDataURL 解析 data:<mime>;base64,<data> 形式的内联内容。
func ParseDataURL(s string) (InlineFile, bool) {
	if !strings.HasPrefix(s, "data:") {
		return InlineFile{}, false
	}
	header, payload, ok := strings.Cut(s[len("data:"):], ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return InlineFile{}, false
	}
	mimeType := strings.TrimSuffix(header, ";base64")
	if mimeType == "" {
		mimeType = "image/png"
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return InlineFile{}, false
	}
	return InlineFile{
		Name:     "inline_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8] + FileExtension(mimeType),
		MIMEType: mimeType,
		Data:     data,
	}, true
}

// FileExtension 返回常见图片 MIME 的扩展名，未知类型按 .png 处理。
func FileExtension(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
