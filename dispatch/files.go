package dispatch

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileRecord 记录 OpenAI file id 与上游 fileId 的对应关系。上游文件只在上传时的会话内可见。
type FileRecord struct {
	ID         string `json:"id"`
	ProviderID string `json:"provider_file_id"`
	Session    string `json:"session"`
	Account    int    `json:"account"`
	Filename   string `json:"filename"`
	MIMEType   string `json:"mime_type"`
	Bytes      int    `json:"bytes"`
	Purpose    string `json:"purpose"`
	CreatedAt  int64  `json:"created_at"`
}

// FileRegistry 是进程内的文件映射表，重启即丢失。
type FileRegistry struct {
	mu    sync.RWMutex
	files map[string]FileRecord
}

func NewFileRegistry() *FileRegistry {
	return &FileRegistry{files: map[string]FileRecord{}}
}

func newFileID() string {
	return "file-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// Add 保存记录；ID 为空时生成 file-xxx，CreatedAt 为零时取当前时间。
func (r *FileRegistry) Add(rec FileRecord) FileRecord {
	if rec.ID == "" {
		rec.ID = newFileID()
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().Unix()
	}
	r.mu.Lock()
	r.files[rec.ID] = rec
	r.mu.Unlock()
	return rec
}

func (r *FileRegistry) Get(id string) (FileRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.files[id]
	return rec, ok
}

func (r *FileRegistry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.files[id]; !ok {
		return false
	}
	delete(r.files, id)
	return true
}

// List 按创建时间升序返回全部记录。
func (r *FileRegistry) List() []FileRecord {
	r.mu.RLock()
	out := make([]FileRecord, 0, len(r.files))
	for _, rec := range r.files {
		out = append(out, rec)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Resolve 把 OpenAI file id 转成上游 fileId，未知 id 直接忽略。
func (r *FileRegistry) Resolve(ids []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if rec, ok := r.files[id]; ok && rec.ProviderID != "" {
			out = append(out, rec.ProviderID)
		}
	}
	return out
}
