package openaihttp

import (
	"io"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/LubyRuffy/gemb2o/dispatch"
	"github.com/LubyRuffy/gemb2o/openaiapi"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type filesHandler struct {
	dispatcher *dispatch.Dispatcher
	maxBytes   int64
	logger     *zap.Logger
}

func toOpenAIFile(rec dispatch.FileRecord) openaiapi.OpenAIFile {
	return openaiapi.OpenAIFile{
		ID:        rec.ID,
		Object:    "file",
		Bytes:     rec.Bytes,
		CreatedAt: rec.CreatedAt,
		Filename:  rec.Filename,
		Purpose:   rec.Purpose,
	}
}

func (h *filesHandler) upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes)
	fh, err := c.FormFile("file")
	if err != nil {
		writeOpenAIError(c.Writer, http.StatusBadRequest, "No file provided")
		return
	}
	if fh.Filename == "" {
		writeOpenAIError(c.Writer, http.StatusBadRequest, "No file selected")
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeOpenAIError(c.Writer, http.StatusBadRequest, "failed to read file")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeOpenAIError(c.Writer, http.StatusBadRequest, "failed to read file")
		return
	}

	mimeType := fh.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		if guessed := mime.TypeByExtension(filepath.Ext(fh.Filename)); guessed != "" {
			mimeType = guessed
		}
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	rec, err := h.dispatcher.UploadFile(c.Request.Context(), dispatch.FileUpload{
		Filename: fh.Filename,
		MIMEType: mimeType,
		Purpose:  c.PostForm("purpose"),
		Data:     data,
	})
	if err != nil {
		h.logger.Error("file upload failed", zap.String("filename", fh.Filename), zap.Error(err))
		writeOpenAIError(c.Writer, httpStatusFromError(err), "file upload failed: "+httpMessageFromError(err))
		return
	}
	writeJSON(c.Writer, toOpenAIFile(rec))
}

func (h *filesHandler) list(c *gin.Context) {
	records := h.dispatcher.Files().List()
	out := openaiapi.OpenAIFileList{Object: "list", Data: make([]openaiapi.OpenAIFile, 0, len(records))}
	for _, rec := range records {
		out.Data = append(out.Data, toOpenAIFile(rec))
	}
	writeJSON(c.Writer, out)
}

func (h *filesHandler) get(c *gin.Context) {
	rec, ok := h.dispatcher.Files().Get(c.Param("id"))
	if !ok {
		writeOpenAIError(c.Writer, http.StatusNotFound, "File not found")
		return
	}
	writeJSON(c.Writer, toOpenAIFile(rec))
}

func (h *filesHandler) delete(c *gin.Context) {
	id := c.Param("id")
	if !h.dispatcher.Files().Delete(id) {
		writeOpenAIError(c.Writer, http.StatusNotFound, "File not found")
		return
	}
	writeJSON(c.Writer, openaiapi.OpenAIFileDeleted{ID: id, Object: "file", Deleted: true})
}
