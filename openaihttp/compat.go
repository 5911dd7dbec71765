package openaihttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/LubyRuffy/gemb2o"
	"github.com/LubyRuffy/gemb2o/backend"
	"github.com/LubyRuffy/gemb2o/dispatch"
	"github.com/LubyRuffy/gemb2o/openaiapi"
	"github.com/LubyRuffy/gemb2o/pool"
	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

type httpError struct {
	Status  int
	Message string
	Err     error
}

func (e *httpError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Message) != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

func (e *httpError) Unwrap() error { return e.Err }

type chatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...einoModel.Option) (*schema.Message, error)
	Stream(ctx context.Context, input []*schema.Message, opts ...einoModel.Option) (*schema.StreamReader[*schema.Message], error)
}

type compatConfig struct {
	Now               func() time.Time
	NewChatCompletion func() string
	WriteJSON         func(w http.ResponseWriter, data interface{})
	WriteOpenAIError  func(w http.ResponseWriter, statusCode int, message string)
	NewChatModel      func(ctx context.Context, modelID string) (chatModel, error)
	SystemFingerprint string
	Models            []gemb2o.Model
	Logger            *zap.Logger
}

type compatHandler struct {
	now               func() time.Time
	newChatCompletion func() string
	writeJSON         func(w http.ResponseWriter, data interface{})
	writeOpenAIError  func(w http.ResponseWriter, statusCode int, message string)
	newChatModel      func(ctx context.Context, modelID string) (chatModel, error)
	systemFingerprint string
	models            []gemb2o.Model
	logger            *zap.Logger
}

func newCompatHandler(cfg compatConfig) (*compatHandler, error) {
	if cfg.WriteJSON == nil {
		return nil, fmt.Errorf("WriteJSON is required")
	}
	if cfg.WriteOpenAIError == nil {
		return nil, fmt.Errorf("WriteOpenAIError is required")
	}
	if cfg.NewChatModel == nil {
		return nil, fmt.Errorf("NewChatModel is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewChatCompletion == nil {
		cfg.NewChatCompletion = openaiapi.NewChatCompletionID
	}
	if strings.TrimSpace(cfg.SystemFingerprint) == "" {
		cfg.SystemFingerprint = defaultSystemFingerprint
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &compatHandler{
		now:               cfg.Now,
		newChatCompletion: cfg.NewChatCompletion,
		writeJSON:         cfg.WriteJSON,
		writeOpenAIError:  cfg.WriteOpenAIError,
		newChatModel:      cfg.NewChatModel,
		systemFingerprint: cfg.SystemFingerprint,
		models:            gemb2o.EnabledModels(cfg.Models),
		logger:            cfg.Logger,
	}, nil
}

func (h *compatHandler) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeOpenAIError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	modelsList := make([]openaiapi.OpenAIModel, 0, len(h.models))
	now := h.now().Unix()
	for _, m := range h.models {
		modelsList = append(modelsList, openaiapi.OpenAIModel{
			ID:            m.ID,
			Object:        "model",
			Created:       now,
			OwnedBy:       "google",
			Name:          m.Name,
			Description:   m.Description,
			ContextLength: m.ContextLength,
			MaxTokens:     m.MaxTokens,
		})
	}

	h.writeJSON(w, openaiapi.OpenAIModelList{
		Object: "list",
		Data:   modelsList,
	})
}

// chatInput 是从 OpenAI 请求里拆出的最后一轮用户输入与附件。
type chatInput struct {
	messages  []*schema.Message
	query     string
	fileIDs   []string
	images    []backend.InlineFile
	imageURLs []string
}

func (in chatInput) options(force bool) []einoModel.Option {
	opts := []einoModel.Option{dispatch.WithForceNewSession(force)}
	if len(in.fileIDs) > 0 {
		opts = append(opts, dispatch.WithFileIDs(in.fileIDs...))
	}
	if len(in.images) > 0 {
		opts = append(opts, dispatch.WithImages(in.images...))
	}
	if len(in.imageURLs) > 0 {
		opts = append(opts, dispatch.WithImageURLs(in.imageURLs...))
	}
	return opts
}

func (h *compatHandler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeOpenAIError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req openaiapi.OpenAIChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeOpenAIError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	input, err := convertOpenAIChatMessages(req.Messages)
	if err != nil {
		h.writeOpenAIError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(input.query) == "" && len(input.fileIDs) == 0 && len(input.images) == 0 && len(input.imageURLs) == 0 {
		h.writeOpenAIError(w, http.StatusBadRequest, "no user message found")
		return
	}

	modelID := gemb2o.NormalizeModelID(req.Model)
	chatID := h.newChatCompletion()

	chatModel, err := h.newChatModel(r.Context(), modelID)
	if err != nil {
		h.writeOpenAIError(w, httpStatusFromError(err), httpMessageFromError(err))
		return
	}

	var result *dispatch.Result
	opts := append(input.options(req.ForceNewSession), dispatch.WithResultHandler(func(res *dispatch.Result) {
		result = res
	}))

	if req.Stream {
		h.handleStreamResponse(w, r, chatID, modelID, chatModel, input.messages, opts)
		return
	}

	respMsg, err := chatModel.Generate(r.Context(), input.messages, opts...)
	if err != nil {
		h.logger.Error("chat completion failed", zap.String("id", chatID), zap.Error(err))
		h.writeOpenAIError(w, httpStatusFromError(err), httpMessageFromError(err))
		return
	}

	content := ""
	if respMsg != nil {
		content = respMsg.Content
	}
	completionChars := len([]rune(content))
	if result != nil {
		completionChars = len([]rune(result.Text))
	}

	completion := openaiapi.ToChatCompletion(chatID, modelID, content, len([]rune(input.query)), completionChars, h.systemFingerprint)
	completion.Created = h.now().Unix()
	if respMsg != nil && respMsg.ReasoningContent != "" {
		completion.Choices[0].Message.Reasoning = respMsg.ReasoningContent
	}
	h.writeJSON(w, completion)
}

// handleStreamResponse 先拿到第一个块再写 SSE 头，这样账号全部失败时仍能返回正确的状态码。
func (h *compatHandler) handleStreamResponse(
	w http.ResponseWriter,
	r *http.Request,
	chatID, modelName string,
	chatModel chatModel,
	messages []*schema.Message,
	opts []einoModel.Option,
) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeOpenAIError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sr, err := chatModel.Stream(r.Context(), messages, opts...)
	if err != nil {
		h.writeOpenAIError(w, httpStatusFromError(err), httpMessageFromError(err))
		return
	}
	defer sr.Close()

	first, err := sr.Recv()
	if err != nil && !errors.Is(err, io.EOF) {
		h.logger.Error("chat completion stream failed", zap.String("id", chatID), zap.Error(err))
		h.writeOpenAIError(w, httpStatusFromError(err), httpMessageFromError(err))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeChunk := func(msg *schema.Message) {
		if msg == nil || msg.Content == "" {
			return
		}
		chunk := openaiapi.ToChatChunk(chatID, modelName, msg.Content, nil, h.systemFingerprint)
		data, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	if err == nil {
		writeChunk(first)
		for {
			msg, err := sr.Recv()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					h.logger.Warn("chat completion stream interrupted", zap.String("id", chatID), zap.Error(err))
				}
				break
			}
			writeChunk(msg)
		}
	}

	finishReason := "stop"
	chunk := openaiapi.ToChatChunk(chatID, modelName, "", &finishReason, h.systemFingerprint)
	data, _ := json.Marshal(chunk)
	fmt.Fprintf(w, "data: %s\n\n", data)
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// convertOpenAIChatMessages 转换为 eino 消息，同时收集所有用户消息里的图片与文件引用。
// 上游会话自带上下文，真正发送的只有最后一条用户文本。
func convertOpenAIChatMessages(messages []openaiapi.OpenAIMessage) (chatInput, error) {
	if len(messages) == 0 {
		return chatInput{}, fmt.Errorf("messages is required")
	}

	var in chatInput
	for _, msg := range messages {
		role := strings.TrimSpace(msg.Role)
		if role == "" {
			return chatInput{}, fmt.Errorf("message role is required")
		}
		content := openaiapi.ParseUserContent(msg.Content)

		switch role {
		case "system", "developer":
			in.messages = append(in.messages, schema.SystemMessage(content.Text))
		case "user":
			in.messages = append(in.messages, schema.UserMessage(content.Text))
			if strings.TrimSpace(content.Text) != "" {
				in.query = content.Text
			}
			in.fileIDs = append(in.fileIDs, content.FileIDs...)
			for _, u := range content.ImageURLs {
				if f, ok := backend.ParseDataURL(u); ok {
					in.images = append(in.images, f)
					continue
				}
				if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
					in.imageURLs = append(in.imageURLs, u)
				}
			}
		case "assistant":
			if content.Text == "" {
				continue
			}
			in.messages = append(in.messages, schema.AssistantMessage(content.Text, nil))
		case "tool":
			continue
		default:
			return chatInput{}, fmt.Errorf("unsupported role: %s", role)
		}
	}
	return in, nil
}

func httpStatusFromError(err error) int {
	var httpErr *httpError
	if errors.As(err, &httpErr) && httpErr != nil && httpErr.Status != 0 {
		return httpErr.Status
	}
	if errors.Is(err, dispatch.ErrEmptyRequest) {
		return http.StatusBadRequest
	}
	if errors.Is(err, pool.ErrNoAvailableAccounts) {
		return http.StatusServiceUnavailable
	}
	var allErr *dispatch.AllAccountsFailedError
	if errors.As(err, &allErr) {
		return http.StatusBadGateway
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func httpMessageFromError(err error) string {
	var httpErr *httpError
	if errors.As(err, &httpErr) && httpErr != nil && strings.TrimSpace(httpErr.Message) != "" {
		return httpErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
