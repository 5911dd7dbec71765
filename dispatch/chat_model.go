package dispatch

import (
	"context"
	"fmt"
	"strings"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/LubyRuffy/gemb2o"
	"github.com/LubyRuffy/gemb2o/backend"
)

type chatOptions struct {
	forceNewSession bool
	fileIDs         []string
	images          []backend.InlineFile
	imageURLs       []string
	onResult        func(*Result)
}

// WithForceNewSession 让本次调用丢弃账号缓存的会话。
func WithForceNewSession(force bool) einoModel.Option {
	return einoModel.WrapImplSpecificOptFn(func(o *chatOptions) {
		o.forceNewSession = force
	})
}

// WithFileIDs 附加 /v1/files 上传得到的文件。
func WithFileIDs(ids ...string) einoModel.Option {
	return einoModel.WrapImplSpecificOptFn(func(o *chatOptions) {
		o.fileIDs = append(o.fileIDs, ids...)
	})
}

// WithImages 附加内联图片。
func WithImages(images ...backend.InlineFile) einoModel.Option {
	return einoModel.WrapImplSpecificOptFn(func(o *chatOptions) {
		o.images = append(o.images, images...)
	})
}

func WithImageURLs(urls ...string) einoModel.Option {
	return einoModel.WrapImplSpecificOptFn(func(o *chatOptions) {
		o.imageURLs = append(o.imageURLs, urls...)
	})
}

// WithResultHandler 在调用成功后拿到完整的 Result（账号、会话、原始图片）。
func WithResultHandler(fn func(*Result)) einoModel.Option {
	return einoModel.WrapImplSpecificOptFn(func(o *chatOptions) {
		o.onResult = fn
	})
}

// ChatModel 把 Dispatcher 包装成 eino 的 ToolCallingChatModel。
// 上游不是增量输出，Stream 只会产生一个内容块。
type ChatModel struct {
	dispatcher *Dispatcher
	model      string
}

func NewChatModel(d *Dispatcher, model string) (*ChatModel, error) {
	if d == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	return &ChatModel{dispatcher: d, model: gemb2o.NormalizeModelID(model)}, nil
}

func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...einoModel.Option) (*schema.Message, error) {
	res, err := m.do(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	msg := schema.AssistantMessage(res.Content(), nil)
	msg.ReasoningContent = strings.Join(res.Thoughts, "\n")
	msg.ResponseMeta = &schema.ResponseMeta{FinishReason: "stop"}
	return msg, nil
}

func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einoModel.Option) (*schema.StreamReader[*schema.Message], error) {
	sr, sw := schema.Pipe[*schema.Message](2)
	go func() {
		defer sw.Close()
		res, err := m.do(ctx, input, opts...)
		if err != nil {
			sw.Send(nil, err)
			return
		}
		sw.Send(&schema.Message{
			Role:             schema.Assistant,
			Content:          res.Content(),
			ReasoningContent: strings.Join(res.Thoughts, "\n"),
		}, nil)
	}()
	return sr, nil
}

// WithTools 忽略传入的工具定义并返回副本；上游自带搜索与画图工具，不接受外部函数。
func (m *ChatModel) WithTools(_ []*schema.ToolInfo) (einoModel.ToolCallingChatModel, error) {
	cloned := *m
	return &cloned, nil
}

func (m *ChatModel) do(ctx context.Context, input []*schema.Message, opts ...einoModel.Option) (*Result, error) {
	common := einoModel.GetCommonOptions(&einoModel.Options{}, opts...)
	o := einoModel.GetImplSpecificOptions(&chatOptions{}, opts...)

	model := m.model
	if common.Model != nil && *common.Model != "" {
		model = *common.Model
	}

	res, err := m.dispatcher.Chat(ctx, Request{
		Model:           model,
		Query:           LastUserText(input),
		FileIDs:         o.fileIDs,
		Images:          o.images,
		ImageURLs:       o.imageURLs,
		ForceNewSession: o.forceNewSession,
	})
	if err != nil {
		return nil, err
	}
	if o.onResult != nil {
		o.onResult(res)
	}
	return res, nil
}

// LastUserText 返回最后一条非空用户消息的文本。上游会话自带历史，只需要发送最新一轮。
func LastUserText(input []*schema.Message) string {
	for i := len(input) - 1; i >= 0; i-- {
		msg := input[i]
		if msg == nil || msg.Role != schema.User {
			continue
		}
		if text := messageText(msg); strings.TrimSpace(text) != "" {
			return text
		}
	}
	return ""
}

func messageText(msg *schema.Message) string {
	if msg.Content != "" {
		return msg.Content
	}
	var b strings.Builder
	for _, part := range msg.UserInputMultiContent {
		if part.Type == schema.ChatMessagePartTypeText {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
