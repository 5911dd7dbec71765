package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// ChatRequest 是一次 widgetStreamAssist 调用所需的全部输入。
type ChatRequest struct {
	Session  string
	ConfigID string
	Query    string
	FileIDs  []string
}

// FileRef 是回复中通过 fileId 引用、需要事后下载的生成文件。
type FileRef struct {
	FileID   string
	MIMEType string
	Name     string
}

// Image 是已经拿到字节内容的图片（内联返回或下载所得）。
type Image struct {
	FileID   string
	Name     string
	MIMEType string
	Data     []byte
}

type ChatResponse struct {
	Text     string
	Thoughts []string
	// Session 是服务端在 sessionInfo 中回报的会话名，可能与请求时不同。
	Session string
	Files   []FileRef
	Images  []Image
}

type streamAssistBody struct {
	ConfigID            string              `json:"configId"`
	AdditionalParams    additionalParams    `json:"additionalParams"`
	StreamAssistRequest streamAssistRequest `json:"streamAssistRequest"`
}

type streamAssistRequest struct {
	Session              string       `json:"session"`
	Query                queryParts   `json:"query"`
	Filter               string       `json:"filter"`
	FileIDs              []string     `json:"fileIds"`
	AnswerGenerationMode string       `json:"answerGenerationMode"`
	ToolsSpec            toolsSpec    `json:"toolsSpec"`
	LanguageCode         string       `json:"languageCode"`
	UserMetadata         userMetadata `json:"userMetadata"`
	AssistSkippingMode   string       `json:"assistSkippingMode"`
}

type queryParts struct {
	Parts []textPart `json:"parts"`
}

type textPart struct {
	Text string `json:"text"`
}

type toolsSpec struct {
	WebGroundingSpec    struct{} `json:"webGroundingSpec"`
	ToolRegistry        string   `json:"toolRegistry"`
	ImageGenerationSpec struct{} `json:"imageGenerationSpec"`
	VideoGenerationSpec struct{} `json:"videoGenerationSpec"`
}

type userMetadata struct {
	TimeZone string `json:"timeZone"`
}

// 以下是响应里用到的字段子集。

type streamEnvelope struct {
	StreamAssistResponse *streamAssistResponse `json:"streamAssistResponse"`
}

type streamAssistResponse struct {
	SessionInfo struct {
		Session string `json:"session"`
	} `json:"sessionInfo"`
	GeneratedImages []generatedImage `json:"generatedImages"`
	Answer          *struct {
		GeneratedImages []generatedImage `json:"generatedImages"`
		Replies         []reply          `json:"replies"`
	} `json:"answer"`
}

type reply struct {
	GeneratedImages []generatedImage `json:"generatedImages"`
	GroundedContent struct {
		Content    replyContent `json:"content"`
		InlineData *inlineData  `json:"inlineData"`
	} `json:"groundedContent"`
}

type replyContent struct {
	Text       string      `json:"text"`
	Thought    bool        `json:"thought"`
	InlineData *inlineData `json:"inlineData"`
	File       *struct {
		FileID   string `json:"fileId"`
		MIMEType string `json:"mimeType"`
		Name     string `json:"name"`
	} `json:"file"`
}

type inlineData struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

type generatedImage struct {
	Image *struct {
		BytesBase64Encoded string `json:"bytesBase64Encoded"`
		MIMEType           string `json:"mimeType"`
	} `json:"image"`
}

// StreamAssist 发送一次对话并等待完整响应。
// 非 200 返回 *StatusError；响应不是 JSON 数组视为上游格式异常，同样是可重试错误。
func (c *Client) StreamAssist(ctx context.Context, token string, req ChatRequest) (*ChatResponse, error) {
	fileIDs := req.FileIDs
	if fileIDs == nil {
		fileIDs = []string{}
	}
	body := streamAssistBody{
		ConfigID:         req.ConfigID,
		AdditionalParams: additionalParams{Token: "-"},
		StreamAssistRequest: streamAssistRequest{
			Session:              req.Session,
			Query:                queryParts{Parts: []textPart{{Text: req.Query}}},
			FileIDs:              fileIDs,
			AnswerGenerationMode: "NORMAL",
			ToolsSpec:            toolsSpec{ToolRegistry: "default_tool_registry"},
			LanguageCode:         c.config.LanguageCode,
			UserMetadata:         userMetadata{TimeZone: c.config.TimeZone},
			AssistSkippingMode:   "REQUEST_ASSIST",
		},
	}

	status, data, err := c.postJSON(ctx, c.config.StreamTimeout, c.endpoint("widgetStreamAssist"), token, body)
	if err != nil {
		return nil, err
	}
	if status != 200 {
		return nil, &StatusError{Op: "stream assist", Status: status, Body: truncate(string(data), maxErrBodyBytes)}
	}
	return parseStreamAssist(data, c.logger.Sugar().Debugf)
}

func parseStreamAssist(data []byte, debugf func(string, ...any)) (*ChatResponse, error) {
	var envelopes []streamEnvelope
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return nil, fmt.Errorf("malformed stream assist response: %w", err)
	}

	out := &ChatResponse{}
	var text strings.Builder
	addGenerated := func(images []generatedImage) {
		for _, gi := range images {
			if gi.Image == nil || gi.Image.BytesBase64Encoded == "" {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(gi.Image.BytesBase64Encoded)
			if err != nil {
				debugf("skip generated image: %v", err)
				continue
			}
			out.Images = append(out.Images, Image{MIMEType: firstNonEmpty(gi.Image.MIMEType, "image/png"), Data: raw})
		}
	}
	addInline := func(d *inlineData) {
		if d == nil || d.Data == "" {
			return
		}
		raw, err := base64.StdEncoding.DecodeString(d.Data)
		if err != nil {
			debugf("skip inline image: %v", err)
			return
		}
		out.Images = append(out.Images, Image{MIMEType: firstNonEmpty(d.MIMEType, "image/png"), Data: raw})
	}

	for _, env := range envelopes {
		sar := env.StreamAssistResponse
		if sar == nil {
			continue
		}
		if sar.SessionInfo.Session != "" {
			out.Session = sar.SessionInfo.Session
		}
		addGenerated(sar.GeneratedImages)
		if sar.Answer == nil {
			continue
		}
		addGenerated(sar.Answer.GeneratedImages)
		for _, r := range sar.Answer.Replies {
			addGenerated(r.GeneratedImages)
			content := r.GroundedContent.Content
			if f := content.File; f != nil && f.FileID != "" {
				out.Files = append(out.Files, FileRef{
					FileID:   f.FileID,
					MIMEType: firstNonEmpty(f.MIMEType, "image/png"),
					Name:     f.Name,
				})
			}
			addInline(content.InlineData)
			addInline(r.GroundedContent.InlineData)

			if content.Text == "" {
				continue
			}
			if content.Thought {
				out.Thoughts = append(out.Thoughts, content.Text)
				continue
			}
			text.WriteString(content.Text)
		}
	}
	out.Text = text.String()
	return out, nil
}
