package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type createSessionRequest struct {
	ConfigID             string           `json:"configId"`
	AdditionalParams     additionalParams `json:"additionalParams"`
	CreateSessionRequest struct {
		Session sessionSpec `json:"session"`
	} `json:"createSessionRequest"`
}

type additionalParams struct {
	Token string `json:"token"`
}

type sessionSpec struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

type createSessionResponse struct {
	Session struct {
		Name string `json:"name"`
	} `json:"session"`
}

// OpenSession 为 configID（账号的 team_id）创建一个新会话，返回服务端确认的会话名。
// 失败以 *SessionCreateError 返回；401 可用 errors.Is(err, ErrSessionUnauthorized) 判断。
func (c *Client) OpenSession(ctx context.Context, token, configID string) (string, error) {
	name := NewSessionName()

	var body createSessionRequest
	body.ConfigID = configID
	body.AdditionalParams.Token = "-"
	body.CreateSessionRequest.Session = sessionSpec{Name: name, DisplayName: name}

	status, data, err := c.postJSON(ctx, c.config.ControlTimeout, c.endpoint("widgetCreateSession"), token, body)
	if err != nil {
		return "", &SessionCreateError{Status: status, Err: err}
	}
	if status != 200 {
		return "", &SessionCreateError{Status: status, Body: truncate(string(data), maxErrBodyBytes)}
	}

	var resp createSessionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", &SessionCreateError{Status: status, Body: truncate(string(data), maxErrBodyBytes), Err: err}
	}
	if strings.TrimSpace(resp.Session.Name) == "" {
		return "", &SessionCreateError{Status: status, Err: fmt.Errorf("response missing session.name")}
	}
	return resp.Session.Name, nil
}

// NewSessionName 生成 12 位十六进制的会话名。
func NewSessionName() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:6])
}
