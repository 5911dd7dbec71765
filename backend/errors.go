package backend

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrSessionUnauthorized 用于 errors.Is 判断会话创建被 401 拒绝。
// 这通常意味着 team_id 与 csesidx 不属于同一账号，而不是 JWT 过期。
var ErrSessionUnauthorized = errors.New("session create unauthorized")

// AuthExchangeError 表示 getoxsrf 换取签名密钥失败。账号池会据此把账号标记为不可用。
type AuthExchangeError struct {
	CSESIdx string
	Status  int
	// Detail 是服务端给出的诊断信息（message 字段或截断后的响应体）。
	Detail string
	Err    error
}

func (e *AuthExchangeError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("credential exchange failed")
	if e.CSESIdx != "" {
		fmt.Fprintf(&b, " for csesidx %s", e.CSESIdx)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *AuthExchangeError) Unwrap() error { return e.Err }

// SessionCreateError 表示 widgetCreateSession 失败。
type SessionCreateError struct {
	Status int
	Body   string
	Err    error
}

func (e *SessionCreateError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("create session failed")
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Status == http.StatusUnauthorized {
		b.WriteString(" (token rejected, team_id probably does not match csesidx)")
	}
	if e.Body != "" {
		b.WriteString(": ")
		b.WriteString(e.Body)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *SessionCreateError) Is(target error) bool {
	return target == ErrSessionUnauthorized && e.Status == http.StatusUnauthorized
}

func (e *SessionCreateError) Unwrap() error { return e.Err }

// StatusError 是对话/上传/下载接口返回非 2xx 时的错误，按瞬时错误处理，不影响账号状态。
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e == nil {
		return ""
	}
	if e.Body == "" {
		return fmt.Sprintf("%s failed with status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s failed with status %d: %s", e.Op, e.Status, e.Body)
}
