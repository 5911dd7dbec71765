package dispatch

import (
	"errors"
	"fmt"
)

// ErrEmptyRequest 表示请求里既没有文本也没有可用的图片或文件。
var ErrEmptyRequest = errors.New("no user message found")

// AllAccountsFailedError 表示一次请求把所有账号都试过仍然失败，Last 是最后一次尝试的错误。
type AllAccountsFailedError struct {
	Attempts int
	Last     error
}

func (e *AllAccountsFailedError) Error() string {
	if e == nil {
		return ""
	}
	if e.Last == nil {
		return fmt.Sprintf("all %d accounts failed", e.Attempts)
	}
	return fmt.Sprintf("all %d accounts failed, last error: %v", e.Attempts, e.Last)
}

func (e *AllAccountsFailedError) Unwrap() error { return e.Last }
