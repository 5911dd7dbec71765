package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Usage 是一次请求的统计记录。
type Usage struct {
	Operation       string
	Model           string
	Account         int
	Attempts        int
	Success         bool
	Duration        time.Duration
	PromptChars     int
	CompletionChars int
	Error           string
}

// UsageRecorder 接收统计记录，实现方不得阻塞请求路径。
type UsageRecorder interface {
	Record(ctx context.Context, u Usage)
}

// LogUsageRecorder 把统计写入日志。
type LogUsageRecorder struct {
	Logger *zap.Logger
}

func (r LogUsageRecorder) Record(_ context.Context, u Usage) {
	logger := r.Logger
	if logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("op", u.Operation),
		zap.String("model", u.Model),
		zap.Int("account", u.Account),
		zap.Int("attempts", u.Attempts),
		zap.Bool("success", u.Success),
		zap.Duration("duration", u.Duration),
		zap.Int("prompt_chars", u.PromptChars),
		zap.Int("completion_chars", u.CompletionChars),
	}
	if u.Error != "" {
		fields = append(fields, zap.String("error", u.Error))
	}
	logger.Info("usage", fields...)
}

type nopUsageRecorder struct{}

func (nopUsageRecorder) Record(context.Context, Usage) {}
