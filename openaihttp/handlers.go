package openaihttp

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/LubyRuffy/gemb2o"
	"github.com/LubyRuffy/gemb2o/dispatch"
	"github.com/LubyRuffy/gemb2o/openaiapi"
	"go.uber.org/zap"
)

const (
	defaultSystemFingerprint = "fp_gemb2o"
	defaultMaxUploadBytes    = 50 << 20
)

// Handlers 返回 net/http 形式的 models 与 chat.completions 处理器。
func Handlers(cfg Config) (modelsHandler http.HandlerFunc, chatHandler http.HandlerFunc, err error) {
	resolved, err := resolveConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	compat, err := newCompatHandler(compatConfig{
		Now:               time.Now,
		NewChatCompletion: openaiapi.NewChatCompletionID,
		WriteJSON:         writeJSON,
		WriteOpenAIError:  writeOpenAIError,
		SystemFingerprint: resolved.SystemFingerprint,
		Models:            resolved.Models,
		NewChatModel:      newChatModelFactory(resolved),
		Logger:            resolved.Logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return compat.handleModels, compat.handleChatCompletions, nil
}

func newChatModelFactory(resolved resolvedConfig) func(ctx context.Context, modelID string) (chatModel, error) {
	return func(ctx context.Context, modelID string) (chatModel, error) {
		m, err := dispatch.NewChatModel(resolved.Dispatcher, modelID)
		if err != nil {
			return nil, &httpError{
				Status:  http.StatusInternalServerError,
				Message: "failed to create chat model",
				Err:     err,
			}
		}
		return m, nil
	}
}

type resolvedConfig struct {
	BasePath          string
	Dispatcher        *dispatch.Dispatcher
	Models            []gemb2o.Model
	SystemFingerprint string
	MaxUploadBytes    int64
	Logger            *zap.Logger
}

func resolveConfig(cfg Config) (resolvedConfig, error) {
	if cfg.Dispatcher == nil {
		return resolvedConfig{}, fmt.Errorf("Dispatcher is required")
	}

	fp := strings.TrimSpace(cfg.SystemFingerprint)
	if fp == "" {
		fp = defaultSystemFingerprint
	}

	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return resolvedConfig{
		BasePath:          normalizeBasePath(cfg.BasePath),
		Dispatcher:        cfg.Dispatcher,
		Models:            gemb2o.EnabledModels(cfg.Models),
		SystemFingerprint: fp,
		MaxUploadBytes:    maxUpload,
		Logger:            logger,
	}, nil
}
