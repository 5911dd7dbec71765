package openaihttp

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// RegisterGinRoutes 注册 OpenAI 兼容接口与运维/账号管理接口。
func RegisterGinRoutes(r gin.IRouter, cfg Config) error {
	if r == nil {
		return fmt.Errorf("router is nil")
	}
	resolved, err := resolveConfig(cfg)
	if err != nil {
		return err
	}
	modelsHandler, chatHandler, err := Handlers(cfg)
	if err != nil {
		return err
	}

	admin := &adminHandler{
		pool:        resolved.Dispatcher.Pool(),
		models:      resolved.Models,
		proxyURL:    cfg.ProxyURL,
		requireAuth: cfg.Guard.RequireAuth,
		logger:      resolved.Logger,
	}
	files := &filesHandler{
		dispatcher: resolved.Dispatcher,
		maxBytes:   resolved.MaxUploadBytes,
		logger:     resolved.Logger,
	}

	r.GET("/health", admin.health)
	r.GET("/api/public/status", admin.publicStatus)

	protected := r.Group("", RequireAPIKey(cfg.Guard))

	basePath := resolved.BasePath
	protected.GET(joinPath(basePath, "/models"), gin.WrapF(modelsHandler))
	protected.POST(joinPath(basePath, "/chat/completions"), gin.WrapF(chatHandler))
	protected.POST(joinPath(basePath, "/sessions/reset"), admin.resetSessions)
	protected.POST(joinPath(basePath, "/files"), files.upload)
	protected.GET(joinPath(basePath, "/files"), files.list)
	protected.GET(joinPath(basePath, "/files/:id"), files.get)
	protected.DELETE(joinPath(basePath, "/files/:id"), files.delete)

	protected.GET("/api/status", admin.status)
	protected.GET("/api/accounts", admin.listAccounts)
	protected.POST("/api/accounts", admin.addAccount)
	protected.PUT("/api/accounts/:id", admin.updateAccount)
	protected.DELETE("/api/accounts/:id", admin.deleteAccount)
	protected.POST("/api/accounts/:id/toggle", admin.toggleAccount)
	protected.GET("/api/accounts/:id/test", admin.testAccount)
	return nil
}
