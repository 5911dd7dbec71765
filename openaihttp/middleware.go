package openaihttp

import (
	"errors"
	"net/http"
	"time"

	"github.com/LubyRuffy/gemb2o/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequireAPIKey 用 guard 校验请求，失败时返回 OpenAI 风格的错误体。
func RequireAPIKey(guard auth.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := guard.Check(c.Request)
		if err == nil {
			c.Next()
			return
		}
		var authErr *auth.Error
		if !errors.As(err, &authErr) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": err.Error(), "type": auth.TypeFailed}})
			return
		}
		body := gin.H{"message": authErr.Message, "type": authErr.Type}
		if authErr.Suggestion != "" {
			body["suggestion"] = authErr.Suggestion
		}
		c.AbortWithStatusJSON(authErr.Status, gin.H{"error": body})
	}
}

// RequestLogger 每个请求输出一行访问日志。
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("request", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			logger.Warn("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}
