package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/LubyRuffy/gemb2o/auth"
	"github.com/LubyRuffy/gemb2o/backend"
	"github.com/LubyRuffy/gemb2o/config"
	"github.com/LubyRuffy/gemb2o/dispatch"
	"github.com/LubyRuffy/gemb2o/logging"
	"github.com/LubyRuffy/gemb2o/openaihttp"
	"github.com/LubyRuffy/gemb2o/pool"
	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	var (
		configPath = flag.String("config", "", "yaml config file (optional, hot reloaded)")
		listen     = flag.String("listen", "", "listen address (overrides config)")
		basePath   = flag.String("base-path", "", "base path prefix (overrides config, default /v1)")
		envFile    = flag.String("env-file", ".env", "dotenv file loaded before reading environment variables")
	)
	flag.Parse()

	// .env 不存在时忽略
	_ = godotenv.Load(*envFile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *basePath != "" {
		cfg.BasePath = *basePath
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("init logger failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	handler, p, err := newHandler(cfg, logger)
	if err != nil {
		logger.Fatal("init server failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *configPath != "" {
		go func() {
			err := config.Watch(ctx, *configPath, logger, func(next *config.Config) {
				p.Replace(next.Accounts)
			})
			if err != nil {
				logger.Warn("config watch stopped", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	total, available := p.Count()
	local := addrForLocalClient(cfg.Listen)
	logger.Info("gemb2o server listening",
		zap.String("addr", cfg.Listen),
		zap.String("base_path", cfg.BasePath),
		zap.Int("accounts", total),
		zap.Int("available", available),
		zap.Bool("require_auth", cfg.RequireAuth),
	)
	if total == 0 {
		logger.Warn("no accounts configured, set ACCOUNTS_CONFIG or ACCOUNT1_TEAM_ID etc.")
	}
	if cfg.RequireAuth && cfg.APIKey == "" {
		logger.Warn("require_auth is on but DOWNSTREAM_API_KEY is empty, all protected requests will fail")
	}
	fmt.Printf("try: curl http://%s%s/models\n", local, cfg.BasePath)
	fmt.Printf("try: curl http://%s%s/chat/completions -H 'Content-Type: application/json' -d '{\"model\":\"gemini-enterprise\",\"messages\":[{\"role\":\"user\",\"content\":\"hi\"}]}'\n", local, cfg.BasePath)
	fmt.Printf("OpenAI SDK base_url: http://%s%s\n", local, cfg.BasePath)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
	}
}

// newHandler 按配置组装上游客户端、账号池、调度器与路由。
func newHandler(cfg *config.Config, logger *zap.Logger) (http.Handler, *pool.Pool, error) {
	client, err := backend.NewClient(backend.Config{
		BaseURL:         cfg.Upstream.BaseURL,
		AuthURL:         cfg.Upstream.AuthURL,
		ProxyURL:        cfg.Proxy,
		ControlTimeout:  cfg.Upstream.ControlTimeout,
		UploadTimeout:   cfg.Upstream.UploadTimeout,
		StreamTimeout:   cfg.Upstream.StreamTimeout,
		DownloadTimeout: cfg.Upstream.DownloadTimeout,
		Logger:          logger.Named("backend"),
	})
	if err != nil {
		return nil, nil, err
	}

	p := pool.New(cfg.Accounts, pool.Options{
		Exchanger: client,
		Opener:    client,
		TokenTTL:  cfg.Pool.TokenTTL,
		Logger:    logger.Named("pool"),
	})

	d, err := dispatch.New(dispatch.Config{
		Pool:     p,
		Upstream: client,
		Usage:    dispatch.LogUsageRecorder{Logger: logger.Named("usage")},
		Logger:   logger.Named("dispatch"),
	})
	if err != nil {
		return nil, nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(openaihttp.RequestLogger(logger.Named("http")), gin.Recovery())

	err = openaihttp.RegisterGinRoutes(r, openaihttp.Config{
		BasePath:       cfg.BasePath,
		Dispatcher:     d,
		Models:         cfg.Models,
		Guard:          auth.Guard{RequireAuth: cfg.RequireAuth, APIKey: cfg.APIKey},
		ProxyURL:       cfg.Proxy,
		MaxUploadBytes: cfg.Files.MaxUploadBytes,
		Logger:         logger.Named("openaihttp"),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("register routes failed: %w", err)
	}

	handler := cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	})(r)
	return handler, p, nil
}

// addrForLocalClient 把监听在全部地址上的 addr 换成本机可访问的地址，用于打印示例命令。
func addrForLocalClient(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	switch strings.Trim(host, "[]") {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
