// Package config 负责加载网关配置：默认值、YAML 文件、环境变量，以及文件变更热加载。
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/LubyRuffy/gemb2o"
	"github.com/LubyRuffy/gemb2o/pool"
	"gopkg.in/yaml.v3"
)

// Config 是网关的完整配置。
type Config struct {
	Listen      string         `yaml:"listen" json:"listen"`
	BasePath    string         `yaml:"base_path" json:"base_path"`
	Proxy       string         `yaml:"proxy" json:"proxy"`
	APIKey      string         `yaml:"api_key" json:"api_key"`
	RequireAuth bool           `yaml:"require_auth" json:"require_auth"`
	Accounts    []pool.Account `yaml:"accounts" json:"accounts"`
	Models      []gemb2o.Model `yaml:"models" json:"models"`
	Upstream    UpstreamConfig `yaml:"upstream" json:"upstream"`
	Logging     LoggingConfig  `yaml:"logging" json:"logging"`
	Pool        PoolConfig     `yaml:"pool" json:"pool"`
	Files       FilesConfig    `yaml:"files" json:"files"`
}

// UpstreamConfig 对应 backend.Config 中可配置的部分。
type UpstreamConfig struct {
	BaseURL         string        `yaml:"base_url" json:"base_url"`
	AuthURL         string        `yaml:"auth_url" json:"auth_url"`
	ControlTimeout  time.Duration `yaml:"control_timeout" json:"control_timeout"`
	UploadTimeout   time.Duration `yaml:"upload_timeout" json:"upload_timeout"`
	StreamTimeout   time.Duration `yaml:"stream_timeout" json:"stream_timeout"`
	DownloadTimeout time.Duration `yaml:"download_timeout" json:"download_timeout"`
}

type PoolConfig struct {
	// TokenTTL JWT 的复用时长，必须小于上游 300s 的有效期。
	TokenTTL time.Duration `yaml:"token_ttl" json:"token_ttl"`
}

type FilesConfig struct {
	MaxUploadBytes int64 `yaml:"max_upload_bytes" json:"max_upload_bytes"`
}

// LoggingConfig 日志配置。
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	File   string `yaml:"file" json:"file"`
}

// Default 返回带默认值的配置。
func Default() *Config {
	return &Config{
		Listen:   "127.0.0.1:8000",
		BasePath: "/v1",
		Upstream: UpstreamConfig{
			BaseURL:         gemb2o.DefaultBaseURL,
			AuthURL:         gemb2o.DefaultAuthURL,
			ControlTimeout:  30 * time.Second,
			UploadTimeout:   60 * time.Second,
			StreamTimeout:   120 * time.Second,
			DownloadTimeout: 120 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Pool: PoolConfig{
			TokenTTL: pool.DefaultTokenTTL,
		},
		Files: FilesConfig{
			MaxUploadBytes: 50 << 20,
		},
	}
}

// Load 依次应用默认值、YAML 文件（path 为空时跳过）与环境变量，然后校验。
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) fillDefaults() {
	if len(c.Models) == 0 {
		c.Models = gemb2o.DefaultModels()
	}
	for i := range c.Accounts {
		if strings.TrimSpace(c.Accounts[i].UserAgent) == "" {
			c.Accounts[i].UserAgent = gemb2o.DefaultUserAgent
		}
	}
}

// Validate 检查配置是否可用。
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	timeouts := map[string]time.Duration{
		"control_timeout":  c.Upstream.ControlTimeout,
		"upload_timeout":   c.Upstream.UploadTimeout,
		"stream_timeout":   c.Upstream.StreamTimeout,
		"download_timeout": c.Upstream.DownloadTimeout,
		"token_ttl":        c.Pool.TokenTTL,
	}
	for name, d := range timeouts {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Pool.TokenTTL >= 300*time.Second {
		return errors.New("token_ttl must be shorter than 300s")
	}
	if c.Files.MaxUploadBytes <= 0 {
		return errors.New("files.max_upload_bytes must be positive")
	}

	for i, acc := range c.Accounts {
		if strings.TrimSpace(acc.SecureCSES) == "" {
			return fmt.Errorf("account %d: secure_c_ses is required", i)
		}
		if strings.TrimSpace(acc.CSESIdx) == "" {
			return fmt.Errorf("account %d: csesidx is required", i)
		}
	}
	return nil
}
