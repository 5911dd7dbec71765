package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/LubyRuffy/gemb2o"
	"go.uber.org/zap"
)

const (
	maxResponseBytes = 64 << 20
	maxErrBodyBytes  = 500

	defaultControlTimeout  = 30 * time.Second
	defaultUploadTimeout   = 60 * time.Second
	defaultStreamTimeout   = 120 * time.Second
	defaultDownloadTimeout = 120 * time.Second
)

type Config struct {
	// BaseURL 默认 gemb2o.DefaultBaseURL。
	BaseURL string
	// AuthURL 默认 gemb2o.DefaultAuthURL。
	AuthURL string
	// Origin 用于 Origin/Referer 请求头，默认 gemb2o.DefaultOrigin。
	Origin string
	// UserAgent 用于 widget 接口；getoxsrf 使用账号自己的 user_agent。
	UserAgent string
	// ProxyURL 可选，支持 http/https/socks5。HTTPClient 非 nil 时忽略。
	ProxyURL   string
	HTTPClient *http.Client

	// 控制面（换取密钥/创建会话/文件元数据）超时，默认 30s。
	ControlTimeout  time.Duration
	UploadTimeout   time.Duration
	StreamTimeout   time.Duration
	DownloadTimeout time.Duration

	LanguageCode string
	TimeZone     string

	Logger *zap.Logger
}

// Client 封装 Gemini Business widget 接口。所有方法都是无状态的网络调用，可并发使用。
type Client struct {
	config Config
	logger *zap.Logger
}

func NewClient(config Config) (*Client, error) {
	config.BaseURL = strings.TrimRight(firstNonEmpty(config.BaseURL, gemb2o.DefaultBaseURL), "/")
	config.AuthURL = firstNonEmpty(config.AuthURL, gemb2o.DefaultAuthURL)
	config.Origin = strings.TrimRight(firstNonEmpty(config.Origin, gemb2o.DefaultOrigin), "/")
	config.UserAgent = firstNonEmpty(config.UserAgent, gemb2o.DefaultUserAgent)
	config.LanguageCode = firstNonEmpty(config.LanguageCode, "zh-CN")
	config.TimeZone = firstNonEmpty(config.TimeZone, "Etc/GMT-8")
	if config.ControlTimeout <= 0 {
		config.ControlTimeout = defaultControlTimeout
	}
	if config.UploadTimeout <= 0 {
		config.UploadTimeout = defaultUploadTimeout
	}
	if config.StreamTimeout <= 0 {
		config.StreamTimeout = defaultStreamTimeout
	}
	if config.DownloadTimeout <= 0 {
		config.DownloadTimeout = defaultDownloadTimeout
	}
	if config.HTTPClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if proxy := strings.TrimSpace(config.ProxyURL); proxy != "" {
			u, err := url.Parse(proxy)
			if err != nil || u.Host == "" {
				return nil, fmt.Errorf("invalid proxy url: %q", proxy)
			}
			transport.Proxy = http.ProxyURL(u)
		}
		config.HTTPClient = &http.Client{Transport: transport}
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{config: config, logger: logger}, nil
}

func (c *Client) endpoint(name string) string {
	return c.config.BaseURL + "/locations/global/" + name
}

func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", c.config.Origin)
	req.Header.Set("Referer", c.config.Origin+"/")
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("X-Server-Timeout", "1800")
}

// postJSON 发送 JSON 请求并读取完整响应体。非 2xx 不在这里判定，由调用方区分错误类型。
func (c *Client) postJSON(ctx context.Context, timeout time.Duration, endpoint, token string, body any) (int, []byte, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	c.setHeaders(req, token)
	return c.do(req)
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request %s failed: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read %s response failed: %w", req.URL.Path, err)
	}
	return resp.StatusCode, data, nil
}

func isSuccess(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
