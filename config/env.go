package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/LubyRuffy/gemb2o"
	"github.com/LubyRuffy/gemb2o/pool"
)

// ApplyEnv 用环境变量覆盖配置，未设置的变量不影响已有值。
//
// 账号优先取 ACCOUNTS_CONFIG（JSON 数组），其次是 ACCOUNT1_*、ACCOUNT2_* ...，
// 遇到第一个缺少 TEAM_ID 的序号即停止。
func (c *Config) ApplyEnv() error {
	if v, ok := lookupEnv("PROXY_URL"); ok {
		c.Proxy = v
	}
	if v, ok := lookupEnv("DOWNSTREAM_API_KEY"); ok {
		c.APIKey = v
	}
	if v, ok := lookupEnv("REQUIRE_AUTH"); ok {
		c.RequireAuth = strings.EqualFold(v, "true")
	}
	if v, ok := lookupEnv("LOG_LEVEL"); ok {
		c.Logging.Level = strings.ToLower(v)
	}
	if v, ok := lookupEnv("LOG_FORMAT"); ok {
		c.Logging.Format = strings.ToLower(v)
	}

	if v, ok := lookupEnv("ACCOUNTS_CONFIG"); ok {
		var accounts []pool.Account
		if err := json.Unmarshal([]byte(stripQuotes(v)), &accounts); err != nil {
			return fmt.Errorf("ACCOUNTS_CONFIG: %w", err)
		}
		if len(accounts) > 0 {
			c.Accounts = accounts
		}
	}
	if len(c.Accounts) == 0 {
		c.Accounts = individualAccounts()
	}

	if v, ok := lookupEnv("MODELS_CONFIG"); ok {
		var models []gemb2o.Model
		if err := json.Unmarshal([]byte(stripQuotes(v)), &models); err != nil {
			return fmt.Errorf("MODELS_CONFIG: %w", err)
		}
		if len(models) > 0 {
			c.Models = models
		}
	}
	return nil
}

func individualAccounts() []pool.Account {
	var accounts []pool.Account
	for i := 1; ; i++ {
		prefix := fmt.Sprintf("ACCOUNT%d_", i)
		teamID, ok := lookupEnv(prefix + "TEAM_ID")
		if !ok {
			break
		}
		ua, ok := lookupEnv(prefix + "USER_AGENT")
		if !ok {
			ua = gemb2o.DefaultUserAgent
		}
		accounts = append(accounts, pool.Account{
			TeamID:     teamID,
			SecureCSES: os.Getenv(prefix + "SECURE_C_SES"),
			HostCOSES:  os.Getenv(prefix + "HOST_C_OSES"),
			CSESIdx:    os.Getenv(prefix + "CSESIDX"),
			UserAgent:  ua,
			Available:  true,
		})
	}
	return accounts
}

// lookupEnv 把空白值视为未设置。
func lookupEnv(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

// stripQuotes 去掉 .env 或容器平台常见的整体引号包裹。
func stripQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
