package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// xssiPrefix 是 Google 接口防 JSON 劫持的前缀。
const xssiPrefix = ")]}'"

// Credentials 是一个账号用于换取签名密钥的长期凭据。
type Credentials struct {
	SecureCSES string
	HostCOSES  string
	CSESIdx    string
	UserAgent  string
}

type exchangeResponse struct {
	KeyID     string `json:"keyId"`
	XSRFToken string `json:"xsrfToken"`
	Message   string `json:"message"`
}

// ExchangeKey 用账号 cookie 调用 getoxsrf，返回可直接用于 SignToken 的签名密钥。
// 所有失败都以 *AuthExchangeError 返回。
func (c *Client) ExchangeKey(ctx context.Context, cred Credentials) (SigningKey, error) {
	if strings.TrimSpace(cred.SecureCSES) == "" || strings.TrimSpace(cred.CSESIdx) == "" {
		return SigningKey{}, &AuthExchangeError{CSESIdx: cred.CSESIdx, Detail: "missing secure_c_ses or csesidx"}
	}

	u, err := url.Parse(c.config.AuthURL)
	if err != nil {
		return SigningKey{}, &AuthExchangeError{CSESIdx: cred.CSESIdx, Detail: "invalid auth url", Err: err}
	}
	q := u.Query()
	q.Set("csesidx", cred.CSESIdx)
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, c.config.ControlTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return SigningKey{}, &AuthExchangeError{CSESIdx: cred.CSESIdx, Err: err}
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("User-Agent", firstNonEmpty(cred.UserAgent, c.config.UserAgent))
	req.Header.Set("Cookie", fmt.Sprintf("__Secure-C_SES=%s; __Host-C_OSES=%s", cred.SecureCSES, cred.HostCOSES))

	status, body, err := c.do(req)
	if err != nil {
		return SigningKey{}, &AuthExchangeError{CSESIdx: cred.CSESIdx, Status: status, Err: err}
	}

	text := strings.TrimSpace(strings.TrimPrefix(string(body), xssiPrefix))
	var data exchangeResponse
	parseErr := json.Unmarshal([]byte(text), &data)

	if !isSuccess(status) {
		detail := strings.TrimSpace(data.Message)
		if parseErr != nil || detail == "" {
			detail = truncate(text, maxErrBodyBytes)
		}
		return SigningKey{}, &AuthExchangeError{CSESIdx: cred.CSESIdx, Status: status, Detail: detail}
	}
	if parseErr != nil {
		return SigningKey{}, &AuthExchangeError{
			CSESIdx: cred.CSESIdx,
			Status:  status,
			Detail:  "invalid response: " + truncate(text, maxErrBodyBytes),
			Err:     parseErr,
		}
	}
	if data.KeyID == "" || data.XSRFToken == "" {
		detail := "response missing keyId or xsrfToken"
		if msg := strings.TrimSpace(data.Message); msg != "" {
			detail += " - " + msg
		}
		return SigningKey{}, &AuthExchangeError{CSESIdx: cred.CSESIdx, Status: status, Detail: detail}
	}

	secret, err := DecodeSigningKey(data.XSRFToken)
	if err != nil {
		return SigningKey{}, &AuthExchangeError{CSESIdx: cred.CSESIdx, Status: status, Err: err}
	}

	c.logger.Debug("credential exchange succeeded", zap.String("csesidx", cred.CSESIdx), zap.String("key_id", data.KeyID))
	return SigningKey{ID: data.KeyID, Secret: secret}, nil
}
