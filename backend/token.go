package backend

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/LubyRuffy/gemb2o"
	"github.com/golang-jwt/jwt/v4"
)

// TokenLifetime 是签发 JWT 的 exp - iat。
const TokenLifetime = 300 * time.Second

// SigningKey 是 getoxsrf 返回的签名材料：keyId 与解码后的 xsrfToken。
type SigningKey struct {
	ID     string
	Secret []byte
}

// 字段顺序即序列化顺序，上游校验方按字节比对，不要调整。
type tokenHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
	Kid string `json:"kid"`
}

type tokenClaims struct {
	Iss string `json:"iss"`
	Aud string `json:"aud"`
	Sub string `json:"sub"`
	Iat int64  `json:"iat"`
	Exp int64  `json:"exp"`
	Nbf int64  `json:"nbf"`
}

// SignToken 为 sessionIndex（csesidx）签发一个 HS256 JWT。
// 相同输入（含 issuedAt）总是得到相同输出；唯一的错误是 Secret 为空。
func SignToken(key SigningKey, sessionIndex string, issuedAt time.Time) (string, error) {
	if len(key.Secret) == 0 {
		return "", errors.New("signing key is empty")
	}
	now := issuedAt.Unix()

	header, err := asciiJSON(tokenHeader{Alg: "HS256", Typ: "JWT", Kid: key.ID})
	if err != nil {
		return "", fmt.Errorf("failed to encode token header: %w", err)
	}
	claims, err := asciiJSON(tokenClaims{
		Iss: gemb2o.DefaultOrigin,
		Aud: gemb2o.DefaultAudience,
		Sub: "csesidx/" + sessionIndex,
		Iat: now,
		Exp: now + int64(TokenLifetime/time.Second),
		Nbf: now,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode token claims: %w", err)
	}

	signingString := kqEncode(header) + "." + kqEncode(claims)
	signature, err := jwt.SigningMethodHS256.Sign(signingString, key.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signingString + "." + signature, nil
}

// DecodeSigningKey 把 base64url（可能缺少 padding）的 xsrfToken 解码为 HMAC 密钥。
func DecodeSigningKey(xsrfToken string) ([]byte, error) {
	s := strings.TrimSpace(xsrfToken)
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	key, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid xsrfToken: %w", err)
	}
	return key, nil
}

// kqEncode 复刻网页端的编码：按 UTF-16 code unit 取值，大于 255 的拆成小端两个字节，
// 再做无 padding 的 base64url。
func kqEncode(s string) string {
	units := utf16.Encode([]rune(s))
	buf := make([]byte, 0, len(units))
	for _, u := range units {
		if u > 0xFF {
			buf = append(buf, byte(u&0xFF), byte(u>>8))
			continue
		}
		buf = append(buf, byte(u))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// asciiJSON 输出紧凑 JSON，不转义 <>&，非 ASCII 字符统一写成 \uXXXX。
func asciiJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	raw := strings.TrimSuffix(buf.String(), "\n")

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r < utf8.RuneSelf:
			b.WriteRune(r)
		case r > 0xFFFF:
			r1, r2 := utf16.EncodeRune(r)
			fmt.Fprintf(&b, `\u%04x\u%04x`, r1, r2)
		default:
			fmt.Fprintf(&b, `\u%04x`, r)
		}
	}
	return b.String(), nil
}
