package pool

import (
	"encoding/json"
	"time"

	"github.com/LubyRuffy/gemb2o/backend"
	"gopkg.in/yaml.v3"
)

// Account 是池中的一个企业账号。available 缺省为 true。
type Account struct {
	TeamID            string    `json:"team_id" yaml:"team_id"`
	SecureCSES        string    `json:"secure_c_ses" yaml:"secure_c_ses"`
	HostCOSES         string    `json:"host_c_oses" yaml:"host_c_oses"`
	CSESIdx           string    `json:"csesidx" yaml:"csesidx"`
	UserAgent         string    `json:"user_agent" yaml:"user_agent"`
	Available         bool      `json:"available" yaml:"available"`
	UnavailableReason string    `json:"unavailable_reason,omitempty" yaml:"unavailable_reason,omitempty"`
	UnavailableTime   time.Time `json:"unavailable_time,omitzero" yaml:"unavailable_time,omitempty"`
}

// Credentials 返回换取签名密钥所需的凭据。
func (a Account) Credentials() backend.Credentials {
	return backend.Credentials{
		SecureCSES: a.SecureCSES,
		HostCOSES:  a.HostCOSES,
		CSESIdx:    a.CSESIdx,
		UserAgent:  a.UserAgent,
	}
}

type rawAccount Account

func (a *Account) UnmarshalJSON(data []byte) error {
	raw := rawAccount{Available: true}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = Account(raw)
	return nil
}

func (a *Account) UnmarshalYAML(value *yaml.Node) error {
	raw := rawAccount{Available: true}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*a = Account(raw)
	return nil
}

// AccountStatus 是管理接口看到的账号快照。
type AccountStatus struct {
	ID int `json:"id"`
	Account
	HasToken   bool `json:"has_token"`
	HasSession bool `json:"has_session"`
}

// Session 是 EnsureSession 的结果：一次上游调用所需的会话、令牌与 configId。
type Session struct {
	Name     string
	Token    string
	ConfigID string
}
