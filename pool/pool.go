package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LubyRuffy/gemb2o/backend"
	"go.uber.org/zap"
)

// DefaultTokenTTL 比令牌自身的 300s 有效期短，留出请求在途的余量。
const DefaultTokenTTL = 240 * time.Second

var (
	ErrNoAvailableAccounts = errors.New("no available accounts")
	ErrAccountNotFound     = errors.New("account not found")
)

// ErrAccountStale 表示调用期间账号被删除、更新或重载，同时满足 errors.Is(err, ErrAccountNotFound)。
var ErrAccountStale = fmt.Errorf("%w: changed while in use", ErrAccountNotFound)

type KeyExchanger interface {
	ExchangeKey(ctx context.Context, cred backend.Credentials) (backend.SigningKey, error)
}

type SessionOpener interface {
	OpenSession(ctx context.Context, token, configID string) (string, error)
}

type Options struct {
	Exchanger KeyExchanger
	Opener    SessionOpener
	// TokenTTL 默认 DefaultTokenTTL。
	TokenTTL time.Duration
	// Now 仅用于测试注入时钟。
	Now    func() time.Time
	Logger *zap.Logger
}

type accountState struct {
	token   string
	tokenAt time.Time
	session string
}

// Pool 持有账号列表、每个账号的令牌/会话缓存和轮询游标，三者由同一把锁保护。
// 网络调用都在锁外进行；回写时若该账号的 state 已被替换（删除、更新、重载），结果直接丢弃。
type Pool struct {
	exchanger KeyExchanger
	opener    SessionOpener
	tokenTTL  time.Duration
	now       func() time.Time
	logger    *zap.Logger

	mu       sync.Mutex
	accounts []Account
	states   map[int]*accountState
	cursor   int
}

func New(accounts []Account, opts Options) *Pool {
	p := &Pool{
		exchanger: opts.Exchanger,
		opener:    opts.Opener,
		tokenTTL:  opts.TokenTTL,
		now:       opts.Now,
		logger:    opts.Logger,
	}
	if p.tokenTTL <= 0 {
		p.tokenTTL = DefaultTokenTTL
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	p.reset(accounts)
	return p
}

func (p *Pool) reset(accounts []Account) {
	p.accounts = append([]Account(nil), accounts...)
	p.states = make(map[int]*accountState, len(accounts))
	for i := range p.accounts {
		p.states[i] = &accountState{}
	}
	p.cursor = 0
}

// NextAccount 在当前可用账号中轮询选出下一个。没有可用账号时返回 ErrNoAvailableAccounts，游标不变。
func (p *Pool) NextAccount() (int, Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	available := make([]int, 0, len(p.accounts))
	for i, acc := range p.accounts {
		if acc.Available {
			available = append(available, i)
		}
	}
	if len(available) == 0 {
		return -1, Account{}, ErrNoAvailableAccounts
	}
	pos := p.cursor % len(available)
	p.cursor = (pos + 1) % len(available)
	idx := available[pos]
	return idx, p.accounts[idx], nil
}

func (p *Pool) lookup(idx int) (Account, *accountState, error) {
	if idx < 0 || idx >= len(p.accounts) {
		return Account{}, nil, fmt.Errorf("%w: %d", ErrAccountNotFound, idx)
	}
	return p.accounts[idx], p.states[idx], nil
}

// EnsureToken 返回账号 idx 的有效令牌，缓存超过 TokenTTL 时重新换取密钥并签发。
// 换取或签发失败都会把账号标记为不可用。
func (p *Pool) EnsureToken(ctx context.Context, idx int) (string, error) {
	token, _, err := p.ensureToken(ctx, idx)
	return token, err
}

// ensureToken 额外返回令牌所属的 state，调用方据此判断账号是否已被删除、更新或重载。
func (p *Pool) ensureToken(ctx context.Context, idx int) (string, *accountState, error) {
	p.mu.Lock()
	acc, st, err := p.lookup(idx)
	if err != nil {
		p.mu.Unlock()
		return "", nil, err
	}
	if st.token != "" && p.now().Sub(st.tokenAt) <= p.tokenTTL {
		token := st.token
		p.mu.Unlock()
		return token, st, nil
	}
	p.mu.Unlock()

	token, issuedAt, err := p.mint(ctx, acc)
	if err != nil {
		p.demote(idx, st, "token refresh failed: "+err.Error())
		return "", nil, err
	}

	p.mu.Lock()
	if p.states[idx] == st {
		st.token = token
		st.tokenAt = issuedAt
	}
	p.mu.Unlock()
	return token, st, nil
}

func (p *Pool) mint(ctx context.Context, acc Account) (string, time.Time, error) {
	key, err := p.exchanger.ExchangeKey(ctx, acc.Credentials())
	if err != nil {
		return "", time.Time{}, err
	}
	issuedAt := p.now()
	token, err := backend.SignToken(key, acc.CSESIdx, issuedAt)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, issuedAt, nil
}

// EnsureSession 先保证令牌有效，再返回缓存的会话；forceNew 或没有缓存时创建新会话。
// 创建失败会把账号标记为不可用。账号在此期间被删除、更新或重载时返回 ErrAccountStale，不下线任何账号。
func (p *Pool) EnsureSession(ctx context.Context, idx int, forceNew bool) (Session, error) {
	token, st, err := p.ensureToken(ctx, idx)
	if err != nil {
		return Session{}, err
	}

	p.mu.Lock()
	if p.states[idx] != st {
		p.mu.Unlock()
		return Session{}, fmt.Errorf("%w: %d", ErrAccountStale, idx)
	}
	acc := p.accounts[idx]
	if forceNew {
		st.session = ""
	}
	if st.session != "" {
		s := Session{Name: st.session, Token: token, ConfigID: acc.TeamID}
		p.mu.Unlock()
		return s, nil
	}
	p.mu.Unlock()

	name, err := p.opener.OpenSession(ctx, token, acc.TeamID)
	if err != nil {
		p.demote(idx, st, "session create failed: "+err.Error())
		return Session{}, err
	}

	p.mu.Lock()
	if p.states[idx] != st {
		p.mu.Unlock()
		return Session{}, fmt.Errorf("%w: %d", ErrAccountStale, idx)
	}
	st.session = name
	p.mu.Unlock()
	p.logger.Debug("session created", zap.Int("account", idx), zap.String("session", name))
	return Session{Name: name, Token: token, ConfigID: acc.TeamID}, nil
}

// MarkUnavailable 下线账号并记录原因与时间，可重复调用，以最后一次的原因为准。
func (p *Pool) MarkUnavailable(idx int, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markLocked(idx, reason)
}

func (p *Pool) demote(idx int, st *accountState, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.states[idx] != st {
		return
	}
	p.markLocked(idx, reason)
}

func (p *Pool) markLocked(idx int, reason string) {
	if idx < 0 || idx >= len(p.accounts) {
		return
	}
	acc := &p.accounts[idx]
	acc.Available = false
	acc.UnavailableReason = reason
	acc.UnavailableTime = p.now()
	p.logger.Warn("account marked unavailable", zap.Int("account", idx), zap.String("reason", reason))
}

// Count 返回账号总数与可用数。
func (p *Pool) Count() (total, available int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, acc := range p.accounts {
		if acc.Available {
			available++
		}
	}
	return len(p.accounts), available
}

// ResetAllSessions 清空所有账号的缓存会话（保留令牌与可用状态），返回被清除的会话数。
func (p *Pool) ResetAllSessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, st := range p.states {
		if st.session != "" {
			st.session = ""
			n++
		}
	}
	return n
}
