package pool

import (
	"context"
	"time"
)

// Add 追加账号并返回其下标。
func (p *Pool) Add(acc Account) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts = append(p.accounts, acc)
	idx := len(p.accounts) - 1
	p.states[idx] = &accountState{}
	return idx
}

// Update 在锁内修改账号字段，并丢弃该账号已缓存的令牌与会话。
func (p *Pool) Update(idx int, patch func(*Account)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, _, err := p.lookup(idx); err != nil {
		return err
	}
	patch(&p.accounts[idx])
	p.states[idx] = &accountState{}
	return nil
}

// Delete 删除账号，之后的账号下标前移一位，缓存随之移动。
func (p *Pool) Delete(idx int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, _, err := p.lookup(idx); err != nil {
		return err
	}
	p.accounts = append(p.accounts[:idx], p.accounts[idx+1:]...)
	states := make(map[int]*accountState, len(p.accounts))
	for i := range p.accounts {
		if i < idx {
			states[i] = p.states[i]
		} else {
			states[i] = p.states[i+1]
		}
	}
	p.states = states
	return nil
}

// Toggle 切换账号可用状态并返回新状态；重新启用时清除不可用原因。
func (p *Pool) Toggle(idx int) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, _, err := p.lookup(idx); err != nil {
		return false, err
	}
	acc := &p.accounts[idx]
	acc.Available = !acc.Available
	if acc.Available {
		acc.UnavailableReason = ""
		acc.UnavailableTime = time.Time{}
	}
	return acc.Available, nil
}

// Replace 用新的账号列表替换整个池，所有缓存与游标一并重置。
func (p *Pool) Replace(accounts []Account) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset(accounts)
}

func (p *Pool) Snapshot() []AccountStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]AccountStatus, 0, len(p.accounts))
	for i, acc := range p.accounts {
		st := p.states[i]
		out = append(out, AccountStatus{
			ID:         i,
			Account:    acc,
			HasToken:   st.token != "",
			HasSession: st.session != "",
		})
	}
	return out
}

// Probe 走一遍换取密钥与签发，不写缓存，也不影响可用状态。
func (p *Pool) Probe(ctx context.Context, idx int) error {
	p.mu.Lock()
	acc, _, err := p.lookup(idx)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	_, _, err = p.mint(ctx, acc)
	return err
}
