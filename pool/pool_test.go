package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LubyRuffy/gemb2o/backend"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type fakeExchanger struct {
	calls atomic.Int32
	fail  map[string]error
	hook  func(cred backend.Credentials)
}

func (f *fakeExchanger) ExchangeKey(_ context.Context, cred backend.Credentials) (backend.SigningKey, error) {
	f.calls.Add(1)
	if f.hook != nil {
		f.hook(cred)
	}
	if err := f.fail[cred.CSESIdx]; err != nil {
		return backend.SigningKey{}, err
	}
	return backend.SigningKey{ID: "kid-" + cred.CSESIdx, Secret: []byte("secret")}, nil
}

type fakeOpener struct {
	calls atomic.Int32
	err   error
	hook  func(token, configID string)
}

func (f *fakeOpener) OpenSession(_ context.Context, token, configID string) (string, error) {
	n := f.calls.Add(1)
	if f.hook != nil {
		f.hook(token, configID)
	}
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("sessions/%s-%d", configID, n), nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testAccounts(n int) []Account {
	out := make([]Account, n)
	for i := range out {
		out[i] = Account{
			TeamID:     fmt.Sprintf("team-%d", i),
			SecureCSES: "ses",
			HostCOSES:  "oses",
			CSESIdx:    fmt.Sprintf("%d", 100+i),
			Available:  true,
		}
	}
	return out
}

func newTestPool(n int) (*Pool, *fakeExchanger, *fakeOpener, *fakeClock) {
	ex := &fakeExchanger{fail: map[string]error{}}
	op := &fakeOpener{}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	p := New(testAccounts(n), Options{Exchanger: ex, Opener: op, Now: clock.Now})
	return p, ex, op, clock
}

func TestNextAccount_RoundRobin(t *testing.T) {
	p, _, _, _ := newTestPool(3)

	var seen []int
	for i := 0; i < 6; i++ {
		idx, acc, err := p.NextAccount()
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("team-%d", idx), acc.TeamID)
		seen = append(seen, idx)
	}
	require.Equal(t, []int{0, 1, 2, 0, 1, 2}, seen)
}

func TestNextAccount_SkipsUnavailable(t *testing.T) {
	p, _, _, _ := newTestPool(4)
	p.MarkUnavailable(1, "disabled")

	var seen []int
	for i := 0; i < 3; i++ {
		idx, _, err := p.NextAccount()
		require.NoError(t, err)
		seen = append(seen, idx)
	}
	require.ElementsMatch(t, []int{0, 2, 3}, seen)

	// 可用数量变化只改变取模范围。
	p.MarkUnavailable(2, "disabled")
	p.MarkUnavailable(3, "disabled")
	idx, _, err := p.NextAccount()
	require.NoError(t, err)
	require.Equal(t, 0, idx)
}

func TestNextAccount_NoneAvailable(t *testing.T) {
	p, _, _, _ := newTestPool(2)
	_, _, err := p.NextAccount()
	require.NoError(t, err)
	p.MarkUnavailable(0, "x")
	p.MarkUnavailable(1, "x")

	before := p.cursor
	_, _, err = p.NextAccount()
	require.ErrorIs(t, err, ErrNoAvailableAccounts)
	require.Equal(t, before, p.cursor)

	empty := New(nil, Options{})
	_, _, err = empty.NextAccount()
	require.ErrorIs(t, err, ErrNoAvailableAccounts)
}

func TestEnsureToken_CachedWithinTTL(t *testing.T) {
	p, ex, _, clock := newTestPool(1)
	ctx := context.Background()

	first, err := p.EnsureToken(ctx, 0)
	require.NoError(t, err)
	clock.Advance(239 * time.Second)
	second, err := p.EnsureToken(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.EqualValues(t, 1, ex.calls.Load())

	// 恰好 240s 仍然复用，超过才刷新。
	clock.Advance(time.Second)
	second, err = p.EnsureToken(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.EqualValues(t, 1, ex.calls.Load())

	clock.Advance(time.Second)
	third, err := p.EnsureToken(ctx, 0)
	require.NoError(t, err)
	require.NotEqual(t, first, third)
	require.EqualValues(t, 2, ex.calls.Load())
}

func TestEnsureToken_FailureDemotes(t *testing.T) {
	p, ex, _, _ := newTestPool(2)
	ex.fail["100"] = &backend.AuthExchangeError{CSESIdx: "100", Status: 401, Detail: "expired"}

	_, err := p.EnsureToken(context.Background(), 0)
	var exErr *backend.AuthExchangeError
	require.True(t, errors.As(err, &exErr))

	snap := p.Snapshot()
	require.False(t, snap[0].Available)
	require.Contains(t, snap[0].UnavailableReason, "expired")
	require.False(t, snap[0].UnavailableTime.IsZero())
	require.False(t, snap[0].HasToken)
	require.True(t, snap[1].Available)

	_, err = p.EnsureToken(context.Background(), 5)
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestEnsureSession_ReuseAndForce(t *testing.T) {
	p, ex, op, _ := newTestPool(1)
	ctx := context.Background()

	s1, err := p.EnsureSession(ctx, 0, false)
	require.NoError(t, err)
	require.Equal(t, "team-0", s1.ConfigID)
	require.NotEmpty(t, s1.Token)

	s2, err := p.EnsureSession(ctx, 0, false)
	require.NoError(t, err)
	require.Equal(t, s1.Name, s2.Name)
	require.EqualValues(t, 1, op.calls.Load())

	s3, err := p.EnsureSession(ctx, 0, true)
	require.NoError(t, err)
	require.NotEqual(t, s1.Name, s3.Name)
	require.EqualValues(t, 2, op.calls.Load())
	require.EqualValues(t, 1, ex.calls.Load())
}

func TestEnsureSession_ForceNewDropsStaleSessionOnFailure(t *testing.T) {
	p, _, op, _ := newTestPool(1)
	ctx := context.Background()

	_, err := p.EnsureSession(ctx, 0, false)
	require.NoError(t, err)

	op.err = &backend.SessionCreateError{Status: 401}
	_, err = p.EnsureSession(ctx, 0, true)
	require.ErrorIs(t, err, backend.ErrSessionUnauthorized)

	snap := p.Snapshot()
	require.False(t, snap[0].HasSession)
	require.False(t, snap[0].Available)
	require.Contains(t, snap[0].UnavailableReason, "session create failed")
}

func TestResetAllSessions(t *testing.T) {
	p, ex, op, _ := newTestPool(2)
	ctx := context.Background()

	_, err := p.EnsureSession(ctx, 0, false)
	require.NoError(t, err)
	_, err = p.EnsureSession(ctx, 1, false)
	require.NoError(t, err)
	p.MarkUnavailable(1, "x")

	require.Equal(t, 2, p.ResetAllSessions())
	require.Equal(t, 0, p.ResetAllSessions())

	snap := p.Snapshot()
	require.True(t, snap[0].HasToken)
	require.False(t, snap[0].HasSession)
	require.False(t, snap[1].Available)

	_, err = p.EnsureSession(ctx, 0, false)
	require.NoError(t, err)
	require.EqualValues(t, 3, op.calls.Load())
	require.EqualValues(t, 2, ex.calls.Load())
}

func TestMarkUnavailable_Idempotent(t *testing.T) {
	p, _, _, _ := newTestPool(3)

	p.MarkUnavailable(1, "first")
	p.MarkUnavailable(1, "second")
	p.MarkUnavailable(9, "out of range")

	total, available := p.Count()
	require.Equal(t, 3, total)
	require.Equal(t, 2, available)
	require.Equal(t, "second", p.Snapshot()[1].UnavailableReason)
}

func TestAdminOperations(t *testing.T) {
	p, ex, _, _ := newTestPool(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := p.EnsureSession(ctx, i, false)
		require.NoError(t, err)
	}

	idx := p.Add(Account{TeamID: "team-new", SecureCSES: "s", CSESIdx: "999", Available: true})
	require.Equal(t, 3, idx)
	require.False(t, p.Snapshot()[3].HasToken)

	require.NoError(t, p.Update(0, func(a *Account) { a.TeamID = "team-0b" }))
	snap := p.Snapshot()
	require.Equal(t, "team-0b", snap[0].TeamID)
	require.False(t, snap[0].HasToken)
	require.False(t, snap[0].HasSession)
	require.True(t, snap[1].HasSession)

	require.NoError(t, p.Delete(1))
	snap = p.Snapshot()
	require.Len(t, snap, 3)
	require.Equal(t, "team-2", snap[1].TeamID)
	require.True(t, snap[1].HasSession)
	require.Equal(t, "team-new", snap[2].TeamID)
	require.ErrorIs(t, p.Delete(7), ErrAccountNotFound)

	p.MarkUnavailable(1, "broken")
	on, err := p.Toggle(1)
	require.NoError(t, err)
	require.True(t, on)
	snap = p.Snapshot()
	require.Empty(t, snap[1].UnavailableReason)
	require.True(t, snap[1].UnavailableTime.IsZero())
	on, err = p.Toggle(1)
	require.NoError(t, err)
	require.False(t, on)

	calls := ex.calls.Load()
	require.NoError(t, p.Probe(ctx, 0))
	require.Equal(t, calls+1, ex.calls.Load())
	require.False(t, p.Snapshot()[0].HasToken)

	ex.fail["999"] = errors.New("bad cookie")
	require.Error(t, p.Probe(ctx, 2))
	require.True(t, p.Snapshot()[2].Available)

	p.Replace(testAccounts(1))
	total, available := p.Count()
	require.Equal(t, 1, total)
	require.Equal(t, 1, available)
	require.False(t, p.Snapshot()[0].HasToken)
}

func TestEnsureToken_DropsResultAfterReplace(t *testing.T) {
	p, ex, _, _ := newTestPool(1)
	ex.hook = func(backend.Credentials) {
		ex.hook = nil
		p.Replace(testAccounts(1))
	}

	_, err := p.EnsureToken(context.Background(), 0)
	require.NoError(t, err)
	require.False(t, p.Snapshot()[0].HasToken)

	ex.fail["100"] = errors.New("boom")
	ex.hook = func(backend.Credentials) {
		ex.hook = nil
		p.Replace(testAccounts(1))
	}
	_, err = p.EnsureToken(context.Background(), 0)
	require.Error(t, err)
	require.True(t, p.Snapshot()[0].Available)
}

func TestEnsureSession_AccountDeletedDuringExchange(t *testing.T) {
	p, ex, op, _ := newTestPool(2)
	op.err = &backend.SessionCreateError{Status: 401, Body: "unauthorized"}
	ex.hook = func(backend.Credentials) {
		ex.hook = nil
		require.NoError(t, p.Delete(0))
	}

	_, err := p.EnsureSession(context.Background(), 0, false)
	require.ErrorIs(t, err, ErrAccountStale)
	require.ErrorIs(t, err, ErrAccountNotFound)
	require.EqualValues(t, 0, op.calls.Load())

	snap := p.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, "team-1", snap[0].TeamID)
	require.True(t, snap[0].Available)
	require.False(t, snap[0].HasToken)
	require.False(t, snap[0].HasSession)
}

func TestEnsureSession_ReplacedDuringExchange(t *testing.T) {
	p, ex, op, _ := newTestPool(1)
	ex.hook = func(backend.Credentials) {
		ex.hook = nil
		p.Replace(testAccounts(1))
	}

	_, err := p.EnsureSession(context.Background(), 0, false)
	require.ErrorIs(t, err, ErrAccountStale)
	require.EqualValues(t, 0, op.calls.Load())
	require.False(t, p.Snapshot()[0].HasSession)
}

func TestEnsureSession_ChangedDuringOpen(t *testing.T) {
	t.Run("delete", func(t *testing.T) {
		p, _, op, _ := newTestPool(2)
		op.err = &backend.SessionCreateError{Status: 401, Body: "unauthorized"}
		op.hook = func(string, string) {
			op.hook = nil
			require.NoError(t, p.Delete(0))
		}

		_, err := p.EnsureSession(context.Background(), 0, false)
		require.Error(t, err)
		snap := p.Snapshot()
		require.Len(t, snap, 1)
		require.Equal(t, "team-1", snap[0].TeamID)
		require.True(t, snap[0].Available)
	})

	t.Run("replace", func(t *testing.T) {
		p, _, op, _ := newTestPool(1)
		op.hook = func(string, string) {
			op.hook = nil
			p.Replace(testAccounts(1))
		}

		_, err := p.EnsureSession(context.Background(), 0, false)
		require.ErrorIs(t, err, ErrAccountStale)
		require.False(t, p.Snapshot()[0].HasSession)
		require.True(t, p.Snapshot()[0].Available)
	})
}

func TestPool_Concurrent(t *testing.T) {
	p, _, _, _ := newTestPool(4)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			idx, _, err := p.NextAccount()
			if err != nil {
				return
			}
			_, _ = p.EnsureSession(ctx, idx, i%5 == 0)
			if i%7 == 0 {
				p.ResetAllSessions()
			}
			_ = p.Snapshot()
		}(i)
	}
	wg.Wait()

	total, available := p.Count()
	require.Equal(t, 4, total)
	require.Equal(t, 4, available)
}

func TestAccount_DefaultAvailable(t *testing.T) {
	var fromJSON []Account
	require.NoError(t, json.Unmarshal([]byte(`[{"team_id":"a"},{"team_id":"b","available":false}]`), &fromJSON))
	require.True(t, fromJSON[0].Available)
	require.False(t, fromJSON[1].Available)

	var fromYAML []Account
	require.NoError(t, yaml.Unmarshal([]byte("- team_id: a\n- team_id: b\n  available: false\n"), &fromYAML))
	require.True(t, fromYAML[0].Available)
	require.False(t, fromYAML[1].Available)
}
