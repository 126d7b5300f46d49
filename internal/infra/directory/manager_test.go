package directory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/examwatch/internal/domain"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
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

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func newTestManager(t *testing.T, d *fakeDialer, clock *fakeClock) *Manager {
	t.Helper()
	m := NewManager(d.Dial, Options{
		BindDN:        "cn=svc,dc=example,dc=org",
		BindPassword:  "secret",
		IdleTimeout:   15 * time.Minute,
		WatchInterval: time.Hour,
		Now:           clock.Now,
		Sleep:         clock.Sleep,
	})
	t.Cleanup(m.Close)
	return m
}

func waitBound(t *testing.T, m *Manager) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.State() == StateBound
	}, time.Second, 5*time.Millisecond)
}

func TestTransition(t *testing.T) {
	cases := []struct {
		from State
		ev   Event
		to   State
		act  action
	}{
		{StateDisconnected, EventConnect, StateConnecting, actionNone},
		{StateConnecting, EventBound, StateBound, actionNone},
		{StateConnecting, EventBindFailed, StateDisconnected, actionRetry},
		{StateBound, EventConnLost, StateConnecting, actionConnect},
		{StateBound, EventIdle, StateConnecting, actionConnect},
		{StateBound, EventReconnect, StateConnecting, actionConnect},
		{StateDisconnected, EventReconnect, StateConnecting, actionConnect},
		{StateConnecting, EventReconnect, StateConnecting, actionNone},
		{StateConnecting, EventConnLost, StateConnecting, actionNone},
		{StateBound, EventShutdown, StateClosed, actionRelease},
		{StateClosed, EventReconnect, StateClosed, actionNone},
		{StateClosed, EventBound, StateClosed, actionNone},
	}
	for _, tc := range cases {
		to, act := transition(tc.from, tc.ev)
		assert.Equal(t, tc.to, to, "%s + %s", tc.from, tc.ev)
		assert.Equal(t, tc.act, act, "%s + %s", tc.from, tc.ev)
	}
}

func TestManagerGetClientNeverConnectsSynchronously(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(t, d, newFakeClock())

	conn, err := m.GetClient()
	assert.Nil(t, conn)
	assert.ErrorIs(t, err, domain.ErrNotReady)
	assert.Equal(t, int32(0), d.calls.Load())
	assert.Equal(t, StateDisconnected, m.State())
}

func TestManagerStartBinds(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(t, d, newFakeClock())

	m.Start(context.Background())
	waitBound(t, m)

	conn, err := m.GetClient()
	require.NoError(t, err)
	assert.Same(t, d.last(), conn)
}

func TestManagerMakeClientCollapsesConcurrentRequests(t *testing.T) {
	d := newFakeDialer()
	d.gate = make(chan struct{})
	m := newTestManager(t, d, newFakeClock())

	m.Start(context.Background())
	<-d.entered

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.MakeClient()
		}()
	}
	wg.Wait()
	assert.Equal(t, StateConnecting, m.State())

	close(d.gate)
	waitBound(t, m)

	assert.Equal(t, int32(1), d.calls.Load())
	assert.Equal(t, int64(1), m.Attempts())
}

func TestManagerSpacesAttemptsFromLastAttemptStart(t *testing.T) {
	d := newFakeDialer()
	clock := newFakeClock()
	m := newTestManager(t, d, clock)

	m.Start(context.Background())
	waitBound(t, m)
	assert.Empty(t, clock.Sleeps(), "first attempt must not wait")

	clock.Advance(2 * time.Second)
	m.Reconnect()
	require.Eventually(t, func() bool {
		return d.calls.Load() == 2 && m.State() == StateBound
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []time.Duration{5 * time.Second}, clock.Sleeps())
}

func TestManagerRetriesAfterBindFailure(t *testing.T) {
	d := newFakeDialer()
	var n int
	d.next = func() (*fakeConn, error) {
		n++
		c := newFakeConn()
		if n == 1 {
			c.bindErr = ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("bad creds"))
		}
		return c, nil
	}
	clock := newFakeClock()
	m := newTestManager(t, d, clock)

	m.Start(context.Background())
	waitBound(t, m)

	assert.Equal(t, int32(2), d.calls.Load())
	assert.Equal(t, []time.Duration{DefaultReconnectInterval}, clock.Sleeps())
	assert.Equal(t, int32(1), d.conns[0].closed.Load(), "failed connection must be released")
}

func TestManagerReportFailureReplacesConnection(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(t, d, newFakeClock())
	m.Start(context.Background())
	waitBound(t, m)

	first, err := m.GetClient()
	require.NoError(t, err)

	m.ReportFailure(first, ldap.NewError(ldap.ErrorNetwork, errors.New("connection reset")))

	require.Eventually(t, func() bool {
		conn, err := m.GetClient()
		return err == nil && conn != first
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), first.(*fakeConn).closed.Load())
	assert.Equal(t, int32(2), d.calls.Load())
}

func TestManagerReportFailureIgnoresStaleAndNonFatal(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(t, d, newFakeClock())
	m.Start(context.Background())
	waitBound(t, m)

	current, err := m.GetClient()
	require.NoError(t, err)

	m.ReportFailure(newFakeConn(), ldap.NewError(ldap.ErrorNetwork, errors.New("old conn")))
	m.ReportFailure(current, ldap.NewError(ldap.LDAPResultSizeLimitExceeded, errors.New("too many")))

	still, err := m.GetClient()
	require.NoError(t, err)
	assert.Same(t, current, still)
	assert.Equal(t, StateBound, m.State())
	assert.Equal(t, int32(1), d.calls.Load())
}

func TestManagerIdleConnectionIsReplaced(t *testing.T) {
	d := newFakeDialer()
	clock := newFakeClock()
	m := newTestManager(t, d, clock)
	m.Start(context.Background())
	waitBound(t, m)
	first := d.last()

	clock.Advance(16 * time.Minute)
	m.check()

	require.Eventually(t, func() bool {
		return d.calls.Load() == 2 && m.State() == StateBound
	}, time.Second, 5*time.Millisecond)
	assert.NotSame(t, first, d.last())
	assert.Equal(t, int32(1), first.closed.Load())
}

func TestManagerWatchdogDetectsClosingConnection(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(t, d, newFakeClock())
	m.Start(context.Background())
	waitBound(t, m)
	first := d.last()

	first.closing.Store(true)
	m.check()

	require.Eventually(t, func() bool {
		return d.calls.Load() == 2 && m.State() == StateBound
	}, time.Second, 5*time.Millisecond)
}

func TestManagerClose(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(t, d, newFakeClock())
	m.Start(context.Background())
	waitBound(t, m)
	conn := d.last()

	m.Close()

	assert.Equal(t, StateClosed, m.State())
	assert.Equal(t, int32(1), conn.closed.Load())
	_, err := m.GetClient()
	assert.ErrorIs(t, err, domain.ErrNotReady)

	m.MakeClient()
	assert.Equal(t, int32(1), d.calls.Load())
}
