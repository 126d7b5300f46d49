package directory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/totegamma/examwatch/internal/domain"
)

const (
	DefaultReconnectInterval = 7 * time.Second
	DefaultIdleTimeout       = 15 * time.Minute
	DefaultWatchInterval     = 30 * time.Second
)

// Metrics receives directory instrumentation.
type Metrics interface {
	IncDirectoryConnect(result string)
	SetDirectoryState(state string)
	IncDirectorySearch(outcome string)
	ObserveDirectorySearch(d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) IncDirectoryConnect(string)           {}
func (noopMetrics) SetDirectoryState(string)             {}
func (noopMetrics) IncDirectorySearch(string)            {}
func (noopMetrics) ObserveDirectorySearch(time.Duration) {}

type Options struct {
	BindDN            string
	BindPassword      string
	ReconnectInterval time.Duration
	IdleTimeout       time.Duration
	WatchInterval     time.Duration
	Metrics           Metrics

	// test hooks
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

type handle struct {
	conn     Conn
	lastUsed atomic.Int64
}

func newHandle(conn Conn, now time.Time) *handle {
	h := &handle{conn: conn}
	h.touch(now)
	return h
}

func (h *handle) touch(now time.Time) {
	h.lastUsed.Store(now.UnixNano())
}

func (h *handle) idleSince() time.Time {
	return time.Unix(0, h.lastUsed.Load())
}

// Manager owns the one bound connection to the directory and replaces it in
// the background when it breaks. Only the connect routine installs a handle.
type Manager struct {
	dial Dialer
	opts Options

	current    atomic.Pointer[handle]
	state      atomic.Int32
	connecting atomic.Bool
	attempts   atomic.Int64

	mu          sync.Mutex
	lastAttempt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(dial Dialer, opts Options) *Manager {
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = DefaultReconnectInterval
	}
	if opts.WatchInterval <= 0 {
		opts.WatchInterval = DefaultWatchInterval
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		dial:   dial,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
	}
	m.state.Store(int32(StateDisconnected))
	opts.Metrics.SetDirectoryState(StateDisconnected.String())
	return m
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Start launches the watchdog and the first background connect. It returns
// immediately; callers see ErrNotReady until the bind completes.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.watch(ctx)
	}()
	m.MakeClient()
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Attempts counts connect attempts since creation.
func (m *Manager) Attempts() int64 {
	return m.attempts.Load()
}

// GetClient returns the bound connection. It never connects synchronously.
func (m *Manager) GetClient() (Conn, error) {
	if m.State() == StateClosed {
		return nil, domain.ErrNotReady
	}
	h := m.current.Load()
	if h == nil {
		return nil, domain.ErrNotReady
	}
	h.touch(m.opts.Now())
	return h.conn, nil
}

// MakeClient starts a background connect unless one is already in flight.
func (m *Manager) MakeClient() {
	if m.State() == StateClosed || m.ctx.Err() != nil {
		return
	}
	if !m.connecting.CompareAndSwap(false, true) {
		log.Debug().Str("module", "directory").Msg("connect already in flight")
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.connect()
	}()
}

// Reconnect asks for a replacement connection without dropping the current one.
func (m *Manager) Reconnect() {
	m.dispatch(EventReconnect)
}

// ReportFailure is called by users of a connection that saw an error. Only
// connection-level failures on the current handle trigger a reconnect.
func (m *Manager) ReportFailure(conn Conn, err error) {
	if conn == nil || (!isConnectionError(err) && !conn.IsClosing()) {
		return
	}
	h := m.current.Load()
	if h == nil || h.conn != conn {
		return
	}
	if !m.current.CompareAndSwap(h, nil) {
		return
	}
	log.Warn().Err(err).Str("module", "directory").Msg("directory connection lost")
	h.conn.Close()
	m.dispatch(EventConnLost)
}

// Close stops the watchdog, releases the connection and waits for
// in-flight connect attempts to finish.
func (m *Manager) Close() {
	m.shutdown()
	m.wg.Wait()
}

func (m *Manager) shutdown() {
	m.cancel()
	m.dispatch(EventShutdown)
}

func (m *Manager) dispatch(ev Event) {
	m.mu.Lock()
	from := m.State()
	to, act := transition(from, ev)
	m.state.Store(int32(to))
	m.mu.Unlock()

	if from != to {
		log.Debug().
			Str("module", "directory").
			Str("event", ev.String()).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("directory state change")
		m.opts.Metrics.SetDirectoryState(to.String())
	}

	if act&actionRelease != 0 {
		m.release()
	}
	if act&(actionConnect|actionRetry) != 0 {
		m.MakeClient()
	}
}

func (m *Manager) release() {
	h := m.current.Swap(nil)
	if h != nil {
		h.conn.Close()
	}
}

// waitSpacing keeps successive attempts at least ReconnectInterval apart,
// measured from the start of the previous attempt.
func (m *Manager) waitSpacing() error {
	m.mu.Lock()
	last := m.lastAttempt
	m.mu.Unlock()

	if !last.IsZero() {
		wait := last.Add(m.opts.ReconnectInterval).Sub(m.opts.Now())
		if wait > 0 {
			if err := m.opts.Sleep(m.ctx, wait); err != nil {
				return err
			}
		}
	}

	m.mu.Lock()
	m.lastAttempt = m.opts.Now()
	m.mu.Unlock()
	return nil
}

func (m *Manager) connect() {
	if err := m.waitSpacing(); err != nil {
		m.connecting.Store(false)
		return
	}
	if m.ctx.Err() != nil {
		m.connecting.Store(false)
		return
	}

	m.dispatch(EventConnect)
	m.attempts.Add(1)

	conn, err := m.dialAndBind()
	if err != nil {
		log.Warn().Err(err).Str("module", "directory").Msg("directory connect failed")
		m.opts.Metrics.IncDirectoryConnect("failed")
		m.connecting.Store(false)
		m.dispatch(EventBindFailed)
		return
	}

	h := newHandle(conn, m.opts.Now())
	old := m.current.Swap(h)
	m.connecting.Store(false)

	if m.ctx.Err() != nil {
		if m.current.CompareAndSwap(h, nil) {
			conn.Close()
		}
		if old != nil {
			old.conn.Close()
		}
		return
	}

	m.opts.Metrics.IncDirectoryConnect("bound")
	log.Info().Str("module", "directory").Msg("directory bind completed")
	m.dispatch(EventBound)
	if old != nil {
		old.conn.Close()
	}
}

func (m *Manager) dialAndBind() (Conn, error) {
	conn, err := m.dial(m.ctx)
	if err != nil {
		return nil, errors.Wrap(err, "dial")
	}
	if err := conn.Bind(m.opts.BindDN, m.opts.BindPassword); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "bind")
	}
	return conn, nil
}

func (m *Manager) watch(ctx context.Context) {
	ticker := time.NewTicker(m.opts.WatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.check()
		}
	}
}

// check is one watchdog tick.
func (m *Manager) check() {
	h := m.current.Load()
	if h == nil {
		if m.State() == StateDisconnected {
			m.MakeClient()
		}
		return
	}
	if h.conn.IsClosing() {
		m.ReportFailure(h.conn, errors.New("connection closing"))
		return
	}
	if m.opts.IdleTimeout > 0 && m.opts.Now().Sub(h.idleSince()) >= m.opts.IdleTimeout {
		log.Info().Str("module", "directory").Msg("directory connection idle, rebinding")
		m.dispatch(EventIdle)
	}
}
