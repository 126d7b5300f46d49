package directory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ldap/ldap/v3"
)

type fakeConn struct {
	mu       sync.Mutex
	entries  []*ldap.Entry
	err      error
	block    chan struct{}
	searched chan struct{}
	done     chan struct{}
	closing  atomic.Bool
	closed   atomic.Int32
	bindErr  error
	requests []*ldap.SearchRequest
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		searched: make(chan struct{}, 16),
		done:     make(chan struct{}, 16),
	}
}

func (c *fakeConn) Bind(username, password string) error {
	return c.bindErr
}

func (c *fakeConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	block := c.block
	entries := c.entries
	err := c.err
	c.mu.Unlock()

	c.searched <- struct{}{}
	defer func() { c.done <- struct{}{} }()
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return &ldap.SearchResult{Entries: entries}, nil
}

func (c *fakeConn) IsClosing() bool {
	return c.closing.Load()
}

func (c *fakeConn) Close() {
	c.closed.Add(1)
	c.closing.Store(true)
}

type fakeDialer struct {
	mu      sync.Mutex
	conns   []*fakeConn
	next    func() (*fakeConn, error)
	gate    chan struct{}
	entered chan struct{}
	calls   atomic.Int32
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{entered: make(chan struct{}, 64)}
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	d.calls.Add(1)
	d.entered <- struct{}{}
	if d.gate != nil {
		<-d.gate
	}
	var (
		conn *fakeConn
		err  error
	)
	if d.next != nil {
		conn, err = d.next()
	} else {
		conn = newFakeConn()
	}
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}
