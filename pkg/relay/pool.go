package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Pool owns one connection per endpoint URL. Connections are opened on first
// use, shared across concurrent subscriptions, and closed on process
// shutdown. The pool is the only process-wide holder of relay connections;
// nothing else dials relays directly.
type Pool struct {
	dial   Dialer
	logger *slog.Logger

	mu     sync.Mutex
	conns  map[string]Conn
	closed bool
}

// NewPool creates a pool using the given dialer. Pass DialWebsocket for real
// relays; tests inject fakes.
func NewPool(dial Dialer) *Pool {
	return &Pool{
		dial:   dial,
		logger: slog.Default(),
		conns:  make(map[string]Conn),
	}
}

// Get returns the pooled connection for url, dialing on first use.
func (p *Pool) Get(ctx context.Context, url string) (Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrConnClosed
	}
	if c, ok := p.conns[url]; ok {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	// Dial outside the lock; a slow endpoint must not stall the pool.
	c, err := p.dial(ctx, url)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = c.Close()
		return nil, ErrConnClosed
	}
	if existing, ok := p.conns[url]; ok {
		_ = c.Close()
		return existing, nil
	}
	p.conns[url] = c
	return c, nil
}

// Drop removes and closes the connection for url, so a later Get redials.
// Used when an endpoint's connection has gone bad.
func (p *Pool) Drop(url string) {
	p.mu.Lock()
	c, ok := p.conns[url]
	delete(p.conns, url)
	p.mu.Unlock()
	if ok {
		if err := c.Close(); err != nil {
			p.logger.Debug("closing dropped relay connection", "relay", url, "err", err)
		}
	}
}

// Close closes every pooled connection. The pool is unusable afterwards.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conns := p.conns
	p.conns = nil
	p.mu.Unlock()

	var errs []error
	for url, c := range conns {
		if err := c.Close(); err != nil {
			p.logger.Debug("closing relay connection", "relay", url, "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
