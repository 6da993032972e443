package ldapdir

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/directory-resolver/internal/directory"
)

// pool hands out authenticated LDAP connections, recycling idle ones.
type pool struct {
	cfg         *Config
	connections chan *pooledConn

	mu     sync.RWMutex
	closed bool

	created int64
	errored int64
}

type pooledConn struct {
	conn     *ldap.Conn
	lastUsed time.Time
	pool     *pool
}

func newPool(cfg *Config) *pool {
	return &pool{
		cfg:         cfg,
		connections: make(chan *pooledConn, cfg.MaxConnections),
	}
}

// get returns a pooled connection, dialing a fresh one when the pool is
// empty or the idle connection has aged out.
func (p *pool) get(ctx context.Context) (*pooledConn, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, directory.NewError("get connection", directory.ErrorCategoryConnection, false,
			errors.New("connection pool is closed"))
	}
	p.mu.RUnlock()

	select {
	case pc := <-p.connections:
		if time.Since(pc.lastUsed) < p.cfg.MaxIdleTime {
			pc.lastUsed = time.Now()
			return pc, nil
		}
		pc.conn.Close()
	default:
	}

	return p.dial(ctx)
}

// dial tries each configured URL in order, authenticating before the
// connection is handed out.
func (p *pool) dial(ctx context.Context) (*pooledConn, error) {
	var lastErr error
	for _, url := range p.cfg.URLs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		conn, err := p.dialURL(url)
		if err != nil {
			lastErr = err
			atomic.AddInt64(&p.errored, 1)
			continue
		}
		conn.SetTimeout(p.cfg.Timeout)

		if err := p.authenticate(conn, url); err != nil {
			conn.Close()
			atomic.AddInt64(&p.errored, 1)
			return nil, categorize("bind", err)
		}

		atomic.AddInt64(&p.created, 1)
		return &pooledConn{conn: conn, lastUsed: time.Now(), pool: p}, nil
	}
	return nil, categorize("dial", lastErr)
}

func (p *pool) dialURL(url string) (*ldap.Conn, error) {
	if strings.HasPrefix(url, "ldaps://") {
		return ldap.DialURL(url, ldap.DialWithTLSConfig(p.cfg.tlsConfig()))
	}
	conn, err := ldap.DialURL(url)
	if err != nil {
		return nil, err
	}
	if p.cfg.StartTLS {
		if err := conn.StartTLS(p.cfg.tlsConfig()); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

func (p *pool) authenticate(conn *ldap.Conn, url string) error {
	if p.cfg.useKerberos() {
		return kerberosBind(conn, p.cfg, url)
	}
	if p.cfg.Username == "" {
		return nil // anonymous
	}
	return conn.Bind(p.cfg.Username, p.cfg.Password)
}

// release returns a connection to the pool, closing it when the pool is
// full or shut down. The read lock is held across the send so a
// concurrent close cannot drain the channel between the closed check
// and the send; the send itself never blocks.
func (pc *pooledConn) release() {
	p := pc.pool

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		pc.conn.Close()
		return
	}

	pc.lastUsed = time.Now()
	select {
	case p.connections <- pc:
	default:
		pc.conn.Close()
	}
}

// discard closes a connection instead of recycling it, used after
// protocol errors leave the connection state unknown.
func (pc *pooledConn) discard() {
	pc.conn.Close()
}

// close drains the idle connections without closing the channel: a
// pager finishing after shutdown releases its connection late, and that
// release must close the connection rather than panic on a send to a
// closed channel.
func (p *pool) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	for {
		select {
		case pc := <-p.connections:
			pc.conn.Close()
		default:
			return nil
		}
	}
}
