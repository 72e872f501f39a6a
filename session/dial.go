package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/kardianos/tlsctx"
	"github.com/quic-go/quic-go"
)

// DefaultALPN is offered on QUIC connections when Options.NextProtos is empty.
const DefaultALPN = "tlsctx"

// DefaultKeepAlivePeriod is the QUIC keep-alive used when no quic.Config is given.
const DefaultKeepAlivePeriod = 30 * time.Second

// Conn is a client TLS connection that owns its Session.
type Conn struct {
	*tls.Conn
	sess *Session
}

// Close closes the connection and releases the Session.
func (c *Conn) Close() error {
	err := c.Conn.Close()
	c.sess.Close()
	return err
}

// Dial connects to addr and completes a client handshake with the credentials of c.
// When opts.ServerName is empty the host part of addr is used.
func Dial(ctx context.Context, network, addr string, c *tlsctx.Context, opts Options) (*Conn, error) {
	if opts.ServerName == "" {
		opts.ServerName = hostOf(addr)
	}
	sess, err := New(c, opts)
	if err != nil {
		return nil, err
	}
	d := &tls.Dialer{Config: sess.ClientConfig()}
	nc, err := d.DialContext(ctx, network, addr)
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("session: dial %s: %w", addr, err)
	}
	return &Conn{Conn: nc.(*tls.Conn), sess: sess}, nil
}

// Listener accepts server TLS connections and owns its Session.
type Listener struct {
	net.Listener
	sess *Session
}

// Listen listens on addr and serves TLS with the credentials of c.
func Listen(network, addr string, c *tlsctx.Context, opts Options) (*Listener, error) {
	sess, err := New(c, opts)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen(network, addr)
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("session: listen %s: %w", addr, err)
	}
	return &Listener{Listener: tls.NewListener(ln, sess.ServerConfig()), sess: sess}, nil
}

// Close stops listening and releases the Session.
func (l *Listener) Close() error {
	err := l.Listener.Close()
	l.sess.Close()
	return err
}

func quicConfig(qc *quic.Config) *quic.Config {
	if qc != nil {
		return qc
	}
	return &quic.Config{
		KeepAlivePeriod: DefaultKeepAlivePeriod,
		MaxIdleTimeout:  DefaultKeepAlivePeriod * 4,
	}
}

func quicOptions(opts Options) Options {
	if len(opts.NextProtos) == 0 {
		opts.NextProtos = []string{DefaultALPN}
	}
	return opts
}

// QUICConn is a client QUIC connection that owns its Session.
type QUICConn struct {
	*quic.Conn
	sess *Session
}

// CloseWithError closes the connection and releases the Session.
// The Session is also released when the connection ends on its own.
func (c *QUICConn) CloseWithError(code quic.ApplicationErrorCode, msg string) error {
	err := c.Conn.CloseWithError(code, msg)
	c.sess.Close()
	return err
}

// DialQUIC opens a QUIC connection to addr with the credentials of c.
// qc may be nil.
func DialQUIC(ctx context.Context, addr string, c *tlsctx.Context, opts Options, qc *quic.Config) (*QUICConn, error) {
	opts = quicOptions(opts)
	if opts.ServerName == "" {
		opts.ServerName = hostOf(addr)
	}
	sess, err := New(c, opts)
	if err != nil {
		return nil, err
	}
	conn, err := quic.DialAddr(ctx, addr, sess.ClientConfig(), quicConfig(qc))
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("session: dial quic %s: %w", addr, err)
	}
	go func() {
		<-conn.Context().Done()
		sess.Close()
	}()
	return &QUICConn{Conn: conn, sess: sess}, nil
}

// QUICListener accepts QUIC connections and owns its Session.
type QUICListener struct {
	*quic.Listener
	sess *Session
}

// ListenQUIC listens for QUIC connections on addr with the credentials of c.
// qc may be nil.
func ListenQUIC(addr string, c *tlsctx.Context, opts Options, qc *quic.Config) (*QUICListener, error) {
	sess, err := New(c, quicOptions(opts))
	if err != nil {
		return nil, err
	}
	ln, err := quic.ListenAddr(addr, sess.ServerConfig(), quicConfig(qc))
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("session: listen quic %s: %w", addr, err)
	}
	return &QUICListener{Listener: ln, sess: sess}, nil
}

// Close stops listening and releases the Session.
func (l *QUICListener) Close() error {
	err := l.Listener.Close()
	l.sess.Close()
	return err
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
