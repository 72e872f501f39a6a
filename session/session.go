// Package session turns a tlsctx.Context into crypto/tls and QUIC connections.
//
// A Session retains the Store of its Context, so connections keep working after the
// Context is closed. Peer verification and server-name selection are dispatched to
// the callbacks installed on the Context.
package session

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/kardianos/tlsctx"
)

var (
	// ErrServerNameRejected is returned by a server handshake when the server-name
	// callback does not accept the name requested by the client.
	ErrServerNameRejected = errors.New("session: server name rejected")

	// ErrNoPeerCertificate is returned when verification is required and the peer
	// presented no certificate.
	ErrNoPeerCertificate = errors.New("session: peer presented no certificate")

	// ErrClosed is returned when a closed Session is used.
	ErrClosed = errors.New("session: closed")

	errRejected = errors.New("rejected by verify callback")
)

// VerificationError reports the peer certificate that failed verification.
type VerificationError struct {
	// Depth is the position in the peer chain; the leaf is at depth 0.
	Depth int
	Err   error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("session: peer certificate at depth %d: %v", e.Depth, e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// Options configures a Session.
type Options struct {
	// ServerName is sent by clients for name indication and checked against the
	// server certificate.
	ServerName string

	// NextProtos lists the application protocols offered or accepted.
	NextProtos []string

	// Observer receives log output. Optional.
	Observer tlsctx.Observer
}

// Session is one user of a Store. It builds per-connection TLS configuration from
// the credentials and policy recorded in the Store.
type Session struct {
	store  *tlsctx.Store
	opts   Options
	closed atomic.Bool
}

// New retains the Store of c. The Session must be closed to release it.
func New(c *tlsctx.Context, opts Options) (*Session, error) {
	st := c.Store()
	if st == nil {
		return nil, tlsctx.ErrContextEmpty
	}
	if err := st.Retain(); err != nil {
		return nil, err
	}
	return &Session{store: st, opts: opts}, nil
}

// Store returns the retained Store.
func (s *Session) Store() *tlsctx.Store { return s.store }

// Close releases the Store. Further calls do nothing.
func (s *Session) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.store.Release()
	}
	return nil
}

func (s *Session) logf(format string, args ...any) {
	if s.opts.Observer != nil {
		s.opts.Observer.Logf(format, args...)
	}
}

// Config returns the configuration for the role of the Store's method.
// A method without a role is treated as a client.
func (s *Session) Config() *tls.Config {
	if s.store.Method().IsServer() {
		return s.ServerConfig()
	}
	return s.ClientConfig()
}

// ClientConfig returns a client configuration.
func (s *Session) ClientConfig() *tls.Config {
	h := &handshake{store: s.store, serverName: s.opts.ServerName}
	return s.handshakeConfig(h, false)
}

// ServerConfig returns a server configuration. Each client hello gets its own
// handshake state so the server-name callback can switch credentials.
func (s *Session) ServerConfig() *tls.Config {
	return &tls.Config{
		MinVersion: s.store.Method().MinVersion(s.store.Options()),
		NextProtos: s.opts.NextProtos,
		Time:       timeNow,
		GetConfigForClient: func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
			if s.closed.Load() {
				return nil, ErrClosed
			}
			h := &handshake{store: s.store, serverName: hello.ServerName}
			defer h.release()
			if hello.ServerName != "" && !s.store.SelectServerName(h, hello.ServerName) {
				s.logf("session: rejected server name %q", hello.ServerName)
				return nil, fmt.Errorf("%w: %q", ErrServerNameRejected, hello.ServerName)
			}
			return s.handshakeConfig(h, true), nil
		},
	}
}

// handshakeConfig builds the configuration for one handshake. Credentials and trust
// come from the handshake's store, policy and callbacks from the Session's store.
func (s *Session) handshakeConfig(h *handshake, server bool) *tls.Config {
	cred := h.store.Handle()
	pool := cred.TrustPool()
	cfg := &tls.Config{
		Certificates: cred.Certificates(),
		MinVersion:   s.store.Method().MinVersion(s.store.Options()),
		NextProtos:   s.opts.NextProtos,
		Time:         timeNow,

		// Verification runs in VerifyPeerCertificate so the callback sees every certificate.
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(raw [][]byte, _ [][]*x509.Certificate) error {
			return s.verifyPeer(raw, pool, server, h.serverName)
		},
	}
	if server {
		cfg.ClientAuth = clientAuth(s.store.VerifyMode())
	} else {
		cfg.ServerName = h.serverName
	}
	return cfg
}

func clientAuth(v tlsctx.VerifyMode) tls.ClientAuthType {
	switch {
	case v&tlsctx.VerifyPeer == 0:
		return tls.NoClientCert
	case v&tlsctx.VerifyFailIfNoPeerCert != 0:
		return tls.RequireAnyClientCert
	default:
		return tls.RequestClientCert
	}
}

// verifyPeer checks the peer chain against pool and hands each certificate, leaf
// first, to the Store's verify callback. It stops at the first rejection.
func (s *Session) verifyPeer(raw [][]byte, pool *x509.CertPool, server bool, serverName string) error {
	mode := s.store.VerifyMode()
	if mode&tlsctx.VerifyPeer == 0 {
		return nil
	}
	if len(raw) == 0 {
		if server && mode&tlsctx.VerifyFailIfNoPeerCert == 0 {
			return nil
		}
		return ErrNoPeerCertificate
	}

	chain := make([]*x509.Certificate, 0, len(raw))
	for i, der := range raw {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return &VerificationError{Depth: i, Err: err}
		}
		chain = append(chain, cert)
	}

	intermediates := x509.NewCertPool()
	for _, cert := range chain[1:] {
		intermediates.AddCert(cert)
	}
	opts := x509.VerifyOptions{
		Roots:         pool,
		Intermediates: intermediates,
		CurrentTime:   timeNow(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if server {
		opts.KeyUsages = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	} else {
		opts.DNSName = serverName
	}
	_, verr := chain[0].Verify(opts)
	preverified := verr == nil

	for depth := range chain {
		if s.store.VerifyPeer(preverified, tlsctx.NewVerifyContext(chain, depth, verr)) {
			continue
		}
		err := verr
		if err == nil {
			err = errRejected
		}
		s.logf("session: peer certificate %s rejected at depth %d", tlsctx.FingerprintOf(chain[depth]), depth)
		return &VerificationError{Depth: depth, Err: err}
	}
	return nil
}

// handshake is the per-connection state handed to the server-name callback.
type handshake struct {
	store      *tlsctx.Store
	serverName string

	// switched is a store retained by UseContext until the configuration is built.
	switched *tlsctx.Store
}

func (h *handshake) ServerName() string { return h.serverName }

// UseContext switches the handshake to the credentials and trust of c.
// The store of c is retained until the handshake configuration is built, so c may
// be closed concurrently.
func (h *handshake) UseContext(c *tlsctx.Context) error {
	st := c.Store()
	if st == nil {
		return tlsctx.ErrContextEmpty
	}
	if err := st.Retain(); err != nil {
		return err
	}
	h.release()
	h.switched = st
	h.store = st
	return nil
}

func (h *handshake) release() {
	if h.switched != nil {
		h.switched.Release()
		h.switched = nil
	}
}

// Client wraps conn in a client TLS connection.
func (s *Session) Client(conn net.Conn) *tls.Conn {
	return tls.Client(conn, s.ClientConfig())
}

// Server wraps conn in a server TLS connection.
func (s *Session) Server(conn net.Conn) *tls.Conn {
	return tls.Server(conn, s.ServerConfig())
}
