package tlsctx

import "crypto/x509"

// VerifyFunc decides whether to accept one certificate of the peer chain.
// preverified reports whether the chain passed the built-in checks.
type VerifyFunc func(preverified bool, vc *VerifyContext) bool

// ServerNameFunc reports whether the server accepts the name requested by the client.
// It may switch the handshake to other credentials with Handshake.UseContext.
type ServerNameFunc func(hs Handshake, name string) bool

// Handshake is the server side of a handshake in progress, as seen by a ServerNameFunc.
type Handshake interface {
	// ServerName returns the name requested by the client.
	ServerName() string

	// UseContext selects the credentials of c for the rest of the handshake.
	UseContext(c *Context) error
}

// VerifyContext exposes one certificate of the peer chain during verification.
type VerifyContext struct {
	chain []*x509.Certificate
	depth int
	err   error
}

// NewVerifyContext returns the inspection context for chain[depth].
// err is the result of the built-in chain verification.
func NewVerifyContext(chain []*x509.Certificate, depth int, err error) *VerifyContext {
	return &VerifyContext{chain: chain, depth: depth, err: err}
}

// Certificate returns the certificate under inspection.
func (vc *VerifyContext) Certificate() *x509.Certificate {
	if vc.depth < 0 || vc.depth >= len(vc.chain) {
		return nil
	}
	return vc.chain[vc.depth]
}

// Depth returns the position of the certificate in the chain. The leaf is at depth 0.
func (vc *VerifyContext) Depth() int { return vc.depth }

// Chain returns the peer chain as presented.
func (vc *VerifyContext) Chain() []*x509.Certificate { return vc.chain }

// Err returns the built-in verification error, or nil if the chain was preverified.
func (vc *VerifyContext) Err() error { return vc.err }

// Fingerprint returns the fingerprint of the certificate under inspection.
func (vc *VerifyContext) Fingerprint() FP { return FingerprintOf(vc.Certificate()) }
