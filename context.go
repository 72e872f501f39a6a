package tlsctx

// noCopy may be embedded into structs which must not be copied after first use.
// See https://golang.org/issues/8005#issuecomment-190753527.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Config configures a new Context.
type Config struct {
	// Method selects the role and version floor.
	Method Method

	// Engine performs the native credential operations. Defaults to DefaultEngine().
	Engine Engine

	// Observer receives log output. Optional.
	Observer Observer
}

// Context is the configuration handle for one Store.
//
// A Context must not be copied. Ownership moves with Move and MoveFrom; the Store
// always points back to the live owner. Sessions may keep the Store alive after the
// Context is closed.
type Context struct {
	_     noCopy
	store *Store
}

// New creates a Context with a new Store.
func New(cfg Config) (*Context, error) {
	c := &Context{}
	s, err := newStore(c, cfg.Method, cfg.Engine, cfg.Observer)
	if err != nil {
		return nil, err
	}
	c.store = s
	return c, nil
}

// NewContext creates a Context for the method with the default engine.
func NewContext(m Method) (*Context, error) {
	return New(Config{Method: m})
}

// Move transfers the store to a new Context and leaves c empty.
func (c *Context) Move() *Context {
	n := &Context{}
	n.MoveFrom(c)
	return n
}

// MoveFrom transfers the store of other to c and leaves other empty.
// A store previously owned by c is closed first.
func (c *Context) MoveFrom(other *Context) {
	if c == other {
		return
	}
	c.Close()
	c.store = other.store
	other.store = nil
	if c.store != nil {
		c.store.owner.Store(c)
	}
}

// Close clears the store back-reference and drops this Context's reference.
// The store stays alive while sessions retain it. Close on an empty Context is a no-op.
func (c *Context) Close() error {
	s := c.store
	if s == nil {
		return nil
	}
	c.store = nil
	s.owner.CompareAndSwap(c, nil)
	s.Release()
	return nil
}

// Empty reports whether c has no store.
func (c *Context) Empty() bool { return c.store == nil }

// Store returns the store, or nil if c is empty.
func (c *Context) Store() *Store { return c.store }

// NativeHandle returns the native credential handle, or nil if c is empty.
func (c *Context) NativeHandle() *Credentials {
	if c.store == nil {
		return nil
	}
	return c.store.cred
}

// Method returns the method of the store.
func (c *Context) Method() (Method, error) {
	if c.store == nil {
		return 0, ErrContextEmpty
	}
	return c.store.method, nil
}

// SetOptions replaces the option flags.
func (c *Context) SetOptions(opts Options) error {
	if c.store == nil {
		return ErrContextEmpty
	}
	c.store.setOptions(opts)
	return nil
}

// ClearOptions resets the option flags.
func (c *Context) ClearOptions() error {
	if c.store == nil {
		return ErrContextEmpty
	}
	c.store.clearOptions()
	return nil
}

// SetDefaultVerifyPaths adds the platform trust anchors.
func (c *Context) SetDefaultVerifyPaths() error {
	if c.store == nil {
		return ErrContextEmpty
	}
	return c.store.setDefaultVerifyPaths()
}

// SetVerifyMode replaces the verification flags.
func (c *Context) SetVerifyMode(v VerifyMode) error {
	if c.store == nil {
		return ErrContextEmpty
	}
	c.store.setVerifyMode(v)
	return nil
}

// SetVerifyCallback installs the peer verification callback. It is called once per
// certificate of the peer chain, in chain order, until one is rejected.
func (c *Context) SetVerifyCallback(fn VerifyFunc) error {
	if c.store == nil {
		return ErrContextEmpty
	}
	c.store.setVerifyCallback(fn)
	return nil
}

// UsePassphrase sets the passphrase for subsequent private key installs.
func (c *Context) UsePassphrase(pass string) error {
	if c.store == nil {
		return ErrContextEmpty
	}
	c.store.usePassphrase(pass)
	return nil
}

// UseCertificateFile records the certificate file. It is installed together with
// the private key by UsePrivateKeyFile.
func (c *Context) UseCertificateFile(path string, format FileFormat) error {
	if c.store == nil {
		return ErrContextEmpty
	}
	c.store.useCertificateFile(path, format)
	return nil
}

// UsePrivateKeyFile installs the key file together with the certificate file recorded
// by UseCertificateFile. Without one it returns ErrOperationNotSupported.
func (c *Context) UsePrivateKeyFile(path string, format FileFormat) error {
	if c.store == nil {
		return ErrContextEmpty
	}
	return c.store.usePrivateKeyFile(path, format)
}

// UseTmpDHFile is accepted for compatibility and does nothing.
// Key exchange parameters are negotiated by the engine.
func (c *Context) UseTmpDHFile(path string) error {
	if c.store == nil {
		return ErrContextEmpty
	}
	return nil
}

// UseCertificate records a certificate buffer. The buffer is copied. It is installed
// together with the private key by UsePrivateKey.
func (c *Context) UseCertificate(cert []byte, format FileFormat) error {
	if c.store == nil {
		return ErrContextEmpty
	}
	c.store.useCertificate(cert, format)
	return nil
}

// UsePrivateKey installs the key buffer together with the certificate buffer recorded
// by UseCertificate. Without one it returns ErrOperationNotSupported.
func (c *Context) UsePrivateKey(key []byte, format FileFormat) error {
	if c.store == nil {
		return ErrContextEmpty
	}
	return c.store.usePrivateKey(key, format)
}

// UseTmpDH is accepted for compatibility and does nothing.
func (c *Context) UseTmpDH(dh []byte) error {
	if c.store == nil {
		return ErrContextEmpty
	}
	return nil
}

// SetServerNameCallback installs the server name selection callback.
func (c *Context) SetServerNameCallback(fn ServerNameFunc) error {
	if c.store == nil {
		return ErrContextEmpty
	}
	c.store.setServerNameCallback(fn)
	return nil
}

// SetVerifyTrust adds the CA certificates in the buffer to the trust anchors.
// A buffer with no certificates is not an error.
func (c *Context) SetVerifyTrust(ca []byte, format FileFormat) error {
	if c.store == nil {
		return ErrContextEmpty
	}
	return c.store.setVerifyTrust(ca, format)
}
