package tlsctx

// MustContext is a view of a Context that panics with the error of any failed
// operation instead of returning it.
type MustContext struct {
	c *Context
}

// Must returns the panicking view of c.
func (c *Context) Must() MustContext { return MustContext{c: c} }

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func (m MustContext) SetOptions(opts Options)         { check(m.c.SetOptions(opts)) }
func (m MustContext) ClearOptions()                   { check(m.c.ClearOptions()) }
func (m MustContext) SetDefaultVerifyPaths()          { check(m.c.SetDefaultVerifyPaths()) }
func (m MustContext) SetVerifyMode(v VerifyMode)      { check(m.c.SetVerifyMode(v)) }
func (m MustContext) SetVerifyCallback(fn VerifyFunc) { check(m.c.SetVerifyCallback(fn)) }
func (m MustContext) UsePassphrase(pass string)       { check(m.c.UsePassphrase(pass)) }
func (m MustContext) UseTmpDHFile(path string)        { check(m.c.UseTmpDHFile(path)) }
func (m MustContext) UseTmpDH(dh []byte)              { check(m.c.UseTmpDH(dh)) }

func (m MustContext) UseCertificateFile(path string, format FileFormat) {
	check(m.c.UseCertificateFile(path, format))
}

func (m MustContext) UsePrivateKeyFile(path string, format FileFormat) {
	check(m.c.UsePrivateKeyFile(path, format))
}

func (m MustContext) UseCertificate(cert []byte, format FileFormat) {
	check(m.c.UseCertificate(cert, format))
}

func (m MustContext) UsePrivateKey(key []byte, format FileFormat) {
	check(m.c.UsePrivateKey(key, format))
}

func (m MustContext) SetServerNameCallback(fn ServerNameFunc) {
	check(m.c.SetServerNameCallback(fn))
}

func (m MustContext) SetVerifyTrust(ca []byte, format FileFormat) {
	check(m.c.SetVerifyTrust(ca, format))
}
