package tlsctx

import (
	"crypto/x509"
	"errors"
	"testing"
)

func newTestContext(t *testing.T, m Method, e Engine) *Context {
	t.Helper()
	c, err := New(Config{Method: m, Engine: e, Observer: testObserver{logf: t.Logf}})
	if err != nil {
		t.Fatalf("New(%s): %v", m, err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNewContextEveryMethod(t *testing.T) {
	for m := range methodNames {
		t.Run(m.String(), func(t *testing.T) {
			c, err := NewContext(m)
			if err != nil {
				t.Fatalf("NewContext: %v", err)
			}
			defer c.Close()
			h := c.NativeHandle()
			if h == nil {
				t.Fatal("native handle is nil")
			}
			if h.DHLevel() != SecParamMedium {
				t.Fatalf("DH level = %d, want %d", h.DHLevel(), SecParamMedium)
			}
			if got := c.Store().Owner(); got != c {
				t.Fatalf("owner = %p, want %p", got, c)
			}
		})
	}
}

func TestAllocationFailure(t *testing.T) {
	e := newCountingEngine(nil)
	e.allocStatus = StatusMemoryError

	c, err := New(Config{Method: TLSServer, Engine: e})
	if c != nil {
		t.Fatal("expected no context on allocation failure")
	}
	var allocErr *AllocationError
	if !errors.As(err, &allocErr) {
		t.Fatalf("expected *AllocationError, got %v", err)
	}
	if allocErr.Code != StatusMemoryError {
		t.Fatalf("code = %d, want %d", allocErr.Code, StatusMemoryError)
	}
	if code, ok := StatusOf(err); !ok || code != StatusMemoryError {
		t.Fatalf("StatusOf = %d, %v", code, ok)
	}
	if e.Calls("SetKnownDHParams") != 0 {
		t.Fatal("DH params seeded without a handle")
	}
}

func TestPrivateKeyRequiresCertificate(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(c *Context)
		install func(c *Context) error
	}{
		{
			name:    "file without certificate",
			prepare: func(c *Context) {},
			install: func(c *Context) error { return c.UsePrivateKeyFile("key.pem", PEM) },
		},
		{
			name:    "memory without certificate",
			prepare: func(c *Context) {},
			install: func(c *Context) error { return c.UsePrivateKey([]byte("key"), PEM) },
		},
		{
			name:    "file key after memory certificate",
			prepare: func(c *Context) { c.UseCertificate([]byte("cert"), PEM) },
			install: func(c *Context) error { return c.UsePrivateKeyFile("key.pem", PEM) },
		},
		{
			name:    "memory key after file certificate",
			prepare: func(c *Context) { c.UseCertificateFile("cert.pem", PEM) },
			install: func(c *Context) error { return c.UsePrivateKey([]byte("key"), PEM) },
		},
		{
			name:    "memory key after empty certificate buffer",
			prepare: func(c *Context) { c.UseCertificate(nil, PEM) },
			install: func(c *Context) error { return c.UsePrivateKey([]byte("key"), PEM) },
		},
		{
			name:    "key format differs from certificate",
			prepare: func(c *Context) { c.UseCertificateFile("cert.der", DER) },
			install: func(c *Context) error { return c.UsePrivateKeyFile("key.pem", PEM) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newCountingEngine(nil)
			c := newTestContext(t, TLSServer, e)
			tt.prepare(c)
			err := tt.install(c)
			if !errors.Is(err, ErrOperationNotSupported) {
				t.Fatalf("expected ErrOperationNotSupported, got %v", err)
			}
			if !errors.Is(err, errors.ErrUnsupported) {
				t.Fatal("expected error to match errors.ErrUnsupported")
			}
			if _, ok := StatusOf(err); ok {
				t.Fatal("sequencing error must not carry an engine status")
			}
			if n := e.InstallCalls(); n != 0 {
				t.Fatalf("engine install calls = %d, want 0", n)
			}
		})
	}
}

func TestPrivateKeyFileInstall(t *testing.T) {
	e := newCountingEngine(nil)
	c := newTestContext(t, TLSServer, e)

	if err := c.UseCertificateFile("cert.pem", PEM); err != nil {
		t.Fatal(err)
	}
	if e.InstallCalls() != 0 {
		t.Fatal("certificate recorded with an engine call")
	}
	if err := c.UsePrivateKeyFile("key.pem", PEM); err != nil {
		t.Fatalf("UsePrivateKeyFile: %v", err)
	}
	if e.Calls("SetKeyFile") != 1 {
		t.Fatalf("SetKeyFile calls = %d, want 1", e.Calls("SetKeyFile"))
	}
	if e.certFile != "cert.pem" || e.keyFile != "key.pem" || e.format != PEM {
		t.Fatalf("engine got cert=%q key=%q format=%s", e.certFile, e.keyFile, e.format)
	}
	if e.pass != "" {
		t.Fatalf("passphrase = %q, want empty", e.pass)
	}

	if err := c.UsePassphrase("secret"); err != nil {
		t.Fatal(err)
	}
	if err := c.UsePrivateKeyFile("key2.pem", PEM); err != nil {
		t.Fatal(err)
	}
	if e.pass != "secret" || e.keyFile != "key2.pem" {
		t.Fatalf("engine got key=%q pass=%q", e.keyFile, e.pass)
	}
}

func TestCertificateProvenanceLatestWins(t *testing.T) {
	e := newCountingEngine(nil)
	c := newTestContext(t, TLSServer, e)

	c.UseCertificateFile("cert.pem", PEM)
	c.UseCertificate([]byte("buffer cert"), PEM)

	if err := c.UsePrivateKeyFile("key.pem", PEM); !errors.Is(err, ErrOperationNotSupported) {
		t.Fatalf("file key after buffer certificate: %v", err)
	}
	if err := c.UsePrivateKey([]byte("buffer key"), PEM); err != nil {
		t.Fatalf("UsePrivateKey: %v", err)
	}
	if string(e.certMem) != "buffer cert" || string(e.keyMem) != "buffer key" {
		t.Fatalf("engine got cert=%q key=%q", e.certMem, e.keyMem)
	}

	c.UseCertificateFile("cert2.pem", PEM)
	if err := c.UsePrivateKey([]byte("buffer key"), PEM); !errors.Is(err, ErrOperationNotSupported) {
		t.Fatalf("memory key after file certificate: %v", err)
	}
	if err := c.UsePrivateKeyFile("key.pem", PEM); err != nil {
		t.Fatalf("UsePrivateKeyFile: %v", err)
	}
	if e.certFile != "cert2.pem" {
		t.Fatalf("cert file = %q", e.certFile)
	}
}

func TestMemoryMaterialIsTerminated(t *testing.T) {
	e := newCountingEngine(nil)
	c := newTestContext(t, TLSServer, e)

	cert := []byte("CERTDATA")
	key := []byte("KEYDATA")
	c.UseCertificate(cert, PEM)
	if err := c.UsePrivateKey(key, PEM); err != nil {
		t.Fatal(err)
	}
	// The caller's buffers are copied.
	cert[0] = 'X'
	key[0] = 'X'

	for name, got := range map[string][]byte{"cert": e.certMem, "key": e.keyMem} {
		if cap(got) <= len(got) {
			t.Fatalf("%s: no room for terminator (len %d cap %d)", name, len(got), cap(got))
		}
		if term := got[:len(got)+1][len(got)]; term != 0 {
			t.Fatalf("%s: terminator = %#x", name, term)
		}
	}
	if string(e.certMem) != "CERTDATA" || string(e.keyMem) != "KEYDATA" {
		t.Fatalf("engine material changed with caller buffers: %q %q", e.certMem, e.keyMem)
	}

	trust := []byte("-----BEGIN")
	c.SetVerifyTrust(trust, PEM)
	if got := e.trustMem; got[:len(got)+1][len(got)] != 0 {
		t.Fatal("trust buffer not terminated")
	}
}

func TestEngineErrorMapping(t *testing.T) {
	e := newCountingEngine(nil)
	e.keyStatus = StatusDecryptionFailed
	c := newTestContext(t, TLSServer, e)

	c.UseCertificateFile("cert.pem", PEM)
	err := c.UsePrivateKeyFile("key.pem", PEM)
	if err == nil {
		t.Fatal("expected error")
	}
	var engErr *Error
	if !errors.As(err, &engErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if engErr.Code != StatusDecryptionFailed {
		t.Fatalf("code = %d", engErr.Code)
	}
	if engErr.Category != EngineCategory() {
		t.Fatal("error category is not the engine category")
	}
	if engErr.Message() == "" {
		t.Fatal("empty message")
	}
	if !errors.Is(err, &Error{Code: StatusDecryptionFailed, Category: EngineCategory()}) {
		t.Fatal("errors.Is does not match on code")
	}
	if errors.Is(err, &Error{Code: StatusFileError, Category: EngineCategory()}) {
		t.Fatal("errors.Is matched a different code")
	}
}

func TestSetVerifyTrustCount(t *testing.T) {
	tests := []struct {
		name    string
		ret     int
		wantErr bool
	}{
		{"zero certificates", 0, false},
		{"three certificates", 3, false},
		{"negative status", StatusBase64DecodingError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newCountingEngine(nil)
			e.trustRet = intPtr(tt.ret)
			c := newTestContext(t, TLSClient, e)
			err := c.SetVerifyTrust([]byte("ca"), PEM)
			if tt.wantErr {
				code, ok := StatusOf(err)
				if !ok || code != tt.ret {
					t.Fatalf("expected status %d, got %v", tt.ret, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestSetDefaultVerifyPaths(t *testing.T) {
	e := newCountingEngine(nil)
	c := newTestContext(t, TLSClient, e)
	if err := c.SetDefaultVerifyPaths(); err != nil {
		t.Fatal(err)
	}
	if err := c.SetDefaultVerifyPaths(); err != nil {
		t.Fatal(err)
	}
	if e.Calls("SetSystemTrust") != 2 {
		t.Fatalf("SetSystemTrust calls = %d", e.Calls("SetSystemTrust"))
	}

	e.systemRet = intPtr(StatusFileError)
	if code, ok := StatusOf(c.SetDefaultVerifyPaths()); !ok || code != StatusFileError {
		t.Fatalf("expected file error, got %d %v", code, ok)
	}
}

func TestBookkeepingSetters(t *testing.T) {
	e := newCountingEngine(nil)
	c := newTestContext(t, TLSv12Server, e)
	s := c.Store()

	if err := c.SetOptions(DefaultWorkarounds | NoSSLv3); err != nil {
		t.Fatal(err)
	}
	if s.Options() != DefaultWorkarounds|NoSSLv3 {
		t.Fatalf("options = %#x", s.Options())
	}
	if err := c.ClearOptions(); err != nil {
		t.Fatal(err)
	}
	if s.Options() != 0 {
		t.Fatalf("options after clear = %#x", s.Options())
	}
	if err := c.SetVerifyMode(VerifyPeer | VerifyFailIfNoPeerCert); err != nil {
		t.Fatal(err)
	}
	if s.VerifyMode() != VerifyPeer|VerifyFailIfNoPeerCert {
		t.Fatalf("verify mode = %#x", s.VerifyMode())
	}
	if err := c.UseTmpDHFile("dh.pem"); err != nil {
		t.Fatal(err)
	}
	if err := c.UseTmpDH([]byte("dh")); err != nil {
		t.Fatal(err)
	}
	if err := c.UsePassphrase("x"); err != nil {
		t.Fatal(err)
	}
	if n := e.InstallCalls() + e.Calls("SetSystemTrust"); n != 0 {
		t.Fatalf("bookkeeping made %d engine calls", n)
	}
}

func TestMoveTransfersOwner(t *testing.T) {
	e := newCountingEngine(nil)
	b := newTestContext(t, TLSServer, e)
	s := b.Store()
	h := b.NativeHandle()

	a := b.Move()
	defer a.Close()

	if s.Owner() != a {
		t.Fatalf("owner = %p, want %p", s.Owner(), a)
	}
	if a.NativeHandle() != h {
		t.Fatal("handle changed on move")
	}
	if !b.Empty() || b.Store() != nil || b.NativeHandle() != nil {
		t.Fatal("moved-from context still holds the store")
	}
	if err := b.UseCertificate([]byte("c"), PEM); !errors.Is(err, ErrContextEmpty) {
		t.Fatalf("operation on moved-from context: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if s.Owner() != a {
		t.Fatal("closing the moved-from context cleared the owner")
	}
	if s.Refs() != 1 {
		t.Fatalf("refs = %d, want 1", s.Refs())
	}
	if e.Calls("AllocateCredentials") != 1 {
		t.Fatal("move allocated new credentials")
	}
}

func TestMoveFromReleasesPrevious(t *testing.T) {
	e := newCountingEngine(nil)
	a := newTestContext(t, TLSServer, e)
	b := newTestContext(t, TLSClient, e)
	oldStore := a.Store()
	newStore := b.Store()

	a.MoveFrom(b)

	if oldStore.Owner() != nil {
		t.Fatal("previous store still has an owner")
	}
	if !oldStore.Handle().Released() {
		t.Fatal("previous store not released")
	}
	if newStore.Owner() != a {
		t.Fatalf("owner = %p, want %p", newStore.Owner(), a)
	}
	if m, _ := a.Method(); m != TLSClient {
		t.Fatalf("method = %s", m)
	}
	if !b.Empty() {
		t.Fatal("moved-from context not empty")
	}

	a.MoveFrom(a)
	if a.Store() != newStore {
		t.Fatal("self move lost the store")
	}
}

func TestSharedStoreOutlivesContext(t *testing.T) {
	e := newCountingEngine(nil)
	c := newTestContext(t, TLSServer, e)
	s := c.Store()

	var calls int
	c.SetVerifyCallback(func(preverified bool, vc *VerifyContext) bool {
		calls++
		return true
	})

	// A session shares the store.
	if err := s.Retain(); err != nil {
		t.Fatal(err)
	}
	if !s.VerifyPeer(false, NewVerifyContext(nil, 0, nil)) || calls != 1 {
		t.Fatal("callback not dispatched while the owner is alive")
	}

	c.Close()
	if s.Owner() != nil {
		t.Fatal("owner not cleared on close")
	}
	if s.Handle().Released() || e.freeCalls != 0 {
		t.Fatal("handle released while a session holds the store")
	}
	if s.VerifyPeer(true, NewVerifyContext(nil, 0, nil)) {
		t.Fatal("verify accepted with the owner gone")
	}
	if calls != 1 {
		t.Fatal("callback invoked with the owner gone")
	}

	s.Release()
	if !s.Handle().Released() || e.freeCalls != 1 {
		t.Fatalf("handle not released once: free calls %d", e.freeCalls)
	}
	if err := s.Retain(); !errors.Is(err, ErrReleased) {
		t.Fatalf("retain after release: %v", err)
	}
	if e.freeCalls != 1 {
		t.Fatal("handle freed twice")
	}
}

func TestDispatchDefaults(t *testing.T) {
	c := newTestContext(t, TLSServer, newCountingEngine(nil))
	s := c.Store()

	if !s.VerifyPeer(true, NewVerifyContext(nil, 0, nil)) {
		t.Fatal("no callback: preverified chain rejected")
	}
	if s.VerifyPeer(false, NewVerifyContext(nil, 0, nil)) {
		t.Fatal("no callback: failed chain accepted")
	}
	if !s.SelectServerName(nil, "example.com") {
		t.Fatal("no callback: name rejected")
	}

	c.SetServerNameCallback(func(hs Handshake, name string) bool {
		return name == "a.example.com"
	})
	if !s.SelectServerName(nil, "a.example.com") || s.SelectServerName(nil, "b.example.com") {
		t.Fatal("server name callback result not returned")
	}

	s.Retain()
	defer s.Release()
	c.Close()
	if s.SelectServerName(nil, "a.example.com") {
		t.Fatal("server name matched with the owner gone")
	}
}

func TestMustPanics(t *testing.T) {
	c := newTestContext(t, TLSServer, newCountingEngine(nil))

	c.Must().SetVerifyMode(VerifyPeer)
	c.Must().UseCertificateFile("cert.pem", PEM)

	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok {
			t.Fatalf("expected error panic, got %v", r)
		}
		if !errors.Is(err, ErrOperationNotSupported) {
			t.Fatalf("panic error = %v", err)
		}
	}()
	c.Must().UsePrivateKey([]byte("key"), PEM)
	t.Fatal("expected panic")
}

func TestClientScenarioWithoutCertificates(t *testing.T) {
	e := newCountingEngine(&StdEngine{
		SystemCertPool: func() (*x509.CertPool, error) { return nil, nil },
	})
	c, err := New(Config{Method: TLSClient, Engine: e})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.SetDefaultVerifyPaths(); err != nil {
		t.Fatalf("SetDefaultVerifyPaths: %v", err)
	}
	if !c.NativeHandle().SystemTrust() {
		t.Fatal("system trust not recorded")
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if n := e.Calls("SetKeyFile") + e.Calls("SetKeyMem"); n != 0 {
		t.Fatalf("key install calls = %d", n)
	}
	if e.Calls("FreeCredentials") != 1 {
		t.Fatal("credentials not freed on close")
	}
}
