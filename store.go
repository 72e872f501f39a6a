package tlsctx

import (
	"sync/atomic"
)

type channel int

const (
	channelNone channel = iota
	channelFile
	channelMemory
)

func (c channel) String() string {
	switch c {
	case channelFile:
		return "file"
	case channelMemory:
		return "memory"
	}
	return "none"
}

// provenance records where certificate or key material comes from.
// Only one channel is populated at a time.
type provenance struct {
	channel channel
	path    string
	data    []byte
	format  FileFormat
}

func (p *provenance) setFile(path string, format FileFormat) {
	*p = provenance{channel: channelFile, path: path, format: format}
}

func (p *provenance) setMemory(data []byte, format FileFormat) {
	*p = provenance{channel: channelMemory, data: terminated(data), format: format}
}

// recorded reports whether usable material was recorded through ch.
func (p *provenance) recorded(ch channel) bool {
	if p.channel != ch {
		return false
	}
	switch ch {
	case channelFile:
		return p.path != ""
	case channelMemory:
		return len(p.data) > 0
	}
	return false
}

// terminated copies b into storage with a NUL byte after the last element.
// The NUL is outside len but within cap.
func terminated(b []byte) []byte {
	buf := make([]byte, len(b)+1)
	copy(buf, b)
	return buf[: len(b) : len(b)+1]
}

// Store owns the native credential handle of one Context and the configuration
// accumulated against it. Sessions share it through Retain and Release.
//
// Configuration fields are not synchronized; configure a Context from one goroutine.
type Store struct {
	method   Method
	engine   Engine
	cred     *Credentials
	observer Observer

	refs  atomic.Int64
	owner atomic.Pointer[Context]

	verify     VerifyMode
	opts       Options
	cert       provenance
	key        provenance
	passphrase string

	verifyCallback     VerifyFunc
	serverNameCallback ServerNameFunc
}

func newStore(owner *Context, m Method, engine Engine, observer Observer) (*Store, error) {
	if engine == nil {
		engine = DefaultEngine()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	cred, status := engine.AllocateCredentials()
	if status != StatusSuccess || cred == nil {
		if status == StatusSuccess {
			status = StatusMemoryError
		}
		return nil, &AllocationError{Code: status}
	}
	engine.SetKnownDHParams(cred, SecParamMedium)

	s := &Store{
		method:   m,
		engine:   engine,
		cred:     cred,
		observer: observer,
	}
	s.refs.Store(1)
	s.owner.Store(owner)
	return s, nil
}

// Handle returns the native credential handle. Ownership is not transferred.
func (s *Store) Handle() *Credentials { return s.cred }

// Method returns the method the store was created with.
func (s *Store) Method() Method { return s.method }

// VerifyMode returns the configured verification flags.
func (s *Store) VerifyMode() VerifyMode { return s.verify }

// Options returns the configured option flags.
func (s *Store) Options() Options { return s.opts }

// Owner returns the Context currently owning the store, or nil once it is gone.
func (s *Store) Owner() *Context { return s.owner.Load() }

// Refs returns the number of live references.
func (s *Store) Refs() int64 { return s.refs.Load() }

// Retain adds a reference. It fails once the handle has been released.
func (s *Store) Retain() error {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return ErrReleased
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// Release drops a reference. The handle is freed when the last reference goes.
func (s *Store) Release() {
	n := s.refs.Add(-1)
	switch {
	case n == 0:
		s.engine.FreeCredentials(s.cred)
		s.observer.Logf("%s: credentials released", s.method)
	case n < 0:
		panic("tlsctx: store released more times than retained")
	}
}

// VerifyPeer runs the verify callback for one certificate of the peer chain.
// Without a callback the result is preverified. With a callback and no owner the
// certificate is rejected.
func (s *Store) VerifyPeer(preverified bool, vc *VerifyContext) bool {
	cb := s.verifyCallback
	if cb == nil {
		return preverified
	}
	if s.owner.Load() == nil {
		s.observer.Logf("%s: verify callback owner gone, rejecting depth %d", s.method, vc.Depth())
		return false
	}
	return cb(preverified, vc)
}

// HasServerNameCallback reports whether a server-name callback is installed.
func (s *Store) HasServerNameCallback() bool { return s.serverNameCallback != nil }

// SelectServerName runs the server-name callback. Without a callback every name is
// accepted. With a callback and no owner no name matches.
func (s *Store) SelectServerName(hs Handshake, name string) bool {
	cb := s.serverNameCallback
	if cb == nil {
		return true
	}
	if s.owner.Load() == nil {
		s.observer.Logf("%s: server name callback owner gone, rejecting %q", s.method, name)
		return false
	}
	return cb(hs, name)
}

func (s *Store) setOptions(opts Options) { s.opts = opts }

func (s *Store) clearOptions() { s.opts = 0 }

func (s *Store) setVerifyMode(v VerifyMode) { s.verify = v }

func (s *Store) setVerifyCallback(fn VerifyFunc) { s.verifyCallback = fn }

func (s *Store) setServerNameCallback(fn ServerNameFunc) { s.serverNameCallback = fn }

func (s *Store) usePassphrase(pass string) { s.passphrase = pass }

func (s *Store) setDefaultVerifyPaths() error {
	if ret := s.engine.SetSystemTrust(s.cred); ret < 0 {
		return newEngineError(ret)
	}
	return nil
}

func (s *Store) useCertificateFile(path string, format FileFormat) {
	s.cert.setFile(path, format)
}

func (s *Store) useCertificate(data []byte, format FileFormat) {
	s.cert.setMemory(data, format)
}

func (s *Store) usePrivateKeyFile(path string, format FileFormat) error {
	if !s.cert.recorded(channelFile) || s.cert.format != format {
		return ErrOperationNotSupported
	}
	s.key.setFile(path, format)
	ret := s.engine.SetKeyFile(s.cred, s.cert.path, s.key.path, format, s.passphrase)
	if ret != StatusSuccess {
		return newEngineError(ret)
	}
	s.observer.Logf("%s: installed key pair from %s", s.method, s.cert.path)
	return nil
}

func (s *Store) usePrivateKey(data []byte, format FileFormat) error {
	if !s.cert.recorded(channelMemory) || s.cert.format != format {
		return ErrOperationNotSupported
	}
	s.key.setMemory(data, format)
	ret := s.engine.SetKeyMem(s.cred, s.cert.data, s.key.data, format, s.passphrase)
	if ret != StatusSuccess {
		return newEngineError(ret)
	}
	s.observer.Logf("%s: installed key pair from memory", s.method)
	return nil
}

func (s *Store) setVerifyTrust(data []byte, format FileFormat) error {
	// The engine reports the number of certificates processed; only negative is an error.
	ret := s.engine.SetTrustMem(s.cred, terminated(data), format)
	if ret < 0 {
		return newEngineError(ret)
	}
	s.observer.Logf("%s: added %d trust anchors", s.method, ret)
	return nil
}
