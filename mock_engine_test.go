package tlsctx

import (
	"sync"
)

// countingEngine records every engine call and returns scripted statuses.
// Calls it does not script are forwarded to next, or succeed when next is nil.
type countingEngine struct {
	next Engine

	allocStatus int
	keyStatus   int
	trustRet    *int
	systemRet   *int

	mu        sync.Mutex
	calls     map[string]int
	certFile  string
	keyFile   string
	certMem   []byte
	keyMem    []byte
	trustMem  []byte
	format    FileFormat
	pass      string
	freeCalls int
}

func newCountingEngine(next Engine) *countingEngine {
	return &countingEngine{next: next, calls: make(map[string]int)}
}

func (e *countingEngine) count(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls[name]++
}

func (e *countingEngine) Calls(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[name]
}

// InstallCalls returns the number of key and trust install calls.
func (e *countingEngine) InstallCalls() int {
	return e.Calls("SetKeyFile") + e.Calls("SetKeyMem") + e.Calls("SetTrustMem")
}

func (e *countingEngine) AllocateCredentials() (*Credentials, int) {
	e.count("AllocateCredentials")
	if e.allocStatus != StatusSuccess {
		return nil, e.allocStatus
	}
	if e.next != nil {
		return e.next.AllocateCredentials()
	}
	return NewCredentials(), StatusSuccess
}

func (e *countingEngine) FreeCredentials(c *Credentials) {
	e.count("FreeCredentials")
	e.mu.Lock()
	e.freeCalls++
	e.mu.Unlock()
	if e.next != nil {
		e.next.FreeCredentials(c)
		return
	}
	c.Free()
}

func (e *countingEngine) SetKnownDHParams(c *Credentials, level SecParam) int {
	e.count("SetKnownDHParams")
	if e.next != nil {
		return e.next.SetKnownDHParams(c, level)
	}
	c.SetDHLevel(level)
	return StatusSuccess
}

func (e *countingEngine) SetSystemTrust(c *Credentials) int {
	e.count("SetSystemTrust")
	if e.systemRet != nil {
		return *e.systemRet
	}
	if e.next != nil {
		return e.next.SetSystemTrust(c)
	}
	c.SetSystemPool(nil)
	return 0
}

func (e *countingEngine) SetKeyFile(c *Credentials, certFile, keyFile string, format FileFormat, passphrase string) int {
	e.count("SetKeyFile")
	e.mu.Lock()
	e.certFile, e.keyFile, e.format, e.pass = certFile, keyFile, format, passphrase
	e.mu.Unlock()
	if e.keyStatus != StatusSuccess {
		return e.keyStatus
	}
	if e.next != nil {
		return e.next.SetKeyFile(c, certFile, keyFile, format, passphrase)
	}
	return StatusSuccess
}

func (e *countingEngine) SetKeyMem(c *Credentials, cert, key []byte, format FileFormat, passphrase string) int {
	e.count("SetKeyMem")
	e.mu.Lock()
	e.certMem, e.keyMem, e.format, e.pass = cert, key, format, passphrase
	e.mu.Unlock()
	if e.keyStatus != StatusSuccess {
		return e.keyStatus
	}
	if e.next != nil {
		return e.next.SetKeyMem(c, cert, key, format, passphrase)
	}
	return StatusSuccess
}

func (e *countingEngine) SetTrustMem(c *Credentials, ca []byte, format FileFormat) int {
	e.count("SetTrustMem")
	e.mu.Lock()
	e.trustMem = ca
	e.mu.Unlock()
	if e.trustRet != nil {
		return *e.trustRet
	}
	if e.next != nil {
		return e.next.SetTrustMem(c, ca, format)
	}
	return 0
}

func intPtr(v int) *int { return &v }

// testObserver adapts t.Logf.
type testObserver struct {
	logf func(format string, args ...any)
}

func (o testObserver) Logf(format string, args ...any) { o.logf(format, args...) }
