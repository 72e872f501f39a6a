package tlsctx

import (
	"crypto/tls"
	"fmt"
	"strings"
)

// Method selects the role and protocol version floor of a Context.
//
// The high byte encodes the version floor (0xXY selects TLS X.Y, 0x03 selects the
// legacy SSLv3-compatible negotiation). The low bits encode the role.
type Method int

const (
	// Any TLS version.
	TLS       Method = 0x0000
	TLSClient Method = 0x0001
	TLSServer Method = 0x0002

	// Specific TLS version floor.
	TLSv1        Method = 0x1000
	TLSv1Client  Method = 0x1001
	TLSv1Server  Method = 0x1002
	TLSv11       Method = 0x1100
	TLSv11Client Method = 0x1101
	TLSv11Server Method = 0x1102
	TLSv12       Method = 0x1200
	TLSv12Client Method = 0x1201
	TLSv12Server Method = 0x1202
	TLSv13       Method = 0x1300
	TLSv13Client Method = 0x1301
	TLSv13Server Method = 0x1302

	// SSLv3 + TLS, for compatibility only.
	SSLv23       Method = 0x0300
	SSLv23Client Method = 0x0301
	SSLv23Server Method = 0x0302
)

const (
	roleMask    = 0x00ff
	roleClient  = 0x0001
	roleServer  = 0x0002
	versionMask = 0xff00
)

var methodNames = map[Method]string{
	TLS:          "tls",
	TLSClient:    "tls_client",
	TLSServer:    "tls_server",
	TLSv1:        "tlsv1",
	TLSv1Client:  "tlsv1_client",
	TLSv1Server:  "tlsv1_server",
	TLSv11:       "tlsv11",
	TLSv11Client: "tlsv11_client",
	TLSv11Server: "tlsv11_server",
	TLSv12:       "tlsv12",
	TLSv12Client: "tlsv12_client",
	TLSv12Server: "tlsv12_server",
	TLSv13:       "tlsv13",
	TLSv13Client: "tlsv13_client",
	TLSv13Server: "tlsv13_server",
	SSLv23:       "sslv23",
	SSLv23Client: "sslv23_client",
	SSLv23Server: "sslv23_server",
}

// ErrUnknownMethod is returned by ParseMethod for names outside the method table.
var ErrUnknownMethod = fmt.Errorf("tlsctx: unknown method")

// ParseMethod returns the method with the given name, such as "tlsv12_server".
func ParseMethod(name string) (Method, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for m, n := range methodNames {
		if n == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMethod, name)
}

// Valid reports whether m is one of the enumerated methods.
func (m Method) Valid() bool {
	_, ok := methodNames[m]
	return ok
}

func (m Method) String() string {
	if n, ok := methodNames[m]; ok {
		return n
	}
	return fmt.Sprintf("method(0x%04x)", int(m))
}

// IsServer reports whether the method selects the server role.
func (m Method) IsServer() bool { return int(m)&roleMask == roleServer }

// IsClient reports whether the method selects the client role.
func (m Method) IsClient() bool { return int(m)&roleMask == roleClient }

// Legacy reports whether the method allows the deprecated SSLv3-compatible negotiation.
func (m Method) Legacy() bool { return int(m)&versionMask == 0x0300 }

// Version returns the encoded version floor as major and minor numbers.
// Both are zero when no floor is selected.
func (m Method) Version() (major, minor int) {
	v := (int(m) & versionMask) >> 8
	return v >> 4, v & 0x0f
}

// MinVersion returns the crypto/tls version floor for the method.
// Zero means the library default. The legacy floor depends on NoSSLv3.
func (m Method) MinVersion(opts Options) uint16 {
	if m.Legacy() {
		if opts&NoSSLv3 != 0 {
			return tls.VersionTLS10
		}
		return tls.VersionSSL30 //nolint:staticcheck // Legacy floor; crypto/tls clamps to TLS 1.0.
	}
	switch major, minor := m.Version(); {
	case major == 1 && minor == 0:
		return tls.VersionTLS10
	case major == 1 && minor == 1:
		return tls.VersionTLS11
	case major == 1 && minor == 2:
		return tls.VersionTLS12
	case major == 1 && minor == 3:
		return tls.VersionTLS13
	}
	return 0
}

// FileFormat declares the encoding of certificate and key material.
type FileFormat int

const (
	PEM FileFormat = iota
	DER
)

func (f FileFormat) String() string {
	switch f {
	case PEM:
		return "pem"
	case DER:
		return "der"
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// ParseFileFormat parses "pem" or "der". An empty name selects PEM.
func ParseFileFormat(name string) (FileFormat, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "pem":
		return PEM, nil
	case "der":
		return DER, nil
	}
	return 0, fmt.Errorf("tlsctx: unknown file format %q", name)
}

// Options is a set of option flags.
type Options int64

const (
	DefaultWorkarounds Options = 0x01 // Ignored.
	SingleDHUse        Options = 0x02 // Ignored.
	NoSSLv2            Options = 0x04 // Ignored, SSLv2 is always disabled.
	NoSSLv3            Options = 0x08
)

var optionNames = []struct {
	o    Options
	name string
}{
	{DefaultWorkarounds, "default_workarounds"},
	{SingleDHUse, "single_dh_use"},
	{NoSSLv2, "no_sslv2"},
	{NoSSLv3, "no_sslv3"},
}

// ParseOptions combines option names into a flag set.
func ParseOptions(names []string) (Options, error) {
	var o Options
next:
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		for _, on := range optionNames {
			if on.name == n {
				o |= on.o
				continue next
			}
		}
		return 0, fmt.Errorf("tlsctx: unknown option %q", n)
	}
	return o, nil
}

// VerifyMode is a set of peer verification flags.
type VerifyMode int

const (
	VerifyNone             VerifyMode = 0x00
	VerifyPeer             VerifyMode = 0x01
	VerifyFailIfNoPeerCert VerifyMode = 0x02
	VerifyClientOnce       VerifyMode = 0x04 // Ignored.
)

var verifyNames = []struct {
	v    VerifyMode
	name string
}{
	{VerifyNone, "none"},
	{VerifyPeer, "peer"},
	{VerifyFailIfNoPeerCert, "fail_if_no_peer_cert"},
	{VerifyClientOnce, "client_once"},
}

// ParseVerifyMode combines verify mode names into a flag set.
func ParseVerifyMode(names []string) (VerifyMode, error) {
	var v VerifyMode
next:
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		for _, vn := range verifyNames {
			if vn.name == n {
				v |= vn.v
				continue next
			}
		}
		return 0, fmt.Errorf("tlsctx: unknown verify mode %q", n)
	}
	return v, nil
}

// SecParam is an engine security level used to pick default key exchange parameters.
type SecParam int

const (
	SecParamLow SecParam = iota + 1
	SecParamMedium
	SecParamHigh
)
