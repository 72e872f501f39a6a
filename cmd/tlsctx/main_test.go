package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kardianos/tlsctx"
	"github.com/kardianos/tlsctx/profile"
)

func TestMain(m *testing.M) {
	os.Setenv("QUIC_GO_DISABLE_RECEIVE_BUFFER_WARNING", "1")
	os.Exit(m.Run())
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	if err != nil {
		t.Logf("stderr: %s", errOut.String())
	}
	return out.String(), err
}

func writeProfile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0600))
	return p
}

func TestRootCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
		want    string
	}{
		{"help", []string{"--help"}, false, "Build and exercise TLS contexts"},
		{"unknown command", []string{"nope"}, true, ""},
		{"check needs a source", []string{"check"}, true, ""},
		{"bad log level", []string{"--log-level", "loud", "check"}, true, ""},
		{"gen needs names", []string{"gen", "-o", t.TempDir()}, true, ""},
		{"dial needs addr", []string{"dial"}, true, ""},
		{"import needs keystore", []string{"import"}, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestGenImportCheck(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "gen", "-o", dir, "--server", "localhost", "--client", "alice", "--passphrase", "pw")
	require.NoError(t, err)
	for _, f := range []string{"ca.pem", "localhost.pem", "localhost.key", "alice.pem", "alice.key"} {
		assert.FileExists(t, filepath.Join(dir, f))
	}

	prof := writeProfile(t, dir, "server.yaml", `
method: tls_server
certificate: localhost.pem
private_key: localhost.key
passphrase: pw
trust: [ca.pem]
`)
	out, err := execute(t, "check", "-p", prof)
	require.NoError(t, err)
	assert.Contains(t, out, "method:  tls_server")
	assert.Contains(t, out, "trust:   1 anchors")
	assert.Contains(t, out, "chain 0: localhost")

	ks := filepath.Join(dir, "alice.db")
	_, err = execute(t, "import", "-k", ks,
		"--cert", filepath.Join(dir, "alice.pem"),
		"--key", filepath.Join(dir, "alice.key"),
		"--passphrase", "pw",
		"--trust", filepath.Join(dir, "ca.pem"),
		"--method", "tlsv12_client",
		"--verify", "peer")
	require.NoError(t, err)

	out, err = execute(t, "check", "-k", ks)
	require.NoError(t, err)
	assert.Contains(t, out, "method:  tlsv12_client")
	assert.Contains(t, out, "verify:  0x1")
	assert.Contains(t, out, "chain 0: alice")

	_, err = execute(t, "import", "-k", filepath.Join(dir, "bad.db"),
		"--cert", filepath.Join(dir, "alice.pem"),
		"--key", filepath.Join(dir, "alice.key"),
		"--passphrase", "wrong")
	assert.Error(t, err, "import must reject a key it cannot decrypt")
}

func TestDialServe(t *testing.T) {
	for _, useQUIC := range []bool{false, true} {
		name := "tcp"
		if useQUIC {
			name = "quic"
		}
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			_, err := execute(t, "gen", "-o", dir, "--server", "127.0.0.1")
			require.NoError(t, err)

			srvProfile, err := profile.Parse(strings.NewReader("method: tls_server\ncertificate: 127.0.0.1.pem\nprivate_key: 127.0.0.1.key\n"))
			require.NoError(t, err)
			srvProfile.Certificate = filepath.Join(dir, srvProfile.Certificate)
			srvProfile.PrivateKey = filepath.Join(dir, srvProfile.PrivateKey)
			sc, err := srvProfile.NewContext(tlsctx.Config{})
			require.NoError(t, err)
			defer sc.Close()

			log := logrus.New()
			log.SetOutput(io.Discard)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			addrc := make(chan net.Addr, 1)
			done := make(chan error, 1)
			go func() {
				o := &netOptions{quic: useQUIC, timeout: 5 * time.Second}
				done <- runServe(ctx, log, sc, srvProfile.SessionOptions(nil), "127.0.0.1:0", o, func(a net.Addr) { addrc <- a })
			}()

			var addr net.Addr
			select {
			case addr = <-addrc:
			case err := <-done:
				t.Fatalf("serve: %v", err)
			case <-time.After(5 * time.Second):
				t.Fatal("server did not start")
			}

			cliProfile := writeProfile(t, dir, "client.yaml", "method: tls_client\nverify: [peer]\ntrust: [ca.pem]\n")
			args := []string{"dial", "-p", cliProfile, addr.String()}
			if useQUIC {
				args = append(args, "--quic")
			}
			out, err := execute(t, args...)
			require.NoError(t, err)
			assert.Contains(t, out, "peer 0:  127.0.0.1")

			cancel()
			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("server did not stop")
			}
		})
	}
}
