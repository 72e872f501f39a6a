package main

import (
	"crypto/x509"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/kardianos/tlsctx"
	"github.com/kardianos/tlsctx/keystore"
	"github.com/kardianos/tlsctx/profile"
)

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Build the context and print what it holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, err := a.newContext(tlsctx.TLS)
			if err != nil {
				return err
			}
			defer c.Close()
			return describe(cmd.OutOrStdout(), c)
		},
	}
}

func describe(w io.Writer, c *tlsctx.Context) error {
	st := c.Store()
	if st == nil {
		return tlsctx.ErrContextEmpty
	}
	h := st.Handle()
	fmt.Fprintf(w, "method:  %s\n", st.Method())
	fmt.Fprintf(w, "options: %#x\n", int64(st.Options()))
	fmt.Fprintf(w, "verify:  %#x\n", int(st.VerifyMode()))
	fmt.Fprintf(w, "trust:   %d anchors, system roots %t\n", h.TrustCount(), h.SystemTrust())
	for i, chain := range h.Certificates() {
		leaf, err := x509.ParseCertificate(chain.Certificate[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "chain %d: %s\n", i, leaf.Subject.CommonName)
		fmt.Fprintf(w, "  fingerprint %s\n", tlsctx.FingerprintOf(leaf))
		fmt.Fprintf(w, "  names       %v\n", append(leaf.DNSNames, ipStrings(leaf)...))
		fmt.Fprintf(w, "  expires     %s\n", leaf.NotAfter.Format(time.RFC3339))
		fmt.Fprintf(w, "  length      %d\n", len(chain.Certificate))
	}
	return nil
}

func ipStrings(c *x509.Certificate) []string {
	s := make([]string, len(c.IPAddresses))
	for i, ip := range c.IPAddresses {
		s[i] = ip.String()
	}
	return s
}

func readStoredProfile(path string) (*profile.Profile, error) {
	ds, err := keystore.Open(path)
	if err != nil {
		return nil, err
	}
	if cl, ok := ds.(io.Closer); ok {
		defer cl.Close()
	}
	return profile.Read(ds)
}
