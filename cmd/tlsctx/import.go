package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kardianos/tlsctx"
	"github.com/kardianos/tlsctx/keystore"
	"github.com/kardianos/tlsctx/profile"
)

type importOptions struct {
	cert       string
	key        string
	trust      []string
	passphrase string
	format     string
	method     string
	verify     []string
}

func newImportCmd(a *app) *cobra.Command {
	o := &importOptions{}
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Store credentials and a profile in a keystore",
		Long: `Store credentials and a profile in a keystore.

The material is checked by installing it into a context before it is written.
The keystore kind follows its path: *.db is bbolt, *.conf a config file,
anything else a directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.keystore == "" {
				return fmt.Errorf("--keystore is required")
			}
			return runImport(a, o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.cert, "cert", "", "certificate chain file")
	f.StringVar(&o.key, "key", "", "private key file")
	f.StringSliceVar(&o.trust, "trust", nil, "CA certificate files")
	f.StringVar(&o.passphrase, "passphrase", "", "private key passphrase")
	f.StringVar(&o.format, "format", "pem", "encoding of all files (pem, der)")
	f.StringVar(&o.method, "method", "tls", "method stored in the profile")
	f.StringSliceVar(&o.verify, "verify", nil, "verify mode stored in the profile")
	return cmd
}

func runImport(a *app, o *importOptions) error {
	format, err := tlsctx.ParseFileFormat(o.format)
	if err != nil {
		return err
	}
	b := &keystore.Bundle{Format: format, Passphrase: o.passphrase}
	if (o.cert == "") != (o.key == "") {
		return fmt.Errorf("--cert and --key must be given together")
	}
	if o.cert != "" {
		if b.Certificate, err = os.ReadFile(o.cert); err != nil {
			return err
		}
		if b.PrivateKey, err = os.ReadFile(o.key); err != nil {
			return err
		}
	}
	for _, name := range o.trust {
		data, err := os.ReadFile(name)
		if err != nil {
			return err
		}
		b.Trust = append(b.Trust, data...)
	}
	if b.Empty() {
		return keystore.ErrNoCredentials
	}

	p := &profile.Profile{Method: o.method, Verify: o.verify, Format: format.String()}
	if err := p.Validate(); err != nil {
		return err
	}
	m, _ := p.MethodValue()
	c, err := tlsctx.New(tlsctx.Config{Method: m, Observer: a.observer("store")})
	if err != nil {
		return err
	}
	defer c.Close()
	if err := b.Apply(c); err != nil {
		return fmt.Errorf("credentials rejected: %w", err)
	}

	ds, err := keystore.Open(a.keystore)
	if err != nil {
		return err
	}
	if cl, ok := ds.(io.Closer); ok {
		defer cl.Close()
	}
	if err := keystore.Save(ds, b); err != nil {
		return err
	}
	if err := profile.Save(ds, p); err != nil {
		return err
	}
	a.log.WithField("keystore", ds.Path()).Info("credentials imported")
	return nil
}
