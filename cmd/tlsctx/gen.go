package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kardianos/tlsctx/internal/certgen"
)

type genOptions struct {
	out        string
	caName     string
	servers    []string
	clients    []string
	passphrase string
}

func newGenCmd(a *app) *cobra.Command {
	o := &genOptions{}
	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a CA and certificates signed by it",
		Long: `Generate a CA and certificates signed by it.

Writes ca.pem plus NAME.pem and NAME.key for every --server and --client name.
Keys are encrypted PKCS#8 when --passphrase is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(o.servers)+len(o.clients) == 0 {
				return fmt.Errorf("at least one --server or --client name is required")
			}
			return runGen(a, o)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.out, "out", "o", ".", "output directory")
	f.StringVar(&o.caName, "ca-name", "tlsctx CA", "CA common name")
	f.StringSliceVar(&o.servers, "server", nil, "server host names or addresses")
	f.StringSliceVar(&o.clients, "client", nil, "client names")
	f.StringVar(&o.passphrase, "passphrase", "", "encrypt private keys with this passphrase")
	return cmd
}

func runGen(a *app, o *genOptions) error {
	if err := os.MkdirAll(o.out, 0700); err != nil {
		return err
	}
	ca, err := certgen.CreateCA(o.caName)
	if err != nil {
		return fmt.Errorf("create CA: %w", err)
	}
	if err := os.WriteFile(filepath.Join(o.out, "ca.pem"), ca.CertPEM(), 0644); err != nil {
		return err
	}

	issue := func(name string, server bool) error {
		leaf, err := ca.Issue(name, server)
		if err != nil {
			return fmt.Errorf("issue %s: %w", name, err)
		}
		var key []byte
		if o.passphrase != "" {
			key, err = leaf.EncryptedKeyPEM(o.passphrase)
		} else {
			key, err = leaf.KeyPEM()
		}
		if err != nil {
			return err
		}
		base := filepath.Join(o.out, name)
		if err := os.WriteFile(base+".pem", leaf.CertPEM(), 0644); err != nil {
			return err
		}
		if err := os.WriteFile(base+".key", key, 0600); err != nil {
			return err
		}
		a.log.WithField("name", name).WithField("server", server).Info("issued certificate")
		return nil
	}
	for _, n := range o.servers {
		if err := issue(n, true); err != nil {
			return err
		}
	}
	for _, n := range o.clients {
		if err := issue(n, false); err != nil {
			return err
		}
	}
	return nil
}
