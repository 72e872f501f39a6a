// Command tlsctx builds TLS contexts from profiles and keystores, inspects them, and
// opens test connections with them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kardianos/tlsctx"
	"github.com/kardianos/tlsctx/profile"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app holds state shared by all commands.
type app struct {
	log      *logrus.Logger
	logLevel string
	profile  string
	keystore string
}

func newRootCmd() *cobra.Command {
	a := &app{log: logrus.New()}
	root := &cobra.Command{
		Use:          "tlsctx",
		Short:        "Build and exercise TLS contexts",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			lvl, err := logrus.ParseLevel(a.logLevel)
			if err != nil {
				return err
			}
			a.log.SetLevel(lvl)
			a.log.SetOutput(cmd.ErrOrStderr())
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVarP(&a.profile, "profile", "p", "", "YAML profile describing the context")
	root.PersistentFlags().StringVarP(&a.keystore, "keystore", "k", "", "keystore holding credentials and an optional profile")

	root.AddCommand(
		newCheckCmd(a),
		newGenCmd(a),
		newImportCmd(a),
		newDialCmd(a),
		newServeCmd(a),
	)
	return root
}

// logObserver sends store and session logs to logrus at debug level.
type logObserver struct {
	entry *logrus.Entry
}

func (o logObserver) Logf(format string, args ...any) {
	o.entry.Debugf(format, args...)
}

func (a *app) observer(component string) tlsctx.Observer {
	return logObserver{entry: a.log.WithField("component", component)}
}

// loadProfile returns the profile from --profile, or the one stored in --keystore.
// A keystore without a profile yields a bare profile for fallback that loads the keystore.
func (a *app) loadProfile(fallback tlsctx.Method) (*profile.Profile, error) {
	var p *profile.Profile
	switch {
	case a.profile != "":
		var err error
		if p, err = profile.LoadFile(a.profile); err != nil {
			return nil, err
		}
		if a.keystore != "" {
			p.Keystore = a.keystore
		}
	case a.keystore != "":
		stored, err := readStoredProfile(a.keystore)
		if err != nil {
			return nil, err
		}
		p = stored
		if p == nil {
			p = &profile.Profile{Method: fallback.String()}
		}
		p.Keystore = a.keystore
	default:
		return nil, fmt.Errorf("one of --profile or --keystore is required")
	}
	return p, nil
}

// newContext builds the Context described by the loaded profile.
func (a *app) newContext(fallback tlsctx.Method) (*tlsctx.Context, *profile.Profile, error) {
	p, err := a.loadProfile(fallback)
	if err != nil {
		return nil, nil, err
	}
	c, err := p.NewContext(tlsctx.Config{Observer: a.observer("store")})
	if err != nil {
		return nil, nil, err
	}
	m, _ := c.Method()
	a.log.WithFields(logrus.Fields{"method": m, "verify": c.Store().VerifyMode()}).Debug("context ready")
	return c, p, nil
}
