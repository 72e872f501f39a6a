package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kardianos/tlsctx"
	"github.com/kardianos/tlsctx/session"
)

type netOptions struct {
	quic       bool
	serverName string
	timeout    time.Duration
}

func (o *netOptions) flags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.quic, "quic", false, "use QUIC instead of TCP")
	cmd.Flags().StringVar(&o.serverName, "server-name", "", "name to request and verify when dialing")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 10*time.Second, "handshake timeout")
}

func newDialCmd(a *app) *cobra.Command {
	o := &netOptions{}
	cmd := &cobra.Command{
		Use:   "dial ADDR",
		Short: "Connect to ADDR and print the peer certificates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, p, err := a.newContext(tlsctx.TLSClient)
			if err != nil {
				return err
			}
			defer c.Close()
			opts := p.SessionOptions(a.observer("session"))
			if o.serverName != "" {
				opts.ServerName = o.serverName
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
			defer cancel()
			return runDial(ctx, cmd.OutOrStdout(), c, opts, args[0], o.quic)
		},
	}
	o.flags(cmd)
	return cmd
}

func runDial(ctx context.Context, w io.Writer, c *tlsctx.Context, opts session.Options, addr string, useQUIC bool) error {
	var state tls.ConnectionState
	if useQUIC {
		conn, err := session.DialQUIC(ctx, addr, c, opts, nil)
		if err != nil {
			return err
		}
		state = conn.ConnectionState().TLS
		conn.CloseWithError(0, "")
	} else {
		conn, err := session.Dial(ctx, "tcp", addr, c, opts)
		if err != nil {
			return err
		}
		state = conn.ConnectionState()
		conn.Close()
	}

	fmt.Fprintf(w, "version: %s\n", tls.VersionName(state.Version))
	fmt.Fprintf(w, "cipher:  %s\n", tls.CipherSuiteName(state.CipherSuite))
	if state.NegotiatedProtocol != "" {
		fmt.Fprintf(w, "alpn:    %s\n", state.NegotiatedProtocol)
	}
	for i, cert := range state.PeerCertificates {
		fmt.Fprintf(w, "peer %d:  %s %s\n", i, cert.Subject.CommonName, tlsctx.FingerprintOf(cert))
	}
	return nil
}

func newServeCmd(a *app) *cobra.Command {
	o := &netOptions{}
	cmd := &cobra.Command{
		Use:   "serve ADDR",
		Short: "Accept connections on ADDR and log each handshake",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, p, err := a.newContext(tlsctx.TLSServer)
			if err != nil {
				return err
			}
			defer c.Close()
			opts := p.SessionOptions(a.observer("session"))
			return runServe(cmd.Context(), a.log, c, opts, args[0], o, nil)
		},
	}
	o.flags(cmd)
	return cmd
}

// runServe accepts connections until ctx is done. ready, if set, receives the
// listening address.
func runServe(ctx context.Context, log *logrus.Logger, c *tlsctx.Context, opts session.Options, addr string, o *netOptions, ready func(net.Addr)) error {
	if o.quic {
		return serveQUIC(ctx, log, c, opts, addr, ready)
	}
	ln, err := session.Listen("tcp", addr, c, opts)
	if err != nil {
		return err
	}
	defer ln.Close()
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	log.WithField("addr", ln.Addr()).Info("listening")
	if ready != nil {
		ready(ln.Addr())
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go handleConn(ctx, log, conn.(*tls.Conn), o.timeout)
	}
}

func handleConn(ctx context.Context, log *logrus.Logger, conn *tls.Conn, timeout time.Duration) {
	defer conn.Close()
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entry := log.WithField("remote", conn.RemoteAddr())
	if err := conn.HandshakeContext(hctx); err != nil {
		entry.WithError(err).Warn("handshake failed")
		return
	}
	logHandshake(entry, conn.ConnectionState())
	io.Copy(conn, conn)
}

func serveQUIC(ctx context.Context, log *logrus.Logger, c *tlsctx.Context, opts session.Options, addr string, ready func(net.Addr)) error {
	ln, err := session.ListenQUIC(addr, c, opts, nil)
	if err != nil {
		return err
	}
	defer ln.Close()
	log.WithField("addr", ln.Addr()).Info("listening (quic)")
	if ready != nil {
		ready(ln.Addr())
	}

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		logHandshake(log.WithField("remote", conn.RemoteAddr()), conn.ConnectionState().TLS)
	}
}

func logHandshake(entry *logrus.Entry, state tls.ConnectionState) {
	fields := logrus.Fields{
		"version":     tls.VersionName(state.Version),
		"server_name": state.ServerName,
	}
	if len(state.PeerCertificates) > 0 {
		fields["peer"] = tlsctx.FingerprintOf(state.PeerCertificates[0]).String()
	}
	entry.WithFields(fields).Info("handshake complete")
}
