package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/pion/logging"
	"github.com/spf13/cobra"

	"github.com/backkem/screenview/internal/cli"
	"github.com/backkem/screenview/pkg/discovery"
	"github.com/backkem/screenview/pkg/peer"
	"github.com/backkem/screenview/pkg/protocol/wpskka"
)

type connectOptions struct {
	password string
	message  string
	timeout  time.Duration
	server   string
}

func connectCmd() *cobra.Command {
	o := connectOptions{
		password: cli.EnvString(EnvPassword, ""),
	}
	cmd := &cobra.Command{
		Use:   "connect <host:port | instance | lease id>",
		Short: "Connect to a host, send a message and print the reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lf, err := loggerFactory(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
			defer cancel()

			conn, done, err := dialTarget(ctx, o.server, args[0], lf)
			if err != nil {
				return err
			}
			defer done()

			s, err := peer.Handshake(ctx, conn, peer.ClientConfig{
				Password:      passwordSource(o.password, cmd.InOrStdin(), cmd.ErrOrStderr()),
				LoggerFactory: lf,
			})
			if peer.IsAuthFailure(err) {
				return errors.New("the host rejected the password")
			}
			if err != nil {
				return fmt.Errorf("connect %s: %w", args[0], err)
			}
			defer s.Close()

			if err := s.Send([]byte(o.message)); err != nil {
				return err
			}
			reply, err := s.Receive()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", reply)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.password, "password", o.password, "password for SRP schemes (env "+EnvPassword+")")
	f.StringVar(&o.message, "message", "hello", "payload to send")
	f.DurationVar(&o.timeout, "timeout", 30*time.Second, "overall timeout")
	f.StringVar(&o.server, "server", cli.EnvString(EnvServer, ""), "reach the host through this rendezvous server; the target is a lease id (env "+EnvServer+")")
	return cmd
}

// dialTarget connects to target directly, or through the rendezvous server
// when server is set. done releases what the connection depends on.
func dialTarget(ctx context.Context, server, target string, lf logging.LoggerFactory) (net.Conn, func(), error) {
	if server != "" {
		return dialRelay(ctx, server, target, lf)
	}
	addr, err := resolveTarget(ctx, target, func() (*discovery.Resolver, error) {
		return discovery.NewResolver(discovery.ResolverConfig{LoggerFactory: lf})
	})
	if err != nil {
		return nil, nil, err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	return conn, func() {}, nil
}

// resolveTarget returns target if it is an address and otherwise looks it
// up as an mDNS instance name.
func resolveTarget(ctx context.Context, target string, newResolver func() (*discovery.Resolver, error)) (string, error) {
	if _, _, err := net.SplitHostPort(target); err == nil {
		return target, nil
	}
	r, err := newResolver()
	if err != nil {
		return "", err
	}
	h, err := r.Lookup(ctx, target)
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", target, err)
	}
	return h.Addr()
}

// passwordSource returns the fixed password, or prompts on in.
func passwordSource(password string, in io.Reader, prompt io.Writer) peer.PasswordFunc {
	return func(ctx context.Context, scheme wpskka.AuthSchemeType) ([]byte, error) {
		if password != "" {
			return []byte(password), nil
		}
		if scheme == wpskka.AuthSchemeSrpDynamic {
			fmt.Fprint(prompt, "One-time password: ")
		} else {
			fmt.Fprint(prompt, "Password: ")
		}
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return nil, peer.ErrNoPassword
		}
		return []byte(line), nil
	}
}
