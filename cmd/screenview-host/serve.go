package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/backkem/screenview/internal/cli"
	"github.com/backkem/screenview/pkg/crypto"
	"github.com/backkem/screenview/pkg/peer"
)

const (
	defaultHostPort       = 9100
	dynamicPasswordDigits = 8
)

type serveOptions struct {
	port      int
	password  string
	dynamic   bool
	allowNone bool
	advertise bool
	name      string
	instance  string
	server    string
}

func (o serveOptions) validate() error {
	if err := cli.ValidatePort(o.port); err != nil {
		return err
	}
	if o.password == "" && !o.dynamic && !o.allowNone {
		return errors.New("no auth scheme: set --password, --dynamic or --allow-none")
	}
	return nil
}

func serveCmd() *cobra.Command {
	o := serveOptions{
		password: cli.EnvString(EnvPassword, ""),
	}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept direct connections and echo received data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.validate(); err != nil {
				return err
			}
			ctx, stop := cli.SignalContext(cmd.Context())
			defer stop()
			return runServe(ctx, cmd, o)
		},
	}

	f := cmd.Flags()
	f.IntVar(&o.port, "port", defaultHostPort, "TCP port to listen on")
	f.StringVar(&o.password, "password", o.password, "static password (env "+EnvPassword+")")
	f.BoolVar(&o.dynamic, "dynamic", false, "generate and print a one-time password")
	f.BoolVar(&o.allowNone, "allow-none", false, "accept clients without a password")
	f.BoolVar(&o.advertise, "advertise", true, "advertise the host over mDNS")
	f.StringVar(&o.name, "name", "", "display name to advertise")
	f.StringVar(&o.instance, "instance", "", "mDNS instance name (random if empty)")
	f.StringVar(&o.server, "server", cli.EnvString(EnvServer, ""), "also accept sessions brokered by this rendezvous server (env "+EnvServer+")")
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, o serveOptions) error {
	lf, err := loggerFactory(cmd)
	if err != nil {
		return err
	}
	log := lf.NewLogger("main")

	cfg := peer.HostConfig{
		ListenAddr:    net.JoinHostPort("", strconv.Itoa(o.port)),
		AllowNone:     o.allowNone,
		Advertise:     o.advertise,
		Name:          o.name,
		InstanceName:  o.instance,
		LoggerFactory: lf,
		OnSession: func(s *peer.Session) {
			log.Infof("session from %s", s.RemoteAddr())
		},
		OnData: func(s *peer.Session, payload []byte) {
			if err := s.Send(payload); err != nil {
				log.Warnf("echo to %s: %v", s.RemoteAddr(), err)
			}
		},
		OnClose: func(s *peer.Session) {
			log.Infof("session from %s closed", s.RemoteAddr())
		},
	}
	if o.password != "" {
		cfg.StaticPassword = []byte(o.password)
	}
	if o.dynamic {
		pw, err := generatePassword(dynamicPasswordDigits)
		if err != nil {
			return err
		}
		cfg.DynamicPassword = []byte(pw)
		fmt.Fprintf(cmd.OutOrStdout(), "One-time password: %s\n", pw)
	}

	h, err := peer.NewHost(cfg)
	if err != nil {
		return fmt.Errorf("create host: %w", err)
	}
	if err := h.Start(); err != nil {
		return fmt.Errorf("start host: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", h.Addr())
	if adv := h.Advertiser(); adv != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Advertised as %s\n", adv.InstanceName())
	}
	if o.server != "" {
		go func() {
			if err := serveRelay(ctx, o.server, cmd.OutOrStdout(), lf, h.Serve); err != nil {
				log.Errorf("relay: %v", err)
			}
		}()
	}

	return cli.RunUntilDone(ctx, h, log)
}

// generatePassword returns n random decimal digits.
func generatePassword(n int) (string, error) {
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if err := crypto.ReadRandom(nil, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			// 250 is the largest multiple of 10 below 256.
			if b < 250 && len(out) < n {
				out = append(out, '0'+b%10)
			}
		}
	}
	return string(out), nil
}
