package main

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/backkem/screenview/internal/cli"
	"github.com/backkem/screenview/pkg/broker"
	"github.com/backkem/screenview/pkg/server"
)

const defaultPort = 9000

type options struct {
	host          string
	tcpPort       int
	udpPort       int
	logLevel      string
	leaseDuration time.Duration
	maxLeases     int
	keepAlive     time.Duration
	sweep         time.Duration
}

// defaultOptions reads the environment fallbacks.
func defaultOptions() (options, error) {
	o := options{
		logLevel:  cli.EnvString(cli.EnvLogLevel, "info"),
		maxLeases: broker.DefaultMaxLeases,
		keepAlive: broker.DefaultKeepAliveInterval,
		sweep:     server.DefaultSweepInterval,
	}
	var err error
	if o.tcpPort, err = cli.EnvPort(cli.EnvTCPPort, defaultPort); err != nil {
		return o, err
	}
	if o.udpPort, err = cli.EnvPort(cli.EnvUDPPort, defaultPort); err != nil {
		return o, err
	}
	if o.leaseDuration, err = cli.EnvDuration(cli.EnvLeaseDuration, broker.DefaultLeaseDuration); err != nil {
		return o, err
	}
	return o, nil
}

func (o options) validate() error {
	if err := cli.ValidatePort(o.tcpPort); err != nil {
		return fmt.Errorf("tcp port: %w", err)
	}
	if err := cli.ValidatePort(o.udpPort); err != nil {
		return fmt.Errorf("udp port: %w", err)
	}
	if o.leaseDuration <= 0 {
		return fmt.Errorf("lease duration must be positive")
	}
	if o.keepAlive <= 0 || o.sweep <= 0 {
		return fmt.Errorf("keepalive and sweep intervals must be positive")
	}
	return nil
}

// config converts the options to a server configuration.
func (o options) config() server.Config {
	return server.Config{
		TCPAddr:       net.JoinHostPort(o.host, strconv.Itoa(o.tcpPort)),
		UDPAddr:       net.JoinHostPort(o.host, strconv.Itoa(o.udpPort)),
		SweepInterval: o.sweep,
		Broker: broker.Config{
			LeaseDuration:     o.leaseDuration,
			MaxLeases:         o.maxLeases,
			KeepAliveInterval: o.keepAlive,
			KeepAliveTimeout:  4 * o.keepAlive,
		},
	}
}

func newRootCmd() *cobra.Command {
	o, envErr := defaultOptions()

	cmd := &cobra.Command{
		Use:          "screenview-server",
		Short:        "Rendezvous server for ScreenView peers",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if envErr != nil {
				return envErr
			}
			if err := o.validate(); err != nil {
				return err
			}
			ctx, stop := cli.SignalContext(context.Background())
			defer stop()
			return run(ctx, o)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.host, "host", "", "address to bind (default all interfaces)")
	f.IntVar(&o.tcpPort, "tcp-port", o.tcpPort, "TCP port of the broker (env "+cli.EnvTCPPort+")")
	f.IntVar(&o.udpPort, "udp-port", o.udpPort, "UDP port of the relay (env "+cli.EnvUDPPort+")")
	f.StringVar(&o.logLevel, "log-level", o.logLevel, "log level: error, warn, info, debug, trace (env "+cli.EnvLogLevel+")")
	f.DurationVar(&o.leaseDuration, "lease-duration", o.leaseDuration, "lease lifetime (env "+cli.EnvLeaseDuration+")")
	f.IntVar(&o.maxLeases, "max-leases", o.maxLeases, "maximum number of live leases")
	f.DurationVar(&o.keepAlive, "keepalive", o.keepAlive, "idle time before a connection is probed")
	f.DurationVar(&o.sweep, "sweep", o.sweep, "lease expiry and liveness check interval")
	return cmd
}

func run(ctx context.Context, o options) error {
	lf, err := cli.NewLoggerFactory(o.logLevel, nil)
	if err != nil {
		return err
	}
	log := lf.NewLogger("main")

	cfg := o.config()
	cfg.LoggerFactory = lf
	s, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	if err := s.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	log.Infof("broker on tcp %s, relay on udp %s", s.TCPAddr(), s.UDPAddr())

	return cli.RunUntilDone(ctx, s, log)
}
