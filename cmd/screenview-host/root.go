package main

import (
	"github.com/pion/logging"
	"github.com/spf13/cobra"

	"github.com/backkem/screenview/internal/cli"
)

// Environment variables read by serve and connect when the matching flag
// is not given.
const (
	EnvPassword = "SCREENVIEW_PASSWORD"
	EnvServer   = "SCREENVIEW_SERVER"
)

var logLevel string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "screenview-host",
		Short:        "Direct-connect ScreenView host and client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", cli.EnvString(cli.EnvLogLevel, "info"),
		"log level: error, warn, info, debug, trace (env "+cli.EnvLogLevel+")")

	root.AddCommand(serveCmd(), browseCmd(), connectCmd())
	return root
}

func loggerFactory(cmd *cobra.Command) (logging.LoggerFactory, error) {
	return cli.NewLoggerFactory(logLevel, cmd.ErrOrStderr())
}
