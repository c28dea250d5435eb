package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/backkem/screenview/pkg/discovery"
)

func browseCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "List hosts advertised on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lf, err := loggerFactory(cmd)
			if err != nil {
				return err
			}
			r, err := discovery.NewResolver(discovery.ResolverConfig{LoggerFactory: lf})
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			hosts, err := r.Browse(ctx)
			if err != nil {
				return err
			}
			n := 0
			for h := range hosts {
				printHost(cmd.OutOrStdout(), h)
				n++
			}
			if n == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No hosts found")
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to listen for hosts")
	return cmd
}

func printHost(w io.Writer, h discovery.ResolvedHost) {
	addr, err := h.Addr()
	if err != nil {
		addr = "-"
	}
	schemes := make([]string, len(h.TXT.Schemes))
	for i, s := range h.TXT.Schemes {
		schemes[i] = s.String()
	}
	name := h.TXT.Name
	if name == "" {
		name = "-"
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", h.InstanceName, addr, name, h.TXT.Version, strings.Join(schemes, ","))
}
