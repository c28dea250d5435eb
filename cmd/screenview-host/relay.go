package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/pion/logging"

	svscproto "github.com/backkem/screenview/pkg/protocol/svsc"
	"github.com/backkem/screenview/pkg/rendezvous"
)

// minLeaseRefresh bounds how often a lease is extended.
const minLeaseRefresh = time.Second

// serveRelay leases an id on the rendezvous server, prints it and hands
// every brokered session to serve until ctx ends.
func serveRelay(ctx context.Context, addr string, out io.Writer, lf logging.LoggerFactory, serve func(net.Conn) error) error {
	log := lf.NewLogger("relay")
	c, err := rendezvous.Dial(ctx, addr, rendezvous.Config{LoggerFactory: lf})
	if err != nil {
		return fmt.Errorf("rendezvous %s: %w", addr, err)
	}
	defer c.Close()

	lease, err := c.Lease(ctx, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Lease id: %d (via %s)\n", lease.ID, addr)

	go keepLease(ctx, c, lease.Cookie, lease.Expiration, log)

	for {
		sc, err := c.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		log.Infof("brokered session %s", sc.LocalAddr())
		if err := serve(sc); err != nil {
			sc.Close()
			return err
		}
	}
}

// keepLease extends the lease halfway to each expiration.
func keepLease(ctx context.Context, c *rendezvous.Client, cookie svscproto.Cookie, exp time.Time, log logging.LeveledLogger) {
	for {
		wait := max(time.Until(exp)/2, minLeaseRefresh)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		next, err := c.ExtendLease(ctx, cookie)
		if err != nil {
			log.Warnf("extend lease: %v", err)
			return
		}
		exp = next
	}
}

// dialRelay requests a session with the holder of the lease in target.
func dialRelay(ctx context.Context, addr, target string, lf logging.LoggerFactory) (net.Conn, func(), error) {
	id, err := strconv.ParseUint(target, 10, 32)
	if err != nil {
		return nil, nil, fmt.Errorf("lease id %q: %w", target, err)
	}
	c, err := rendezvous.Dial(ctx, addr, rendezvous.Config{LoggerFactory: lf})
	if err != nil {
		return nil, nil, fmt.Errorf("rendezvous %s: %w", addr, err)
	}
	sc, err := c.Connect(ctx, svscproto.LeaseID(id))
	if err != nil {
		c.Close()
		return nil, nil, err
	}
	return sc, func() { c.Close() }, nil
}
