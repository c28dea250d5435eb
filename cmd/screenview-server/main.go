// screenview-server runs the rendezvous server: the session broker on TCP
// and the unreliable relay on UDP.
//
// Usage:
//
//	screenview-server [flags]
//
// Every flag falls back to an environment variable:
//
//	--tcp-port        TCP_PORT        (default 9000)
//	--udp-port        UDP_PORT        (default 9000)
//	--log-level       LOG_LEVEL       (default info)
//	--lease-duration  LEASE_DURATION  (default 1h, bare numbers are seconds)
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
