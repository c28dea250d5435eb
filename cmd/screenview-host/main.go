// screenview-host accepts direct connections on the local network and
// finds and connects to other hosts.
//
// Usage:
//
//	screenview-host serve   [--port 9100] [--password pw] [--dynamic] [--allow-none] [--name n]
//	screenview-host browse  [--timeout 5s]
//	screenview-host connect <host:port | instance> [--password pw] [--message text]
//
// A serving host answers every payload it receives with the same bytes.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
