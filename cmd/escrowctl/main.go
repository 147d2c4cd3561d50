// Command escrowctl is the operator and player CLI for the stake escrow
// engine. It manages signing keys, derives program addresses, builds and
// signs instructions, and submits them to an escrowd server.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "escrowctl: %v\n", err)
		os.Exit(1)
	}
}
