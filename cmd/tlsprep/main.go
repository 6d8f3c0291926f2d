// Command tlsprep prepares a reverse proxy's TLS environment: it verifies the
// container topology and shared directories, guarantees a usable DH parameter
// file, kicks off background strengthening, and hands control to the wrapped
// proxy supervisor command.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tlsprep: %v\n", err)
		os.Exit(1)
	}
}
