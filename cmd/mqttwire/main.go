package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var logOutput io.Writer = os.Stderr

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mqttwire",
		Short: "MQTT 3.1.1 wire codec and CONNECT front-end",
		Long: `mqttwire decodes and encodes the MQTT 3.1.1 fixed header and the
CONNECT/CONNACK variable headers.

The serve command runs a front-end that performs the CONNECT/CONNACK
handshake on TCP, TLS and WebSocket listeners, journals every attempt
and exposes metrics and a packet inspector.`,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		decodeCmd(),
		inspectCmd(),
		versionCmd(),
	)
	return rootCmd
}
