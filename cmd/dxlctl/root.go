package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/hipsterbrown/dynamixel/internal/logging"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Bus flags
	protocolVersion int
	timeout         time.Duration
	strict          bool
	modelsFile      string
	capturePath     string
	logLevel        string
)

var rootCmd = &cobra.Command{
	Use:   "dxlctl",
	Short: "Dynamixel servo bus tool",
	Long: `dxlctl - scan, inspect and drive Dynamixel servos.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 1000000]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the DXL_PASSWORD
environment variable, or prompted interactively if not set.

Set DXL_LOG_LEVEL (debug, info, warn, error) or --log-level to see bus traffic.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Initialize(logLevel)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 1000000, "Baud rate (serial only)")

	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket bridge URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().IntVar(&protocolVersion, "protocol", 1, "Protocol version (1 or 2)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 100*time.Millisecond, "Silence timeout while waiting for a reply")
	rootCmd.PersistentFlags().BoolVar(&strict, "strict", false, "Fail on malformed or corrupted replies instead of dropping them")
	rootCmd.PersistentFlags().StringVar(&modelsFile, "models", "", "YAML file with extra servo models")
	rootCmd.PersistentFlags().StringVar(&capturePath, "capture", "", "Record bus traffic to this CBOR file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides "+logging.LogLevelEnvVar+")")
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
