// Command i2stool exercises the I2S block streaming engine: it runs
// loopback transfers over a simulated or serial transfer engine and
// inspects capture files.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version is set by the Go linker with -ldflags='-X main.Version=...'.
var Version string

var (
	verbose bool

	// Serial transfer engine flags.
	portName string
	baudRate int
)

var rootCmd = &cobra.Command{
	Use:   "i2stool",
	Short: "I2S block streaming tool",
	Long: `i2stool drives the I2S streaming engine end to end.

Transfer engines:
  simulated: default, blocks are clocked at the configured frame rate
  serial:    --port /dev/ttyUSB0 [--baud 921600], with TX looped back to RX`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log state transitions")
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port of the stream engine")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 921600, "Baud rate of the serial port")
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "i2stool: %v\n", err)
		os.Exit(2)
	}
}

func run() error {
	rootCmd.Version = Version
	return rootCmd.Execute()
}

func logger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
