// Package cli provides the command-line interface for agevault.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agevault/agevault/internal/core"
	"github.com/agevault/agevault/internal/errors"
)

// Version is set by main.go
var Version = "dev"

// rootCmd is the base command when called without subcommands
var rootCmd = &cobra.Command{
	Use:   "agevault",
	Short: "Offline vault manager with multi-recipient encryption",
	Long: `agevault encrypts a selected set of files into a single portable
artifact protected by one or more independent recipients:

  - A passphrase-derived key held by the user
  - Up to three YubiKeys performing decryption in hardware

The artifact is self-describing: a compressed archive encrypted to all
recipients at once, with a sidecar manifest recording file hashes so
recovery can verify integrity. Any one recipient unlocks the vault.`,
	Version:       Version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// appCore is built once per invocation.
var appCore *core.Core

// rootCtx is cancelled by SIGINT/SIGTERM for cooperative shutdown.
var rootCtx context.Context

// Execute runs the CLI application.
func Execute(version string) {
	Version = version
	rootCmd.Version = version

	ctx, cancel := context.WithCancel(context.Background())
	rootCtx = ctx

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nCancelling operation...")
		cancel()
	}()

	c, err := core.New(core.DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	appCore = c
	defer appCore.Shutdown()

	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

// printError renders a mapped CommandError with its recovery guidance.
func printError(err error) {
	ce := errors.ToCommand(err)
	fmt.Fprintf(os.Stderr, "Error: %s\n", ce.Message)
	if ce.RecoveryGuidance != "" {
		fmt.Fprintf(os.Stderr, "Hint: %s\n", ce.RecoveryGuidance)
	}
	if ce.TraceID != "" {
		fmt.Fprintf(os.Stderr, "Trace: %s\n", ce.TraceID)
	}
}

func init() {
	// Disable default completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
