package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oilwatch/priceintel/internal/aggregate"
	"github.com/oilwatch/priceintel/internal/config"
)

// Process exit codes.
const (
	exitOK      = 0
	exitFatal   = 1
	exitPartial = 2
)

// errPartial marks a command that finished but with failed partitions or
// validation mismatches.
var errPartial = errors.New("completed with failures")

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "priceintel",
	Short: "Heating oil price intelligence pipeline",
	Long: "Tracks supplier scrape health, maintains price observation validity and " +
		"computes ZIP-prefix and county price aggregates with weekly trends.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return validateOutputFormat()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "o", formatTable, "output format: table, json or yaml")
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errPartial):
		return exitPartial
	default:
		return exitFatal
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil && !errors.Is(err, errPartial) {
		fields := []zap.Field{zap.Error(err)}
		if aggregate.IsFatal(err) {
			fields = append(fields, zap.Bool("fatal", true))
		}
		zap.L().Error("command failed", fields...)
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(exitCode(err))
}
