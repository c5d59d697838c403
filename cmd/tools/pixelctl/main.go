// Command pixelctl runs pixel commands against the gateway for manual checks.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/knowledge-portal/backend/internal/config"
	"github.com/zhouzirui/knowledge-portal/backend/internal/gateway"
	"github.com/zhouzirui/knowledge-portal/backend/internal/logging"
)

var (
	timeout time.Duration
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
	gw     *gateway.Client
)

// rootCmd loads configuration once for every subcommand.
var rootCmd = &cobra.Command{
	Use:           "pixelctl",
	Short:         "Run pixel commands against the execution gateway",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && verbose {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env: %v\n", err)
		}

		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		if verbose {
			cfg.Log.Level = "debug"
			cfg.Log.Development = true
		}

		logger, err = logging.New(cfg.Log)
		if err != nil {
			return err
		}
		gw = gateway.NewClient(cfg.Gateway, logger.Named("gateway"))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "deadline for the whole command")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log gateway traffic")

	rootCmd.AddCommand(runCmd, enginesCmd, documentsCmd, askCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
