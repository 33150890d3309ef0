package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/tracing"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Burrow - derive and serve tenant assets",
	Long: `Burrow serves static sites for many tenants.

The coordinator (mom) owns tenant metadata, runs derivations and
broadcasts revisions. Front-ends (cub) mirror that state and serve
assets, asking mom for anything not yet derived.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		jsonOutput, _ := cmd.Flags().GetBool("log-json")
		log.Init(log.Config{
			Level:      log.ParseLevel(level),
			JSONOutput: jsonOutput,
			Output:     os.Stderr,
		})
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Burrow version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Log as JSON")

	rootCmd.AddCommand(momCmd)
	rootCmd.AddCommand(cubCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(transcodeCmd)
	rootCmd.AddCommand(versionCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func initTracing(ctx context.Context, service, env, endpoint string) func() {
	shutdown, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    service,
		ServiceVersion: Version,
		Environment:    env,
		Endpoint:       endpoint,
		Insecure:       true,
		SampleRate:     1.0,
	})
	if err != nil {
		log.Logger.Warn().Err(err).Msg("Tracing disabled")
		return func() {}
	}
	return func() {
		if err := shutdown(context.Background()); err != nil {
			log.Logger.Warn().Err(err).Msg("Failed to flush traces")
		}
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Burrow version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}
