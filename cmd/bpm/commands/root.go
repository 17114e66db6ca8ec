package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bpmanager/bpmanager/pkg/config"
)

var (
	// Global flags
	configPath string
	jsonOutput bool
)

// shutdownTimeout bounds the cleanup after a command returns.
const shutdownTimeout = 30 * time.Second

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bpm",
		Short: "Billing profile manager",
		Long: `bpm manages billing profiles that span an authorization service, a cloud
billing account or Azure managed application, a policy store and a database.

Every create, update and delete runs as a durable flight: a sequence of
reversible steps that is persisted after each step, retried on transient
failures, undone in reverse order on fatal failures and resumed after a
crash.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newProfileCommand())
	rootCmd.AddCommand(newJobCommand())
	rootCmd.AddCommand(newPolicyCommand())
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}

// withApp loads the configuration, wires the services and runs fn. When
// start is set the executor runs for the duration of fn.
func withApp(cmd *cobra.Command, start bool, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if cerr := a.close(closeCtx); cerr != nil {
			a.logger.Warn().Err(cerr).Msg("Shutdown did not complete cleanly")
		}
	}()

	if start {
		if err := a.start(ctx); err != nil {
			return err
		}
	}
	return fn(ctx, a)
}

// printResult writes v as JSON with --json, YAML otherwise.
func printResult(w io.Writer, v any) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
