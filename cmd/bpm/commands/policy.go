package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bpmanager/bpmanager/pkg/config"
	"github.com/bpmanager/bpmanager/pkg/policy"
	"github.com/bpmanager/bpmanager/pkg/profile"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Evaluate policy inputs offline",
	}

	cmd.AddCommand(newPolicyCheckCommand())
	cmd.AddCommand(newPolicyListCommand())
	return cmd
}

// loadPolicyEngine builds an engine with the built-in and configured
// policies. It does not open the database.
func loadPolicyEngine(ctx context.Context) (*policy.Engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	engine, err := policy.NewEngine(cfg.Policy, log.Logger)
	if err != nil {
		return nil, err
	}
	if len(cfg.Policy.Paths) > 0 {
		if err := engine.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
	}
	return engine, nil
}

func newPolicyCheckCommand() *cobra.Command {
	var (
		file     string
		objectID string
	)

	cmd := &cobra.Command{
		Use:   "check -f policies.yaml",
		Short: "Check policy inputs against the loaded policies",
		Long: `Evaluate a set of policy inputs the way profile creation does, without
creating anything. The command fails when a blocking policy is violated.`,
		Example: `  bpm policy check -f policies.yaml

  # policies.yaml
  inputs:
    - namespace: terra
      name: region-constraint
      additionalData:
        - key: region-name
          value: us-central1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var inputs profile.PolicyInputs
			if err := readRequest(file, &inputs); err != nil {
				return err
			}

			ctx := cmd.Context()
			engine, err := loadPolicyEngine(ctx)
			if err != nil {
				return err
			}

			result, err := engine.Evaluate(ctx, &policy.Input{
				Object:  policy.ObjectRef{ID: objectID, Component: profile.PaoComponent, Type: profile.PaoObjectType},
				Inputs:  inputs.Inputs,
				Context: policy.Context{Operation: "create"},
			})
			if err != nil {
				return err
			}
			if err := printResult(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if !result.Allowed {
				return fmt.Errorf("%w: %d violations", profile.ErrPolicyViolation, len(result.Violations))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "policy inputs file (YAML or JSON)")
	cmd.Flags().StringVar(&objectID, "object-id", "check", "object id reported in the evaluation input")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

type policySummary struct {
	Name        string          `json:"name" yaml:"name"`
	Severity    policy.Severity `json:"severity" yaml:"severity"`
	Enabled     bool            `json:"enabled" yaml:"enabled"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
}

func newPolicyListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the loaded policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := loadPolicyEngine(cmd.Context())
			if err != nil {
				return err
			}

			var out []policySummary
			for _, p := range engine.ListPolicies() {
				out = append(out, policySummary{
					Name:        p.Name,
					Severity:    p.Severity,
					Enabled:     p.Enabled,
					Description: p.Description,
				})
			}
			return printResult(cmd.OutOrStdout(), out)
		},
	}
}
