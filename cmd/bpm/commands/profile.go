package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bpmanager/bpmanager/pkg/profile"
)

// callerFlags identify the user a profile command acts for.
type callerFlags struct {
	subject string
	email   string
	token   string
}

func (c *callerFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&c.subject, "subject", "", "caller subject id")
	cmd.PersistentFlags().StringVar(&c.email, "email", "", "caller email")
	cmd.PersistentFlags().StringVar(&c.token, "token", os.Getenv("BPM_TOKEN"), "caller access token (default $BPM_TOKEN)")
}

func (c *callerFlags) user() (profile.AuthenticatedUser, error) {
	if c.email == "" || c.token == "" {
		return profile.AuthenticatedUser{}, fmt.Errorf("--email and --token are required")
	}
	subject := c.subject
	if subject == "" {
		subject = c.email
	}
	return profile.AuthenticatedUser{SubjectID: subject, Email: c.email, Token: c.token}, nil
}

func newProfileCommand() *cobra.Command {
	caller := &callerFlags{}

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage billing profiles",
	}
	caller.register(cmd)

	cmd.AddCommand(newProfileCreateCommand(caller))
	cmd.AddCommand(newProfileUpdateCommand(caller))
	cmd.AddCommand(newProfileDeleteCommand(caller))
	cmd.AddCommand(newProfileGetCommand(caller))
	cmd.AddCommand(newProfileListCommand(caller))
	cmd.AddCommand(newProfileChangesCommand(caller))
	return cmd
}

// readRequest decodes a YAML (or JSON) request file.
func readRequest(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read request file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse request file %s: %w", path, err)
	}
	return nil
}

func newProfileCreateCommand(caller *callerFlags) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "create -f request.yaml",
		Short: "Create a billing profile",
		Example: `  bpm profile create -f profile.yaml --email me@example.org --token "$(gcloud auth print-access-token)"

  # profile.yaml
  id: 2b8f3c57-3a6e-4c2c-9a3a-1c9b9a5d3e11
  displayName: Lab billing
  biller: direct
  cloudPlatform: GCP
  billingAccountId: billingAccounts/ABCDEF-123456-7890AB
  policies:
    inputs:
      - namespace: terra
        name: group-constraint
        additionalData:
          - key: group
            value: lab-members`,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := caller.user()
			if err != nil {
				return err
			}
			var req profile.CreateRequest
			if err := readRequest(file, &req); err != nil {
				return err
			}
			return withApp(cmd, true, func(ctx context.Context, a *app) error {
				desc, err := a.profiles.CreateProfile(ctx, user, req)
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), desc)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "request file (YAML or JSON)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newProfileUpdateCommand(caller *callerFlags) *cobra.Command {
	var (
		description    string
		billingAccount string
	)

	cmd := &cobra.Command{
		Use:   "update PROFILE_ID",
		Short: "Update the description or billing account of a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := caller.user()
			if err != nil {
				return err
			}
			var req profile.UpdateRequest
			if cmd.Flags().Changed("description") {
				req.Description = &description
			}
			if cmd.Flags().Changed("billing-account") {
				req.BillingAccountID = &billingAccount
			}
			return withApp(cmd, true, func(ctx context.Context, a *app) error {
				p, err := a.profiles.UpdateProfile(ctx, user, args[0], req)
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), p)
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&billingAccount, "billing-account", "", "new GCP billing account id")
	return cmd
}

func newProfileDeleteCommand(caller *callerFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete PROFILE_ID",
		Short: "Delete a billing profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := caller.user()
			if err != nil {
				return err
			}
			return withApp(cmd, true, func(ctx context.Context, a *app) error {
				if err := a.profiles.DeleteProfile(ctx, user, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted profile %s\n", args[0])
				return nil
			})
		},
	}
}

func newProfileGetCommand(caller *callerFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get PROFILE_ID",
		Short: "Show a billing profile with its policies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := caller.user()
			if err != nil {
				return err
			}
			return withApp(cmd, false, func(ctx context.Context, a *app) error {
				desc, err := a.profiles.GetProfile(ctx, user, args[0])
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), desc)
			})
		},
	}
}

func newProfileListCommand(caller *callerFlags) *cobra.Command {
	var offset, limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the profiles visible to the caller",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := caller.user()
			if err != nil {
				return err
			}
			return withApp(cmd, false, func(ctx context.Context, a *app) error {
				descs, err := a.profiles.ListProfiles(ctx, user, offset, limit)
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), descs)
			})
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "number of profiles to skip")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of profiles")
	return cmd
}

func newProfileChangesCommand(caller *callerFlags) *cobra.Command {
	var offset, limit int

	cmd := &cobra.Command{
		Use:   "changes PROFILE_ID",
		Short: "Show the change log of a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := caller.user()
			if err != nil {
				return err
			}
			return withApp(cmd, false, func(ctx context.Context, a *app) error {
				changes, err := a.profiles.ListChanges(ctx, user, args[0], offset, limit)
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), changes)
			})
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "number of entries to skip")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of entries")
	return cmd
}
