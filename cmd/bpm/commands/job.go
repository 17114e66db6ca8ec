package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bpmanager/bpmanager/pkg/engine"
	"github.com/bpmanager/bpmanager/pkg/job"
)

func newJobCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect and clean up flights",
	}

	cmd.AddCommand(newJobListCommand())
	cmd.AddCommand(newJobShowCommand())
	cmd.AddCommand(newJobResultCommand())
	cmd.AddCommand(newJobCleanupCommand())
	return cmd
}

func newJobListCommand() *cobra.Command {
	var (
		statuses    []string
		flightType  string
		submittedBy string
		offset      int
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Example: `  bpm job list --status RUNNING --status WAITING_RETRY
  bpm job list --type CreateProfileFlight --limit 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := job.Filter{FlightType: flightType, SubmittedBy: submittedBy}
			for _, s := range statuses {
				st := engine.FlightStatus(strings.ToUpper(s))
				if err := st.Validate(); err != nil {
					return err
				}
				filter.Statuses = append(filter.Statuses, st)
			}

			return withApp(cmd, false, func(ctx context.Context, a *app) error {
				reports, err := a.jobs.EnumerateJobs(ctx, offset, limit, filter)
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), reports)
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "only jobs in these statuses")
	cmd.Flags().StringVar(&flightType, "type", "", "only jobs of this flight type")
	cmd.Flags().StringVar(&submittedBy, "submitted-by", "", "only jobs submitted by this subject")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of jobs to skip")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of jobs")
	return cmd
}

func newJobShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show JOB_ID",
		Short: "Show the status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, false, func(ctx context.Context, a *app) error {
				report, err := a.jobs.RetrieveJob(ctx, args[0])
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), report)
			})
		},
	}
}

type jobResultOutput struct {
	JobID      string              `json:"job_id" yaml:"job_id"`
	Status     string              `json:"status" yaml:"status"`
	StatusCode int                 `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	Response   any                 `json:"response,omitempty" yaml:"response,omitempty"`
	Error      *engine.ErrorRecord `json:"error,omitempty" yaml:"error,omitempty"`
}

func newJobResultCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "result JOB_ID",
		Short: "Show the response or terminal error of a finished job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, false, func(ctx context.Context, a *app) error {
				res, err := a.jobs.RetrieveJobResult(ctx, args[0])
				if err != nil {
					return err
				}

				out := jobResultOutput{
					JobID:      res.JobID,
					Status:     string(res.Status),
					StatusCode: res.StatusCode,
				}
				if len(res.Response) > 0 {
					if err := json.Unmarshal(res.Response, &out.Response); err != nil {
						return fmt.Errorf("failed to decode response of job %s: %w", res.JobID, err)
					}
				}
				out.Error = engine.NewErrorRecord(res.Err)
				return printResult(cmd.OutOrStdout(), out)
			})
		},
	}
}

func newJobCleanupCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete finished jobs",
		Long: `Delete SUCCEEDED and FAILED jobs that completed more than --older-than ago.
Running jobs are never deleted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, false, func(ctx context.Context, a *app) error {
				n, err := a.jobs.Cleanup(ctx, olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d jobs\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "minimum age of deleted jobs")
	return cmd
}
