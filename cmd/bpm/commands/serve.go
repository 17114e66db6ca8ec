package commands

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bpmanager/bpmanager/pkg/engine"
	"github.com/bpmanager/bpmanager/pkg/job"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the flight executor",
		Long: `Run the flight executor until interrupted.

On start, serve:
  - applies pending database migrations
  - re-queues flights left RUNNING by a crashed instance, once its
    owner lease (engine.owner_lease) has expired or at once when the
    instance id is unchanged
  - starts the worker pool
  - serves /metrics and /status on the metrics listen address
  - reloads policy files on change when policy.watch is set`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, false, runServe)
		},
	}
	return cmd
}

func runServe(ctx context.Context, a *app) error {
	g, ctx := errgroup.WithContext(ctx)

	if err := a.start(ctx); err != nil {
		return err
	}
	recovered, err := a.executor.Recover(ctx)
	if err != nil {
		return err
	}
	a.logger.Info().
		Int("recovered", recovered).
		Str("instance", a.executor.InstanceID()).
		Str("queue", a.cfg.Queue.Backend).
		Msg("Billing profile manager started")

	g.Go(func() error {
		return a.telemetry.Metrics.ServeMetrics(ctx, map[string]http.Handler{
			"/status": statusHandler(a),
		})
	})

	if a.cfg.Policy.Watch && len(a.cfg.Policy.Paths) > 0 {
		g.Go(func() error {
			return a.policyEngine.Watch(ctx, a.cfg.Policy.Paths)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info().Msg("Shutting down")
		return nil
	})

	return g.Wait()
}

type statusResponse struct {
	OK         bool           `json:"ok"`
	Instance   string         `json:"instance"`
	Database   string         `json:"database"`
	QueueDepth int            `json:"queue_depth"`
	Active     map[string]int `json:"active_flights"`
}

// statusHandler reports database health, queue depth and active flights
// per status.
func statusHandler(a *app) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		resp := statusResponse{
			OK:       true,
			Instance: a.executor.InstanceID(),
			Database: "ok",
			Active:   make(map[string]int),
		}

		if err := a.store.HealthCheck(ctx); err != nil {
			resp.OK = false
			resp.Database = err.Error()
		}
		if depth, err := a.queue.Len(ctx); err == nil {
			resp.QueueDepth = depth
		}
		for _, status := range engine.ActiveStatuses() {
			reports, err := a.jobs.EnumerateJobs(ctx, 0, 0, job.Filter{Statuses: []engine.FlightStatus{status}})
			if err != nil {
				resp.OK = false
				continue
			}
			resp.Active[string(status)] = len(reports)
		}

		w.Header().Set("Content-Type", "application/json")
		if !resp.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
}
