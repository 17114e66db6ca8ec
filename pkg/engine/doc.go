// Package engine provides a durable saga executor for multi-step flights.
//
// # Overview
//
// A flight is an ordered list of steps registered under a flight type. Each
// step has a forward action (Do) and a compensating action (Undo). The
// executor drives a flight forward one step at a time and persists its
// progress after every step, so a restarted process can resume a flight
// from the last recorded position.
//
// When a step reports FATAL, or exhausts its retry budget, the executor
// switches the flight into the undo direction and runs the Undo action of
// every completed step in reverse order. The failing step itself is not
// undone. Undo failures are recorded and logged but never stop the sweep.
//
// # Core Types
//
//   - Step: a unit of work with Do and Undo actions
//   - StepResult: the outcome of a single step invocation (SUCCESS, RETRY, FATAL)
//   - FlightMap: a JSON-serializable key/value map for input and working state
//   - FlightContext: the per-invocation view of a flight handed to a step
//   - FlightRecord: the persisted state of a flight
//   - Registry: maps flight type names to step factories
//   - Executor: runs flights on a worker pool backed by a Queue and a FlightStore
//
// # Flight Lifecycle
//
//	QUEUED -> RUNNING -> SUCCEEDED
//	                  -> WAITING_RETRY -> RUNNING
//	                  -> (undo sweep) -> FAILED
//
// A flight that reaches SUCCEEDED or FAILED never changes state again.
//
// # Usage
//
//	registry := engine.NewRegistry()
//	registry.MustRegister("CreateWidgetFlight", func(in engine.FlightMap) ([]engine.Step, error) {
//	    return []engine.Step{&reserveStep{}, &createStep{}}, nil
//	})
//
//	exec := engine.NewExecutor(store, registry, engine.NewChannelQueue(128), engine.ExecutorConfig{
//	    Workers: 4,
//	    Logger:  logger,
//	})
//	if err := exec.Start(ctx); err != nil {
//	    return err
//	}
//	defer exec.Stop(context.Background())
//
//	rec := &engine.FlightRecord{JobID: id, FlightType: "CreateWidgetFlight", Input: input}
//	if err := exec.Submit(ctx, rec); err != nil {
//	    return err
//	}
//	final, err := exec.Wait(ctx, id)
//
// # Error Handling
//
// Errors are classified with FlightError. A FlightError carries a kind
// (validation, retryable, fatal, undo) and an optional code. Two FlightErrors
// compare equal under errors.Is when kind and code match, so coded sentinels
// keep working after an error has been persisted and reloaded from a
// FlightRecord.
package engine
