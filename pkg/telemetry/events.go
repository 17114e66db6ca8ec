package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	EventTypeFlightSubmitted = "flight.submitted"
	EventTypeFlightCompleted = "flight.completed"
	EventTypeFlightFailed    = "flight.failed"
	EventTypeStepFailed      = "step.failed"
	EventTypeUndoFailed      = "step.undo_failed"
	EventTypePolicyViolation = "policy.violation"
)

// Event levels, lowest first.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

var levelRank = map[string]int{EventLevelInfo: 0, EventLevelWarning: 1, EventLevelError: 2}

// ErrEventBufferFull is returned by Publish when an async publisher cannot
// keep up. The event is dropped.
var ErrEventBufferFull = errors.New("event buffer full")

// Event is a notable point in a flight's life.
type Event struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Type       string         `json:"type"`
	Level      string         `json:"level"`
	JobID      string         `json:"job_id,omitempty"`
	FlightType string         `json:"flight_type,omitempty"`
	Step       string         `json:"step,omitempty"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"data,omitempty"`
}

// EventSubscriber receives delivered events.
type EventSubscriber func(event Event)

// EventFilter selects the events a subscriber sees.
type EventFilter func(event Event) bool

type subscription struct {
	fn     EventSubscriber
	filter EventFilter
}

// EventPublisher fans events out to in-process subscribers, either inline
// or from a single delivery goroutine. A nil *EventPublisher drops every
// event.
type EventPublisher struct {
	cfg    EventsConfig
	buffer chan Event
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once

	mu   sync.RWMutex
	subs []subscription
}

// NewEventPublisher starts the delivery goroutine when cfg.EnableAsync.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{cfg: cfg}
	if !cfg.Enabled || !cfg.EnableAsync {
		return ep, nil
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("event buffer size must be positive, got %d", cfg.BufferSize)
	}

	ep.buffer = make(chan Event, cfg.BufferSize)
	ep.stop = make(chan struct{})
	ep.done = make(chan struct{})
	go ep.run()
	return ep, nil
}

// Subscribe registers fn for events accepted by filter. A nil filter
// accepts everything.
func (ep *EventPublisher) Subscribe(fn EventSubscriber, filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subs = append(ep.subs, subscription{fn: fn, filter: filter})
}

// Publish stamps and delivers e.
func (ep *EventPublisher) Publish(e Event) error {
	if ep == nil || !ep.cfg.Enabled {
		return nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	if ep.buffer == nil {
		ep.deliver(e)
		return nil
	}
	select {
	case <-ep.stop:
		return errors.New("event publisher stopped")
	default:
	}
	select {
	case ep.buffer <- e:
		return nil
	default:
		return fmt.Errorf("%w: dropped %s for %s", ErrEventBufferFull, e.Type, e.JobID)
	}
}

func (ep *EventPublisher) run() {
	defer close(ep.done)
	for {
		select {
		case e := <-ep.buffer:
			ep.deliver(e)
		case <-ep.stop:
			// Deliver what was accepted before the stop.
			for {
				select {
				case e := <-ep.buffer:
					ep.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliver(e Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, s := range ep.subs {
		if s.filter == nil || s.filter(e) {
			s.fn(e)
		}
	}
}

// Shutdown stops accepting events and waits for buffered ones to be
// delivered.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || ep.stop == nil {
		return nil
	}
	ep.once.Do(func() { close(ep.stop) })

	select {
	case <-ep.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

func (ep *EventPublisher) PublishFlightSubmitted(jobID, flightType, user string) error {
	return ep.Publish(Event{
		Type:       EventTypeFlightSubmitted,
		Level:      EventLevelInfo,
		JobID:      jobID,
		FlightType: flightType,
		Message:    fmt.Sprintf("Flight %s (%s) submitted by %s", jobID, flightType, user),
		Data:       map[string]any{"user": user},
	})
}

func (ep *EventPublisher) PublishFlightCompleted(jobID, flightType, status string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:       EventTypeFlightCompleted,
		Level:      EventLevelInfo,
		JobID:      jobID,
		FlightType: flightType,
		Message:    fmt.Sprintf("Flight %s completed with status %s", jobID, status),
		Data:       map[string]any{"status": status, "duration_seconds": duration.Seconds()},
	})
}

func (ep *EventPublisher) PublishFlightFailed(jobID, flightType, reason string) error {
	return ep.Publish(Event{
		Type:       EventTypeFlightFailed,
		Level:      EventLevelError,
		JobID:      jobID,
		FlightType: flightType,
		Message:    fmt.Sprintf("Flight %s failed: %s", jobID, reason),
		Data:       map[string]any{"reason": reason},
	})
}

// PublishStepFailed reports the step whose fatal result started the undo
// sweep.
func (ep *EventPublisher) PublishStepFailed(jobID, step, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeStepFailed,
		Level:   EventLevelError,
		JobID:   jobID,
		Step:    step,
		Message: fmt.Sprintf("Step %s failed: %s", step, reason),
		Data:    map[string]any{"reason": reason},
	})
}

// PublishUndoFailed reports a compensation that gave up. The sweep goes on.
func (ep *EventPublisher) PublishUndoFailed(jobID, step, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeUndoFailed,
		Level:   EventLevelWarning,
		JobID:   jobID,
		Step:    step,
		Message: fmt.Sprintf("Undo of step %s failed: %s", step, reason),
		Data:    map[string]any{"reason": reason},
	})
}

func (ep *EventPublisher) PublishPolicyViolation(objectID, policyName, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		Level:   EventLevelError,
		Message: fmt.Sprintf("Policy %s rejected %s: %s", policyName, objectID, reason),
		Data:    map[string]any{"object": objectID, "policy": policyName, "reason": reason},
	})
}

// FilterByLevel accepts events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	floor := levelRank[minLevel]
	return func(e Event) bool { return levelRank[e.Level] >= floor }
}

// FilterByJobID accepts the events of one flight.
func FilterByJobID(jobID string) EventFilter {
	return func(e Event) bool { return e.JobID == jobID }
}
