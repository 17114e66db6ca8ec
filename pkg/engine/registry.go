package engine

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps flight type names to step factories.
type Registry struct {
	mu      sync.RWMutex
	flights map[string]*registration
}

type registration struct {
	factory Factory
	retry   *RetryPolicy
}

// RegisterOption customizes a flight registration.
type RegisterOption func(*registration)

// WithRetryPolicy overrides the executor retry policy for one flight type.
func WithRetryPolicy(policy RetryPolicy) RegisterOption {
	return func(r *registration) {
		p := policy
		r.retry = &p
	}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{flights: make(map[string]*registration)}
}

// Register adds a flight type. Registering the same name twice is an error.
func (r *Registry) Register(flightType string, factory Factory, opts ...RegisterOption) error {
	if flightType == "" {
		return fmt.Errorf("flight type cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory for flight type %s cannot be nil", flightType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.flights[flightType]; exists {
		return fmt.Errorf("flight type already registered: %s", flightType)
	}

	reg := &registration{factory: factory}
	for _, opt := range opts {
		opt(reg)
	}
	r.flights[flightType] = reg
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(flightType string, factory Factory, opts ...RegisterOption) {
	if err := r.Register(flightType, factory, opts...); err != nil {
		panic(err)
	}
}

// Has reports whether a flight type is registered.
func (r *Registry) Has(flightType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.flights[flightType]
	return ok
}

// Types returns the registered flight type names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.flights))
	for t := range r.flights {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Build constructs the step list for a flight. The same input always yields
// the same steps, which lets a resumed flight continue at its cursor.
func (r *Registry) Build(flightType string, input FlightMap) ([]Step, error) {
	r.mu.RLock()
	reg, ok := r.flights[flightType]
	r.mu.RUnlock()

	if !ok {
		return nil, NewValidationError(fmt.Sprintf("unknown flight type: %s", flightType), nil).
			WithCode(ErrCodeUnknownFlightType)
	}

	steps, err := reg.factory(input)
	if err != nil {
		return nil, err
	}
	for i, s := range steps {
		if s == nil {
			return nil, NewValidationError(fmt.Sprintf("flight %s has nil step at index %d", flightType, i), nil).
				WithCode(ErrCodeFlightBuild)
		}
	}
	return steps, nil
}

func (r *Registry) retryPolicy(flightType string) (RetryPolicy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.flights[flightType]
	if !ok || reg.retry == nil {
		return RetryPolicy{}, false
	}
	return *reg.retry, true
}
