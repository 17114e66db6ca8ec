package engine

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how often a step reporting RETRY is re-invoked.
type RetryPolicy struct {
	// MaxAttempts is the total number of invocations, including the first.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts" validate:"gte=1"`

	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`

	// MaxInterval caps the delay between retries.
	MaxInterval time.Duration `mapstructure:"max_interval" yaml:"max_interval"`

	// Multiplier grows the delay after each retry.
	Multiplier float64 `mapstructure:"multiplier" yaml:"multiplier"`

	// RandomizationFactor adds jitter to each delay.
	RandomizationFactor float64 `mapstructure:"randomization_factor" yaml:"randomization_factor"`
}

// DefaultRetryPolicy returns exponential backoff starting at one second,
// doubling, capped at one minute, with 25% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:         5,
		InitialInterval:     time.Second,
		MaxInterval:         time.Minute,
		Multiplier:          2,
		RandomizationFactor: 0.25,
	}
}

// withDefaults fills zero fields from DefaultRetryPolicy.
func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = def.MaxInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.RandomizationFactor < 0 || p.RandomizationFactor > 1 {
		p.RandomizationFactor = def.RandomizationFactor
	}
	return p
}

// NewBackOff returns a fresh backoff for one step. NextBackOff returns
// backoff.Stop once MaxAttempts invocations have been used.
func (p RetryPolicy) NewBackOff() backoff.BackOff {
	p = p.withDefaults()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.Multiplier = p.Multiplier
	eb.RandomizationFactor = p.RandomizationFactor
	eb.MaxElapsedTime = 0
	eb.Reset()

	return backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1))
}
