package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bpmanager/bpmanager/pkg/profile"
	"github.com/bpmanager/bpmanager/pkg/telemetry"
)

// PaoStore persists policy attribute objects.
type PaoStore interface {
	InsertPao(ctx context.Context, pao *profile.Pao) error
	GetPao(ctx context.Context, objectID string) (*profile.Pao, error)
	DeletePao(ctx context.Context, objectID string) (bool, error)
	ListPaos(ctx context.Context, objectIDs []string) ([]*profile.Pao, error)
}

// Service checks PAO inputs against the engine's policies before storing
// them. It implements profile.PolicyService.
type Service struct {
	engine  *Engine
	store   PaoStore
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher
	logger  zerolog.Logger
}

var _ profile.PolicyService = (*Service)(nil)

// NewService creates a PAO service. metrics and events may be nil.
func NewService(engine *Engine, store PaoStore, metrics *telemetry.Metrics, events *telemetry.EventPublisher, logger zerolog.Logger) *Service {
	return &Service{
		engine:  engine,
		store:   store,
		metrics: metrics,
		events:  events,
		logger:  logger.With().Str("component", "policy-service").Logger(),
	}
}

// Check evaluates inputs as if they were attached to objectID.
func (s *Service) Check(ctx context.Context, objectID string, inputs profile.PolicyInputs) (*Result, error) {
	result, err := s.engine.Evaluate(ctx, &Input{
		Object: ObjectRef{
			ID:        objectID,
			Component: profile.PaoComponent,
			Type:      profile.PaoObjectType,
		},
		Inputs:  inputs.Inputs,
		Context: Context{Operation: "create"},
	})
	if err != nil {
		return nil, err
	}

	denied := result.Denied()
	for _, name := range result.Evaluated {
		s.metrics.RecordPolicyEvaluation(name, !denied[name])
	}
	return result, nil
}

// CreatePao evaluates inputs and stores them as the object's PAO. Rejected
// inputs return an error wrapping profile.ErrPolicyViolation.
func (s *Service) CreatePao(ctx context.Context, objectID string, inputs profile.PolicyInputs) error {
	result, err := s.Check(ctx, objectID, inputs)
	if err != nil {
		return fmt.Errorf("failed to evaluate policies for %s: %w", objectID, err)
	}

	if !result.Allowed {
		var reasons []string
		for _, v := range result.Violations {
			if !v.Severity.blocking() {
				continue
			}
			reasons = append(reasons, v.Message)
			if err := s.events.PublishPolicyViolation(objectID, v.Policy, v.Message); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to publish policy violation")
			}
		}
		s.logger.Warn().
			Str("object_id", objectID).
			Strs("reasons", reasons).
			Msg("Policy attribute object rejected")
		return fmt.Errorf("%w: %s", profile.ErrPolicyViolation, strings.Join(reasons, "; "))
	}

	for _, v := range result.Violations {
		s.logger.Info().Str("object_id", objectID).Str("policy", v.Policy).Msg(v.Message)
	}

	err = s.store.InsertPao(ctx, &profile.Pao{
		ObjectID:   objectID,
		Component:  profile.PaoComponent,
		ObjectType: profile.PaoObjectType,
		Attributes: inputs,
	})
	if err != nil {
		return err
	}

	s.logger.Debug().Str("object_id", objectID).Int("inputs", len(inputs.Inputs)).Msg("Policy attribute object created")
	return nil
}

// GetPao returns profile.ErrPaoNotFound if the object has none.
func (s *Service) GetPao(ctx context.Context, objectID string) (*profile.Pao, error) {
	return s.store.GetPao(ctx, objectID)
}

// DeletePao removes the object's PAO. A missing PAO is not an error.
func (s *Service) DeletePao(ctx context.Context, objectID string) error {
	removed, err := s.store.DeletePao(ctx, objectID)
	if err != nil && !errors.Is(err, profile.ErrPaoNotFound) {
		return err
	}
	s.logger.Debug().Str("object_id", objectID).Bool("removed", removed).Msg("Policy attribute object deleted")
	return nil
}

// ListPaos returns the PAOs of the given objects.
func (s *Service) ListPaos(ctx context.Context, objectIDs []string) ([]*profile.Pao, error) {
	return s.store.ListPaos(ctx, objectIDs)
}
