package policy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/bpmanager/bpmanager/pkg/profile"
	"github.com/bpmanager/bpmanager/pkg/stores"
	"github.com/bpmanager/bpmanager/pkg/telemetry"
)

func setupTestService(t *testing.T) (*Service, *stores.SQLiteStore) {
	t.Helper()

	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return NewService(newTestEngine(t, "us-central1", "us-east1"), store, nil, nil, zerolog.Nop()), store
}

func TestService_CreateGetDelete(t *testing.T) {
	svc, store := setupTestService(t)
	ctx := context.Background()

	inputs := profile.PolicyInputs{Inputs: []profile.PolicyInput{
		terra(RegionConstraintPolicy, region("us-east1")),
		terra(GroupConstraintPolicy, profile.PolicyPair{Key: GroupKey, Value: "researchers"}),
	}}

	if err := svc.CreatePao(ctx, "profile-1", inputs); err != nil {
		t.Fatalf("CreatePao failed: %v", err)
	}
	if err := svc.CreatePao(ctx, "profile-1", inputs); !errors.Is(err, profile.ErrDuplicatePao) {
		t.Fatalf("Expected ErrDuplicatePao, got %v", err)
	}

	pao, err := svc.GetPao(ctx, "profile-1")
	if err != nil {
		t.Fatalf("GetPao failed: %v", err)
	}
	if pao.Component != profile.PaoComponent || pao.ObjectType != profile.PaoObjectType {
		t.Errorf("Unexpected PAO ownership: %+v", pao)
	}
	if len(pao.Attributes.Inputs) != 2 || pao.Attributes.Inputs[0].Key() != "terra:region-constraint" {
		t.Errorf("Unexpected attributes: %+v", pao.Attributes)
	}

	list, err := svc.ListPaos(ctx, []string{"profile-1", "profile-2"})
	if err != nil {
		t.Fatalf("ListPaos failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("Expected 1 PAO, got %d", len(list))
	}

	if err := svc.DeletePao(ctx, "profile-1"); err != nil {
		t.Fatalf("DeletePao failed: %v", err)
	}
	if err := svc.DeletePao(ctx, "profile-1"); err != nil {
		t.Fatalf("Deleting a missing PAO should succeed, got %v", err)
	}
	if _, err := store.GetPao(ctx, "profile-1"); !errors.Is(err, profile.ErrPaoNotFound) {
		t.Errorf("Expected ErrPaoNotFound, got %v", err)
	}
}

func TestService_CreatePaoViolation(t *testing.T) {
	svc, store := setupTestService(t)
	ctx := context.Background()

	inputs := profile.PolicyInputs{Inputs: []profile.PolicyInput{
		terra(RegionConstraintPolicy, region("antarctica-1")),
	}}

	err := svc.CreatePao(ctx, "profile-1", inputs)
	if !errors.Is(err, profile.ErrPolicyViolation) {
		t.Fatalf("Expected ErrPolicyViolation, got %v", err)
	}
	if !strings.Contains(err.Error(), "antarctica-1") {
		t.Errorf("Expected the rejected region in %q", err.Error())
	}
	if _, err := store.GetPao(ctx, "profile-1"); !errors.Is(err, profile.ErrPaoNotFound) {
		t.Errorf("Rejected PAO should not be stored, got %v", err)
	}
}

func TestService_CheckRecordsMetrics(t *testing.T) {
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: true, Namespace: "bpm_test"})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	svc, _ := setupTestService(t)
	svc.metrics = metrics

	result, err := svc.Check(context.Background(), "profile-1", profile.PolicyInputs{Inputs: []profile.PolicyInput{
		terra(GroupConstraintPolicy),
	}})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if result.Allowed {
		t.Fatal("Expected group constraint without group to be rejected")
	}

	families, err := metrics.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	var denied float64
	for _, mf := range families {
		if mf.GetName() != "bpm_test_policy_evaluations_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["policy"] == "group-constraint" && labels["result"] == "deny" {
				denied += m.GetCounter().GetValue()
			}
		}
	}
	if denied != 1 {
		t.Errorf("Expected one denied group-constraint evaluation, got %v", denied)
	}
}
