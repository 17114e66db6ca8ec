package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/bpmanager/bpmanager/pkg/engine"
	"github.com/bpmanager/bpmanager/pkg/profile"
	"github.com/bpmanager/bpmanager/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            ":memory:", // Use in-memory database for example
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		log.Fatal(err)
	}

	// Initialize the database connection
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}

	// Run migrations
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_UpdateFlight demonstrates optimistic locking of flight records.
func ExampleSQLiteStore_UpdateFlight() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	now := time.Now()
	rec := &engine.FlightRecord{
		JobID:      "job-001",
		FlightType: "CreateProfileFlight",
		Input:      engine.NewFlightMap(),
		Working:    engine.NewFlightMap(),
		Direction:  engine.DirectionDo,
		Status:     engine.StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := store.CreateFlight(ctx, rec); err != nil {
		log.Fatal(err)
	}

	stale := *rec

	rec.Status = engine.StatusRunning
	if err := store.UpdateFlight(ctx, rec); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("version: %d\n", rec.Version)

	stale.Status = engine.StatusFailed
	err := store.UpdateFlight(ctx, &stale)
	fmt.Printf("stale write rejected: %v\n", err != nil)
	// Output:
	// version: 1
	// stale write rejected: true
}

// ExampleSQLiteStore_ListChanges demonstrates the profile change log.
func ExampleSQLiteStore_ListChanges() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	_, err := store.CreateProfile(ctx, &profile.BillingProfile{
		ID:               "profile-1",
		DisplayName:      "Lab billing",
		Biller:           "direct",
		CloudPlatform:    profile.CloudPlatformGCP,
		BillingAccountID: "ABCDEF-123456-000000",
	}, "alice@example.com")
	if err != nil {
		log.Fatal(err)
	}

	desc := "Shared lab account"
	if _, err := store.UpdateProfile(ctx, "profile-1", profile.UpdateRequest{Description: &desc}, "alice@example.com"); err != nil {
		log.Fatal(err)
	}

	changes, _ := store.ListChanges(ctx, "profile-1", 0, 0)
	for _, c := range changes {
		fmt.Printf("%s by %s\n", c.ChangeType, c.ChangeBy)
	}
	// Output:
	// CREATE by alice@example.com
	// UPDATE by alice@example.com
}
