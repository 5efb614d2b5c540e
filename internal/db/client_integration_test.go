package db

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/saviobatista/atc-online/internal/db/migrations"
	"github.com/saviobatista/atc-online/internal/types"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("atc_online"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(postgresContainer); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	})

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	client, err := New(connStr)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	if err := migrations.New(client.db).Migrate(ctx, migrations.All); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return client
}

func TestClient_Integration_ControllerSessions(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client := setupPostgres(t)
	ctx := context.Background()

	if err := client.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	session := &types.ControllerSession{
		SessionID: uuid.New().String(),
		CID:       1234567,
		Name:      "Jane Doe",
		Callsign:  "PHX_TWR",
		Position:  "Phoenix Tower",
		Rating:    3,
		StartedAt: time.Now().UTC().Add(-time.Hour).Truncate(time.Second),
	}
	if err := client.CreateControllerSession(ctx, session); err != nil {
		t.Fatalf("CreateControllerSession failed: %v", err)
	}

	open, err := client.GetOpenControllerSessions(ctx)
	if err != nil {
		t.Fatalf("GetOpenControllerSessions failed: %v", err)
	}
	if len(open) != 1 || open[0].SessionID != session.SessionID || open[0].Position != "Phoenix Tower" {
		t.Fatalf("Unexpected open sessions: %+v", open)
	}

	if err := client.EndControllerSession(ctx, session.SessionID, time.Now().UTC()); err != nil {
		t.Fatalf("EndControllerSession failed: %v", err)
	}

	open, err = client.GetOpenControllerSessions(ctx)
	if err != nil {
		t.Fatalf("GetOpenControllerSessions failed: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("Expected no open sessions, got %d", len(open))
	}

	var hours float64
	if err := client.db.QueryRowContext(ctx,
		`SELECT hours FROM controller_hours_monthly WHERE cid = $1`, session.CID,
	).Scan(&hours); err != nil {
		t.Fatalf("Failed to read monthly hours: %v", err)
	}
	if hours < 0.9 || hours > 1.1 {
		t.Errorf("Expected about one hour, got %f", hours)
	}
}

func TestClient_Integration_StoreFeedStats(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client := setupPostgres(t)
	ctx := context.Background()

	stats := types.FeedStats{
		Snapshots:        10,
		PilotUpdates:     200,
		ActivePilots:     20,
		StaffedPositions: []string{"Phoenix Tower"},
		ProcessingTime:   250 * time.Millisecond,
		Uptime:           time.Minute,
	}
	if err := client.StoreFeedStats(ctx, stats); err != nil {
		t.Fatalf("StoreFeedStats failed: %v", err)
	}

	var count int
	if err := client.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feed_stats`).Scan(&count); err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 row, got %d", count)
	}
}
