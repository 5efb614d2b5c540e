package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/saviobatista/atc-online/internal/feed"
	"github.com/saviobatista/atc-online/internal/nats"
	"github.com/saviobatista/atc-online/internal/types"
	"github.com/testcontainers/testcontainers-go"
	natscontainer "github.com/testcontainers/testcontainers-go/modules/nats"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestIngestFeed_Integration polls a fake data feed and reads the snapshot
// back from a real NATS server
func TestIngestFeed_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	natsContainer, err := natscontainer.Run(ctx, "nats:2.9-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server is ready"),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start NATS container: %v", err)
	}
	defer func() {
		if err := testcontainers.TerminateContainer(natsContainer); err != nil {
			t.Logf("Failed to terminate NATS container: %v", err)
		}
	}()

	natsURL, err := natsContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get NATS connection string: %v", err)
	}

	client, err := nats.New(natsURL)
	if err != nil {
		t.Fatalf("Failed to create NATS client: %v", err)
	}
	defer client.Close()

	received := make(chan *types.FeedSnapshot, 1)
	if err := client.SubscribeSnapshots(func(snap *types.FeedSnapshot) {
		received <- snap
	}); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(testFeed))
	}))
	defer srv.Close()

	poller := feed.NewPoller("datafeed-integration", srv.URL, time.Second)
	if err := ingestFeed(ctx, poller, testTable(t), client); err != nil {
		t.Fatalf("ingestFeed() failed: %v", err)
	}

	select {
	case snap := <-received:
		if len(snap.Pilots) != 1 || snap.Pilots[0].Callsign != "AAL123" {
			t.Errorf("Unexpected pilots %+v", snap.Pilots)
		}
		if len(snap.Controllers) != 1 || snap.Controllers[0].Callsign != "PHX_TWR" {
			t.Errorf("Unexpected controllers %+v", snap.Controllers)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for snapshot")
	}
}
