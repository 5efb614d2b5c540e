package vatis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/saviobatista/atc-online/internal/types"
)

type published struct {
	channel string
	payload string
}

type mockStore struct {
	atis      map[string]*types.AtisRecord
	ttls      map[string]time.Duration
	active    []string
	published []published
	storeErr  error
}

func newMockStore() *mockStore {
	return &mockStore{
		atis: make(map[string]*types.AtisRecord),
		ttls: make(map[string]time.Duration),
	}
}

func (m *mockStore) StoreAtis(ctx context.Context, atis *types.AtisRecord, ttl time.Duration) error {
	if m.storeErr != nil {
		return m.storeErr
	}
	m.atis[atis.Station] = atis
	m.ttls[atis.Station] = ttl
	return nil
}

func (m *mockStore) AddActiveAtis(ctx context.Context, station string, ttl time.Duration) error {
	for _, s := range m.active {
		if s == station {
			return nil
		}
	}
	m.active = append(m.active, station)
	return nil
}

func (m *mockStore) Publish(ctx context.Context, channel, payload string) error {
	m.published = append(m.published, published{channel, payload})
	return nil
}

func TestIngestor_Ingest_Stored(t *testing.T) {
	store := newMockStore()
	ing := NewIngestor(store, 0)

	outcome, err := ing.Ingest(context.Background(), Payload{
		ConfigProfile: "IDS:D27.A35L.I17R",
		Facility:      "kphx",
		AtisLetter:    "b",
	})
	if err != nil {
		t.Fatalf("Ingest() failed: %v", err)
	}
	if outcome != OutcomeStored {
		t.Fatalf("Expected outcome %q, got %q", OutcomeStored, outcome)
	}

	atis := store.atis["KPHX"]
	if atis == nil {
		t.Fatal("Expected ATIS record for KPHX")
	}
	want := types.AtisRecord{Station: "KPHX", Letter: "B", Dep: "27", Arr: "RNAV 35L, ILS 17R"}
	if *atis != want {
		t.Errorf("Expected %+v, got %+v", want, *atis)
	}
	if store.ttls["KPHX"] != DefaultTTL {
		t.Errorf("Expected TTL %v, got %v", DefaultTTL, store.ttls["KPHX"])
	}
	if len(store.active) != 1 || store.active[0] != "KPHX" {
		t.Errorf("Expected KPHX in active list, got %v", store.active)
	}
	if len(store.published) != 1 || store.published[0] != (published{types.ChannelAtisUpdate, "KPHX"}) {
		t.Errorf("Expected ATIS:UPDATE KPHX, got %v", store.published)
	}
}

func TestIngestor_Ingest_NoMatchingTokens(t *testing.T) {
	store := newMockStore()
	ing := NewIngestor(store, time.Second)

	outcome, err := ing.Ingest(context.Background(), Payload{
		ConfigProfile: "IDS:X22",
		Facility:      "KABQ",
		AtisLetter:    "C",
	})
	if err != nil || outcome != OutcomeStored {
		t.Fatalf("Ingest() = %q, %v", outcome, err)
	}

	atis := store.atis["KABQ"]
	if atis.Dep != "" || atis.Arr != "" {
		t.Errorf("Expected empty runway lists, got %+v", atis)
	}
	if store.ttls["KABQ"] != time.Second {
		t.Errorf("Expected configured TTL, got %v", store.ttls["KABQ"])
	}
}

func TestIngestor_Ingest_Ignored(t *testing.T) {
	store := newMockStore()
	ing := NewIngestor(store, 0)

	outcome, err := ing.Ingest(context.Background(), Payload{
		ConfigProfile: "West Flow",
		Facility:      "KPHX",
		AtisLetter:    "A",
	})
	if err != nil {
		t.Fatalf("Ingest() failed: %v", err)
	}
	if outcome != OutcomeIgnored {
		t.Errorf("Expected outcome %q, got %q", OutcomeIgnored, outcome)
	}
	if len(store.atis) != 0 || len(store.published) != 0 {
		t.Error("Profiles without the marker should not be stored")
	}
}

func TestIngestor_Ingest_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
	}{
		{"missing facility", Payload{ConfigProfile: "IDS:D27", AtisLetter: "A"}},
		{"missing letter", Payload{ConfigProfile: "IDS:D27", Facility: "KPHX"}},
		{"long letter", Payload{ConfigProfile: "IDS:D27", Facility: "KPHX", AtisLetter: "AB"}},
		{"bad facility", Payload{ConfigProfile: "IDS:D27", Facility: "K PHX", AtisLetter: "A"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockStore()
			outcome, err := NewIngestor(store, 0).Ingest(context.Background(), tt.payload)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if outcome != OutcomeInvalid {
				t.Errorf("Expected outcome %q, got %q", OutcomeInvalid, outcome)
			}
			if len(store.atis) != 0 {
				t.Error("Invalid payloads should not be stored")
			}
		})
	}
}

func TestIngestor_Ingest_StoreFailure(t *testing.T) {
	store := newMockStore()
	store.storeErr = errors.New("connection refused")

	outcome, err := NewIngestor(store, 0).Ingest(context.Background(), Payload{
		ConfigProfile: "IDS:D27",
		Facility:      "KPHX",
		AtisLetter:    "A",
	})
	if err == nil {
		t.Fatal("Expected store error")
	}
	if outcome != OutcomeFailed {
		t.Errorf("Expected outcome %q, got %q", OutcomeFailed, outcome)
	}
	if len(store.published) != 0 {
		t.Error("Nothing should be published when the store fails")
	}
}
