package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/saviobatista/atc-online/internal/facility"
	gobreaker "github.com/sony/gobreaker/v2"
)

const sampleFeed = `{
  "general": {"update_timestamp": "2025-03-01T18:00:05.123Z"},
  "pilots": [
    {"cid": 1, "name": "Inbound", "callsign": "AAL123", "latitude": 33.9, "longitude": -111.2,
     "altitude": 12000, "groundspeed": 280, "heading": 240, "transponder": "4521",
     "flight_plan": {"aircraft": "B738/L", "aircraft_faa": "B738/L", "departure": "KDFW", "arrival": "KPHX",
       "altitude": "35000", "route": "BOOVE4 DRK EAGUL6", "remarks": "/v/"}},
    {"cid": 2, "name": "Outbound", "callsign": "SWA456", "latitude": 33.4, "longitude": -112.0,
     "altitude": 1100, "groundspeed": 0, "heading": 75, "transponder": "1200",
     "flight_plan": {"aircraft": "B737", "aircraft_faa": "", "departure": "kphx", "arrival": "KLAS",
       "altitude": "FL330", "route": "", "remarks": ""}},
    {"cid": 3, "name": "Elsewhere", "callsign": "DAL789", "latitude": 40.6, "longitude": -73.7,
     "altitude": 30000, "groundspeed": 450, "heading": 90, "transponder": "2000",
     "flight_plan": {"aircraft_faa": "A321", "departure": "KJFK", "arrival": "KBOS"}},
    {"cid": 4, "name": "No Plan", "callsign": "N123AB", "latitude": 33.4, "longitude": -112.0,
     "altitude": 1200, "groundspeed": 0, "heading": 0, "transponder": "1200", "flight_plan": null}
  ],
  "controllers": [
    {"cid": 10, "name": "Tower", "callsign": "PHX_TWR", "frequency": "118.700", "rating": 3,
     "logon_time": "2025-03-01T17:00:00Z"},
    {"cid": 11, "name": "Atis Guy", "callsign": "PHX_ATIS", "frequency": "127.575", "rating": 3,
     "logon_time": "2025-03-01T17:00:00Z"},
    {"cid": 12, "name": "Other", "callsign": "LAX_TWR", "frequency": "133.900", "rating": 5,
     "logon_time": "2025-03-01T17:00:00Z"},
    {"cid": 13, "name": "Odd Rating", "callsign": "ABQ_APP", "frequency": "134.800", "rating": 99,
     "logon_time": "2025-03-01T17:00:00Z"}
  ],
  "atis": [
    {"callsign": "KPHX_ATIS", "atis_code": "b"},
    {"callsign": "KLAX_ATIS", "atis_code": "C"},
    {"callsign": "KABQ_ATIS", "atis_code": null}
  ]
}`

func testTable(t *testing.T) *facility.Table {
	t.Helper()
	table, err := facility.New([]facility.Entry{
		{Code: "KPHX", Type: facility.TypeAirport},
		{Code: "KABQ", Type: facility.TypeAirport},
		{Code: "PHX", Type: facility.TypePosition, Name: "Phoenix"},
		{Code: "ABQ", Type: facility.TypePosition, Name: "Albuquerque"},
	})
	if err != nil {
		t.Fatalf("Failed to build table: %v", err)
	}
	return table
}

func TestNormalize_FiltersToFacility(t *testing.T) {
	snap, err := Normalize([]byte(sampleFeed), testTable(t))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	want := time.Date(2025, 3, 1, 18, 0, 5, 123000000, time.UTC)
	if !snap.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", snap.Timestamp, want)
	}

	if len(snap.Pilots) != 2 {
		t.Fatalf("Expected 2 facility pilots, got %+v", snap.Pilots)
	}
	inbound := snap.Pilots[0]
	if inbound.Callsign != "AAL123" || inbound.Dest != "KPHX" || inbound.Code != "4521" ||
		inbound.Speed != 280 || inbound.PlannedCruise != "35000" || inbound.Route != "BOOVE4 DRK EAGUL6" {
		t.Errorf("Unexpected inbound pilot: %+v", inbound)
	}
	if snap.Pilots[1].Callsign != "SWA456" || snap.Pilots[1].Aircraft != "B737" {
		t.Errorf("Expected SWA456 with aircraft fallback, got %+v", snap.Pilots[1])
	}

	if len(snap.Controllers) != 2 {
		t.Fatalf("Expected 2 facility controllers, got %+v", snap.Controllers)
	}
	tower := snap.Controllers[0]
	if tower.Callsign != "PHX_TWR" || tower.Position != "Phoenix" || tower.RatingShort != "S2" || tower.RatingLong != "Student 2" {
		t.Errorf("Unexpected tower controller: %+v", tower)
	}
	if snap.Controllers[1].RatingShort != "Unknown" {
		t.Errorf("Out of range rating should map to Unknown, got %s", snap.Controllers[1].RatingShort)
	}

	if len(snap.Atis) != 2 {
		t.Fatalf("Expected 2 facility ATIS stations, got %+v", snap.Atis)
	}
	if snap.Atis[0].Station != "KPHX" || snap.Atis[0].Letter != "B" {
		t.Errorf("Unexpected KPHX ATIS: %+v", snap.Atis[0])
	}
	if snap.Atis[1].Station != "KABQ" || snap.Atis[1].Letter != "" {
		t.Errorf("Unexpected KABQ ATIS: %+v", snap.Atis[1])
	}
}

func TestNormalize_NoAirportsKeepsAllPilots(t *testing.T) {
	table, err := facility.New(nil)
	if err != nil {
		t.Fatal(err)
	}

	snap, err := Normalize([]byte(sampleFeed), table)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if len(snap.Pilots) != 4 {
		t.Errorf("Expected every pilot, got %d", len(snap.Pilots))
	}
	if len(snap.Controllers) != 0 {
		t.Errorf("Expected no controllers without positions, got %d", len(snap.Controllers))
	}
}

func TestNormalize_EmptyAndInvalid(t *testing.T) {
	table := testTable(t)

	snap, err := Normalize([]byte(`{}`), table)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if snap.Pilots == nil || snap.Controllers == nil || snap.Atis == nil {
		t.Error("Expected empty, non-nil slices")
	}
	if snap.Timestamp.IsZero() {
		t.Error("Expected a timestamp when the feed has none")
	}

	if _, err := Normalize([]byte(`{"pilots": "nope"`), table); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestRatings(t *testing.T) {
	tests := []struct {
		rating int
		short  string
		long   string
	}{
		{1, "OBS", "Observer"},
		{5, "C1", "Controller"},
		{12, "ADM", "Administrator"},
		{-1, "Unknown", "Unknown"},
		{13, "Unknown", "Unknown"},
	}
	for _, tt := range tests {
		if got := RatingShort(tt.rating); got != tt.short {
			t.Errorf("RatingShort(%d) = %s, want %s", tt.rating, got, tt.short)
		}
		if got := RatingLong(tt.rating); got != tt.long {
			t.Errorf("RatingLong(%d) = %s, want %s", tt.rating, got, tt.long)
		}
	}
}

func TestDecodeMetars(t *testing.T) {
	data := `[
	  {"icaoId": "KPHX", "rawOb": "KPHX 011751Z 27008KT 10SM FEW200 24/M04 A2998", "obsTime": 1740851460},
	  {"icaoId": "kabq", "rawOb": " KABQ 011752Z 25012KT 10SM CLR 14/M08 A3001 ", "obsTime": 1740851520},
	  {"icaoId": "KPHX", "rawOb": "KPHX 011651Z 26006KT 10SM CLR 22/M04 A2999", "obsTime": 1740847860},
	  {"icaoId": "", "rawOb": "garbage", "obsTime": 0},
	  {"icaoId": "KTUS", "rawOb": "", "obsTime": 0}
	]`

	reports, err := DecodeMetars([]byte(data))
	if err != nil {
		t.Fatalf("DecodeMetars failed: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("Expected 2 reports, got %+v", reports)
	}
	if reports[0].Station != "KPHX" || !strings.Contains(reports[0].Raw, "011751Z") {
		t.Errorf("Expected the first KPHX report, got %+v", reports[0])
	}
	if reports[1].Station != "KABQ" || reports[1].Raw != "KABQ 011752Z 25012KT 10SM CLR 14/M08 A3001" {
		t.Errorf("Unexpected KABQ report: %+v", reports[1])
	}
	if !reports[0].Timestamp.Equal(time.Unix(1740851460, 0)) {
		t.Errorf("Unexpected timestamp %v", reports[0].Timestamp)
	}

	if _, err := DecodeMetars([]byte(`{"error": "bad"}`)); err == nil {
		t.Error("Expected error for a non-array response")
	}
}

func TestMetarURL(t *testing.T) {
	got, err := MetarURL("https://aviationweather.gov/api/data/metar", []string{"KPHX", "KABQ"})
	if err != nil {
		t.Fatalf("MetarURL failed: %v", err)
	}
	want := "https://aviationweather.gov/api/data/metar?format=json&ids=KPHX%2CKABQ"
	if got != want {
		t.Errorf("MetarURL = %s, want %s", got, want)
	}

	if _, err := MetarURL("://bad", nil); err == nil {
		t.Error("Expected error for an invalid base URL")
	}
}

func TestPoller_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Expected JSON Accept header, got %q", r.Header.Get("Accept"))
		}
		_, _ = w.Write([]byte(`{"pilots":[]}`))
	}))
	defer srv.Close()

	p := NewPoller("test-feed", srv.URL, time.Second)
	body, err := p.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(body) != `{"pilots":[]}` {
		t.Errorf("Unexpected body %q", body)
	}
	if p.URL() != srv.URL {
		t.Errorf("URL() = %s, want %s", p.URL(), srv.URL)
	}
}

func TestPoller_BreakerOpensAfterFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewPoller("test-breaker", srv.URL, time.Second)
	for i := 0; i < 5; i++ {
		if _, err := p.Fetch(context.Background()); err == nil {
			t.Fatalf("Fetch %d should fail", i)
		}
	}
	if p.State() != gobreaker.StateOpen {
		t.Fatalf("Expected open breaker, got %s", p.State())
	}

	_, err := p.Fetch(context.Background())
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("Expected ErrOpenState, got %v", err)
	}
	if hits.Load() != 5 {
		t.Errorf("Open breaker should not reach the server, got %d hits", hits.Load())
	}
}

func TestPoller_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := NewPoller("test-timeout", srv.URL, 50*time.Millisecond)
	if _, err := p.Fetch(context.Background()); err == nil {
		t.Error("Expected timeout error")
	}
}
