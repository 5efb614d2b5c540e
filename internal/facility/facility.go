package facility

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/saviobatista/atc-online/internal/redis"
)

// Entry types in a facility file
const (
	TypeAirport  = "airport"
	TypeNeighbor = "neighbor"
	TypePosition = "position"
)

// Entry is one row of a facility file
type Entry struct {
	Code string `csv:"code"`
	Type string `csv:"type"`
	Name string `csv:"name,omitempty"`
}

// Table holds the static facility configuration: the airports the facility
// serves, its neighboring facilities and the callsign prefixes of its
// controller positions
type Table struct {
	airports  []string
	neighbors []string
	positions map[string]string
	airportIx map[string]struct{}
}

// ListStore is the subset of the Redis client used to seed static lists
type ListStore interface {
	SetList(ctx context.Context, key string, items []string) error
}

// Load reads a facility file from disk
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open facility file: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Open loads the facility file at path, or returns an empty table when no
// path is configured
func Open(path string) (*Table, error) {
	if path == "" {
		return New(nil)
	}
	return Load(path)
}

// Parse decodes facility CSV with a code,type,name header
func Parse(r io.Reader) (*Table, error) {
	var entries []Entry

	decoder, err := csvutil.NewDecoder(csv.NewReader(r))
	if err == io.EOF {
		return New(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create facility CSV decoder: %w", err)
	}
	if err := decoder.Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode facility CSV: %w", err)
	}

	return New(entries)
}

// New builds a table from entries. Codes are upper-cased and duplicates
// collapsed, keeping the order of first appearance.
func New(entries []Entry) (*Table, error) {
	t := &Table{
		airports:  []string{},
		neighbors: []string{},
		positions: make(map[string]string),
		airportIx: make(map[string]struct{}),
	}
	seenNeighbor := make(map[string]struct{})

	for i, e := range entries {
		code := strings.ToUpper(strings.TrimSpace(e.Code))
		if code == "" {
			return nil, fmt.Errorf("facility entry %d: empty code", i+1)
		}

		switch strings.ToLower(strings.TrimSpace(e.Type)) {
		case TypeAirport:
			if _, ok := t.airportIx[code]; !ok {
				t.airportIx[code] = struct{}{}
				t.airports = append(t.airports, code)
			}
		case TypeNeighbor:
			if _, ok := seenNeighbor[code]; !ok {
				seenNeighbor[code] = struct{}{}
				t.neighbors = append(t.neighbors, code)
			}
		case TypePosition:
			t.positions[code] = strings.TrimSpace(e.Name)
		default:
			return nil, fmt.Errorf("facility entry %d: unknown type %q", i+1, e.Type)
		}
	}

	return t, nil
}

// Airports returns the facility airports in file order
func (t *Table) Airports() []string {
	return append([]string(nil), t.airports...)
}

// Neighbors returns the neighboring facilities in file order
func (t *Table) Neighbors() []string {
	return append([]string(nil), t.neighbors...)
}

// Positions returns the position callsign prefixes, sorted
func (t *Table) Positions() []string {
	out := make([]string, 0, len(t.positions))
	for p := range t.positions {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// HasAirport reports whether the ICAO code is a facility airport
func (t *Table) HasAirport(code string) bool {
	_, ok := t.airportIx[strings.ToUpper(code)]
	return ok
}

// PositionFor resolves a controller callsign such as PHX_N_APP to the
// position name configured for its prefix
func (t *Table) PositionFor(callsign string) (string, bool) {
	prefix, _, _ := strings.Cut(strings.ToUpper(callsign), "_")
	name, ok := t.positions[prefix]
	if ok && name == "" {
		name = prefix
	}
	return name, ok
}

// SeedStatic writes the airport and neighbor lists read by the snapshot routes
func SeedStatic(ctx context.Context, store ListStore, t *Table) error {
	if err := store.SetList(ctx, redis.KeyAirports, t.Airports()); err != nil {
		return fmt.Errorf("failed to seed airports: %w", err)
	}
	if err := store.SetList(ctx, redis.KeyNeighbors, t.Neighbors()); err != nil {
		return fmt.Errorf("failed to seed neighbors: %w", err)
	}
	return nil
}
