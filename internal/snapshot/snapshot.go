// Package snapshot answers one-shot reads of the current feed state
// directly from Redis.
package snapshot

import (
	"context"
	"fmt"
	"strings"

	"github.com/saviobatista/atc-online/internal/redis"
	"github.com/saviobatista/atc-online/internal/types"
)

// Store is the subset of the Redis client read by the service
type Store interface {
	GetList(ctx context.Context, key string) ([]string, error)
	GetPilot(ctx context.Context, callsign string) (*types.PilotRecord, error)
	GetAtis(ctx context.Context, station string) (*types.AtisRecord, error)
	GetMetar(ctx context.Context, station string) (string, bool, error)
	ActiveAtis(ctx context.Context) ([]string, error)
	GetControllers(ctx context.Context) ([]types.ControllerPosition, error)
}

// Service serves point-in-time reads. Every method is a pure lookup.
type Service struct {
	store Store
}

// New creates a snapshot service
func New(store Store) *Service {
	return &Service{store: store}
}

// GetOnlinePilots returns the callsigns in the pilots list. The list is
// rebuilt on every feed poll and may briefly disagree with individual
// pilot records.
func (s *Service) GetOnlinePilots(ctx context.Context) ([]string, error) {
	return s.store.GetList(ctx, redis.KeyPilots)
}

// GetPilot returns the stored record, or nil if the callsign is not tracked
func (s *Service) GetPilot(ctx context.Context, callsign string) (*types.PilotRecord, error) {
	return s.store.GetPilot(ctx, callsign)
}

// GetActiveAirports returns the facility airports
func (s *Service) GetActiveAirports(ctx context.Context) ([]string, error) {
	return s.store.GetList(ctx, redis.KeyAirports)
}

// GetNeighboringFacilities returns the neighboring facility codes
func (s *Service) GetNeighboringFacilities(ctx context.Context) ([]string, error) {
	return s.store.GetList(ctx, redis.KeyNeighbors)
}

// GetActiveAtis returns the stations with an unexpired ATIS record
func (s *Service) GetActiveAtis(ctx context.Context) ([]string, error) {
	return s.store.ActiveAtis(ctx)
}

// GetStationWeatherAndAtis bundles the station's METAR and ATIS. Either
// half is left nil when its record is absent, and empty runway lists are
// reported as nil.
func (s *Service) GetStationWeatherAndAtis(ctx context.Context, station string) (types.StationBundle, error) {
	station = strings.ToUpper(station)
	var bundle types.StationBundle

	metar, found, err := s.store.GetMetar(ctx, station)
	if err != nil {
		return bundle, fmt.Errorf("failed to read METAR for %s: %w", station, err)
	}
	if found {
		bundle.Metar = &metar
	}

	atis, err := s.store.GetAtis(ctx, station)
	if err != nil {
		return bundle, fmt.Errorf("failed to read ATIS for %s: %w", station, err)
	}
	if atis != nil {
		bundle.Dep = nonEmpty(atis.Dep)
		bundle.Arr = nonEmpty(atis.Arr)
		bundle.Letter = nonEmpty(atis.Letter)
	}

	return bundle, nil
}

// nonEmpty maps an empty ATIS field to null
func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// GetOnline returns the records of every listed pilot plus the online
// facility controllers. Pilots listed without a record are skipped.
func (s *Service) GetOnline(ctx context.Context) (types.Online, error) {
	online := types.Online{
		Pilots: []types.PilotRecord{},
		Atc:    []types.ControllerPosition{},
	}

	callsigns, err := s.store.GetList(ctx, redis.KeyPilots)
	if err != nil {
		return online, err
	}
	for _, cs := range callsigns {
		p, err := s.store.GetPilot(ctx, cs)
		if err != nil {
			return online, err
		}
		if p != nil {
			online.Pilots = append(online.Pilots, *p)
		}
	}

	controllers, err := s.store.GetControllers(ctx)
	if err != nil {
		return online, err
	}
	online.Atc = append(online.Atc, controllers...)

	return online, nil
}
