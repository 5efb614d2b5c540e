package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/saviobatista/atc-online/internal/logging"
	"github.com/saviobatista/atc-online/internal/vatis"
)

// maxVatisBody bounds the webhook body
const maxVatisBody = 64 << 10

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		logging.Error().Err(err).Int("status", status).Msg(message)
	}
	respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleAircraft(w http.ResponseWriter, r *http.Request) {
	pilots, err := s.snapshots.GetOnlinePilots(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read pilots", err)
		return
	}
	respondJSON(w, http.StatusOK, pilots)
}

func (s *Server) handlePilot(w http.ResponseWriter, r *http.Request) {
	pilot, err := s.snapshots.GetPilot(r.Context(), chi.URLParam(r, "callsign"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read pilot", err)
		return
	}
	if pilot == nil {
		respondJSON(w, http.StatusOK, struct{}{})
		return
	}
	respondJSON(w, http.StatusOK, pilot)
}

func (s *Server) handleActiveAtis(w http.ResponseWriter, r *http.Request) {
	stations, err := s.snapshots.GetActiveAtis(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read active ATIS", err)
		return
	}
	respondJSON(w, http.StatusOK, stations)
}

func (s *Server) handleStations(w http.ResponseWriter, r *http.Request) {
	airports, err := s.snapshots.GetActiveAirports(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read stations", err)
		return
	}
	respondJSON(w, http.StatusOK, airports)
}

func (s *Server) handleStation(w http.ResponseWriter, r *http.Request) {
	bundle, err := s.snapshots.GetStationWeatherAndAtis(r.Context(), chi.URLParam(r, "station"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read station", err)
		return
	}
	respondJSON(w, http.StatusOK, bundle)
}

func (s *Server) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	neighbors, err := s.snapshots.GetNeighboringFacilities(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read neighbors", err)
		return
	}
	respondJSON(w, http.StatusOK, neighbors)
}

func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request) {
	online, err := s.snapshots.GetOnline(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read online traffic", err)
		return
	}
	respondJSON(w, http.StatusOK, online)
}

// handleVatis always answers 200, whatever happens to the payload
func (s *Server) handleVatis(w http.ResponseWriter, r *http.Request) {
	defer w.WriteHeader(http.StatusOK)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxVatisBody))
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read vATIS payload")
		return
	}

	var payload vatis.Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		s.log.Warn().Err(err).Msg("Malformed vATIS payload")
		return
	}

	outcome, err := s.ingestor.Ingest(r.Context(), payload)
	if err != nil {
		s.log.Warn().
			Err(err).
			Str("facility", payload.Facility).
			Str("outcome", string(outcome)).
			Msg("vATIS update not stored")
		return
	}
	s.log.Debug().
		Str("facility", payload.Facility).
		Str("outcome", string(outcome)).
		Msg("vATIS update")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.health.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "redis unavailable", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
