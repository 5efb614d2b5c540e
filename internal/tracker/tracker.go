// Package tracker applies feed snapshots to the key-value store and keeps
// controller sessions in the database.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/saviobatista/atc-online/internal/logging"
	"github.com/saviobatista/atc-online/internal/redis"
	"github.com/saviobatista/atc-online/internal/stats"
	"github.com/saviobatista/atc-online/internal/types"
)

// DBClient interface for testability
type DBClient interface {
	GetOpenControllerSessions(ctx context.Context) ([]*types.ControllerSession, error)
	CreateControllerSession(ctx context.Context, session *types.ControllerSession) error
	EndControllerSession(ctx context.Context, sessionID string, endedAt time.Time) error
	StoreFeedStats(ctx context.Context, stats types.FeedStats) error
}

// Store is the subset of the Redis client the tracker writes to
type Store interface {
	StorePilot(ctx context.Context, pilot *types.PilotRecord) error
	DeletePilot(ctx context.Context, callsign string) error
	GetList(ctx context.Context, key string) ([]string, error)
	SetList(ctx context.Context, key string, items []string) error
	DeleteAtis(ctx context.Context, station string) error
	SetMetar(ctx context.Context, station, raw string) error
	SetControllers(ctx context.Context, controllers []types.ControllerPosition) error
	Publish(ctx context.Context, channel, payload string) error
}

// Tracker turns successive feed snapshots into stored records and change
// notifications
type Tracker struct {
	db    DBClient
	store Store
	stats *stats.Stats
	log   zerolog.Logger

	mu          sync.Mutex
	pilots      map[string]struct{}
	networkAtis map[string]struct{}
	sessions    map[string]*types.ControllerSession

	now func() time.Time
	wg  sync.WaitGroup
}

// New creates a new tracker
func New(db DBClient, store Store) *Tracker {
	return &Tracker{
		db:          db,
		store:       store,
		stats:       stats.New(),
		log:         logging.Component("tracker"),
		pilots:      make(map[string]struct{}),
		networkAtis: make(map[string]struct{}),
		sessions:    make(map[string]*types.ControllerSession),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Stats returns the tracker counters
func (t *Tracker) Stats() *stats.Stats {
	return t.stats
}

// Start restores the known pilots and open controller sessions, then starts
// statistics logging and persistence
func (t *Tracker) Start(ctx context.Context) error {
	callsigns, err := t.store.GetList(ctx, redis.KeyPilots)
	if err != nil {
		return fmt.Errorf("failed to load known pilots: %w", err)
	}

	sessions, err := t.db.GetOpenControllerSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load open controller sessions: %w", err)
	}

	t.mu.Lock()
	for _, cs := range callsigns {
		t.pilots[cs] = struct{}{}
	}
	for _, s := range sessions {
		t.sessions[sessionKey(s.CID, s.Callsign)] = s
	}
	t.mu.Unlock()

	t.stats.SetStore(t.db)
	t.stats.SetActivePilots(uint64(len(callsigns)))

	t.log.Info().
		Int("pilots", len(callsigns)).
		Int("sessions", len(sessions)).
		Msg("Tracker state restored")

	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		t.logStats(ctx)
	}()
	go func() {
		defer t.wg.Done()
		t.stats.StartPersistence(ctx, 5*time.Minute)
	}()

	return nil
}

// Wait blocks until the background goroutines started by Start have
// returned, including the final statistics write
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// ProcessSnapshot applies one feed snapshot. Failures on individual records
// are logged and skipped; an error is returned only when the pilot or
// controller lists could not be written.
func (t *Tracker) ProcessSnapshot(ctx context.Context, snap *types.FeedSnapshot) error {
	start := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	if err := t.applyPilots(ctx, snap.Pilots); err != nil {
		errs = append(errs, err)
	}
	t.applyAtis(ctx, snap.Atis)
	t.applySessions(ctx, snap.Controllers)

	if err := t.store.SetControllers(ctx, snap.Controllers); err != nil {
		errs = append(errs, fmt.Errorf("failed to store controllers: %w", err))
	}

	positions := make([]string, 0, len(snap.Controllers))
	for _, c := range snap.Controllers {
		positions = append(positions, c.Position)
	}
	t.stats.SetStaffedPositions(positions)

	if len(errs) > 0 {
		t.stats.IncrementFailedSnapshots()
		return errors.Join(errs...)
	}
	t.stats.RecordSnapshot(time.Since(start))
	return nil
}

func (t *Tracker) applyPilots(ctx context.Context, pilots []types.PilotRecord) error {
	current := make(map[string]struct{}, len(pilots))
	callsigns := make([]string, 0, len(pilots))

	for i := range pilots {
		p := &pilots[i]
		if _, dup := current[p.Callsign]; dup {
			continue
		}
		current[p.Callsign] = struct{}{}
		callsigns = append(callsigns, p.Callsign)

		if err := t.store.StorePilot(ctx, p); err != nil {
			t.log.Warn().Err(err).Str("callsign", p.Callsign).Msg("Failed to store pilot")
			continue
		}
		t.publish(ctx, types.ChannelPilotUpdate, p.Callsign)
		t.stats.IncrementPilotUpdates()
	}

	var retry []string
	for callsign := range t.pilots {
		if _, ok := current[callsign]; ok {
			continue
		}
		if err := t.store.DeletePilot(ctx, callsign); err != nil {
			t.log.Warn().Err(err).Str("callsign", callsign).Msg("Failed to delete pilot")
			retry = append(retry, callsign)
			continue
		}
		t.publish(ctx, types.ChannelPilotDelete, callsign)
		t.stats.IncrementPilotDeletes()
	}
	// Undeleted records stay tracked so the next snapshot retries them.
	for _, callsign := range retry {
		current[callsign] = struct{}{}
	}
	t.pilots = current
	t.stats.SetActivePilots(uint64(len(callsigns)))

	if err := t.store.SetList(ctx, redis.KeyPilots, callsigns); err != nil {
		return fmt.Errorf("failed to store pilot list: %w", err)
	}
	return nil
}

// applyAtis removes the records of network ATIS stations that went offline
func (t *Tracker) applyAtis(ctx context.Context, atis []types.NetworkAtis) {
	current := make(map[string]struct{}, len(atis))
	for _, a := range atis {
		current[a.Station] = struct{}{}
	}

	for station := range t.networkAtis {
		if _, ok := current[station]; ok {
			continue
		}
		if err := t.store.DeleteAtis(ctx, station); err != nil {
			t.log.Warn().Err(err).Str("station", station).Msg("Failed to delete ATIS")
		}
		t.publish(ctx, types.ChannelAtisDelete, station)
		t.stats.IncrementAtisDeletes()
	}
	t.networkAtis = current
}

func (t *Tracker) applySessions(ctx context.Context, controllers []types.ControllerPosition) {
	now := t.now()
	current := make(map[string]struct{}, len(controllers))

	for _, c := range controllers {
		key := sessionKey(c.CID, c.Callsign)
		current[key] = struct{}{}
		if _, ok := t.sessions[key]; ok {
			continue
		}

		started := c.LogonTime
		if started.IsZero() {
			started = now
		}
		session := &types.ControllerSession{
			SessionID: uuid.New().String(),
			CID:       c.CID,
			Name:      c.Name,
			Callsign:  c.Callsign,
			Position:  c.Position,
			Rating:    c.Rating,
			StartedAt: started,
		}
		if err := t.db.CreateControllerSession(ctx, session); err != nil {
			// Retried with the next snapshot
			t.log.Warn().Err(err).Str("callsign", c.Callsign).Msg("Failed to open controller session")
			continue
		}
		t.sessions[key] = session
		t.stats.IncrementSessionsOpened()
		t.log.Info().Str("callsign", c.Callsign).Int("cid", c.CID).Msg("Controller online")
	}

	for key, session := range t.sessions {
		if _, ok := current[key]; ok {
			continue
		}
		if err := t.db.EndControllerSession(ctx, session.SessionID, now); err != nil {
			t.log.Warn().Err(err).Str("callsign", session.Callsign).Msg("Failed to close controller session")
			continue
		}
		delete(t.sessions, key)
		t.stats.IncrementSessionsClosed()
		t.log.Info().Str("callsign", session.Callsign).Int("cid", session.CID).Msg("Controller offline")
	}
}

// ProcessMetar stores the latest METAR for a station
func (t *Tracker) ProcessMetar(ctx context.Context, report *types.MetarReport) error {
	if report.Station == "" || report.Raw == "" {
		return fmt.Errorf("incomplete METAR report for %q", report.Station)
	}
	if err := t.store.SetMetar(ctx, report.Station, report.Raw); err != nil {
		return fmt.Errorf("failed to store METAR: %w", err)
	}
	t.stats.IncrementMetarUpdates()
	return nil
}

func (t *Tracker) publish(ctx context.Context, channel, payload string) {
	if err := t.store.Publish(ctx, channel, payload); err != nil {
		t.log.Warn().Err(err).Str("channel", channel).Str("payload", payload).Msg("Failed to publish notification")
	}
}

// logStats periodically logs statistics
func (t *Tracker) logStats(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := t.stats.GetStats()
			t.log.Info().
				Uint64("snapshots", st.Snapshots).
				Uint64("failed_snapshots", st.FailedSnapshots).
				Uint64("pilot_updates", st.PilotUpdates).
				Uint64("active_pilots", st.ActivePilots).
				Uint64("active_controllers", st.ActiveControllers).
				Dur("uptime", st.Uptime).
				Msg("Statistics")
		}
	}
}

func sessionKey(cid int, callsign string) string {
	return strconv.Itoa(cid) + ":" + callsign
}
