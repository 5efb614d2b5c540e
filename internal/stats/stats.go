package stats

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saviobatista/atc-online/internal/logging"
	"github.com/saviobatista/atc-online/internal/types"
)

// Persister stores statistics snapshots
type Persister interface {
	StoreFeedStats(ctx context.Context, stats types.FeedStats) error
}

// Stats tracks feed processing statistics
type Stats struct {
	// Counters
	Snapshots       uint64
	FailedSnapshots uint64
	PilotUpdates    uint64
	PilotDeletes    uint64
	AtisDeletes     uint64
	MetarUpdates    uint64
	SessionsOpened  uint64
	SessionsClosed  uint64

	// Active tracking
	ActivePilots      uint64
	ActiveControllers uint64

	// Timing
	startTime        time.Time
	lastSnapshotTime time.Time
	processingTime   time.Duration
	staffed          []string

	store Persister

	mu sync.RWMutex
}

// New creates a new Stats instance
func New() *Stats {
	return &Stats{startTime: time.Now()}
}

// SetStore sets the persistence target
func (s *Stats) SetStore(store Persister) {
	s.mu.Lock()
	s.store = store
	s.mu.Unlock()
}

// Persist stores the current statistics
func (s *Stats) Persist(ctx context.Context) error {
	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()

	if store == nil {
		return fmt.Errorf("stats store not set")
	}
	return store.StoreFeedStats(ctx, s.GetStats())
}

func (s *Stats) IncrementSnapshots()       { atomic.AddUint64(&s.Snapshots, 1) }
func (s *Stats) IncrementFailedSnapshots() { atomic.AddUint64(&s.FailedSnapshots, 1) }
func (s *Stats) IncrementPilotUpdates()    { atomic.AddUint64(&s.PilotUpdates, 1) }
func (s *Stats) IncrementPilotDeletes()    { atomic.AddUint64(&s.PilotDeletes, 1) }
func (s *Stats) IncrementAtisDeletes()     { atomic.AddUint64(&s.AtisDeletes, 1) }
func (s *Stats) IncrementMetarUpdates()    { atomic.AddUint64(&s.MetarUpdates, 1) }
func (s *Stats) IncrementSessionsOpened()  { atomic.AddUint64(&s.SessionsOpened, 1) }
func (s *Stats) IncrementSessionsClosed()  { atomic.AddUint64(&s.SessionsClosed, 1) }

// SetActivePilots sets the number of tracked pilots
func (s *Stats) SetActivePilots(count uint64) {
	atomic.StoreUint64(&s.ActivePilots, count)
}

// SetStaffedPositions records the facility positions currently staffed
func (s *Stats) SetStaffedPositions(positions []string) {
	sorted := append([]string(nil), positions...)
	sort.Strings(sorted)

	s.mu.Lock()
	s.staffed = sorted
	s.mu.Unlock()
	atomic.StoreUint64(&s.ActiveControllers, uint64(len(positions)))
}

// RecordSnapshot marks a snapshot as processed
func (s *Stats) RecordSnapshot(duration time.Duration) {
	atomic.AddUint64(&s.Snapshots, 1)

	s.mu.Lock()
	s.lastSnapshotTime = time.Now()
	s.processingTime += duration
	s.mu.Unlock()
}

// GetStats returns a copy of the current statistics
func (s *Stats) GetStats() types.FeedStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return types.FeedStats{
		Snapshots:         atomic.LoadUint64(&s.Snapshots),
		FailedSnapshots:   atomic.LoadUint64(&s.FailedSnapshots),
		PilotUpdates:      atomic.LoadUint64(&s.PilotUpdates),
		PilotDeletes:      atomic.LoadUint64(&s.PilotDeletes),
		AtisDeletes:       atomic.LoadUint64(&s.AtisDeletes),
		MetarUpdates:      atomic.LoadUint64(&s.MetarUpdates),
		SessionsOpened:    atomic.LoadUint64(&s.SessionsOpened),
		SessionsClosed:    atomic.LoadUint64(&s.SessionsClosed),
		ActivePilots:      atomic.LoadUint64(&s.ActivePilots),
		ActiveControllers: atomic.LoadUint64(&s.ActiveControllers),
		StaffedPositions:  append([]string(nil), s.staffed...),
		LastSnapshotTime:  s.lastSnapshotTime,
		ProcessingTime:    s.processingTime,
		Uptime:            time.Since(s.startTime),
	}
}

// String returns a string representation of the statistics
func (s *Stats) String() string {
	st := s.GetStats()
	return fmt.Sprintf(
		"Snapshots: %d\n"+
			"Failed Snapshots: %d\n"+
			"Pilot Updates: %d\n"+
			"Pilot Deletes: %d\n"+
			"ATIS Deletes: %d\n"+
			"METAR Updates: %d\n"+
			"Sessions Opened: %d\n"+
			"Sessions Closed: %d\n"+
			"Active Pilots: %d\n"+
			"Active Controllers: %d\n"+
			"Last Snapshot Time: %s\n"+
			"Processing Time: %s\n"+
			"Uptime: %s",
		st.Snapshots,
		st.FailedSnapshots,
		st.PilotUpdates,
		st.PilotDeletes,
		st.AtisDeletes,
		st.MetarUpdates,
		st.SessionsOpened,
		st.SessionsClosed,
		st.ActivePilots,
		st.ActiveControllers,
		st.LastSnapshotTime,
		st.ProcessingTime,
		st.Uptime,
	)
}

// StartPersistence periodically persists statistics until ctx is done
func (s *Stats) StartPersistence(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final persistence before shutdown
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := s.Persist(final); err != nil {
				logging.Warn().Err(err).Msg("Failed to persist final statistics")
			}
			cancel()
			return
		case <-ticker.C:
			if err := s.Persist(ctx); err != nil {
				logging.Warn().Err(err).Msg("Failed to persist statistics")
			}
		}
	}
}
