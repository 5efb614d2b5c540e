package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/saviobatista/atc-online/internal/logging"
	"github.com/saviobatista/atc-online/internal/types"
)

type Client struct {
	db *sql.DB
}

// New creates a new database client
func New(connStr string) (*Client, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	return &Client{db: db}, nil
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// Ping verifies the database is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// GetOpenControllerSessions retrieves every session that has not ended
func (c *Client) GetOpenControllerSessions(ctx context.Context) ([]*types.ControllerSession, error) {
	query := `
		SELECT session_id, cid, name, callsign, position, rating, started_at, ended_at
		FROM controller_sessions
		WHERE ended_at IS NULL
	`
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query controller sessions: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			logging.Warn().Err(cerr).Msg("Failed to close rows")
		}
	}()

	var sessions []*types.ControllerSession
	for rows.Next() {
		var (
			s     types.ControllerSession
			ended sql.NullTime
		)
		if err := rows.Scan(
			&s.SessionID, &s.CID, &s.Name, &s.Callsign, &s.Position, &s.Rating, &s.StartedAt, &ended,
		); err != nil {
			return nil, fmt.Errorf("failed to scan controller session: %w", err)
		}
		if ended.Valid {
			s.EndedAt = &ended.Time
		}
		sessions = append(sessions, &s)
	}
	return sessions, rows.Err()
}

// CreateControllerSession records a controller logging on to a position
func (c *Client) CreateControllerSession(ctx context.Context, session *types.ControllerSession) error {
	query := `
		INSERT INTO controller_sessions (
			session_id, cid, name, callsign, position, rating, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := c.db.ExecContext(ctx, query,
		session.SessionID, session.CID, session.Name, session.Callsign,
		session.Position, session.Rating, session.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create controller session: %w", err)
	}
	return nil
}

// EndControllerSession closes an open session
func (c *Client) EndControllerSession(ctx context.Context, sessionID string, endedAt time.Time) error {
	query := `
		UPDATE controller_sessions SET ended_at = $1
		WHERE session_id = $2 AND ended_at IS NULL
	`
	_, err := c.db.ExecContext(ctx, query, endedAt, sessionID)
	if err != nil {
		return fmt.Errorf("failed to end controller session: %w", err)
	}
	return nil
}

// StoreFeedStats stores a snapshot of the tracker counters
func (c *Client) StoreFeedStats(ctx context.Context, stats types.FeedStats) error {
	query := `
		INSERT INTO feed_stats (
			time, snapshots, failed_snapshots, pilot_updates, pilot_deletes,
			atis_deletes, metar_updates, sessions_opened, sessions_closed,
			active_pilots, active_controllers, staffed_positions,
			processing_time_ms, uptime_seconds
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
	`

	positions := stats.StaffedPositions
	if positions == nil {
		positions = []string{}
	}

	_, err := c.db.ExecContext(ctx, query,
		time.Now().UTC(),
		int64(stats.Snapshots),
		int64(stats.FailedSnapshots),
		int64(stats.PilotUpdates),
		int64(stats.PilotDeletes),
		int64(stats.AtisDeletes),
		int64(stats.MetarUpdates),
		int64(stats.SessionsOpened),
		int64(stats.SessionsClosed),
		int64(stats.ActivePilots),
		int64(stats.ActiveControllers),
		pq.Array(positions),
		stats.ProcessingTime.Milliseconds(),
		int64(stats.Uptime.Seconds()),
	)
	if err != nil {
		return fmt.Errorf("failed to store feed stats: %w", err)
	}
	return nil
}
