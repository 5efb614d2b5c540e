package migrations

// InitialSchema creates the controller session and feed statistics tables
var InitialSchema = &Migration{
	Name: "001_initial_schema",
	UpSQL: `
		-- Create controller_sessions table
		CREATE TABLE IF NOT EXISTS controller_sessions (
			session_id UUID PRIMARY KEY,
			cid INTEGER NOT NULL,
			name TEXT NOT NULL,
			callsign TEXT NOT NULL,
			position TEXT NOT NULL,
			rating INTEGER NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ
		);

		-- Create indexes for controller_sessions
		CREATE INDEX IF NOT EXISTS idx_controller_sessions_cid ON controller_sessions (cid);
		CREATE INDEX IF NOT EXISTS idx_controller_sessions_started_at ON controller_sessions (started_at);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_controller_sessions_open
			ON controller_sessions (cid, callsign) WHERE ended_at IS NULL;

		-- Create statistics table
		CREATE TABLE IF NOT EXISTS feed_stats (
			time TIMESTAMPTZ NOT NULL,
			snapshots BIGINT NOT NULL,
			failed_snapshots BIGINT NOT NULL,
			pilot_updates BIGINT NOT NULL,
			pilot_deletes BIGINT NOT NULL,
			atis_deletes BIGINT NOT NULL,
			metar_updates BIGINT NOT NULL,
			sessions_opened BIGINT NOT NULL,
			sessions_closed BIGINT NOT NULL,
			active_pilots BIGINT NOT NULL,
			active_controllers BIGINT NOT NULL,
			staffed_positions TEXT[] NOT NULL,
			processing_time_ms BIGINT NOT NULL,
			uptime_seconds BIGINT NOT NULL
		);

		-- Create index for statistics
		CREATE INDEX IF NOT EXISTS idx_feed_stats_time ON feed_stats (time DESC);
	`,
	DownSQL: `
		DROP TABLE IF EXISTS feed_stats;
		DROP TABLE IF EXISTS controller_sessions;
	`,
}
