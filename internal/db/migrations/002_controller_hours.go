package migrations

// ControllerHours adds the monthly controller hours view
var ControllerHours = &Migration{
	Name: "002_controller_hours",
	UpSQL: `
	-- Hours controlled per controller and position, by calendar month
	CREATE OR REPLACE VIEW controller_hours_monthly AS
	SELECT
		date_trunc('month', started_at) AS month,
		cid,
		position,
		COUNT(*) AS sessions,
		SUM(EXTRACT(EPOCH FROM (COALESCE(ended_at, NOW()) - started_at))) / 3600.0 AS hours
	FROM controller_sessions
	GROUP BY month, cid, position;
	`,
	DownSQL: `
	DROP VIEW IF EXISTS controller_hours_monthly;
	`,
}

// All lists every migration in the order it is applied
var All = []*Migration{
	InitialSchema,
	ControllerHours,
}
