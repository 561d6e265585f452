package migrations

func init() {
	Register(Migration{
		Timestamp:   "20261001-091000",
		Description: "Add daily metrics snapshots",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS metrics_snapshots (
				app_id TEXT NOT NULL,
				snapshot_date TEXT NOT NULL,
				platform TEXT NOT NULL,
				active_subscribers INTEGER NOT NULL DEFAULT 0,
				trial_subscribers INTEGER NOT NULL DEFAULT 0,
				paid_subscribers INTEGER NOT NULL DEFAULT 0,
				monthly_subscribers INTEGER NOT NULL DEFAULT 0,
				yearly_subscribers INTEGER NOT NULL DEFAULT 0,
				mrr REAL NOT NULL DEFAULT 0,
				cancellations INTEGER NOT NULL DEFAULT 0,
				grace_events INTEGER NOT NULL DEFAULT 0,
				first_payments INTEGER NOT NULL DEFAULT 0,
				renewals INTEGER NOT NULL DEFAULT 0,
				revenue_gross REAL NOT NULL DEFAULT 0,
				revenue_net REAL NOT NULL DEFAULT 0,
				PRIMARY KEY (app_id, snapshot_date, platform),
				FOREIGN KEY (app_id) REFERENCES apps(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_metrics_snapshots_app_platform_date ON metrics_snapshots(app_id, platform, snapshot_date)`,
		},
	})
}
