package migrations

func init() {
	Register(Migration{
		Timestamp:   "20261001-092000",
		Description: "Add sync sessions, sync logs and run counters",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS sync_sessions (
				id TEXT PRIMARY KEY,
				app_id TEXT NOT NULL,
				status TEXT NOT NULL,
				platform TEXT,
				force_historical INTEGER NOT NULL DEFAULT 0,
				started_at TEXT NOT NULL,
				finished_at TEXT,
				FOREIGN KEY (app_id) REFERENCES apps(id) ON DELETE CASCADE
			)`,
			// At most one active session per app
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_sync_sessions_one_active ON sync_sessions(app_id) WHERE status = 'active'`,
			`CREATE INDEX IF NOT EXISTS idx_sync_sessions_app_started ON sync_sessions(app_id, started_at)`,

			`CREATE TABLE IF NOT EXISTS sync_logs (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL,
				app_id TEXT NOT NULL,
				level TEXT NOT NULL,
				platform TEXT,
				message TEXT NOT NULL,
				created_at TEXT NOT NULL,
				FOREIGN KEY (session_id) REFERENCES sync_sessions(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sync_logs_session ON sync_logs(session_id, id)`,

			`CREATE TABLE IF NOT EXISTS sync_run_counters (
				session_id TEXT NOT NULL,
				platform TEXT NOT NULL,
				counters_json TEXT NOT NULL,
				created_at TEXT NOT NULL,
				PRIMARY KEY (session_id, platform),
				FOREIGN KEY (session_id) REFERENCES sync_sessions(id) ON DELETE CASCADE
			)`,
		},
	})
}
