package migrations

func init() {
	Register(Migration{
		Timestamp:   "20261008-140000",
		Description: "Add inbound store notifications",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS store_notifications (
				id TEXT PRIMARY KEY,
				app_id TEXT,
				platform TEXT NOT NULL,
				notification_id TEXT NOT NULL,
				notification_type TEXT NOT NULL,
				subtype TEXT,
				signed_at TEXT,
				payload TEXT NOT NULL,
				received_at TEXT NOT NULL,
				UNIQUE(platform, notification_id),
				FOREIGN KEY (app_id) REFERENCES apps(id) ON DELETE SET NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_store_notifications_app ON store_notifications(app_id, received_at)`,
		},
	})
}
