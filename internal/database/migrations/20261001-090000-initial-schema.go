package migrations

func init() {
	Register(Migration{
		Timestamp:   "20261001-090000",
		Description: "Initial schema: apps, platform connections, subscriptions and revenue events",
		Up: []string{
			// Apps are created by the external app management collaborator
			`CREATE TABLE IF NOT EXISTS apps (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				bundle_id TEXT,
				package_name TEXT,
				week_start_day INTEGER NOT NULL DEFAULT 1,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_apps_bundle_id ON apps(bundle_id)`,

			// One connection per (app, platform); credentials are AES-256-GCM encrypted JSON
			`CREATE TABLE IF NOT EXISTS platform_connections (
				id TEXT PRIMARY KEY,
				app_id TEXT NOT NULL,
				platform TEXT NOT NULL,
				credentials_encrypted TEXT NOT NULL,
				is_active INTEGER NOT NULL DEFAULT 1,
				last_sync_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				UNIQUE(app_id, platform),
				FOREIGN KEY (app_id) REFERENCES apps(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_platform_connections_active ON platform_connections(is_active, app_id)`,

			`CREATE TABLE IF NOT EXISTS subscriptions (
				id TEXT PRIMARY KEY,
				app_id TEXT NOT NULL,
				platform TEXT NOT NULL,
				external_id TEXT NOT NULL,
				status TEXT NOT NULL,
				product_id TEXT NOT NULL DEFAULT '',
				start_date TEXT NOT NULL,
				end_date TEXT,
				is_trial INTEGER NOT NULL DEFAULT 0,
				trial_end_date TEXT,
				will_cancel INTEGER NOT NULL DEFAULT 0,
				is_in_grace INTEGER NOT NULL DEFAULT 0,
				amount REAL,
				billing_interval TEXT NOT NULL DEFAULT '',
				currency TEXT NOT NULL DEFAULT '',
				updated_at TEXT NOT NULL,
				UNIQUE(app_id, platform, external_id),
				FOREIGN KEY (app_id) REFERENCES apps(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_subscriptions_app_platform ON subscriptions(app_id, platform)`,

			// Revenue events are append-only; the unique key is the idempotence boundary
			`CREATE TABLE IF NOT EXISTS revenue_events (
				id TEXT PRIMARY KEY,
				app_id TEXT NOT NULL,
				platform TEXT NOT NULL,
				external_id TEXT NOT NULL,
				subscription_external_id TEXT NOT NULL DEFAULT '',
				event_type TEXT NOT NULL,
				amount REAL NOT NULL,
				amount_excluding_tax REAL,
				amount_proceeds REAL,
				currency TEXT NOT NULL DEFAULT '',
				event_at TEXT NOT NULL,
				created_at TEXT NOT NULL,
				UNIQUE(app_id, platform, external_id),
				FOREIGN KEY (app_id) REFERENCES apps(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_revenue_events_app_platform_time ON revenue_events(app_id, platform, event_at)`,

			// Cancellation and grace transitions (counts; store reports aggregate them)
			`CREATE TABLE IF NOT EXISTS subscription_events (
				id TEXT PRIMARY KEY,
				app_id TEXT NOT NULL,
				platform TEXT NOT NULL,
				external_id TEXT NOT NULL,
				subscription_external_id TEXT NOT NULL DEFAULT '',
				event_type TEXT NOT NULL,
				quantity INTEGER NOT NULL DEFAULT 1,
				event_at TEXT NOT NULL,
				created_at TEXT NOT NULL,
				UNIQUE(app_id, platform, external_id),
				FOREIGN KEY (app_id) REFERENCES apps(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_subscription_events_app_platform_time ON subscription_events(app_id, platform, event_at)`,
		},
	})
}
