package migrations

func init() {
	Register(Migration{
		Timestamp:   "20261012-103000",
		Description: "Flag snapshots whose net revenue used the fee-ratio fallback",
		Up: []string{
			`ALTER TABLE metrics_snapshots ADD COLUMN net_estimated INTEGER NOT NULL DEFAULT 0`,
		},
	})
}
