package migrations

import (
	_ "embed"

	"github.com/chainwatch/core/internal/db"
)

//go:embed 001_core_schema.sql
var mig001 string

// RunMigrations applies the chain-indexing core schema (blocks, events,
// contracts, state_records, sync_status, state_sync_status, jobs) to the
// database at dbPath.
func RunMigrations(dbPath string) error {
	migs := []db.Migration{
		{
			ID:  "001_core_schema.sql",
			SQL: mig001,
		},
	}

	return db.RunMigrations(dbPath, migs)
}
