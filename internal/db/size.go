package db

import (
	"database/sql"
	"os"
)

// DBTotalSize returns the combined size in bytes of the main SQLite file and
// its -wal/-shm companions (when present). Missing companion files are
// treated as zero-sized rather than an error, since they only exist while
// the database is in WAL mode with an open connection.
func DBTotalSize(dbPath string) (int64, error) {
	var total int64

	for _, suffix := range []string{"", "-wal", "-shm"} {
		info, err := os.Stat(dbPath + suffix)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		total += info.Size()
	}

	return total, nil
}

// Vacuum reclaims fragmented space by running SQLite's VACUUM command.
func Vacuum(db *sql.DB) error {
	_, err := db.Exec("VACUUM")
	return err
}
