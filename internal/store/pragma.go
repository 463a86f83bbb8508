package store

import (
	"fmt"

	"gorm.io/gorm"
)

// applyOptimalPragmas tunes the SQLite test/dev backend for the
// read-heavy, single-writer access pattern this service has: WAL mode
// lets readers proceed during a write, NORMAL synchronous is safe
// under WAL, and a larger page cache cuts disk round-trips for the
// list/search/stats queries run against it.
func applyOptimalPragmas(db *gorm.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-40000",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA mmap_size=268435456",
	}
	for _, p := range pragmas {
		if err := db.Exec(p).Error; err != nil {
			return fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("store: underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	return nil
}
