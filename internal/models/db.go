package models

import (
	"github.com/devstreak/sync/internal/storage"
	"github.com/gobuffalo/pop/v6"
)

// TruncateAll deletes all data managed by the sync engine. Not intended for
// use outside of tests.
func TruncateAll(conn *storage.Connection) error {
	return conn.Transaction(func(tx *storage.Connection) error {
		tables := []string{
			(&pop.Model{Value: ScrapeSnapshot{}}).TableName(),
			(&pop.Model{Value: Badge{}}).TableName(),
			(&pop.Model{Value: Connection{}}).TableName(),
			(&pop.Model{Value: TrainingSession{}}).TableName(),
			"lock_leases",
		}

		for _, tableName := range tables {
			if err := tx.RawQuery("DELETE FROM " + tableName).Exec(); err != nil {
				return err
			}
		}
		return nil
	})
}
