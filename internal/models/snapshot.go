package models

import (
	"database/sql"
	"time"

	"github.com/devstreak/sync/internal/storage"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
)

// Scrape types known to the sync engine.
const (
	ScrapeTypeRepos = "repos"
	ScrapeTypeStats = "stats"
)

// ScrapeSnapshot is the cached result of one provider scrape. There is at
// most one current snapshot per (connection_id, scrape_type); freshness is
// judged by callers against the scraped_at timestamp.
type ScrapeSnapshot struct {
	ID           uuid.UUID `json:"id" db:"id"`
	ConnectionID uuid.UUID `json:"connection_id" db:"connection_id"`
	ScrapeType   string    `json:"scrape_type" db:"scrape_type"`
	Payload      JSONMap   `json:"payload" db:"payload"`
	ScrapedAt    time.Time `json:"scraped_at" db:"scraped_at"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

func (ScrapeSnapshot) TableName() string {
	tableName := "scrape_snapshots"
	return tableName
}

// FindSnapshot returns the current snapshot for (connection, scrape type).
func FindSnapshot(tx *storage.Connection, connectionID uuid.UUID, scrapeType string) (*ScrapeSnapshot, error) {
	snap := &ScrapeSnapshot{}
	if err := tx.Q().Where("connection_id = ? AND scrape_type = ?", connectionID, scrapeType).First(snap); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return nil, SnapshotNotFoundError{}
		}
		return nil, errors.Wrap(err, "error finding scrape snapshot")
	}
	return snap, nil
}

// StoreSnapshot overwrites or creates the current snapshot for the given
// (connection, scrape type).
func StoreSnapshot(tx *storage.Connection, connectionID uuid.UUID, scrapeType string, payload JSONMap, now time.Time) (*ScrapeSnapshot, error) {
	snap, err := FindSnapshot(tx, connectionID, scrapeType)
	if err != nil {
		if !IsNotFoundError(err) {
			return nil, err
		}

		id, err := uuid.NewV4()
		if err != nil {
			return nil, errors.Wrap(err, "error generating unique snapshot id")
		}
		snap = &ScrapeSnapshot{
			ID:           id,
			ConnectionID: connectionID,
			ScrapeType:   scrapeType,
			Payload:      payload,
			ScrapedAt:    now,
		}
		if err := tx.Create(snap); err != nil {
			return nil, errors.Wrap(err, "error creating scrape snapshot")
		}
		return snap, nil
	}

	snap.Payload = payload
	snap.ScrapedAt = now
	if err := tx.UpdateOnly(snap, "payload", "scraped_at"); err != nil {
		return nil, errors.Wrap(err, "error updating scrape snapshot")
	}
	return snap, nil
}

// Age returns how old the snapshot is relative to now.
func (s *ScrapeSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.ScrapedAt)
}
