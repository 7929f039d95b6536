package models

import (
	"time"

	"github.com/devstreak/sync/internal/storage"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
)

// Badge is a derived achievement record computed from scrape data. The
// natural key is (user_id, provider, language); recomputation upserts.
type Badge struct {
	ID        uuid.UUID          `json:"id" db:"id"`
	UserID    uuid.UUID          `json:"user_id" db:"user_id"`
	Provider  string             `json:"provider" db:"provider"`
	Language  storage.NullString `json:"language,omitempty" db:"language"`
	Score     int64              `json:"score" db:"score"`
	Detail    JSONMap            `json:"detail" db:"detail"`
	CreatedAt time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt time.Time          `json:"updated_at" db:"updated_at"`
}

func (Badge) TableName() string {
	tableName := "badges"
	return tableName
}

// UpsertBadge inserts the badge or, when the natural key already exists,
// updates the score and detail in place. Running the same computation twice
// must not create duplicate rows or drift the score.
func UpsertBadge(tx *storage.Connection, userID uuid.UUID, provider, language string, score int64, detail JSONMap) error {
	id, err := uuid.NewV4()
	if err != nil {
		return errors.Wrap(err, "error generating unique badge id")
	}

	// pop has no upsert support, same raw-query workaround as elsewhere
	q := "INSERT INTO " + (&Badge{}).TableName() +
		" (id, user_id, provider, language, score, detail, created_at, updated_at)" +
		" VALUES (?, ?, ?, ?, ?, ?, now(), now())" +
		" ON CONFLICT (user_id, provider, language) DO UPDATE" +
		" SET score = EXCLUDED.score, detail = EXCLUDED.detail, updated_at = now()"
	if err := tx.RawQuery(q, id, userID, provider, language, score, detail).Exec(); err != nil {
		return errors.Wrap(err, "error upserting badge")
	}
	return nil
}

// FindBadgesByUserID returns all badges for a user ordered by score.
func FindBadgesByUserID(tx *storage.Connection, userID uuid.UUID) ([]*Badge, error) {
	badges := []*Badge{}
	if err := tx.Q().Where("user_id = ?", userID).Order("score desc").All(&badges); err != nil {
		return nil, errors.Wrap(err, "error finding badges")
	}
	return badges, nil
}
