// Package scrape caches per-connection provider snapshots so that badge
// computation and display surfaces never hit the provider directly.
package scrape

import (
	"time"

	"github.com/devstreak/sync/internal/models"
	"github.com/devstreak/sync/internal/storage"
	"github.com/sirupsen/logrus"
)

// FetchFunc pulls fresh data from the provider. It is only invoked when the
// cache cannot answer.
type FetchFunc func() (models.JSONMap, error)

// Cache wraps snapshot storage with the fetch-or-fallback policy. The cache
// itself does not enforce freshness; callers pass the staleness window that
// applies to their scrape type.
type Cache struct {
	db *storage.Connection
}

func New(db *storage.Connection) *Cache {
	return &Cache{db: db}
}

// Lookup returns the current snapshot, fresh or not, or nil when none is
// stored.
func (c *Cache) Lookup(conn *models.Connection, scrapeType string) (*models.ScrapeSnapshot, error) {
	snap, err := models.FindSnapshot(c.db, conn.ID, scrapeType)
	if err != nil {
		if models.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, err
	}
	return snap, nil
}

// GetOrFetch answers from the cache when the snapshot is younger than
// window. Otherwise it fetches, stores the result and returns it. When the
// fetch fails and an older snapshot exists, the stale snapshot is returned
// as a fallback instead of the error.
func (c *Cache) GetOrFetch(conn *models.Connection, scrapeType string, window time.Duration, fetch FetchFunc) (*models.ScrapeSnapshot, error) {
	now := time.Now()

	snap, err := c.Lookup(conn, scrapeType)
	if err != nil {
		return nil, err
	}
	if snap != nil && snap.Age(now) < window {
		return snap, nil
	}

	payload, err := fetch()
	if err != nil {
		if snap != nil {
			logrus.WithFields(logrus.Fields{
				"connection_id": conn.ID,
				"scrape_type":   scrapeType,
				"age":           snap.Age(now).String(),
			}).WithError(err).Warn("Scrape fetch failed, serving stale snapshot")
			return snap, nil
		}
		return nil, err
	}

	return c.Store(conn, scrapeType, payload)
}

// Store overwrites the current snapshot for (connection, scrape type).
func (c *Cache) Store(conn *models.Connection, scrapeType string, payload models.JSONMap) (*models.ScrapeSnapshot, error) {
	return models.StoreSnapshot(c.db, conn.ID, scrapeType, payload, time.Now())
}
