package models

import (
	"testing"
	"time"

	"github.com/devstreak/sync/internal/conf"
	"github.com/devstreak/sync/internal/storage"
	"github.com/devstreak/sync/internal/storage/test"
	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type SnapshotTestSuite struct {
	suite.Suite
	db   *storage.Connection
	conn *Connection
}

func (ts *SnapshotTestSuite) SetupTest() {
	require.NoError(ts.T(), TruncateAll(ts.db))

	conn, err := UpsertConnection(ts.db, uuid.Must(uuid.NewV4()), "github", "12345", "octocat", nil, &ProviderToken{AccessToken: "tok1"})
	require.NoError(ts.T(), err)
	ts.conn = conn
}

func TestSnapshot(t *testing.T) {
	globalConfig, err := conf.LoadGlobal(modelsTestConfig)
	require.NoError(t, err)

	conn, err := test.SetupDBConnection(globalConfig)
	require.NoError(t, err)

	ts := &SnapshotTestSuite{
		db: conn,
	}
	defer ts.db.Close()

	suite.Run(t, ts)
}

func (ts *SnapshotTestSuite) TestStoreSnapshotUpdatesInPlace() {
	now := time.Now().UTC()

	first, err := StoreSnapshot(ts.db, ts.conn.ID, ScrapeTypeRepos, JSONMap{"repos": []interface{}{"a"}}, now)
	require.NoError(ts.T(), err)

	later := now.Add(time.Hour)
	second, err := StoreSnapshot(ts.db, ts.conn.ID, ScrapeTypeRepos, JSONMap{"repos": []interface{}{"a", "b"}}, later)
	require.NoError(ts.T(), err)
	ts.Equal(first.ID, second.ID, "one current snapshot per (connection, type)")

	found, err := FindSnapshot(ts.db, ts.conn.ID, ScrapeTypeRepos)
	require.NoError(ts.T(), err)
	ts.Equal(later.Unix(), found.ScrapedAt.Unix())
	ts.Len(found.Payload["repos"], 2)
}

func (ts *SnapshotTestSuite) TestSnapshotTypesAreIndependent() {
	now := time.Now().UTC()

	_, err := StoreSnapshot(ts.db, ts.conn.ID, ScrapeTypeRepos, JSONMap{"repos": []interface{}{}}, now)
	require.NoError(ts.T(), err)

	_, err = FindSnapshot(ts.db, ts.conn.ID, ScrapeTypeStats)
	ts.True(IsNotFoundError(err))

	_, err = StoreSnapshot(ts.db, ts.conn.ID, ScrapeTypeStats, JSONMap{"reputation": float64(100)}, now)
	require.NoError(ts.T(), err)

	stats, err := FindSnapshot(ts.db, ts.conn.ID, ScrapeTypeStats)
	require.NoError(ts.T(), err)
	ts.Equal(float64(100), stats.Payload["reputation"])
}

func (ts *SnapshotTestSuite) TestAge() {
	now := time.Now().UTC()
	snap := &ScrapeSnapshot{ScrapedAt: now.Add(-2 * time.Hour)}
	ts.Equal(2*time.Hour, snap.Age(now))
}
