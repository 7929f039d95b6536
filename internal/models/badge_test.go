package models

import (
	"testing"

	"github.com/devstreak/sync/internal/conf"
	"github.com/devstreak/sync/internal/storage"
	"github.com/devstreak/sync/internal/storage/test"
	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type BadgeTestSuite struct {
	suite.Suite
	db *storage.Connection
}

func (ts *BadgeTestSuite) SetupTest() {
	require.NoError(ts.T(), TruncateAll(ts.db))
}

func TestBadge(t *testing.T) {
	globalConfig, err := conf.LoadGlobal(modelsTestConfig)
	require.NoError(t, err)

	conn, err := test.SetupDBConnection(globalConfig)
	require.NoError(t, err)

	ts := &BadgeTestSuite{
		db: conn,
	}
	defer ts.db.Close()

	suite.Run(t, ts)
}

func (ts *BadgeTestSuite) TestUpsertBadgeIsIdempotent() {
	userID := uuid.Must(uuid.NewV4())

	require.NoError(ts.T(), UpsertBadge(ts.db, userID, "github", "Go", 1000, JSONMap{"total": float64(800)}))
	require.NoError(ts.T(), UpsertBadge(ts.db, userID, "github", "Go", 1000, JSONMap{"total": float64(800)}))

	badges, err := FindBadgesByUserID(ts.db, userID)
	require.NoError(ts.T(), err)
	require.Len(ts.T(), badges, 1, "recomputation must not duplicate rows")
	ts.Equal(int64(1000), badges[0].Score)
}

func (ts *BadgeTestSuite) TestUpsertBadgeUpdatesScore() {
	userID := uuid.Must(uuid.NewV4())

	require.NoError(ts.T(), UpsertBadge(ts.db, userID, "github", "Go", 100, JSONMap{"total": float64(80)}))
	require.NoError(ts.T(), UpsertBadge(ts.db, userID, "github", "Go", 1000, JSONMap{"total": float64(900)}))

	badges, err := FindBadgesByUserID(ts.db, userID)
	require.NoError(ts.T(), err)
	require.Len(ts.T(), badges, 1)
	ts.Equal(int64(1000), badges[0].Score)
	ts.Equal(float64(900), badges[0].Detail["total"])
}

func (ts *BadgeTestSuite) TestBadgesKeyedPerProviderAndLanguage() {
	userID := uuid.Must(uuid.NewV4())

	require.NoError(ts.T(), UpsertBadge(ts.db, userID, "github", "Go", 1000, nil))
	require.NoError(ts.T(), UpsertBadge(ts.db, userID, "github", "Python", 100, nil))
	require.NoError(ts.T(), UpsertBadge(ts.db, userID, "gitlab", "Go", 10, nil))

	badges, err := FindBadgesByUserID(ts.db, userID)
	require.NoError(ts.T(), err)
	ts.Len(badges, 3)

	// ordered by score, highest first
	ts.Equal(int64(1000), badges[0].Score)
	ts.Equal(int64(10), badges[2].Score)
}
