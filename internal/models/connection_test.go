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

type ConnectionTestSuite struct {
	suite.Suite
	db *storage.Connection
}

func (ts *ConnectionTestSuite) SetupTest() {
	require.NoError(ts.T(), TruncateAll(ts.db))
}

func TestConnection(t *testing.T) {
	globalConfig, err := conf.LoadGlobal(modelsTestConfig)
	require.NoError(t, err)

	conn, err := test.SetupDBConnection(globalConfig)
	require.NoError(t, err)

	ts := &ConnectionTestSuite{
		db: conn,
	}
	defer ts.db.Close()

	suite.Run(t, ts)
}

func (ts *ConnectionTestSuite) TestUpsertCreates() {
	userID := uuid.Must(uuid.NewV4())
	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	conn, err := UpsertConnection(ts.db, userID, "github", "12345", "octocat", nil, &ProviderToken{
		AccessToken:  "tok1",
		RefreshToken: "ref1",
		ExpiresAt:    &expiry,
	})
	require.NoError(ts.T(), err)
	require.NotNil(ts.T(), conn)

	found, err := FindConnectionByID(ts.db, conn.ID)
	require.NoError(ts.T(), err)
	ts.Equal(userID, found.UserID)
	ts.Equal("github", found.Provider)
	ts.Equal("12345", found.ProviderAccountID)
	ts.Equal("octocat", found.ProviderUsername)
	ts.Equal("tok1", found.AccessToken)
	ts.Equal("ref1", string(found.RefreshToken))
	require.NotNil(ts.T(), found.TokenExpiresAt)
	ts.Equal(expiry.Unix(), found.TokenExpiresAt.Unix())
	ts.Equal(0, found.ErrorCount)
}

func (ts *ConnectionTestSuite) TestUpsertIsIdempotentForSameUser() {
	userID := uuid.Must(uuid.NewV4())

	first, err := UpsertConnection(ts.db, userID, "github", "12345", "octocat", nil, &ProviderToken{AccessToken: "tok1"})
	require.NoError(ts.T(), err)

	second, err := UpsertConnection(ts.db, userID, "github", "12345", "octocat-renamed", nil, &ProviderToken{AccessToken: "tok2"})
	require.NoError(ts.T(), err)
	ts.Equal(first.ID, second.ID, "repeat callback must not create a second row")

	all := []*Connection{}
	require.NoError(ts.T(), ts.db.Q().Where("provider = ?", "github").All(&all))
	require.Len(ts.T(), all, 1)
	ts.Equal("tok2", all[0].AccessToken)
	ts.Equal("octocat-renamed", all[0].ProviderUsername)
}

func (ts *ConnectionTestSuite) TestUpsertConflictLeavesExistingUntouched() {
	userA := uuid.Must(uuid.NewV4())
	userB := uuid.Must(uuid.NewV4())

	existing, err := UpsertConnection(ts.db, userA, "github", "12345", "octocat", nil, &ProviderToken{AccessToken: "tok1"})
	require.NoError(ts.T(), err)

	_, err = UpsertConnection(ts.db, userB, "github", "12345", "impostor", nil, &ProviderToken{AccessToken: "tok2"})
	require.Error(ts.T(), err)

	conflict, ok := err.(AccountConflictError)
	require.True(ts.T(), ok, "expected AccountConflictError, got %T", err)
	ts.Equal("github", conflict.Provider)
	ts.Equal("octocat", conflict.Username)

	found, err := FindConnectionByID(ts.db, existing.ID)
	require.NoError(ts.T(), err)
	ts.Equal(userA, found.UserID)
	ts.Equal("tok1", found.AccessToken)
	ts.Equal("octocat", found.ProviderUsername)
}

func (ts *ConnectionTestSuite) TestSameAccountIDOnAnotherProviderIsIndependent() {
	userA := uuid.Must(uuid.NewV4())
	userB := uuid.Must(uuid.NewV4())

	_, err := UpsertConnection(ts.db, userA, "github", "12345", "octocat", nil, &ProviderToken{AccessToken: "tok1"})
	require.NoError(ts.T(), err)

	_, err = UpsertConnection(ts.db, userB, "gitlab", "12345", "tanuki", nil, &ProviderToken{AccessToken: "tok2"})
	require.NoError(ts.T(), err, "account ids only collide within the same provider")
}

func (ts *ConnectionTestSuite) TestScrapeBookkeeping() {
	userID := uuid.Must(uuid.NewV4())
	conn, err := UpsertConnection(ts.db, userID, "github", "12345", "octocat", nil, &ProviderToken{AccessToken: "tok1"})
	require.NoError(ts.T(), err)

	require.NoError(ts.T(), conn.RecordScrapeError(ts.db))
	require.NoError(ts.T(), conn.RecordScrapeError(ts.db))

	found, err := FindConnectionByID(ts.db, conn.ID)
	require.NoError(ts.T(), err)
	ts.Equal(2, found.ErrorCount)
	ts.Nil(found.LastScrapedAt)

	now := time.Now().UTC()
	require.NoError(ts.T(), found.RecordScrape(ts.db, now))

	found, err = FindConnectionByID(ts.db, conn.ID)
	require.NoError(ts.T(), err)
	ts.Equal(0, found.ErrorCount, "a successful sync resets the breaker")
	require.NotNil(ts.T(), found.LastScrapedAt)
	ts.True(found.ScrapedWithin(time.Hour, now))
	ts.False(found.ScrapedWithin(time.Nanosecond, now.Add(time.Minute)))
}

func (ts *ConnectionTestSuite) TestTokenExpired() {
	conn := &Connection{}
	ts.False(conn.TokenExpired(time.Now()), "no expiry means never expired")

	past := time.Now().Add(-time.Minute)
	conn.TokenExpiresAt = &past
	ts.True(conn.TokenExpired(time.Now()))
}

func (ts *ConnectionTestSuite) TestDeleteConnectionRemovesSnapshots() {
	userID := uuid.Must(uuid.NewV4())
	conn, err := UpsertConnection(ts.db, userID, "github", "12345", "octocat", nil, &ProviderToken{AccessToken: "tok1"})
	require.NoError(ts.T(), err)

	_, err = StoreSnapshot(ts.db, conn.ID, ScrapeTypeRepos, JSONMap{"repos": []interface{}{}}, time.Now().UTC())
	require.NoError(ts.T(), err)

	require.NoError(ts.T(), DeleteConnection(ts.db, conn))

	_, err = FindConnectionByID(ts.db, conn.ID)
	ts.True(IsNotFoundError(err))

	_, err = FindSnapshot(ts.db, conn.ID, ScrapeTypeRepos)
	ts.True(IsNotFoundError(err))
}

func (ts *ConnectionTestSuite) TestFindConnectionsDueForSync() {
	now := time.Now().UTC()

	never, err := UpsertConnection(ts.db, uuid.Must(uuid.NewV4()), "github", "1", "never-synced", nil, &ProviderToken{AccessToken: "tok"})
	require.NoError(ts.T(), err)

	stale, err := UpsertConnection(ts.db, uuid.Must(uuid.NewV4()), "github", "2", "stale", nil, &ProviderToken{AccessToken: "tok"})
	require.NoError(ts.T(), err)
	require.NoError(ts.T(), stale.RecordScrape(ts.db, now.Add(-2*time.Hour)))

	fresh, err := UpsertConnection(ts.db, uuid.Must(uuid.NewV4()), "github", "3", "fresh", nil, &ProviderToken{AccessToken: "tok"})
	require.NoError(ts.T(), err)
	require.NoError(ts.T(), fresh.RecordScrape(ts.db, now))

	broken, err := UpsertConnection(ts.db, uuid.Must(uuid.NewV4()), "github", "4", "broken", nil, &ProviderToken{AccessToken: "tok"})
	require.NoError(ts.T(), err)
	for i := 0; i < 3; i++ {
		require.NoError(ts.T(), broken.RecordScrapeError(ts.db))
	}

	due, err := FindConnectionsDueForSync(ts.db, now.Add(-time.Hour), 2, 10)
	require.NoError(ts.T(), err)

	ids := make([]string, 0, len(due))
	for _, c := range due {
		ids = append(ids, c.ProviderUsername)
	}
	ts.ElementsMatch([]string{"never-synced", "stale"}, ids)
	ts.Equal(never.ID, due[0].ID, "never-synced connections sort first")

	due, err = FindConnectionsDueForSync(ts.db, now.Add(-time.Hour), 2, 1)
	require.NoError(ts.T(), err)
	ts.Len(due, 1)
}

func (ts *ConnectionTestSuite) TestFindConnectionByUserAndProvider() {
	userID := uuid.Must(uuid.NewV4())
	_, err := UpsertConnection(ts.db, userID, "wakatime", "w-1", "coder", nil, &ProviderToken{AccessToken: "tok1"})
	require.NoError(ts.T(), err)

	found, err := FindConnectionByUserAndProvider(ts.db, userID, "wakatime")
	require.NoError(ts.T(), err)
	ts.Equal("w-1", found.ProviderAccountID)

	_, err = FindConnectionByUserAndProvider(ts.db, userID, "github")
	ts.True(IsNotFoundError(err))
}
