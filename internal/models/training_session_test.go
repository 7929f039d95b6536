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

type TrainingSessionTestSuite struct {
	suite.Suite
	db *storage.Connection
}

func (ts *TrainingSessionTestSuite) SetupTest() {
	require.NoError(ts.T(), TruncateAll(ts.db))
}

func TestTrainingSession(t *testing.T) {
	globalConfig, err := conf.LoadGlobal(modelsTestConfig)
	require.NoError(t, err)

	conn, err := test.SetupDBConnection(globalConfig)
	require.NoError(t, err)

	ts := &TrainingSessionTestSuite{
		db: conn,
	}
	defer ts.db.Close()

	suite.Run(t, ts)
}

func (ts *TrainingSessionTestSuite) createSession() *TrainingSession {
	session, err := NewTrainingSession(uuid.Must(uuid.NewV4()), "daily review")
	require.NoError(ts.T(), err)
	require.NoError(ts.T(), ts.db.Create(session))
	return session
}

func (ts *TrainingSessionTestSuite) TestBeginGenerationFromIdle() {
	session := ts.createSession()

	require.NoError(ts.T(), session.BeginGeneration(ts.db))
	ts.Equal(GenerationPending, session.GenerationStatus)

	found, err := FindTrainingSessionByID(ts.db, session.ID)
	require.NoError(ts.T(), err)
	ts.Equal(GenerationPending, found.GenerationStatus)
}

func (ts *TrainingSessionTestSuite) TestBeginGenerationRejectsPendingAndSuccess() {
	session := ts.createSession()
	require.NoError(ts.T(), session.BeginGeneration(ts.db))

	err := session.BeginGeneration(ts.db)
	_, ok := err.(GenerationConflictError)
	ts.True(ok, "pending session must reject a second begin, got %v", err)

	require.NoError(ts.T(), session.FinishGeneration(ts.db, GenerationSuccess))
	err = session.BeginGeneration(ts.db)
	_, ok = err.(GenerationConflictError)
	ts.True(ok, "successful session must reject regeneration, got %v", err)
}

func (ts *TrainingSessionTestSuite) TestBeginGenerationAllowedAfterError() {
	session := ts.createSession()
	require.NoError(ts.T(), session.BeginGeneration(ts.db))
	require.NoError(ts.T(), session.FinishGeneration(ts.db, GenerationError))

	require.NoError(ts.T(), session.BeginGeneration(ts.db), "error state is retryable")
	ts.Equal(GenerationPending, session.GenerationStatus)
}

func (ts *TrainingSessionTestSuite) TestBeginGenerationGuardsAgainstRaces() {
	session := ts.createSession()

	// a stale in-memory copy still believing the session is idle
	stale, err := FindTrainingSessionByID(ts.db, session.ID)
	require.NoError(ts.T(), err)

	require.NoError(ts.T(), session.BeginGeneration(ts.db))

	err = stale.BeginGeneration(ts.db)
	_, ok := err.(GenerationConflictError)
	ts.True(ok, "guarded update must reject the losing racer, got %v", err)
}

func (ts *TrainingSessionTestSuite) TestFinishGenerationValidatesStatus() {
	session := ts.createSession()
	require.NoError(ts.T(), session.BeginGeneration(ts.db))

	ts.Error(session.FinishGeneration(ts.db, GenerationPending))
	ts.Error(session.FinishGeneration(ts.db, GenerationIdle))
	ts.NoError(session.FinishGeneration(ts.db, GenerationError))
}

func (ts *TrainingSessionTestSuite) TestSaveGeneratedContent() {
	session := ts.createSession()

	require.NoError(ts.T(), session.SaveGeneratedContent(ts.db, JSONMap{"total_score": float64(1000)}))

	found, err := FindTrainingSessionByID(ts.db, session.ID)
	require.NoError(ts.T(), err)
	ts.Equal(float64(1000), found.GeneratedContent["total_score"])
}
