package tasks

import (
	"context"
	"testing"

	"github.com/devstreak/sync/internal/conf"
	"github.com/devstreak/sync/internal/lock"
	"github.com/devstreak/sync/internal/models"
	"github.com/devstreak/sync/internal/storage"
	"github.com/devstreak/sync/internal/storage/test"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type GeneratorTestSuite struct {
	suite.Suite
	Config *conf.GlobalConfiguration
	db     *storage.Connection
}

func TestGenerator(t *testing.T) {
	globalConfig, err := conf.LoadGlobal(tasksTestConfig)
	require.NoError(t, err)

	conn, err := test.SetupDBConnection(globalConfig)
	require.NoError(t, err)

	ts := &GeneratorTestSuite{
		Config: globalConfig,
		db:     conn,
	}
	defer ts.db.Close()

	suite.Run(t, ts)
}

func (ts *GeneratorTestSuite) SetupTest() {
	require.NoError(ts.T(), models.TruncateAll(ts.db))
}

func (ts *GeneratorTestSuite) createPendingSession() *models.TrainingSession {
	session, err := models.NewTrainingSession(uuid.Must(uuid.NewV4()), "daily review")
	require.NoError(ts.T(), err)
	require.NoError(ts.T(), ts.db.Create(session))
	require.NoError(ts.T(), session.BeginGeneration(ts.db))
	return session
}

func (ts *GeneratorTestSuite) newGenerator(locker lock.Locker, generate GenerateFunc) *Generator {
	return NewGenerator(ts.Config, ts.db, locker, generate, logrus.WithField("component", "generator"))
}

func (ts *GeneratorTestSuite) TestGenerateRecordsSuccessBeforeReleasingLease() {
	session := ts.createPendingSession()

	var statusAtRelease models.GenerationStatus
	locker := &releaseSpy{Locker: lock.NewMemoryLocker(), onRelease: func() {
		found, err := models.FindTrainingSessionByID(ts.db, session.ID)
		require.NoError(ts.T(), err)
		statusAtRelease = found.GenerationStatus
	}}

	g := ts.newGenerator(locker, BadgeSummaryGenerate(ts.db))
	require.NoError(ts.T(), g.runGenerate(context.Background(), []string{session.ID.String()}))
	ts.Equal(models.GenerationSuccess, statusAtRelease, "the terminal status must land while the lease is still held")
}

func (ts *GeneratorTestSuite) TestGenerateRecordsErrorBeforeReleasingLease() {
	session := ts.createPendingSession()

	var statusAtRelease models.GenerationStatus
	locker := &releaseSpy{Locker: lock.NewMemoryLocker(), onRelease: func() {
		found, err := models.FindTrainingSessionByID(ts.db, session.ID)
		require.NoError(ts.T(), err)
		statusAtRelease = found.GenerationStatus
	}}

	g := ts.newGenerator(locker, func(ctx context.Context, s *models.TrainingSession) error {
		return errors.New("model unavailable")
	})
	ts.Error(g.runGenerate(context.Background(), []string{session.ID.String()}))
	ts.Equal(models.GenerationError, statusAtRelease)
}

func (ts *GeneratorTestSuite) TestGenerateSkipsNonPendingSession() {
	session, err := models.NewTrainingSession(uuid.Must(uuid.NewV4()), "daily review")
	require.NoError(ts.T(), err)
	require.NoError(ts.T(), ts.db.Create(session))

	g := ts.newGenerator(lock.NewMemoryLocker(), BadgeSummaryGenerate(ts.db))
	require.NoError(ts.T(), g.runGenerate(context.Background(), []string{session.ID.String()}))

	found, err := models.FindTrainingSessionByID(ts.db, session.ID)
	require.NoError(ts.T(), err)
	ts.Equal(models.GenerationIdle, found.GenerationStatus)
}
