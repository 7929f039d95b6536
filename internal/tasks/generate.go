package tasks

import (
	"context"
	"time"

	"github.com/devstreak/sync/internal/conf"
	"github.com/devstreak/sync/internal/lock"
	"github.com/devstreak/sync/internal/models"
	"github.com/devstreak/sync/internal/storage"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// GenerateFunc produces the AI content for a training session. The worker
// only records the outcome on the session's generation status; generated
// rows are written by the function itself.
type GenerateFunc func(ctx context.Context, session *models.TrainingSession) error

// Generator runs the content-generation jobs. Clients observe progress by
// polling the session's generation status; only this worker mutates it.
type Generator struct {
	config   *conf.GlobalConfiguration
	db       *storage.Connection
	locker   lock.Locker
	generate GenerateFunc
	le       *logrus.Entry
}

func NewGenerator(
	config *conf.GlobalConfiguration,
	db *storage.Connection,
	locker lock.Locker,
	generate GenerateFunc,
	le *logrus.Entry,
) *Generator {
	return &Generator{
		config:   config,
		db:       db,
		locker:   locker,
		generate: generate,
		le:       le,
	}
}

// RegisterTasks binds the generator's handlers onto the dispatcher.
func (g *Generator) RegisterTasks(d *Dispatcher) {
	d.Register(TaskGenerate, g.runGenerate)
}

// BadgeSummaryGenerate is the default generation function: it folds the
// session owner's materialized badges into a per-provider summary stored on
// the session itself.
func BadgeSummaryGenerate(db *storage.Connection) GenerateFunc {
	return func(ctx context.Context, session *models.TrainingSession) error {
		badges, err := models.FindBadgesByUserID(db.WithContext(ctx), session.UserID)
		if err != nil {
			return err
		}

		byProvider := map[string]interface{}{}
		var total int64
		for _, b := range badges {
			langs, _ := byProvider[b.Provider].(map[string]interface{})
			if langs == nil {
				langs = map[string]interface{}{}
				byProvider[b.Provider] = langs
			}
			langs[string(b.Language)] = b.Score
			total += b.Score
		}

		return session.SaveGeneratedContent(db.WithContext(ctx), models.JSONMap{
			"providers":    byProvider,
			"total_score":  total,
			"generated_at": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func (g *Generator) runGenerate(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("generate task requires a session id argument")
	}

	sessionID, err := uuid.FromString(args[0])
	if err != nil {
		return errors.Wrap(err, "generate task received a malformed session id")
	}

	session, err := models.FindTrainingSessionByID(g.db, sessionID)
	if err != nil {
		if models.IsNotFoundError(err) {
			g.le.WithField("session_id", sessionID).Info("session gone before generation, skipping")
			return nil
		}
		return err
	}

	if session.GenerationStatus != models.GenerationPending {
		g.le.WithFields(logrus.Fields{
			"session_id": sessionID,
			"status":     session.GenerationStatus,
		}).Info("session not pending generation, skipping")
		return nil
	}

	// the terminal status lands while the lease is still held, so no other
	// holder can observe a pending session whose job already finished
	err = lock.Do(ctx, g.locker, "session:"+sessionID.String(), g.config.Lock.TTL, func() error {
		if terr := g.generate(ctx, session); terr != nil {
			if ferr := session.FinishGeneration(g.db, models.GenerationError); ferr != nil {
				g.le.WithError(ferr).Error("unable to record generation error status")
			}
			return terr
		}
		return session.FinishGeneration(g.db, models.GenerationSuccess)
	})

	if errors.Is(err, lock.ErrNotAcquired) {
		g.le.WithField("session_id", sessionID).Debug("generation already in flight, skipping")
		return nil
	}
	return err
}
