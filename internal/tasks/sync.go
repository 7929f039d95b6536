package tasks

import (
	"context"
	"time"

	"github.com/devstreak/sync/internal/api/provider"
	"github.com/devstreak/sync/internal/badges"
	"github.com/devstreak/sync/internal/conf"
	"github.com/devstreak/sync/internal/lock"
	"github.com/devstreak/sync/internal/models"
	"github.com/devstreak/sync/internal/scrape"
	"github.com/devstreak/sync/internal/storage"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Task names understood by the dispatcher. TaskSync is the generic trigger
// routed to the provider-specific task by connection.
const (
	TaskSync     = "sync"
	TaskGenerate = "generate_content"
)

// Syncer owns the background synchronization jobs for provider connections.
type Syncer struct {
	config   *conf.GlobalConfiguration
	db       *storage.Connection
	locker   lock.Locker
	registry *provider.Registry
	cache    *scrape.Cache
	le       *logrus.Entry
}

func NewSyncer(
	config *conf.GlobalConfiguration,
	db *storage.Connection,
	locker lock.Locker,
	registry *provider.Registry,
	le *logrus.Entry,
) *Syncer {
	return &Syncer{
		config:   config,
		db:       db,
		locker:   locker,
		registry: registry,
		cache:    scrape.New(db),
		le:       le,
	}
}

// RegisterTasks binds the syncer's handlers onto the dispatcher.
func (s *Syncer) RegisterTasks(d *Dispatcher) {
	d.Register(TaskSync, s.runSync)
}

// runSync is a pure router: it resolves the connection and dispatches to
// the provider-specific sync. Unknown providers are no-ops, not errors.
func (s *Syncer) runSync(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("sync task requires a connection id argument")
	}

	connID, err := uuid.FromString(args[0])
	if err != nil {
		return errors.Wrap(err, "sync task received a malformed connection id")
	}

	conn, err := models.FindConnectionByID(s.db, connID)
	if err != nil {
		if models.IsNotFoundError(err) {
			// the record may have been deleted before the job ran
			s.le.WithField("connection_id", connID).Info("connection gone before sync, skipping")
			return nil
		}
		return err
	}

	switch conn.Provider {
	case "github", "gitlab":
		return s.syncRepos(ctx, conn)
	case "stackexchange", "wakatime":
		return s.syncStats(ctx, conn)
	default:
		s.le.WithField("provider", conn.Provider).Debug("no sync implemented for provider, skipping")
		return nil
	}
}

// syncRepos refreshes the repos snapshot through the cache and feeds the
// badge pipeline from whatever snapshot the cache answers with, so a
// provider outage degrades to the previous scrape instead of failing.
func (s *Syncer) syncRepos(ctx context.Context, conn *models.Connection) error {
	return s.guarded(ctx, conn, s.config.Sync.ReposStaleness, func(p provider.OAuthProvider) error {
		scraper, ok := p.(provider.RepoScraper)
		if !ok {
			return nil
		}

		snap, err := s.cache.GetOrFetch(conn, models.ScrapeTypeRepos, s.config.Sync.ReposStaleness, func() (models.JSONMap, error) {
			repos, ferr := scraper.FetchRepos(ctx, conn.AccessToken)
			if ferr != nil {
				return nil, ferr
			}
			return models.JSONMap{"repos": reposPayload(repos)}, nil
		})
		if err != nil {
			return err
		}

		repos, err := badges.DecodeRepos(snap.Payload)
		if err != nil {
			return err
		}

		scores := badges.ComputeLanguageScores(repos)
		return badges.Materialize(s.db, conn, scores, s.config.Sync.BadgeThreshold)
	})
}

// syncStats refreshes the stats snapshot through the cache.
func (s *Syncer) syncStats(ctx context.Context, conn *models.Connection) error {
	return s.guarded(ctx, conn, s.config.Sync.StatsStaleness, func(p provider.OAuthProvider) error {
		scraper, ok := p.(provider.StatsScraper)
		if !ok {
			return nil
		}

		_, err := s.cache.GetOrFetch(conn, models.ScrapeTypeStats, s.config.Sync.StatsStaleness, func() (models.JSONMap, error) {
			stats, ferr := scraper.FetchStats(ctx, conn.AccessToken)
			if ferr != nil {
				return nil, ferr
			}
			return models.JSONMap(stats), nil
		})
		return err
	})
}

// guarded wraps one provider sync with the shared machinery: circuit
// breaker, staleness check, per-connection lock, opportunistic token
// refresh, and scrape bookkeeping. Bookkeeping writes happen while the
// lease is still held; the job error propagates only after release.
func (s *Syncer) guarded(ctx context.Context, conn *models.Connection, window time.Duration, fn func(p provider.OAuthProvider) error) error {
	le := s.le.WithFields(logrus.Fields{
		"connection_id": conn.ID,
		"provider":      conn.Provider,
	})

	if conn.ErrorCount > s.config.Sync.MaxConsecutiveErrors {
		le.WithField("error_count", conn.ErrorCount).Warn("connection tripped the error circuit breaker, skipping sync")
		return nil
	}

	now := time.Now()
	if conn.ScrapedWithin(window, now) {
		le.Debug("connection scraped recently, skipping sync")
		return nil
	}

	p, err := s.registry.Lookup(conn.Provider)
	if err != nil {
		// provider disabled since connecting; nothing useful to do
		le.WithError(err).Info("provider not available, skipping sync")
		return nil
	}

	err = lock.Do(ctx, s.locker, lockKey(conn.ID), s.config.Lock.TTL, func() error {
		if terr := s.maybeRefreshToken(ctx, conn, p); terr != nil {
			return s.recordFailure(le, conn, terr)
		}
		if terr := fn(p); terr != nil {
			return s.recordFailure(le, conn, terr)
		}
		return conn.RecordScrape(s.db, time.Now())
	})

	if errors.Is(err, lock.ErrNotAcquired) {
		// another worker is already running this sync
		le.Debug("sync already in flight, skipping")
		return nil
	}
	return err
}

// recordFailure bumps the connection's consecutive error count while the
// lease is still held, then hands the job error back for propagation.
func (s *Syncer) recordFailure(le *logrus.Entry, conn *models.Connection, err error) error {
	if terr := conn.RecordScrapeError(s.db); terr != nil {
		le.WithError(terr).Error("unable to record scrape error")
	}
	return err
}

// maybeRefreshToken refreshes an expired access token before scraping. It
// runs under the per-connection lock, so two refreshes can never race and
// invalidate each other's new token.
func (s *Syncer) maybeRefreshToken(ctx context.Context, conn *models.Connection, p provider.OAuthProvider) error {
	if !conn.TokenExpired(time.Now()) {
		return nil
	}

	refresher, ok := p.(provider.TokenRefresher)
	if !ok || conn.RefreshToken == "" {
		return errors.New("access token expired and provider cannot refresh it")
	}

	token, err := refresher.RefreshOAuthToken(ctx, conn.RefreshToken.String())
	if err != nil {
		return errors.Wrap(err, "error refreshing access token")
	}

	return conn.UpdateTokens(s.db, &models.ProviderToken{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.ExpiresAt,
	})
}

func lockKey(connID uuid.UUID) string {
	return "connection:" + connID.String()
}

func reposPayload(repos []provider.Repo) []interface{} {
	out := make([]interface{}, 0, len(repos))
	for _, r := range repos {
		languages := map[string]interface{}{}
		for lang, lines := range r.Languages {
			languages[lang] = lines
		}
		out = append(out, map[string]interface{}{
			"name":      r.Name,
			"stars":     r.Stars,
			"languages": languages,
		})
	}
	return out
}
