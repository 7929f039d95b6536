package cmd

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/devstreak/sync/internal/api/provider"
	"github.com/devstreak/sync/internal/conf"
	"github.com/devstreak/sync/internal/lock"
	"github.com/devstreak/sync/internal/models"
	"github.com/devstreak/sync/internal/storage"
	"github.com/devstreak/sync/internal/tasks"
)

const sweepBatchSize = 100

var workerCmd = cobra.Command{
	Use:  "worker",
	Long: "Start background workers without the API server",
	Run: func(cmd *cobra.Command, args []string) {
		worker(cmd.Context())
	},
}

// worker runs the task pool plus a periodic sweep that enqueues sync jobs
// for connections that have gone stale, so syncs keep happening even when
// no API instance is around to trigger them.
func worker(ctx context.Context) {
	config := loadGlobalConfig(ctx)

	db, err := storage.Dial(config)
	if err != nil {
		logrus.Fatalf("error opening database: %+v", err)
	}
	defer db.Close()

	locker, err := lock.FromConfig(config, db)
	if err != nil {
		logrus.Fatalf("error configuring lock backend: %+v", err)
	}

	registry := provider.NewRegistry(config)
	logrus.WithField("providers", registry.IDs()).Info("integrations configured")

	dispatcher := tasks.NewDispatcher(config.Sync.WorkerCount, config.Sync.QueueSize, logrus.WithField("component", "tasks"))
	syncer := tasks.NewSyncer(config, db, locker, registry, logrus.WithField("component", "syncer"))
	syncer.RegisterTasks(dispatcher)
	generator := tasks.NewGenerator(config, db, locker, tasks.BadgeSummaryGenerate(db), logrus.WithField("component", "generator"))
	generator.RegisterTasks(dispatcher)

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := dispatcher.Work(ctx); err != nil && err != context.Canceled {
			logrus.WithError(err).Error("task workers exited")
		}
	}()

	logrus.Infof("Sync workers started, sweeping every %s", config.Sync.SweepInterval)
	sweepLoop(ctx, config.Sync.SweepInterval, func() {
		sweep(ctx, config, db, dispatcher)
	})
	<-workerDone
}

func sweepLoop(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// sweep enqueues a sync for every connection whose last successful scrape
// predates the shortest staleness window. The sync job re-checks the
// per-type window and the circuit breaker, so over-enqueuing is harmless.
func sweep(ctx context.Context, config *conf.GlobalConfiguration, db *storage.Connection, dispatcher *tasks.Dispatcher) {
	window := config.Sync.ReposStaleness
	if config.Sync.StatsStaleness < window {
		window = config.Sync.StatsStaleness
	}

	due, err := models.FindConnectionsDueForSync(db.WithContext(ctx), time.Now().Add(-window), config.Sync.MaxConsecutiveErrors, sweepBatchSize)
	if err != nil {
		logrus.WithError(err).Error("sweep query failed")
		return
	}

	for _, conn := range due {
		dispatcher.Enqueue(tasks.TaskSync, conn.ID.String())
	}
	if len(due) > 0 {
		logrus.WithField("count", len(due)).Info("enqueued stale connections for sync")
	}
}
