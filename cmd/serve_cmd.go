package cmd

import (
	"context"
	"net"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/devstreak/sync/internal/api"
	"github.com/devstreak/sync/internal/api/provider"
	"github.com/devstreak/sync/internal/lock"
	"github.com/devstreak/sync/internal/storage"
	"github.com/devstreak/sync/internal/tasks"
	"github.com/devstreak/sync/internal/utilities"
)

var serveCmd = cobra.Command{
	Use:  "serve",
	Long: "Start API server and background workers",
	Run: func(cmd *cobra.Command, args []string) {
		serve(cmd.Context())
	},
}

func serve(ctx context.Context) {
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

	a := api.NewAPIWithVersion(config, db, registry, locker, dispatcher, utilities.BuildVersion())

	addr := net.JoinHostPort(config.API.Host, config.API.Port)
	logrus.Infof("Sync API started on: %s", addr)

	a.ListenAndServe(ctx, addr)
	<-workerDone
}
