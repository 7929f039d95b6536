package test

import (
	"github.com/devstreak/sync/internal/conf"
	"github.com/devstreak/sync/internal/storage"
)

func SetupDBConnection(globalConfig *conf.GlobalConfiguration) (*storage.Connection, error) {
	return storage.Dial(globalConfig)
}
