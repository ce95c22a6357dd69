package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/zeusync/replica/internal/config"
	"github.com/zeusync/replica/internal/core/observability/log"
	"github.com/zeusync/replica/internal/core/replica/types"
	"github.com/zeusync/replica/internal/injector"
)

func main() {
	// REPLICA_CONFIG_PATH selects the config file
	cfg, err := config.Load("")
	if err != nil {
		fmt.Println("Error loading config:", err)
		os.Exit(1)
	}

	c, err := injector.InitializeClient(cfg)
	if err != nil {
		fmt.Println("Error initializing client:", err)
		os.Exit(1)
	}

	logger := log.Provide().With(log.String("component", "agent"))
	store := c.Store()
	store.OnStatusChange(func(status types.Status) {
		logger.Info("sync status",
			log.String("status", status.String()),
			log.String("error", store.ErrorMessage()),
			log.Int("pending", store.PendingCount()))
	})
	store.OnConflict(func(e types.ConflictEvent) {
		logger.Warn("unresolved conflict",
			log.String("collection", e.Collection),
			log.String("id", e.ID),
			log.Uint64("local_version", e.Local.Version),
			log.Uint64("remote_version", e.Remote.Version))
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = c.Connect(ctx); err != nil {
		logger.Error("connect failed", log.Error(err))
		_ = c.Close()
		os.Exit(1)
	}

	<-ctx.Done()

	if err = c.Close(); err != nil {
		logger.Error("shutdown failed", log.Error(err))
		os.Exit(1)
	}
}
