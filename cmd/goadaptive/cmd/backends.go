package cmd

import (
	"context"
	"fmt"

	"github.com/dbsmedya/goadaptive/internal/config"
	"github.com/dbsmedya/goadaptive/internal/database"
	"github.com/dbsmedya/goadaptive/internal/logger"
	"github.com/dbsmedya/goadaptive/internal/record"
	"github.com/dbsmedya/goadaptive/internal/store"
)

// backends bundles the connections and stores the commands work with.
type backends struct {
	manager    *database.Manager
	relational *store.MySQLStore
	document   *store.MongoStore
}

// connectBackends connects to both databases and wraps them in stores.
// The caller must call close.
func connectBackends(ctx context.Context, cfg *config.Config, log *logger.Logger) (*backends, error) {
	manager := database.NewManager(cfg)
	if err := manager.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to databases: %w", err)
	}
	if err := manager.Ping(ctx); err != nil {
		manager.Close()
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	rel, err := store.NewMySQLStore(manager.Relational, cfg.Relational.Table,
		record.JoinKeys(cfg.Policy.JoinKeys), log.WithBackend("mysql"))
	if err != nil {
		manager.Close()
		return nil, fmt.Errorf("failed to create relational store: %w", err)
	}
	doc, err := store.NewMongoStore(manager.DocumentCollection(), log.WithBackend("mongo"))
	if err != nil {
		manager.Close()
		return nil, fmt.Errorf("failed to create document store: %w", err)
	}

	return &backends{manager: manager, relational: rel, document: doc}, nil
}

func (b *backends) close() error {
	return b.manager.Close()
}
