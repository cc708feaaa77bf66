// Package database manages the MySQL and MongoDB connections used by GoAdaptive.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/dbsmedya/goadaptive/internal/config"
)

const maxRetries = 3

// Manager holds the relational and document backend connections.
type Manager struct {
	Relational *sql.DB
	Document   *mongo.Client
	config     *config.Config
}

// NewManager creates a new database manager from configuration.
func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		config: cfg,
	}
}

// Connect establishes connections to both backends.
func (m *Manager) Connect(ctx context.Context) error {
	if err := m.ConnectRelational(ctx); err != nil {
		return err
	}

	if err := m.ConnectDocument(ctx); err != nil {
		m.Relational.Close()
		m.Relational = nil
		return err
	}

	return nil
}

// ConnectRelational establishes the MySQL connection only.
// Maintenance commands that never touch documents use this.
func (m *Manager) ConnectRelational(ctx context.Context) error {
	db, err := m.connectWithRetry(ctx, &m.config.Relational)
	if err != nil {
		return fmt.Errorf("failed to connect to relational database: %w", err)
	}
	m.Relational = db
	return nil
}

// ConnectDocument establishes the MongoDB connection only.
func (m *Manager) ConnectDocument(ctx context.Context) error {
	client, err := m.connectMongoWithRetry(ctx, &m.config.Document)
	if err != nil {
		return fmt.Errorf("failed to connect to document database: %w", err)
	}
	m.Document = client
	return nil
}

// connectWithRetry attempts to connect with exponential backoff.
func (m *Manager) connectWithRetry(ctx context.Context, cfg *config.RelationalConfig) (*sql.DB, error) {
	var db *sql.DB
	var err error

	backoff := time.Second

	for i := 0; i < maxRetries; i++ {
		db, err = m.connect(cfg)
		if err == nil {
			if pingErr := db.PingContext(ctx); pingErr == nil {
				return db, nil
			} else {
				db.Close()
				err = pingErr
			}
		}

		if i < maxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}
	}

	return nil, fmt.Errorf("failed after %d retries: %w", maxRetries, err)
}

// connect creates a database connection.
func (m *Manager) connect(cfg *config.RelationalConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", BuildDSN(cfg))
	if err != nil {
		return nil, err
	}

	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}
	if cfg.MaxIdleConnections > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConnections)
	}
	db.SetConnMaxLifetime(10 * time.Minute)

	return db, nil
}

// connectMongoWithRetry mirrors connectWithRetry for MongoDB.
func (m *Manager) connectMongoWithRetry(ctx context.Context, cfg *config.DocumentConfig) (*mongo.Client, error) {
	var err error
	backoff := time.Second

	for i := 0; i < maxRetries; i++ {
		var client *mongo.Client
		client, err = mongo.Connect(ctx, MongoClientOptions(cfg))
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, connectTimeout(cfg))
			err = client.Ping(pingCtx, readpref.Primary())
			cancel()
			if err == nil {
				return client, nil
			}
			_ = client.Disconnect(context.Background())
		}

		if i < maxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}
	}

	return nil, fmt.Errorf("failed after %d retries: %w", maxRetries, err)
}

func connectTimeout(cfg *config.DocumentConfig) time.Duration {
	if cfg.ConnectTimeoutSeconds > 0 {
		return time.Duration(cfg.ConnectTimeoutSeconds) * time.Second
	}
	return 10 * time.Second
}

// MongoClientOptions builds driver options from configuration.
func MongoClientOptions(cfg *config.DocumentConfig) *options.ClientOptions {
	return options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(connectTimeout(cfg)).
		SetServerSelectionTimeout(connectTimeout(cfg))
}

// BuildDSN constructs a MySQL DSN from configuration.
func BuildDSN(cfg *config.RelationalConfig) string {
	// Format: user:password@tcp(host:port)/database?params
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
	)

	if cfg.Database != "" {
		dsn += cfg.Database
	}

	params := "?parseTime=true"
	switch cfg.TLS {
	case "disable":
		params += "&tls=false"
	case "required":
		params += "&tls=true"
	case "preferred", "":
		params += "&tls=preferred"
	}

	return dsn + params
}

// DocumentCollection returns the configured collection handle.
func (m *Manager) DocumentCollection() *mongo.Collection {
	return m.Document.Database(m.config.Document.Database).Collection(m.config.Document.Collection)
}

// Close closes all connections gracefully.
func (m *Manager) Close() error {
	var errs []error

	if m.Document != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.Document.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("document close: %w", err))
		}
		cancel()
	}

	if m.Relational != nil {
		if err := m.Relational.Close(); err != nil {
			errs = append(errs, fmt.Errorf("relational close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing connections: %v", errs)
	}
	return nil
}

// Ping verifies all connections are alive.
func (m *Manager) Ping(ctx context.Context) error {
	if m.Relational != nil {
		if err := m.Relational.PingContext(ctx); err != nil {
			return fmt.Errorf("relational ping failed: %w", err)
		}
	}

	if m.Document != nil {
		if err := m.Document.Ping(ctx, readpref.Primary()); err != nil {
			return fmt.Errorf("document ping failed: %w", err)
		}
	}

	return nil
}
