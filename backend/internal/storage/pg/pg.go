package pg

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/storefront-dev/storefront/backend/internal/storage/pg/migrations"
	"github.com/storefront-dev/storefront/shared/config"
	sharedpg "github.com/storefront-dev/storefront/shared/storage/pg"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier = sharedpg.Querier

const txTimeout = 5 * time.Second

type Storage struct {
	db     *sql.DB
	logger *slog.Logger
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Storage, error) {
	logger.Info("connecting to db", "host", cfg.Private.Pg.Host, "dbname", cfg.Private.Pg.Dbname)
	db, err := sharedpg.Connect(ctx, cfg, sharedpg.DefaultConnectionConfig())
	if err != nil {
		return nil, err
	}
	logger.Info("successfully connected to db")
	return NewWithDB(db, logger), nil
}

// NewWithDB wraps an already opened pool.
func NewWithDB(db *sql.DB, logger *slog.Logger) *Storage {
	return &Storage{db: db, logger: logger}
}

// RunMigrations applies the embedded schema with goose.
func (s *Storage) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) Cleanup() error {
	return s.db.Close()
}

// withTx runs fn in a transaction bounded by txTimeout.
func (s *Storage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, txTimeout)
	defer cancel()
	return sharedpg.WithTx(ctx, s.db, fn)
}
