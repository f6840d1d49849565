package seen

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresBackend stores the set in the seen_posts table of a Postgres database.
type PostgresBackend struct {
	db *sql.DB
}

// NewPostgresBackend connects to dsn, pings it with retries, and migrates the schema.
func NewPostgresBackend(ctx context.Context, dsn string) (*PostgresBackend, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := pingWithRetry(ctx, db.PingContext, pingAttempts, sleepCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := RunMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresBackend{db: db}, nil
}

const pingAttempts = 5

// pingWithRetry pings up to attempts times, waiting attempt seconds between
// tries. There is no wait after the final failure.
func pingWithRetry(ctx context.Context, ping func(context.Context) error, attempts int, sleep func(context.Context, time.Duration) error) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = ping(pctx)
		cancel()
		if err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		slog.Warn("postgres ping failed, retrying", slog.Int("attempt", attempt), slog.Any("err", err), slog.String("component", "seen"))
		if serr := sleep(ctx, time.Duration(attempt)*time.Second); serr != nil {
			return serr
		}
	}
	return fmt.Errorf("ping postgres after %d attempts: %w", attempts, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NewPostgresBackendFromDB wraps an already migrated connection.
func NewPostgresBackendFromDB(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// RunMigrations applies the embedded schema migrations. Idempotent.
func RunMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "seen_schema_migrations"})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("seen schema is up to date", slog.String("component", "seen_migrate"))
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		slog.Warn("could not determine migration version", slog.Any("err", err), slog.String("component", "seen_migrate"))
		return nil
	}
	if dirty {
		return fmt.Errorf("database is in dirty state at version %d - manual intervention required", version)
	}
	slog.Info("migrations applied successfully", slog.Uint64("version", uint64(version)), slog.String("component", "seen_migrate"))
	return nil
}

// Load returns every stored id.
func (b *PostgresBackend) Load(ctx context.Context) ([]string, error) {
	return queryIDs(ctx, b.db, "SELECT id FROM seen_posts ORDER BY id")
}

// Save upserts ids in one transaction.
func (b *PostgresBackend) Save(ctx context.Context, ids []string) error {
	return upsertIDs(ctx, b.db, "INSERT INTO seen_posts (id, seen_at) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING", ids)
}

// Close closes the pool.
func (b *PostgresBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
