package index

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

//go:embed migrations
var migrationsFS embed.FS

// PostgresIndex stores asset records in a PostgreSQL table. Pick it over the
// embedded default when several service instances need to share one index.
type PostgresIndex struct {
	pool *pgxpool.Pool
}

// NewPostgresIndex creates and validates a pgx connection pool, then applies
// all pending up migrations embedded in the binary.
func NewPostgresIndex(ctx context.Context, databaseURL string) (*PostgresIndex, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrateUp(databaseURL); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info().Msg("asset index migrations applied")
	return &PostgresIndex{pool: pool}, nil
}

func migrateUp(databaseURL string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Put stores or replaces the record for a.ID.
func (p *PostgresIndex) Put(ctx context.Context, a Asset) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO assets (id, original_name, filename, path, size, mime_type, disk, uploaded_by, uploaded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   original_name = EXCLUDED.original_name,
		   filename      = EXCLUDED.filename,
		   path          = EXCLUDED.path,
		   size          = EXCLUDED.size,
		   mime_type     = EXCLUDED.mime_type,
		   disk          = EXCLUDED.disk,
		   uploaded_by   = EXCLUDED.uploaded_by,
		   uploaded_at   = EXCLUDED.uploaded_at`,
		a.ID, a.OriginalName, a.Filename, a.Path, a.Size, a.MimeType, a.Disk, a.UploadedBy, a.UploadedAt,
	)
	if err != nil {
		return fmt.Errorf("store asset %q: %w", a.ID, err)
	}
	return nil
}

// Get returns the record for id, or ErrNotFound.
func (p *PostgresIndex) Get(ctx context.Context, id string) (Asset, error) {
	var a Asset
	err := p.pool.QueryRow(ctx,
		`SELECT id, original_name, filename, path, size, mime_type, disk, uploaded_by, uploaded_at
		 FROM assets WHERE id = $1`,
		id,
	).Scan(&a.ID, &a.OriginalName, &a.Filename, &a.Path, &a.Size, &a.MimeType, &a.Disk, &a.UploadedBy, &a.UploadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Asset{}, ErrNotFound
	}
	if err != nil {
		return Asset{}, fmt.Errorf("read asset %q: %w", id, err)
	}
	return a, nil
}

// Delete removes the record for id. Absent records are a no-op.
func (p *PostgresIndex) Delete(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM assets WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete asset %q: %w", id, err)
	}
	return nil
}

// List returns all records, newest first.
func (p *PostgresIndex) List(ctx context.Context) ([]Asset, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, original_name, filename, path, size, mime_type, disk, uploaded_by, uploaded_at
		 FROM assets ORDER BY uploaded_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var assets []Asset
	for rows.Next() {
		var a Asset
		if err := rows.Scan(&a.ID, &a.OriginalName, &a.Filename, &a.Path, &a.Size, &a.MimeType, &a.Disk, &a.UploadedBy, &a.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return assets, nil
}

// Close releases the connection pool.
func (p *PostgresIndex) Close() error {
	p.pool.Close()
	return nil
}
