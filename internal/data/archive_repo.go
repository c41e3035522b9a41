package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nagare-ml/nagare/internal/core"
	"github.com/nagare-ml/nagare/internal/data/pgxutil"
	"github.com/nagare-ml/nagare/internal/domain/model"
)

const defaultArchiveListLimit = 50

// ArchiveRepo implements the ResultArchive interface using PostgreSQL.
// Completed results are persisted here so they outlive the TTL'd job
// record in the record store.
type ArchiveRepo struct {
	DB *sql.DB
}

// NewArchiveRepo creates an ArchiveRepo with the given database connection.
func NewArchiveRepo(db *sql.DB) *ArchiveRepo {
	return &ArchiveRepo{DB: db}
}

const archiveColumns = `request_id, domain, result, created_at`

// Upsert inserts a result row, replacing any previous result for the
// same (domain, request_id). Redelivered work may archive twice; the
// last write wins.
func (r *ArchiveRepo) Upsert(ctx context.Context, entry core.ArchiveEntry) error {
	if entry.RequestID == "" {
		return errors.New("request_id is required")
	}
	if entry.Domain == "" {
		return errors.New("domain is required")
	}
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, `
			INSERT INTO results (request_id, domain, result, created_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (domain, request_id)
			DO UPDATE SET result = EXCLUDED.result, created_at = EXCLUDED.created_at
		`, entry.RequestID, entry.Domain, entry.Result)
		return err
	}); err != nil {
		return fmt.Errorf("upsert result: %w", err)
	}
	return nil
}

// ListRecent returns the most recently archived results for a domain,
// newest first.
func (r *ArchiveRepo) ListRecent(
	ctx context.Context,
	domain model.Domain,
	limit int,
) ([]core.ArchiveEntry, error) {
	if !domain.Valid() {
		return nil, fmt.Errorf("unknown domain %q", domain)
	}
	if limit <= 0 {
		limit = defaultArchiveListLimit
	}

	var out []core.ArchiveEntry
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+archiveColumns+` FROM results
			WHERE domain = $1
			ORDER BY created_at DESC, request_id DESC
			LIMIT $2
		`, string(domain), limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectRows(rows, pgx.RowToStructByName[core.ArchiveEntry])
		return err
	}); err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return out, nil
}

var _ core.ResultArchive = (*ArchiveRepo)(nil)
