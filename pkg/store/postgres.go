package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nimbusfs/syncd/pkg/apperr"
	"github.com/nimbusfs/syncd/pkg/types"
	"github.com/nimbusfs/syncd/pkg/validate"
)

// PostgresStore implements Store over a pgx connection pool. File
// mutations run inside a transaction that first takes SELECT ... FOR
// UPDATE on the (tenant_id, path) row. When no row exists yet, racing
// inserts of the same path are stopped by the unique index named in
// spec.md §6: the losing insert fails, and CreateStrict reports that
// failure as CONFLICT.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// acquireTimeout bounds each store operation as a whole, including the
// wait for a pooled connection (spec.md §5).
const acquireTimeout = 5 * time.Second

// NewPostgresStore opens a pool against dsn and verifies connectivity.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) acquire(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, acquireTimeout)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func scanFileRecord(row pgx.Row) (*types.FileRecord, error) {
	var rec types.FileRecord
	err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.Path, &rec.Content, &rec.Hash, &rec.Size,
		&rec.Extension, &rec.IsBinary, &rec.CreatedAt, &rec.UpdatedAt, &rec.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan file record: %w", err)
	}
	return &rec, nil
}

const fileColumns = `id, tenant_id, path, content, hash, size, extension, is_binary, created_at, updated_at, expires_at`

func (s *PostgresStore) Get(ctx context.Context, tenantID, path string) (*types.FileRecord, error) {
	ctx, cancel := s.acquire(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM files WHERE tenant_id = $1 AND path = $2 AND expires_at IS NULL`,
		tenantID, path,
	)
	return scanFileRecord(row)
}

func (s *PostgresStore) GetIncludingTombstones(ctx context.Context, tenantID, path string) (*types.FileRecord, error) {
	ctx, cancel := s.acquire(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM files WHERE tenant_id = $1 AND path = $2`,
		tenantID, path,
	)
	return scanFileRecord(row)
}

// withFileTx runs fn inside a transaction holding a row lock on the
// (tenant_id, path) identity, serializing concurrent mutations of the
// same logical file (spec.md §5).
func (s *PostgresStore) withFileTx(ctx context.Context, tenantID, path string, fn func(tx pgx.Tx) (types.MutationOutcome, error)) (types.MutationOutcome, error) {
	ctx, cancel := s.acquire(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.MutationOutcome{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the row (if any) for the duration of the transaction.
	_, _ = tx.Exec(ctx, `SELECT 1 FROM files WHERE tenant_id = $1 AND path = $2 FOR UPDATE`, tenantID, path)

	out, err := fn(tx)
	if err != nil {
		return types.MutationOutcome{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.MutationOutcome{}, fmt.Errorf("commit tx: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CreateEmpty(ctx context.Context, tenantID, path string) (types.MutationOutcome, error) {
	return s.withFileTx(ctx, tenantID, path, func(tx pgx.Tx) (types.MutationOutcome, error) {
		existing, err := scanFileRecord(tx.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE tenant_id = $1 AND path = $2`, tenantID, path))
		if err != nil {
			return types.MutationOutcome{}, err
		}
		now := time.Now()
		ext, isBinary := validate.Classify(path)

		if existing != nil && !existing.IsTombstone() {
			return types.MutationOutcome{Record: existing, Created: false}, nil
		}

		if existing != nil {
			row := tx.QueryRow(ctx, `
				UPDATE files SET content = '', hash = $1, size = 0, extension = $2,
					is_binary = $3, expires_at = NULL, updated_at = $4
				WHERE id = $5
				RETURNING `+fileColumns,
				emptyContentHash(), ext, isBinary, now, existing.ID,
			)
			rec, err := scanFileRecord(row)
			if err != nil {
				return types.MutationOutcome{}, err
			}
			return types.MutationOutcome{Record: rec, Created: true}, nil
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO files (tenant_id, path, content, hash, size, extension, is_binary, created_at, updated_at)
			VALUES ($1, $2, '', $3, 0, $4, $5, $6, $6)
			RETURNING `+fileColumns,
			tenantID, path, emptyContentHash(), ext, isBinary, now,
		)
		rec, err := scanFileRecord(row)
		if err != nil {
			return types.MutationOutcome{}, err
		}
		return types.MutationOutcome{Record: rec, Created: true}, nil
	})
}

func (s *PostgresStore) CreateStrict(ctx context.Context, tenantID, path, content string) (*types.FileRecord, error) {
	out, err := s.withFileTx(ctx, tenantID, path, func(tx pgx.Tx) (types.MutationOutcome, error) {
		existing, err := scanFileRecord(tx.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE tenant_id = $1 AND path = $2`, tenantID, path))
		if err != nil {
			return types.MutationOutcome{}, err
		}
		if existing != nil && !existing.IsTombstone() {
			return types.MutationOutcome{}, apperr.Conflict("a file already exists at this path")
		}

		now := time.Now()
		ext, isBinary := validate.Classify(path)
		hash := hashContent(content)
		size := sizeOf(content)

		if existing != nil {
			row := tx.QueryRow(ctx, `
				UPDATE files SET content = $1, hash = $2, size = $3, extension = $4,
					is_binary = $5, expires_at = NULL, updated_at = $6
				WHERE id = $7
				RETURNING `+fileColumns,
				content, hash, size, ext, isBinary, now, existing.ID,
			)
			rec, err := scanFileRecord(row)
			return types.MutationOutcome{Record: rec}, err
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO files (tenant_id, path, content, hash, size, extension, is_binary, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
			RETURNING `+fileColumns,
			tenantID, path, content, hash, size, ext, isBinary, now,
		)
		rec, err := scanFileRecord(row)
		return types.MutationOutcome{Record: rec}, err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, apperr.Conflict("a file already exists at this path")
		}
		return nil, err
	}
	return out.Record, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, tenantID, path, content string) (types.MutationOutcome, error) {
	return s.withFileTx(ctx, tenantID, path, func(tx pgx.Tx) (types.MutationOutcome, error) {
		existing, err := scanFileRecord(tx.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE tenant_id = $1 AND path = $2`, tenantID, path))
		if err != nil {
			return types.MutationOutcome{}, err
		}

		now := time.Now()
		ext, isBinary := validate.Classify(path)
		hash := hashContent(content)
		size := sizeOf(content)

		if existing != nil {
			row := tx.QueryRow(ctx, `
				UPDATE files SET content = $1, hash = $2, size = $3, extension = $4,
					is_binary = $5, expires_at = NULL, updated_at = $6
				WHERE id = $7
				RETURNING `+fileColumns,
				content, hash, size, ext, isBinary, now, existing.ID,
			)
			rec, err := scanFileRecord(row)
			if err != nil {
				return types.MutationOutcome{}, err
			}
			return types.MutationOutcome{Record: rec, Created: existing.IsTombstone()}, nil
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO files (tenant_id, path, content, hash, size, extension, is_binary, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
			RETURNING `+fileColumns,
			tenantID, path, content, hash, size, ext, isBinary, now,
		)
		rec, err := scanFileRecord(row)
		if err != nil {
			return types.MutationOutcome{}, err
		}
		return types.MutationOutcome{Record: rec, Created: true}, nil
	})
}

func (s *PostgresStore) SoftDelete(ctx context.Context, tenantID, path string) (types.DeleteOutcome, error) {
	ctx, cancel := s.acquire(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		UPDATE files SET content = '', hash = $1, size = 0, expires_at = $2, updated_at = $2
		WHERE tenant_id = $3 AND path = $4 AND expires_at IS NULL`,
		emptyContentHash(), time.Now().Add(TombstoneTTL), tenantID, path,
	)
	if err != nil {
		return types.DeleteOutcome{}, fmt.Errorf("soft delete: %w", err)
	}
	return types.DeleteOutcome{Deleted: tag.RowsAffected() > 0}, nil
}

func (s *PostgresStore) SoftDeleteAll(ctx context.Context, tenantID string) (int, error) {
	ctx, cancel := s.acquire(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		UPDATE files SET content = '', hash = $1, size = 0, expires_at = $2, updated_at = $2
		WHERE tenant_id = $3 AND expires_at IS NULL`,
		emptyContentHash(), time.Now().Add(TombstoneTTL), tenantID,
	)
	if err != nil {
		return 0, fmt.Errorf("soft delete all: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Rename(ctx context.Context, tenantID, oldPath, newPath string) (types.MutationOutcome, error) {
	ctx, cancel := s.acquire(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.MutationOutcome{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, _ = tx.Exec(ctx, `SELECT 1 FROM files WHERE tenant_id = $1 AND path IN ($2, $3) FOR UPDATE`, tenantID, oldPath, newPath)

	source, err := scanFileRecord(tx.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE tenant_id = $1 AND path = $2`, tenantID, oldPath))
	if err != nil {
		return types.MutationOutcome{}, err
	}
	hasActiveSource := source != nil && !source.IsTombstone()
	now := time.Now()

	if !hasActiveSource {
		if _, err := tx.Exec(ctx, `
			UPDATE files SET content = '', hash = $1, size = 0, expires_at = $2, updated_at = $2
			WHERE tenant_id = $3 AND path = $4 AND expires_at IS NULL`,
			emptyContentHash(), now.Add(TombstoneTTL), tenantID, newPath,
		); err != nil {
			return types.MutationOutcome{}, fmt.Errorf("soft delete destination: %w", err)
		}

		dest, err := scanFileRecord(tx.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE tenant_id = $1 AND path = $2`, tenantID, newPath))
		if err != nil {
			return types.MutationOutcome{}, err
		}
		ext, isBinary := validate.Classify(newPath)

		var rec *types.FileRecord
		if dest != nil {
			rec, err = scanFileRecord(tx.QueryRow(ctx, `
				UPDATE files SET content = '', hash = $1, size = 0, extension = $2,
					is_binary = $3, expires_at = NULL, updated_at = $4
				WHERE id = $5
				RETURNING `+fileColumns,
				emptyContentHash(), ext, isBinary, now, dest.ID,
			))
		} else {
			rec, err = scanFileRecord(tx.QueryRow(ctx, `
				INSERT INTO files (tenant_id, path, content, hash, size, extension, is_binary, created_at, updated_at)
				VALUES ($1, $2, '', $3, 0, $4, $5, $6, $6)
				RETURNING `+fileColumns,
				tenantID, newPath, emptyContentHash(), ext, isBinary, now,
			))
		}
		if err != nil {
			return types.MutationOutcome{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return types.MutationOutcome{}, fmt.Errorf("commit tx: %w", err)
		}
		return types.MutationOutcome{Record: rec, Created: true}, nil
	}

	// (a) soft-delete any active record at newPath.
	if _, err := tx.Exec(ctx, `
		UPDATE files SET content = '', hash = $1, size = 0, expires_at = $2, updated_at = $2
		WHERE tenant_id = $3 AND path = $4 AND expires_at IS NULL`,
		emptyContentHash(), now.Add(TombstoneTTL), tenantID, newPath,
	); err != nil {
		return types.MutationOutcome{}, fmt.Errorf("soft delete destination: %w", err)
	}

	// (b) permanently free the unique key at newPath.
	if _, err := tx.Exec(ctx, `DELETE FROM files WHERE tenant_id = $1 AND path = $2`, tenantID, newPath); err != nil {
		return types.MutationOutcome{}, fmt.Errorf("delete tombstone at destination: %w", err)
	}

	// (c) move the source row in place.
	ext, isBinary := validate.Classify(newPath)
	rec, err := scanFileRecord(tx.QueryRow(ctx, `
		UPDATE files SET path = $1, extension = $2, is_binary = $3, updated_at = $4
		WHERE id = $5
		RETURNING `+fileColumns,
		newPath, ext, isBinary, now, source.ID,
	))
	if err != nil {
		return types.MutationOutcome{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.MutationOutcome{}, fmt.Errorf("commit tx: %w", err)
	}
	return types.MutationOutcome{Record: rec, Created: false}, nil
}

func (s *PostgresStore) CleanupExpired(ctx context.Context) (int, error) {
	ctx, cancel := s.acquire(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `DELETE FROM files WHERE expires_at IS NOT NULL AND expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) List(ctx context.Context, tenantID string, opts types.ListOptions) (types.ListResult, error) {
	ctx, cancel := s.acquire(ctx)
	defer cancel()

	opts.Normalize()

	where := `WHERE tenant_id = $1`
	args := []any{tenantID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !opts.IncludeDeleted {
		where += ` AND expires_at IS NULL`
	}
	if opts.PathPrefix != "" {
		where += ` AND path LIKE ` + arg(opts.PathPrefix+"%")
	}
	if opts.PathContains != "" {
		where += ` AND path LIKE ` + arg("%"+opts.PathContains+"%")
	}
	if len(opts.Extensions) > 0 {
		where += ` AND extension = ANY(` + arg(opts.Extensions) + `)`
	}
	if opts.ContentContains != "" {
		where += ` AND is_binary = false AND content ILIKE ` + arg("%"+opts.ContentContains+"%")
	}
	if opts.IsBinary != nil {
		where += ` AND is_binary = ` + arg(*opts.IsBinary)
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM files `+where, args...).Scan(&total); err != nil {
		return types.ListResult{}, fmt.Errorf("count files: %w", err)
	}

	limitArg := arg(opts.Limit)
	offsetArg := arg(opts.Offset)
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, path, '' AS content, hash, size, extension, is_binary, created_at, updated_at, expires_at
		FROM files `+where+`
		ORDER BY path ASC
		LIMIT `+limitArg+` OFFSET `+offsetArg,
		args...,
	)
	if err != nil {
		return types.ListResult{}, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []*types.FileRecord
	for rows.Next() {
		rec, err := scanFileRecord(rows)
		if err != nil {
			return types.ListResult{}, err
		}
		files = append(files, rec)
	}
	if err := rows.Err(); err != nil {
		return types.ListResult{}, fmt.Errorf("list files: %w", err)
	}

	return types.ListResult{Files: files, Total: total, Limit: opts.Limit, Offset: opts.Offset}, nil
}

func (s *PostgresStore) GetCredentialByHash(ctx context.Context, hash string) (*types.Credential, error) {
	ctx, cancel := s.acquire(ctx)
	defer cancel()

	return scanCredential(s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name, prefix, hash, permissions, created_at, last_used_at, revoked_at
		 FROM credentials WHERE hash = $1`, hash))
}

func (s *PostgresStore) GetCredential(ctx context.Context, id string) (*types.Credential, error) {
	ctx, cancel := s.acquire(ctx)
	defer cancel()

	return scanCredential(s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name, prefix, hash, permissions, created_at, last_used_at, revoked_at
		 FROM credentials WHERE id = $1`, id))
}

func scanCredential(row pgx.Row) (*types.Credential, error) {
	var c types.Credential
	var perms []string
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Prefix, &c.Hash, &perms, &c.CreatedAt, &c.LastUsedAt, &c.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan credential: %w", err)
	}
	for _, p := range perms {
		c.Permissions = append(c.Permissions, types.Permission(p))
	}
	return &c, nil
}

func (s *PostgresStore) ListCredentials(ctx context.Context, tenantID string) ([]*types.Credential, error) {
	ctx, cancel := s.acquire(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, prefix, hash, permissions, created_at, last_used_at, revoked_at
		 FROM credentials WHERE tenant_id = $1 ORDER BY created_at ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []*types.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateCredential(ctx context.Context, cred *types.Credential) error {
	ctx, cancel := s.acquire(ctx)
	defer cancel()

	perms := make([]string, 0, len(cred.Permissions))
	for _, p := range cred.Permissions {
		perms = append(perms, string(p))
	}

	return s.pool.QueryRow(ctx, `
		INSERT INTO credentials (tenant_id, name, prefix, hash, permissions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		cred.TenantID, cred.Name, cred.Prefix, cred.Hash, perms, cred.CreatedAt,
	).Scan(&cred.ID)
}

func (s *PostgresStore) RevokeCredential(ctx context.Context, id string) error {
	ctx, cancel := s.acquire(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `UPDATE credentials SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("credential not found")
	}
	return nil
}

func (s *PostgresStore) TouchCredentialLastUsed(ctx context.Context, credentialID string, at time.Time) error {
	ctx, cancel := s.acquire(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx, `UPDATE credentials SET last_used_at = $1 WHERE id = $2`, at, credentialID)
	if err != nil {
		return fmt.Errorf("touch credential last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateTenant(ctx context.Context, tenant *types.Tenant) error {
	ctx, cancel := s.acquire(ctx)
	defer cancel()

	return s.pool.QueryRow(ctx, `
		INSERT INTO tenants (name, created_at, updated_at) VALUES ($1, $2, $2) RETURNING id`,
		tenant.Name, tenant.CreatedAt,
	).Scan(&tenant.ID)
}

func (s *PostgresStore) GetTenant(ctx context.Context, id string) (*types.Tenant, error) {
	ctx, cancel := s.acquire(ctx)
	defer cancel()

	var t types.Tenant
	err := s.pool.QueryRow(ctx, `SELECT id, name, created_at, updated_at FROM tenants WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) ListTenants(ctx context.Context) ([]*types.Tenant, error) {
	ctx, cancel := s.acquire(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT id, name, created_at, updated_at FROM tenants ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var out []*types.Tenant
	for rows.Next() {
		var t types.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteTenant(ctx context.Context, id string) error {
	ctx, cancel := s.acquire(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}
	return nil
}
