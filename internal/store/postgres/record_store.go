package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

// uniqueViolation is the SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// RecordStore implements domain.RecordStore using PostgreSQL.
type RecordStore struct {
	pool *pgxpool.Pool
}

// NewRecordStore creates a new RecordStore backed by the given connection pool.
func NewRecordStore(pool *pgxpool.Pool) *RecordStore {
	return &RecordStore{pool: pool}
}

const recordColumns = `id, encrypted_criteria, criteria_hash, hash_algorithm,
	encrypted_password, created_at, revealed, revealed_at`

// Insert stores a new record. A second insert for the same id fails with
// domain.ErrAlreadyExists and leaves the first record untouched.
func (s *RecordStore) Insert(ctx context.Context, rec domain.MarketRecord) error {
	const query = `
		INSERT INTO secret_markets (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.EncryptedCriteria, rec.CriteriaHash, rec.HashAlgorithm,
		nullString(rec.EncryptedPassword), rec.CreatedAt, rec.Revealed, rec.RevealedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("postgres: insert record %s: %w", rec.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert record %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns the record with the given id.
func (s *RecordStore) Get(ctx context.Context, id string) (domain.MarketRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM secret_markets WHERE id = $1`

	rec, err := scanRecord(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MarketRecord{}, fmt.Errorf("postgres: record %s: %w", id, domain.ErrNotFound)
		}
		return domain.MarketRecord{}, fmt.Errorf("postgres: get record %s: %w", id, err)
	}
	return rec, nil
}

// MarkRevealed flags the record as publicly disclosed. Calling it again keeps
// the first reveal time.
func (s *RecordStore) MarkRevealed(ctx context.Context, id string, at time.Time) error {
	const query = `
		UPDATE secret_markets
		SET revealed = TRUE,
		    revealed_at = COALESCE(revealed_at, $2)
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("postgres: mark revealed %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark revealed %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListUnrevealed returns records not yet disclosed, oldest first.
func (s *RecordStore) ListUnrevealed(ctx context.Context, opts domain.ListOpts) ([]domain.MarketRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM secret_markets WHERE NOT revealed`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unrevealed: %w", err)
	}
	defer rows.Close()

	var out []domain.MarketRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list unrevealed rows: %w", err)
	}
	return out, nil
}

// Count returns the number of stored records.
func (s *RecordStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM secret_markets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count records: %w", err)
	}
	return n, nil
}

func scanRecord(row pgx.Row) (domain.MarketRecord, error) {
	var (
		rec      domain.MarketRecord
		password *string
	)
	if err := row.Scan(
		&rec.ID, &rec.EncryptedCriteria, &rec.CriteriaHash, &rec.HashAlgorithm,
		&password, &rec.CreatedAt, &rec.Revealed, &rec.RevealedAt,
	); err != nil {
		return domain.MarketRecord{}, err
	}
	if password != nil {
		rec.EncryptedPassword = *password
	}
	return rec, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
