package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

// RecordStore implements domain.RecordStore on SQLite.
type RecordStore struct {
	db *sql.DB
}

// NewRecordStore creates a RecordStore on an opened database.
func NewRecordStore(db *sql.DB) *RecordStore {
	return &RecordStore{db: db}
}

const recordColumns = `id, encrypted_criteria, criteria_hash, hash_algorithm,
	encrypted_password, created_at, revealed, revealed_at`

// Insert stores a new record, failing with domain.ErrAlreadyExists when the
// id is taken.
func (s *RecordStore) Insert(ctx context.Context, rec domain.MarketRecord) error {
	const query = `
		INSERT INTO secret_markets (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`

	var revealedAt sql.NullInt64
	if rec.RevealedAt != nil {
		revealedAt = sql.NullInt64{Int64: toMillis(*rec.RevealedAt), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.EncryptedCriteria, rec.CriteriaHash, rec.HashAlgorithm,
		sql.NullString{String: rec.EncryptedPassword, Valid: rec.EncryptedPassword != ""},
		toMillis(rec.CreatedAt), rec.Revealed, revealedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert record %s: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: insert record %s: %w", rec.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite: insert record %s: %w", rec.ID, domain.ErrAlreadyExists)
	}
	return nil
}

// Get returns the record with the given id.
func (s *RecordStore) Get(ctx context.Context, id string) (domain.MarketRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM secret_markets WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MarketRecord{}, fmt.Errorf("sqlite: record %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.MarketRecord{}, fmt.Errorf("sqlite: get record %s: %w", id, err)
	}
	return rec, nil
}

// MarkRevealed flags the record as disclosed, keeping the first reveal time.
func (s *RecordStore) MarkRevealed(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE secret_markets
		SET revealed = 1, revealed_at = COALESCE(revealed_at, ?)
		WHERE id = ?`, toMillis(at), id)
	if err != nil {
		return fmt.Errorf("sqlite: mark revealed %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: mark revealed %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite: mark revealed %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListUnrevealed returns records not yet disclosed, oldest first.
func (s *RecordStore) ListUnrevealed(ctx context.Context, opts domain.ListOpts) ([]domain.MarketRecord, error) {
	var (
		where = []string{"revealed = 0"}
		args  []any
	)
	if opts.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, toMillis(*opts.Since))
	}
	if opts.Until != nil {
		where = append(where, "created_at <= ?")
		args = append(args, toMillis(*opts.Until))
	}
	query := `SELECT ` + recordColumns + ` FROM secret_markets WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_at ASC` + limitClause(opts, &args)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list unrevealed: %w", err)
	}
	defer rows.Close()

	var out []domain.MarketRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list unrevealed rows: %w", err)
	}
	return out, nil
}

// Count returns the number of stored records.
func (s *RecordStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM secret_markets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count records: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (domain.MarketRecord, error) {
	var (
		rec        domain.MarketRecord
		password   sql.NullString
		createdAt  int64
		revealedAt sql.NullInt64
	)
	if err := row.Scan(
		&rec.ID, &rec.EncryptedCriteria, &rec.CriteriaHash, &rec.HashAlgorithm,
		&password, &createdAt, &rec.Revealed, &revealedAt,
	); err != nil {
		return domain.MarketRecord{}, err
	}
	rec.EncryptedPassword = password.String
	rec.CreatedAt = fromMillis(createdAt)
	if revealedAt.Valid {
		t := fromMillis(revealedAt.Int64)
		rec.RevealedAt = &t
	}
	return rec, nil
}

// limitClause renders LIMIT/OFFSET. SQLite needs a LIMIT before OFFSET, so
// an offset alone uses LIMIT -1.
func limitClause(opts domain.ListOpts, args *[]any) string {
	switch {
	case opts.Limit > 0:
		*args = append(*args, opts.Limit, opts.Offset)
		return " LIMIT ? OFFSET ?"
	case opts.Offset > 0:
		*args = append(*args, opts.Offset)
		return " LIMIT -1 OFFSET ?"
	}
	return ""
}
