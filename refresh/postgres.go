package refresh

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/MrEthical07/gatekeep/clock"
)

// State values are persisted as their numeric form: 0 active, 1 rotated,
// 2 revoked.
const (
	selectRecordSQL = `SELECT token_id, subject, role, issued_at, expires_at, state, COALESCE(successor_id, '')
FROM refresh_tokens WHERE token_id = $1`

	lockRecordSQL = selectRecordSQL + ` FOR UPDATE`

	insertRecordSQL = `INSERT INTO refresh_tokens (token_id, subject, role, issued_at, expires_at, state)
VALUES ($1, $2, $3, $4, $5, 0)`

	markRotatedSQL = `UPDATE refresh_tokens SET state = 1, successor_id = $2 WHERE token_id = $1`

	revokeRecordSQL = `UPDATE refresh_tokens SET state = 2 WHERE token_id = $1`

	revokeLineageSQL = `WITH RECURSIVE chain (token_id, successor_id, depth) AS (
    SELECT token_id, successor_id, 1 FROM refresh_tokens WHERE token_id = $1
    UNION
    SELECT r.token_id, r.successor_id, c.depth + 1
    FROM refresh_tokens r JOIN chain c ON r.token_id = c.successor_id
    WHERE c.depth < $2
)
UPDATE refresh_tokens SET state = 2
WHERE token_id IN (SELECT token_id FROM chain) AND state <> 2`

	revokeSubjectSQL = `UPDATE refresh_tokens SET state = 2 WHERE subject = $1 AND state <> 2`

	sweepSQL = `DELETE FROM refresh_tokens WHERE expires_at <= $1`
)

const pgUniqueViolation = "23505"

// PostgresStore is a PostgreSQL-backed [Store]. Rotation holds a row lock on
// the presented record for the duration of its transaction.
type PostgresStore struct {
	db    *sql.DB
	clock clock.Clock
}

// NewPostgresStore wraps an open database handle. Call [Migrate] first.
func NewPostgresStore(db *sql.DB, clk clock.Clock) *PostgresStore {
	return &PostgresStore{db: db, clock: clock.OrSystem(clk)}
}

// OpenPostgres opens a pgx-backed handle for dsn and verifies connectivity.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return db, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec   Record
		state int16
	)
	err := row.Scan(&rec.TokenID, &rec.Subject, &rec.Role, &rec.IssuedAt, &rec.ExpiresAt, &state, &rec.SuccessorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, unavailable(err)
	}
	if state < int16(StateActive) || state > int16(StateRevoked) {
		return Record{}, fmt.Errorf("%w: corrupt state %d", ErrUnavailable, state)
	}
	rec.State = State(state)
	return rec, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRecord(ctx context.Context, db execer, rec Record) error {
	_, err := db.ExecContext(ctx, insertRecordSQL,
		rec.TokenID, rec.Subject, rec.Role, rec.IssuedAt.UTC(), rec.ExpiresAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicate
		}
		return unavailable(err)
	}
	return nil
}

// Create registers rec as Active.
func (s *PostgresStore) Create(ctx context.Context, rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	return insertRecord(ctx, s.db, rec)
}

// Get returns the record for tokenID.
func (s *PostgresStore) Get(ctx context.Context, tokenID string) (Record, error) {
	return scanRecord(s.db.QueryRowContext(ctx, selectRecordSQL, tokenID))
}

// Rotate implements [Store.Rotate]. A replay commits the lineage revocation
// before reporting [ErrReplayDetected].
func (s *PostgresStore) Rotate(ctx context.Context, tokenID string, successor Record) (Record, error) {
	if err := successor.validate(); err != nil {
		return Record{}, err
	}
	if successor.TokenID == tokenID {
		return Record{}, ErrInvalidRecord
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := scanRecord(tx.QueryRowContext(ctx, lockRecordSQL, tokenID))
	if err != nil {
		return Record{}, err
	}

	switch rec.State {
	case StateRevoked:
		return Record{}, ErrRevoked
	case StateRotated:
		if _, err := tx.ExecContext(ctx, revokeLineageSQL, tokenID, maxLineageDepth); err != nil {
			return Record{}, unavailable(err)
		}
		if err := tx.Commit(); err != nil {
			return Record{}, unavailable(err)
		}
		return Record{}, ErrReplayDetected
	}

	if rec.Expired(s.clock.Now()) {
		return Record{}, ErrExpired
	}

	if _, err := tx.ExecContext(ctx, markRotatedSQL, tokenID, successor.TokenID); err != nil {
		return Record{}, unavailable(err)
	}
	if err := insertRecord(ctx, tx, successor); err != nil {
		return Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return Record{}, unavailable(err)
	}

	rec.State = StateRotated
	rec.SuccessorID = successor.TokenID
	return rec, nil
}

// Revoke marks tokenID Revoked.
func (s *PostgresStore) Revoke(ctx context.Context, tokenID string) error {
	res, err := s.db.ExecContext(ctx, revokeRecordSQL, tokenID)
	if err != nil {
		return unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeLineage revokes tokenID and its successors in one statement.
func (s *PostgresStore) RevokeLineage(ctx context.Context, tokenID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := scanRecord(tx.QueryRowContext(ctx, lockRecordSQL, tokenID)); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, revokeLineageSQL, tokenID, maxLineageDepth)
	if err != nil {
		return 0, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

// RevokeSubject revokes every non-revoked record issued to subject.
func (s *PostgresStore) RevokeSubject(ctx context.Context, subject string) (int, error) {
	res, err := s.db.ExecContext(ctx, revokeSubjectSQL, subject)
	if err != nil {
		return 0, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

// Sweep deletes rows that expired at or before now.
func (s *PostgresStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, sweepSQL, now.UTC())
	if err != nil {
		return 0, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}
