// Package store persists hunt requests and portal credentials in a single
// local sqlite file.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/example/luxmed-hunter/internal/hunt"
)

var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS appointments (
	id                 TEXT PRIMARY KEY,
	account_email      TEXT NOT NULL,
	status             INTEGER NOT NULL,
	query              TEXT NOT NULL,
	comment            TEXT NOT NULL DEFAULT '',
	next_check_at      INTEGER NOT NULL DEFAULT 0,
	check_frequency    INTEGER NOT NULL,
	allow_rescheduling INTEGER NOT NULL DEFAULT 0,
	term               TEXT,
	created_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_appointments_account ON appointments(account_email);
CREATE INDEX IF NOT EXISTS idx_appointments_due ON appointments(status, next_check_at);

CREATE TABLE IF NOT EXISTS credentials (
	email      TEXT PRIMARY KEY,
	password   TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database file and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// one writer at a time keeps sqlite happy
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// CreateRequest inserts a new hunt request, assigning an id when absent.
func (s *Store) CreateRequest(ctx context.Context, r hunt.Request) (hunt.Request, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if err := r.Validate(); err != nil {
		return hunt.Request{}, err
	}
	query, err := json.Marshal(r.Query)
	if err != nil {
		return hunt.Request{}, err
	}
	term, err := marshalTerm(r.Term)
	if err != nil {
		return hunt.Request{}, err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO appointments(id, account_email, status, query, comment, next_check_at, check_frequency, allow_rescheduling, term)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AccountEmail, int(r.Status), string(query), r.Comment, r.NextCheckAt, r.CheckFrequencySec, r.AllowRescheduling, term)
	if err != nil {
		return hunt.Request{}, fmt.Errorf("store: create request: %w", err)
	}
	return s.Request(ctx, r.ID)
}

func (s *Store) Request(ctx context.Context, id string) (hunt.Request, error) {
	row := s.db.QueryRowContext(ctx, selectRequest+` WHERE id = ?`, id)
	return scanRequest(row)
}

func (s *Store) ListByAccount(ctx context.Context, email string) ([]hunt.Request, error) {
	rows, err := s.db.QueryContext(ctx, selectRequest+` WHERE account_email = ? ORDER BY created_at`, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

// DueRequests returns every request that should be checked at the given time:
// not yet reserved and past its next-check mark. Reserved requests are
// excluded regardless of their timing fields.
func (s *Store) DueRequests(ctx context.Context, now time.Time) ([]hunt.Request, error) {
	rows, err := s.db.QueryContext(ctx, selectRequest+`
 WHERE status != ? AND next_check_at <= ? ORDER BY created_at`,
		int(hunt.StatusReserved), now.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

// UpdateRequest persists the mutable fields of a request.
func (s *Store) UpdateRequest(ctx context.Context, r hunt.Request) error {
	term, err := marshalTerm(r.Term)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE appointments
SET status = ?, next_check_at = ?, term = ?, comment = ?, check_frequency = ?, allow_rescheduling = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ?`,
		int(r.Status), r.NextCheckAt, term, r.Comment, r.CheckFrequencySec, r.AllowRescheduling, r.ID)
	if err != nil {
		return fmt.Errorf("store: update request %s: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteRequest(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM appointments WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CreateCredentials(ctx context.Context, c hunt.Credentials) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO credentials(email, password) VALUES (?, ?)`, c.Email, c.Password)
	if err != nil {
		return fmt.Errorf("store: create credentials: %w", err)
	}
	return nil
}

func (s *Store) CredentialsByEmail(ctx context.Context, email string) (hunt.Credentials, error) {
	var c hunt.Credentials
	err := s.db.QueryRowContext(ctx, `SELECT email, password FROM credentials WHERE email = ?`, email).
		Scan(&c.Email, &c.Password)
	if errors.Is(err, sql.ErrNoRows) {
		return hunt.Credentials{}, ErrNotFound
	}
	if err != nil {
		return hunt.Credentials{}, err
	}
	return c, nil
}

func (s *Store) DeleteCredentials(ctx context.Context, email string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE email = ?`, email)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const selectRequest = `
SELECT id, account_email, status, query, comment, next_check_at, check_frequency, allow_rescheduling, term, created_at, updated_at
FROM appointments`

type scannable interface {
	Scan(dest ...any) error
}

func scanRequest(row scannable) (hunt.Request, error) {
	var (
		r      hunt.Request
		status int
		query  string
		term   sql.NullString
	)
	err := row.Scan(&r.ID, &r.AccountEmail, &status, &query, &r.Comment,
		&r.NextCheckAt, &r.CheckFrequencySec, &r.AllowRescheduling, &term, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return hunt.Request{}, ErrNotFound
	}
	if err != nil {
		return hunt.Request{}, err
	}
	r.Status = hunt.Status(status)
	if err := json.Unmarshal([]byte(query), &r.Query); err != nil {
		return hunt.Request{}, fmt.Errorf("store: corrupt query for %s: %w", r.ID, err)
	}
	if term.Valid && term.String != "" {
		var t hunt.Term
		if err := json.Unmarshal([]byte(term.String), &t); err != nil {
			return hunt.Request{}, fmt.Errorf("store: corrupt term for %s: %w", r.ID, err)
		}
		r.Term = &t
	}
	return r, nil
}

func collectRequests(rows *sql.Rows) ([]hunt.Request, error) {
	var out []hunt.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func marshalTerm(t *hunt.Term) (any, error) {
	if t == nil {
		return nil, nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
