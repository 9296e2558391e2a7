package calcd

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store abstracts persistence so the HTTP layer and tests don't care whether
// rows live in Postgres or in memory. Calculation reads and writes are scoped
// by owner; a foreign calculation behaves as if it does not exist.
type Store interface {
	CreateUser(ctx context.Context, u *User) error
	UserByUsername(ctx context.Context, username string) (*User, error)
	UserByID(ctx context.Context, id uuid.UUID) (*User, error)

	CreateCalculation(ctx context.Context, c *Calculation) error
	CalculationByID(ctx context.Context, userID, id uuid.UUID) (*Calculation, error)
	CalculationsByUser(ctx context.Context, userID uuid.UUID) ([]*Calculation, error)
	UpdateCalculationInputs(ctx context.Context, userID, id uuid.UUID, inputs []float64) (*Calculation, error)
	DeleteCalculation(ctx context.Context, userID, id uuid.UUID) error

	Ping(ctx context.Context) error
	Close()
}

// Migrator is implemented by stores that manage their own schema.
type Migrator interface {
	Migrate(ctx context.Context) error
	Drop(ctx context.Context) error
}

const pgUniqueViolation = "23505"

type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(ctx context.Context, url string, maxConns int32) (*PGStore, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, wrapErr(err, "failed to parse database url")
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, wrapErr(err, "failed to connect to db")
	}
	return &PGStore{pool: pool}, nil
}

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY,
	first_name TEXT NOT NULL,
	last_name TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)
`,
	`
CREATE TABLE IF NOT EXISTS calculations (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	type VARCHAR(50) NOT NULL,
	inputs JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)
`,
	`
CREATE INDEX IF NOT EXISTS calculations_user_created_idx
	ON calculations (user_id, created_at DESC)
`,
}

func (s *PGStore) Migrate(ctx context.Context) error {
	for _, sql := range migrations {
		if _, err := s.pool.Exec(ctx, sql); err != nil {
			return wrapErr(err, "failed to apply migration")
		}
	}
	return nil
}

func (s *PGStore) Drop(ctx context.Context) error {
	for _, sql := range []string{
		`DROP TABLE IF EXISTS calculations`,
		`DROP TABLE IF EXISTS users`,
	} {
		if _, err := s.pool.Exec(ctx, sql); err != nil {
			return wrapErr(err, "failed to drop table")
		}
	}
	return nil
}

func (s *PGStore) CreateUser(ctx context.Context, u *User) error {
	sql := `
INSERT INTO users (id, first_name, last_name, email, username, password_hash, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

	if _, err := s.pool.Exec(ctx, sql,
		u.ID,
		u.FirstName,
		u.LastName,
		u.Email,
		u.Username,
		u.PasswordHash,
		u.CreatedAt,
		u.UpdatedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateUser
		}
		return wrapErr(err, "failed to insert user")
	}
	return nil
}

func (s *PGStore) UserByUsername(ctx context.Context, username string) (*User, error) {
	sql := `
SELECT id, first_name, last_name, email, username, password_hash, created_at, updated_at
FROM users WHERE username = $1
`
	return s.scanUser(s.pool.QueryRow(ctx, sql, username))
}

func (s *PGStore) UserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	sql := `
SELECT id, first_name, last_name, email, username, password_hash, created_at, updated_at
FROM users WHERE id = $1
`
	return s.scanUser(s.pool.QueryRow(ctx, sql, id))
}

func (s *PGStore) scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(
		&u.ID,
		&u.FirstName,
		&u.LastName,
		&u.Email,
		&u.Username,
		&u.PasswordHash,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, wrapErr(err, "failed to get user")
	}
	return &u, nil
}

func (s *PGStore) CreateCalculation(ctx context.Context, c *Calculation) error {
	inputs, err := json.Marshal(c.Inputs)
	if err != nil {
		return wrapErr(err, "failed to encode inputs")
	}

	sql := `
INSERT INTO calculations (id, user_id, type, inputs, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
`
	if _, err := s.pool.Exec(ctx, sql,
		c.ID,
		c.UserID,
		string(c.Type),
		inputs,
		c.CreatedAt,
		c.UpdatedAt,
	); err != nil {
		return wrapErr(err, "failed to insert calculation")
	}
	return nil
}

func (s *PGStore) CalculationByID(ctx context.Context, userID, id uuid.UUID) (*Calculation, error) {
	sql := `
SELECT id, user_id, type, inputs, created_at, updated_at
FROM calculations WHERE id = $1 AND user_id = $2
`
	return scanCalculation(s.pool.QueryRow(ctx, sql, id, userID))
}

func (s *PGStore) CalculationsByUser(ctx context.Context, userID uuid.UUID) ([]*Calculation, error) {
	sql := `
SELECT id, user_id, type, inputs, created_at, updated_at
FROM calculations WHERE user_id = $1 ORDER BY created_at DESC
`
	rows, err := s.pool.Query(ctx, sql, userID)
	if err != nil {
		return nil, wrapErr(err, "failed to list calculations")
	}
	defer rows.Close()

	var out []*Calculation
	for rows.Next() {
		c, err := scanCalculation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err, "failed to list calculations")
	}
	return out, nil
}

func (s *PGStore) UpdateCalculationInputs(ctx context.Context, userID, id uuid.UUID, inputs []float64) (*Calculation, error) {
	encoded, err := json.Marshal(inputs)
	if err != nil {
		return nil, wrapErr(err, "failed to encode inputs")
	}

	sql := `
UPDATE calculations SET inputs = $1, updated_at = $2
WHERE id = $3 AND user_id = $4
RETURNING id, user_id, type, inputs, created_at, updated_at
`
	return scanCalculation(s.pool.QueryRow(ctx, sql, encoded, time.Now().UTC(), id, userID))
}

func (s *PGStore) DeleteCalculation(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM calculations WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return wrapErr(err, "failed to delete calculation")
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PGStore) Close() {
	s.pool.Close()
}

func scanCalculation(row pgx.Row) (*Calculation, error) {
	var (
		c      Calculation
		typ    string
		inputs []byte
	)
	if err := row.Scan(
		&c.ID,
		&c.UserID,
		&typ,
		&inputs,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, wrapErr(err, "failed to get calculation")
	}
	c.Type = CalculationType(typ)
	if err := json.Unmarshal(inputs, &c.Inputs); err != nil {
		return nil, wrapErr(err, "failed to decode inputs")
	}
	return &c, nil
}
