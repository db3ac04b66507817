package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
)

// User carries the per-user cloud quota bookkeeping: a call counter and a
// call limit. Token is the bearer credential presented to the API.
type User struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Token     string `json:"-"`
	Calls     int64  `json:"calls"`
	CallLimit int64  `json:"call_limit"`
}

// UserByToken resolves a bearer token to a user. Returns ErrNotFound for
// unknown tokens.
func (s *Store) UserByToken(ctx context.Context, token string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, token, calls, call_limit FROM users WHERE token = ?`, token).
		Scan(&u.ID, &u.Name, &u.Token, &u.Calls, &u.CallLimit)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

// GetUser loads one user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, token, calls, call_limit FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name, &u.Token, &u.Calls, &u.CallLimit)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

// IncrementCalls atomically bumps a user's call counter and returns the new
// value. Increment-then-read is a single statement so no concurrent caller
// can observe a stale count.
func (s *Store) IncrementCalls(ctx context.Context, id int64) (int64, error) {
	var calls int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE users SET calls = calls + 1 WHERE id = ? RETURNING calls`, id).
		Scan(&calls)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment calls: %w", err)
	}
	return calls, nil
}

// EnsureUser returns the user with the given name, creating it with a fresh
// random token and the given call limit when absent. Used to seed a default
// account on first start.
func (s *Store) EnsureUser(ctx context.Context, name string, callLimit int64) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, token, calls, call_limit FROM users WHERE name = ?`, name).
		Scan(&u.ID, &u.Name, &u.Token, &u.Calls, &u.CallLimit)
	if err == nil {
		return &u, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("query user: %w", err)
	}

	b := make([]byte, 16)
	rand.Read(b)
	token := hex.EncodeToString(b)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (name, token, calls, call_limit) VALUES (?, ?, 0, ?)`,
		name, token, callLimit)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, _ := res.LastInsertId()
	s.log.Info().Str("user", name).Int64("call_limit", callLimit).Msg("user created")
	return &User{ID: id, Name: name, Token: token, CallLimit: callLimit}, nil
}
