package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LockoutState is a user's failure counter row. A zero state means no
// recorded failures.
type LockoutState struct {
	Username      string
	Failures      int
	LastFailureAt time.Time
	LockedUntil   time.Time
}

// ActiveAt reports whether the lockout still holds at now.
func (l LockoutState) ActiveAt(now time.Time) bool {
	return !l.LockedUntil.IsZero() && now.Before(l.LockedUntil)
}

// Lockout reads the user's failure state.
func (s *Store) Lockout(ctx context.Context, username string) (LockoutState, error) {
	username = NormalizeUsername(username)

	state := LockoutState{Username: username}
	var lastFailure, lockedUntil sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT failures, last_failure_at, locked_until FROM auth_failures WHERE username = ?",
		username,
	).Scan(&state.Failures, &lastFailure, &lockedUntil)
	if err == sql.ErrNoRows {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("query lockout for %s: %w", username, err)
	}

	if lastFailure.Valid {
		state.LastFailureAt = fromMillis(lastFailure.Int64)
	}
	if lockedUntil.Valid {
		state.LockedUntil = fromMillis(lockedUntil.Int64)
	}
	return state, nil
}

// RecordFailure increments the user's failure counter. An expired lock
// resets the count first, so the user gets a full set of fresh tries after
// waiting out a lockout. Reaching maxFailures arms the lock for duration.
func (s *Store) RecordFailure(ctx context.Context, username string, maxFailures int, duration time.Duration) (LockoutState, error) {
	username = NormalizeUsername(username)

	state, err := s.Lockout(ctx, username)
	if err != nil {
		return state, err
	}

	now := s.now()
	if !state.LockedUntil.IsZero() && !state.ActiveAt(now) {
		state.Failures = 0
		state.LockedUntil = time.Time{}
	}

	state.Failures++
	state.LastFailureAt = now
	if state.Failures >= maxFailures {
		state.LockedUntil = now.Add(duration)
	}

	var lockedUntil any
	if !state.LockedUntil.IsZero() {
		lockedUntil = toMillis(state.LockedUntil)
	}
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO auth_failures (username, failures, last_failure_at, locked_until) VALUES (?, ?, ?, ?)
ON CONFLICT(username) DO UPDATE SET
    failures = excluded.failures,
    last_failure_at = excluded.last_failure_at,
    locked_until = excluded.locked_until`,
		username, state.Failures, toMillis(now), lockedUntil,
	); err != nil {
		return state, fmt.Errorf("record failure for %s: %w", username, err)
	}

	return state, nil
}

// ClearFailures resets the counter after a successful authentication.
func (s *Store) ClearFailures(ctx context.Context, username string) error {
	username = NormalizeUsername(username)
	if _, err := s.db.ExecContext(ctx, "DELETE FROM auth_failures WHERE username = ?", username); err != nil {
		return fmt.Errorf("clear failures for %s: %w", username, err)
	}
	return nil
}

// ActiveLockouts lists users whose lockout has not yet expired.
func (s *Store) ActiveLockouts(ctx context.Context) ([]LockoutState, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT username, failures, last_failure_at, locked_until FROM auth_failures WHERE locked_until > ? ORDER BY username",
		toMillis(s.now()),
	)
	if err != nil {
		return nil, fmt.Errorf("query lockouts: %w", err)
	}
	defer rows.Close()

	var states []LockoutState
	for rows.Next() {
		var state LockoutState
		var lastFailure, lockedUntil sql.NullInt64
		if err := rows.Scan(&state.Username, &state.Failures, &lastFailure, &lockedUntil); err != nil {
			return nil, fmt.Errorf("scan lockout row: %w", err)
		}
		if lastFailure.Valid {
			state.LastFailureAt = fromMillis(lastFailure.Int64)
		}
		if lockedUntil.Valid {
			state.LockedUntil = fromMillis(lockedUntil.Int64)
		}
		states = append(states, state)
	}
	return states, rows.Err()
}
