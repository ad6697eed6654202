// Package store persists enrolled face templates and lockout counters in
// one SQLite file. The decision engine only reads profiles during
// authentication; enrollment commands own every write path.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
	_ "modernc.org/sqlite"

	"github.com/adam-mcguinness/sup-linux/internal/embedding"
)

// ErrUserNotFound marks a username with no enrolled profile.
var ErrUserNotFound = errors.New("user not found")

// StoredEmbedding is one enrolled template row.
type StoredEmbedding struct {
	ID        int64
	Vector    embedding.Vector
	Quality   float32
	Label     string
	CreatedAt time.Time
}

// UserProfile is a user's full enrollment record.
type UserProfile struct {
	ID         int64
	Username   string
	Embeddings []StoredEmbedding
	Average    embedding.Vector
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TemplateVectors returns the enrolled vectors in storage order.
func (p *UserProfile) TemplateVectors() []embedding.Vector {
	vectors := make([]embedding.Vector, len(p.Embeddings))
	for i, e := range p.Embeddings {
		vectors[i] = e.Vector
	}
	return vectors
}

// Qualities returns the enrolled quality scores in storage order.
func (p *UserProfile) Qualities() []float32 {
	qualities := make([]float32, len(p.Embeddings))
	for i, e := range p.Embeddings {
		qualities[i] = e.Quality
	}
	return qualities
}

// NewTemplate is one template submitted by an enrollment command.
type NewTemplate struct {
	Vector  embedding.Vector
	Quality float32
	Label   string
}

// UserSummary is one row of the users listing.
type UserSummary struct {
	Username    string
	Templates   int
	MeanQuality float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MergeResult reports what MergeEmbeddings changed.
type MergeResult struct {
	Added    int
	Replaced int
	Total    int
}

// Store wraps the SQLite enrollment database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// NormalizeUsername trims whitespace and applies NFC so visually identical
// usernames resolve to the same row.
func NormalizeUsername(username string) string {
	return norm.NFC.String(strings.TrimSpace(username))
}

// Open opens the enrollment store and applies bundled migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating storage directory: %w", err)
		}
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := applyMigrations(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: sqlDB, now: time.Now}, nil
}

// Close releases the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetUser loads a full profile including templates and the stored average.
func (s *Store) GetUser(ctx context.Context, username string) (*UserProfile, error) {
	username = NormalizeUsername(username)

	var p UserProfile
	var avgBlob []byte
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, avg_vector, created_at, updated_at FROM users WHERE username = ?",
		username,
	).Scan(&p.ID, &p.Username, &avgBlob, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	if err != nil {
		return nil, fmt.Errorf("query user %s: %w", username, err)
	}
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)

	if len(avgBlob) > 0 {
		avg, err := embedding.DecodeBlob(avgBlob)
		if err != nil {
			return nil, fmt.Errorf("decode average for %s: %w", username, err)
		}
		p.Average = avg
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, vector, quality, label, created_at FROM embeddings WHERE user_id = ? ORDER BY id",
		p.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("query embeddings for %s: %w", username, err)
	}
	defer rows.Close()

	for rows.Next() {
		var e StoredEmbedding
		var blob []byte
		var embeddedAt int64
		if err := rows.Scan(&e.ID, &blob, &e.Quality, &e.Label, &embeddedAt); err != nil {
			return nil, fmt.Errorf("scan embedding for %s: %w", username, err)
		}
		vector, err := embedding.DecodeBlob(blob)
		if err != nil {
			return nil, fmt.Errorf("decode embedding %d for %s: %w", e.ID, username, err)
		}
		e.Vector = vector
		e.CreatedAt = fromMillis(embeddedAt)
		p.Embeddings = append(p.Embeddings, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings for %s: %w", username, err)
	}

	return &p, nil
}

// ListUsers summarizes every enrolled profile.
func (s *Store) ListUsers(ctx context.Context) ([]UserSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT u.username, COUNT(e.id), COALESCE(AVG(e.quality), 0), u.created_at, u.updated_at
FROM users u
LEFT JOIN embeddings e ON e.user_id = u.id
GROUP BY u.id
ORDER BY u.username`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []UserSummary
	for rows.Next() {
		var u UserSummary
		var createdAt, updatedAt int64
		if err := rows.Scan(&u.Username, &u.Templates, &u.MeanQuality, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		u.CreatedAt = fromMillis(createdAt)
		u.UpdatedAt = fromMillis(updatedAt)
		users = append(users, u)
	}
	return users, rows.Err()
}

// DeleteUser removes a profile, its templates and its failure counters.
func (s *Store) DeleteUser(ctx context.Context, username string) error {
	username = NormalizeUsername(username)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx, "SELECT id FROM users WHERE username = ?", username).Scan(&id)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	if err != nil {
		return fmt.Errorf("query user %s: %w", username, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM embeddings WHERE user_id = ?", id); err != nil {
		return fmt.Errorf("delete embeddings for %s: %w", username, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete user %s: %w", username, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM auth_failures WHERE username = ?", username); err != nil {
		return fmt.Errorf("delete failures for %s: %w", username, err)
	}

	return tx.Commit()
}

// PutProfile creates or replaces a user's full template set and recomputes
// the stored average.
func (s *Store) PutProfile(ctx context.Context, username string, templates []NewTemplate) (*UserProfile, error) {
	username = NormalizeUsername(username)
	if len(templates) == 0 {
		return nil, fmt.Errorf("profile for %s needs at least one template", username)
	}

	nowMillis := toMillis(s.now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin enroll: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO users (username, avg_vector, created_at, updated_at) VALUES (?, NULL, ?, ?)
ON CONFLICT(username) DO UPDATE SET updated_at = excluded.updated_at`,
		username, nowMillis, nowMillis,
	); err != nil {
		return nil, fmt.Errorf("upsert user %s: %w", username, err)
	}

	var userID int64
	if err := tx.QueryRowContext(ctx, "SELECT id FROM users WHERE username = ?", username).Scan(&userID); err != nil {
		return nil, fmt.Errorf("query user id for %s: %w", username, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM embeddings WHERE user_id = ?", userID); err != nil {
		return nil, fmt.Errorf("clear embeddings for %s: %w", username, err)
	}

	vectors := make([]embedding.Vector, 0, len(templates))
	for _, tpl := range templates {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO embeddings (user_id, vector, quality, label, created_at) VALUES (?, ?, ?, ?, ?)",
			userID, embedding.EncodeBlob(tpl.Vector), tpl.Quality, tpl.Label, nowMillis,
		); err != nil {
			return nil, fmt.Errorf("insert embedding for %s: %w", username, err)
		}
		vectors = append(vectors, tpl.Vector)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE users SET avg_vector = ?, updated_at = ? WHERE id = ?",
		embedding.EncodeBlob(embedding.Mean(vectors)), nowMillis, userID,
	); err != nil {
		return nil, fmt.Errorf("store average for %s: %w", username, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit enroll for %s: %w", username, err)
	}

	return s.GetUser(ctx, username)
}

// MergeEmbeddings adds incoming templates to an existing profile. With
// replaceWeak, each incoming template replaces the weakest stored one when
// it beats that quality, otherwise it appends. The stored average is
// recomputed either way.
func (s *Store) MergeEmbeddings(ctx context.Context, username string, incoming []NewTemplate, replaceWeak bool) (*MergeResult, error) {
	username = NormalizeUsername(username)

	profile, err := s.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}

	nowMillis := toMillis(s.now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin merge: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current := append([]StoredEmbedding(nil), profile.Embeddings...)
	res := &MergeResult{}

	for _, tpl := range incoming {
		weakest := -1
		if replaceWeak {
			for i, e := range current {
				if weakest == -1 || e.Quality < current[weakest].Quality {
					weakest = i
				}
			}
		}

		if weakest >= 0 && tpl.Quality > current[weakest].Quality {
			if _, err := tx.ExecContext(ctx,
				"UPDATE embeddings SET vector = ?, quality = ?, label = ?, created_at = ? WHERE id = ?",
				embedding.EncodeBlob(tpl.Vector), tpl.Quality, tpl.Label, nowMillis, current[weakest].ID,
			); err != nil {
				return nil, fmt.Errorf("replace embedding for %s: %w", username, err)
			}
			current[weakest].Vector = tpl.Vector
			current[weakest].Quality = tpl.Quality
			res.Replaced++
			continue
		}

		result, err := tx.ExecContext(ctx,
			"INSERT INTO embeddings (user_id, vector, quality, label, created_at) VALUES (?, ?, ?, ?, ?)",
			profile.ID, embedding.EncodeBlob(tpl.Vector), tpl.Quality, tpl.Label, nowMillis,
		)
		if err != nil {
			return nil, fmt.Errorf("insert embedding for %s: %w", username, err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("read embedding id for %s: %w", username, err)
		}
		current = append(current, StoredEmbedding{ID: id, Vector: tpl.Vector, Quality: tpl.Quality})
		res.Added++
	}

	vectors := make([]embedding.Vector, len(current))
	for i, e := range current {
		vectors[i] = e.Vector
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE users SET avg_vector = ?, updated_at = ? WHERE id = ?",
		embedding.EncodeBlob(embedding.Mean(vectors)), nowMillis, profile.ID,
	); err != nil {
		return nil, fmt.Errorf("store average for %s: %w", username, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit merge for %s: %w", username, err)
	}

	res.Total = len(current)
	return res, nil
}

// Counts reports enrolled user and template totals.
func (s *Store) Counts(ctx context.Context) (users, templates int, err error) {
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&users); err != nil {
		return 0, 0, fmt.Errorf("count users: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&templates); err != nil {
		return 0, 0, fmt.Errorf("count embeddings: %w", err)
	}
	return users, templates, nil
}
