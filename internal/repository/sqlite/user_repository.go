package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"url-courier/internal/domain"
	"url-courier/internal/repository"
)

const createUsersTable = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY,
	username TEXT NOT NULL DEFAULT '',
	fetch_count INTEGER NOT NULL DEFAULT 0,
	upload_count INTEGER NOT NULL DEFAULT 0,
	bytes_fetched INTEGER NOT NULL DEFAULT 0,
	bytes_uploaded INTEGER NOT NULL DEFAULT 0,
	custom_name TEXT NOT NULL DEFAULT '',
	custom_caption TEXT NOT NULL DEFAULT '',
	custom_thumb TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
`

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) repository.UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createUsersTable); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}
	return nil
}

// Ensure inserts the user on first contact and refreshes the username on
// later ones, then returns the stored row.
func (r *UserRepository) Ensure(ctx context.Context, id int64, username string) (*domain.User, error) {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO users (id, username, created_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET username = excluded.username, updated_at = excluded.updated_at`,
		id, username, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, username, fetch_count, upload_count, bytes_fetched, bytes_uploaded,
       custom_name, custom_caption, custom_thumb, created_at, updated_at
FROM users
WHERE id = ?`,
		id,
	)
	return scanUser(row)
}

func (r *UserRepository) RecordFetch(ctx context.Context, id int64, bytes int64) error {
	return r.bump(ctx, id, "fetch_count", "bytes_fetched", bytes)
}

func (r *UserRepository) RecordUpload(ctx context.Context, id int64, bytes int64) error {
	return r.bump(ctx, id, "upload_count", "bytes_uploaded", bytes)
}

func (r *UserRepository) bump(ctx context.Context, id int64, countCol, bytesCol string, bytes int64) error {
	query := fmt.Sprintf(`
UPDATE users
SET %s = %s + 1, %s = %s + ?, updated_at = ?
WHERE id = ?`, countCol, countCol, bytesCol, bytesCol)
	if _, err := r.db.ExecContext(ctx, query, bytes, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("update user counters: %w", err)
	}
	return nil
}

func (r *UserRepository) SetCustomName(ctx context.Context, id int64, name string) error {
	return r.setColumn(ctx, id, "custom_name", name)
}

func (r *UserRepository) SetCustomCaption(ctx context.Context, id int64, caption string) error {
	return r.setColumn(ctx, id, "custom_caption", caption)
}

func (r *UserRepository) SetCustomThumb(ctx context.Context, id int64, path string) error {
	return r.setColumn(ctx, id, "custom_thumb", path)
}

func (r *UserRepository) ClearSettings(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `
UPDATE users
SET custom_name = '', custom_caption = '', custom_thumb = '', updated_at = ?
WHERE id = ?`,
		time.Now().UTC(), id,
	); err != nil {
		return fmt.Errorf("clear user settings: %w", err)
	}
	return nil
}

func (r *UserRepository) setColumn(ctx context.Context, id int64, column, value string) error {
	query := fmt.Sprintf(`UPDATE users SET %s = ?, updated_at = ? WHERE id = ?`, column)
	if _, err := r.db.ExecContext(ctx, query, value, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("update user %s: %w", column, err)
	}
	return nil
}

func (r *UserRepository) Stats(ctx context.Context) (*domain.Stats, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT COUNT(*),
       COALESCE(SUM(fetch_count), 0),
       COALESCE(SUM(upload_count), 0),
       COALESCE(SUM(bytes_fetched), 0),
       COALESCE(SUM(bytes_uploaded), 0)
FROM users`)

	var stats domain.Stats
	if err := row.Scan(
		&stats.Users,
		&stats.Fetches,
		&stats.Uploads,
		&stats.BytesFetched,
		&stats.BytesUploaded,
	); err != nil {
		return nil, fmt.Errorf("scan stats: %w", err)
	}
	return &stats, nil
}

func scanUser(row interface {
	Scan(dest ...any) error
}) (*domain.User, error) {
	var user domain.User
	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.FetchCount,
		&user.UploadCount,
		&user.BytesFetched,
		&user.BytesUploaded,
		&user.CustomName,
		&user.CustomCaption,
		&user.CustomThumb,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user not found")
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &user, nil
}
