package repository

import (
	"context"

	"url-courier/internal/domain"
)

// UserRepository defines persistence operations for User entities.
type UserRepository interface {
	Init(ctx context.Context) error
	Ensure(ctx context.Context, id int64, username string) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	RecordFetch(ctx context.Context, id int64, bytes int64) error
	RecordUpload(ctx context.Context, id int64, bytes int64) error
	SetCustomName(ctx context.Context, id int64, name string) error
	SetCustomCaption(ctx context.Context, id int64, caption string) error
	SetCustomThumb(ctx context.Context, id int64, path string) error
	ClearSettings(ctx context.Context, id int64) error
	Stats(ctx context.Context) (*domain.Stats, error)
}
