package domain

import (
	"context"
	"time"

	"url-courier/internal/transport"
)

type TaskStatus string

const (
	TaskStatusFetching       TaskStatus = "fetching"
	TaskStatusAwaitingRename TaskStatus = "awaiting_rename"
	TaskStatusAwaitingUpload TaskStatus = "awaiting_upload"
	TaskStatusUploading      TaskStatus = "uploading"
)

// Task is the single in-flight job a user may own at a time. It lives only
// in memory: restarting the process abandons all tasks.
type Task struct {
	UserID       int64
	ChatID       int64
	Source       string
	Status       TaskStatus
	StatusMsg    transport.MessageRef
	ArtifactPath string
	OriginalName string
	Cancel       context.CancelFunc
	StartedAt    time.Time
}

// UploadFormat is the user's answer to the rename/upload prompt.
type UploadFormat string

const (
	UploadFormatDocument UploadFormat = "document"
	UploadFormatOriginal UploadFormat = "original"
)
