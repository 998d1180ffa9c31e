// Package storage archives delivered artifacts to S3-compatible object
// storage. Archival is best-effort: the courier works fine without it.
package storage

import (
	"context"
)

// Options conveys the archive destination.
type Options struct {
	Bucket    string
	KeyPrefix string
}

// Service copies a local artifact (file or directory) to object storage and
// returns its location.
type Service interface {
	Archive(ctx context.Context, path string) (string, error)
}
