package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Service archives artifacts to Amazon S3 (or compatible APIs).
type S3Service struct {
	client   *s3.Client
	uploader *manager.Uploader
	opts     Options
}

func NewS3Service(client *s3.Client, opts Options) *S3Service {
	return &S3Service{
		client:   client,
		uploader: manager.NewUploader(client),
		opts:     opts,
	}
}

var _ Service = (*S3Service)(nil)

// Archive uploads the artifact at path. Directories are walked and uploaded
// file by file under a shared prefix.
func (s *S3Service) Archive(ctx context.Context, path string) (string, error) {
	if s.opts.Bucket == "" {
		return "", fmt.Errorf("storage bucket is required")
	}

	root := filepath.Clean(path)
	info, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("stat artifact: %w", err)
	}

	prefix := strings.Trim(s.opts.KeyPrefix, "/")
	datePrefix := time.Now().UTC().Format("2006/01/02")
	if prefix == "" {
		prefix = datePrefix
	} else {
		prefix += "/" + datePrefix
	}

	if !info.IsDir() {
		key := prefix + "/" + filepath.Base(root)
		if err := s.putFile(ctx, root, key); err != nil {
			return "", err
		}
		return fmt.Sprintf("s3://%s/%s", s.opts.Bucket, key), nil
	}

	base := prefix + "/" + filepath.Base(root)
	err = filepath.Walk(root, func(p string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("relative path for %s: %w", p, err)
		}
		return s.putFile(ctx, p, base+"/"+filepath.ToSlash(rel))
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("s3://%s/%s", s.opts.Bucket, base), nil
}

func (s *S3Service) putFile(ctx context.Context, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file %s: %w", path, err)
	}
	defer f.Close()

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
		Body:   f,
		ACL:    types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	return nil
}
