package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/lrstanley/go-ytdlp"
	"github.com/sirupsen/logrus"

	"url-courier/internal/progress"
)

// Media fetches from known media-hosting sites through yt-dlp, which handles
// the site-specific extraction. The merged output container is mp4.
type Media struct {
	dir    string
	logger *logrus.Entry
}

func NewMedia(dir string, logger *logrus.Entry) *Media {
	return &Media{dir: dir, logger: logger}
}

func (m *Media) Fetch(ctx context.Context, rawURL, _ string, report progress.Func) (string, error) {
	stagingDir := filepath.Join(m.dir, "dl-"+uuid.NewString())
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}

	dl := ytdlp.New().
		Format("bestvideo+bestaudio/best").
		MergeOutputFormat("mp4").
		RestrictFilenames().
		NoPlaylist().
		Output(filepath.Join(stagingDir, "%(title)s.%(ext)s"))

	dl.ProgressFunc(time.Second, func(update ytdlp.ProgressUpdate) {
		report(ctx, progress.Sample{
			Current: int64(update.DownloadedBytes),
			Total:   int64(update.TotalBytes),
			Phase:   progress.PhaseDownloading,
		})
	})

	res, err := dl.Run(ctx, rawURL)
	if err != nil {
		os.RemoveAll(stagingDir)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("media extraction failed: %s", truncateDetail(err.Error()))
	}

	if path := extractedPath(res); path != "" {
		return path, nil
	}

	// yt-dlp occasionally omits the filename from its JSON output; fall back
	// to the single file it wrote into the staging dir.
	entries, err := os.ReadDir(stagingDir)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				return filepath.Join(stagingDir, e.Name()), nil
			}
		}
	}
	os.RemoveAll(stagingDir)
	return "", fmt.Errorf("media extraction produced no file")
}

func extractedPath(res *ytdlp.Result) string {
	if res == nil {
		return ""
	}
	info, err := res.GetExtractedInfo()
	if err != nil || len(info) == 0 {
		return ""
	}
	if info[0].Filename == nil {
		return ""
	}
	if _, err := os.Stat(*info[0].Filename); err != nil {
		return ""
	}
	return *info[0].Filename
}
