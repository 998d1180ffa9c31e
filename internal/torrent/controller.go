package torrent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"url-courier/internal/fetch"
	"url-courier/internal/fileutil"
	"url-courier/internal/progress"
)

var (
	// ErrMetadataTimeout means no peer supplied the torrent's metadata in time.
	ErrMetadataTimeout = errors.New("torrent metadata timeout: no peers responded")
	// ErrDownloadTimeout means the transfer exceeded the overall deadline.
	ErrDownloadTimeout = errors.New("torrent download timeout")
	// ErrTorrent wraps a fatal error reported by the torrent session.
	ErrTorrent = errors.New("torrent error")
	// ErrMetadataFailed means the session gave up on fetching metadata.
	ErrMetadataFailed = errors.New("torrent metadata failed")
)

type Config struct {
	DataDir         string
	MaxSize         int64
	MetadataTimeout time.Duration
	DownloadTimeout time.Duration
	PollInterval    time.Duration
}

func (c *Config) applyDefaults() {
	if c.MetadataTimeout <= 0 {
		c.MetadataTimeout = 180 * time.Second
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = 7200 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
}

// Controller drives a torrent transfer to completion over a polling loop.
// One session per fetch: the handle is removed and the session closed no
// matter how the transfer ends.
type Controller struct {
	engine Engine
	cfg    Config
	logger *logrus.Entry
}

var _ fetch.Downloader = (*Controller)(nil)

func NewController(engine Engine, cfg Config, logger *logrus.Entry) *Controller {
	cfg.applyDefaults()
	return &Controller{engine: engine, cfg: cfg, logger: logger}
}

// Fetch downloads the magnet link or .torrent file at source and returns the
// path of the downloaded file or directory. The filename argument is ignored:
// torrents name their own payload.
func (c *Controller) Fetch(ctx context.Context, source, _ string, report progress.Func) (string, error) {
	if !isMagnet(source) {
		if _, err := os.Stat(source); err != nil {
			return "", fmt.Errorf("torrent file: %w", err)
		}
	}

	if err := os.MkdirAll(c.cfg.DataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}

	sess, err := c.engine.NewSession(c.cfg.DataDir)
	if err != nil {
		return "", err
	}
	defer sess.Close()

	handle, err := sess.AddTorrent(source)
	if err != nil {
		return "", err
	}
	defer sess.RemoveTorrent(handle)

	start := time.Now()
	lastPercent := -1.0

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		st := handle.Status()
		if st.IsSeed {
			break
		}

		if time.Since(start) > c.cfg.DownloadTimeout {
			return "", ErrDownloadTimeout
		}

		for _, alert := range sess.PopAlerts() {
			switch alert.Kind {
			case AlertMetadataFailed:
				return "", fmt.Errorf("%w: %s", ErrMetadataFailed, alert.Message)
			default:
				return "", fmt.Errorf("%w: %s", ErrTorrent, alert.Message)
			}
		}

		if !handle.HasMetadata() {
			if time.Since(start) > c.cfg.MetadataTimeout {
				return "", ErrMetadataTimeout
			}
			if report != nil {
				report(ctx, progress.Sample{
					Phase:  progress.PhaseConnecting,
					Detail: fmt.Sprintf("%d peers", st.NumPeers),
				})
			}
		} else {
			info := handle.Info()
			if c.cfg.MaxSize > 0 && info.TotalSize > c.cfg.MaxSize {
				return "", fmt.Errorf("%w: torrent is %s", fetch.ErrSizeLimitExceeded, fileutil.FormatBytes(info.TotalSize))
			}
			pct := st.Progress * 100
			if report != nil && pct-lastPercent >= 1 {
				lastPercent = pct
				report(ctx, progress.Sample{
					Current: st.TotalDone,
					Total:   info.TotalSize,
					Phase:   progress.PhaseTorrenting,
					Detail:  fmt.Sprintf("%s/s from %d peers", fileutil.FormatBytes(int64(st.DownloadRate)), st.NumPeers),
				})
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}

	info := handle.Info()
	path := filepath.Join(c.cfg.DataDir, info.Name)
	if len(info.Files) == 1 {
		path = filepath.Join(c.cfg.DataDir, info.Files[0].Path)
	}

	if report != nil {
		report(ctx, progress.Sample{
			Current: info.TotalSize,
			Total:   info.TotalSize,
			Phase:   progress.PhaseTorrenting,
		})
	}
	if c.logger != nil {
		c.logger.WithField("path", path).Info("torrent complete")
	}
	return path, nil
}

func isMagnet(source string) bool {
	return len(source) >= 7 && source[:7] == "magnet:"
}
