package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"url-courier/internal/fileutil"
	"url-courier/internal/progress"
)

// DirectConfig tunes the plain HTTP(S) streaming downloader.
type DirectConfig struct {
	Dir            string
	MaxSize        int64
	ChunkSize      int
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// Direct streams a URL straight to local storage in fixed-size chunks,
// reporting progress at most once per second.
type Direct struct {
	cfg    DirectConfig
	client *http.Client
	logger *logrus.Entry
}

func NewDirect(cfg DirectConfig, logger *logrus.Entry) *Direct {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 10 * 1024 * 1024
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 4 << 30
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	return &Direct{
		cfg: cfg,
		client: &http.Client{
			// no overall timeout, transfers may legitimately run for hours
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   cfg.ConnectTimeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:          100,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
				ResponseHeaderTimeout: cfg.ConnectTimeout,
			},
		},
		logger: logger,
	}
}

// Fetch downloads rawURL into a fresh staging directory and returns the
// artifact path. filename, when non-empty, overrides server-derived naming.
func (d *Direct) Fetch(ctx context.Context, rawURL, filename string, report progress.Func) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNetwork, truncateDetail(err.Error()))
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")
	req.Header.Set("Accept", "*/*")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", classifyTransportErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return "", fmt.Errorf("%w: HTTP %d", ErrBadStatus, resp.StatusCode)
	}

	total := resp.ContentLength
	if total > 0 && total > d.cfg.MaxSize {
		return "", fmt.Errorf("%w: %s declared, limit %s",
			ErrSizeLimitExceeded, fileutil.FormatBytes(total), fileutil.FormatBytes(d.cfg.MaxSize))
	}

	name := resolveFilename(filename, resp)
	stagingDir := filepath.Join(d.cfg.Dir, "dl-"+uuid.NewString())
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	dest := filepath.Join(stagingDir, name)

	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}

	written, copyErr := d.copyChunks(ctx, out, resp.Body, total, report)
	closeErr := out.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.RemoveAll(stagingDir)
		return "", copyErr
	}

	report(ctx, progress.Sample{Current: written, Total: finalTotal(total, written), Phase: progress.PhaseDownloading})
	d.logger.WithField("bytes", written).Debugf("direct download finished: %s", name)
	return dest, nil
}

func (d *Direct) copyChunks(ctx context.Context, out *os.File, body io.Reader, total int64, report progress.Func) (int64, error) {
	buf := make([]byte, d.cfg.ChunkSize)
	var written int64
	var lastReport time.Time

	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return written, fmt.Errorf("write artifact: %w", werr)
			}
			written += int64(n)
			if written > d.cfg.MaxSize {
				return written, fmt.Errorf("%w: body exceeded %s",
					ErrSizeLimitExceeded, fileutil.FormatBytes(d.cfg.MaxSize))
			}
			if now := time.Now(); now.Sub(lastReport) >= time.Second {
				lastReport = now
				report(ctx, progress.Sample{Current: written, Total: total, Phase: progress.PhaseDownloading})
			}
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return written, ctx.Err()
			}
			return written, classifyTransportErr(err)
		}
	}
}

func finalTotal(total, written int64) int64 {
	if total > 0 {
		return total
	}
	return written
}

func classifyTransportErr(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return fmt.Errorf("%w: %s", ErrNetwork, truncateDetail(err.Error()))
}

// resolveFilename picks the artifact name: caller-supplied, then the
// content-disposition header, then the last URL path segment, then a fixed
// fallback. The result is always sanitized.
func resolveFilename(explicit string, resp *http.Response) string {
	if explicit != "" {
		return fileutil.SanitizeFilename(explicit)
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if fn := params["filename"]; fn != "" {
				return fileutil.SanitizeFilename(fn)
			}
		}
	}
	var u *url.URL
	if resp.Request != nil {
		u = resp.Request.URL
	}
	if u != nil {
		if seg := path.Base(u.Path); seg != "" && seg != "/" && seg != "." {
			return fileutil.SanitizeFilename(seg)
		}
	}
	return "downloaded_file"
}
