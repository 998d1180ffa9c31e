package fetch

import (
	"context"
	"net/url"
	"strings"

	"url-courier/internal/progress"
)

// Downloader is one fetch strategy. Implementations that derive their own
// filenames ignore the filename hint.
type Downloader interface {
	Fetch(ctx context.Context, locator, filename string, report progress.Func) (string, error)
}

// Kind is the routing decision for a locator.
type Kind int

const (
	KindDirect Kind = iota
	KindMedia
	KindTorrent
)

// DefaultMediaDomains lists hosting sites handled by the media fetcher.
var DefaultMediaDomains = []string{
	"youtube.com", "youtu.be", "instagram.com", "facebook.com",
	"twitter.com", "tiktok.com", "vimeo.com", "dailymotion.com",
	"vt.tiktok.com", "vm.tiktok.com", "x.com", "twitch.tv",
	"reddit.com", "streamable.com", "imgur.com",
}

// Dispatcher classifies a locator and delegates to the matching downloader.
// It performs no I/O of its own.
type Dispatcher struct {
	direct       Downloader
	media        Downloader
	torrent      Downloader
	mediaDomains []string
}

func NewDispatcher(direct, media, torrent Downloader, mediaDomains []string) *Dispatcher {
	if len(mediaDomains) == 0 {
		mediaDomains = DefaultMediaDomains
	}
	return &Dispatcher{
		direct:       direct,
		media:        media,
		torrent:      torrent,
		mediaDomains: mediaDomains,
	}
}

// Classify routes in fixed order: torrent sources first, then media-hosting
// domains, then plain HTTP. Domain matching is a substring check against the
// lower-cased host. That is deliberately loose: lookalike hosts such as
// notyoutube.com.evil also match, which mirrors how sub- and regional domains
// (m.youtube.com) are caught without an allow-list per variant.
func (d *Dispatcher) Classify(locator string) Kind {
	lower := strings.ToLower(strings.TrimSpace(locator))
	if strings.HasPrefix(lower, "magnet:") || strings.HasSuffix(lower, ".torrent") {
		return KindTorrent
	}

	host := lower
	if u, err := url.Parse(lower); err == nil && u.Host != "" {
		host = u.Host
	}
	for _, domain := range d.mediaDomains {
		if strings.Contains(host, domain) {
			return KindMedia
		}
	}
	return KindDirect
}

// Fetch delegates to the classified downloader. Exactly one outcome is
// produced per invocation: an artifact path or an error.
func (d *Dispatcher) Fetch(ctx context.Context, locator, filename string, report progress.Func) (string, error) {
	switch d.Classify(locator) {
	case KindTorrent:
		return d.torrent.Fetch(ctx, locator, filename, report)
	case KindMedia:
		return d.media.Fetch(ctx, locator, filename, report)
	default:
		return d.direct.Fetch(ctx, locator, filename, report)
	}
}
