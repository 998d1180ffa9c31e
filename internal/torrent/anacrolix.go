package torrent

import (
	"fmt"
	"strings"
	"sync"
	"time"

	anacrolix "github.com/anacrolix/torrent"
)

// AnacrolixEngine implements Engine on top of anacrolix/torrent.
type AnacrolixEngine struct {
	// ListenPort of 0 lets the client pick.
	ListenPort int
	Trackers   []string
}

var _ Engine = (*AnacrolixEngine)(nil)

func NewAnacrolixEngine(listenPort int) *AnacrolixEngine {
	return &AnacrolixEngine{
		ListenPort: listenPort,
		Trackers:   defaultTrackers(),
	}
}

func (e *AnacrolixEngine) NewSession(dataDir string) (Session, error) {
	cfg := anacrolix.NewDefaultClientConfig()
	cfg.DataDir = dataDir
	cfg.NoUpload = false
	cfg.Seed = false
	if e.ListenPort > 0 {
		cfg.ListenPort = e.ListenPort
	}

	client, err := anacrolix.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create torrent client: %w", err)
	}
	return &anacrolixSession{client: client, trackers: e.Trackers, quit: make(chan struct{})}, nil
}

type anacrolixSession struct {
	client   *anacrolix.Client
	trackers []string
	quit     chan struct{}
}

func (s *anacrolixSession) AddTorrent(source string) (Handle, error) {
	var (
		t   *anacrolix.Torrent
		err error
	)
	if strings.HasPrefix(strings.ToLower(source), "magnet:") {
		t, err = s.client.AddMagnet(source)
	} else {
		t, err = s.client.AddTorrentFromFile(source)
	}
	if err != nil {
		return nil, fmt.Errorf("add torrent: %w", err)
	}

	for _, tracker := range s.trackers {
		t.AddTrackers([][]string{{tracker}})
	}

	// start piece requests as soon as the metadata arrives
	go func() {
		select {
		case <-t.GotInfo():
			t.DownloadAll()
		case <-s.quit:
		}
	}()

	return &anacrolixHandle{t: t, lastTime: time.Now()}, nil
}

// PopAlerts always returns nil: anacrolix surfaces failures through stalled
// metadata and context cancellation rather than an alert queue.
func (s *anacrolixSession) PopAlerts() []Alert {
	return nil
}

func (s *anacrolixSession) RemoveTorrent(h Handle) {
	if ah, ok := h.(*anacrolixHandle); ok {
		ah.t.Drop()
	}
}

func (s *anacrolixSession) Close() {
	close(s.quit)
	s.client.Close()
}

type anacrolixHandle struct {
	t *anacrolix.Torrent

	mu        sync.Mutex
	lastBytes int64
	lastTime  time.Time
	rate      float64
}

func (h *anacrolixHandle) HasMetadata() bool {
	return h.t.Info() != nil
}

func (h *anacrolixHandle) Status() Status {
	done := h.t.BytesCompleted()
	stats := h.t.Stats()

	h.mu.Lock()
	if elapsed := time.Since(h.lastTime).Seconds(); elapsed >= 1 {
		h.rate = float64(done-h.lastBytes) / elapsed
		h.lastBytes = done
		h.lastTime = time.Now()
	}
	rate := h.rate
	h.mu.Unlock()

	st := Status{
		DownloadRate: rate,
		NumPeers:     stats.ActivePeers,
		TotalDone:    done,
	}
	if info := h.t.Info(); info != nil {
		if total := info.TotalLength(); total > 0 {
			st.Progress = float64(done) / float64(total)
		}
		st.IsSeed = h.t.BytesMissing() == 0
	}
	return st
}

func (h *anacrolixHandle) Info() Info {
	info := h.t.Info()
	if info == nil {
		return Info{}
	}
	files := make([]FileEntry, 0, len(h.t.Files()))
	for _, f := range h.t.Files() {
		files = append(files, FileEntry{Path: f.Path(), Size: f.Length()})
	}
	return Info{
		Name:      info.BestName(),
		TotalSize: info.TotalLength(),
		Files:     files,
	}
}

func defaultTrackers() []string {
	return []string{
		"udp://tracker.opentrackr.org:1337/announce",
		"udp://tracker.openbittorrent.com:6969/announce",
		"udp://open.stealth.si:80/announce",
		"udp://exodus.desync.com:6969/announce",
		"http://tracker.opentrackr.org:1337/announce",
		"http://tracker.openbittorrent.com:80/announce",
		"udp://tracker.torrent.eu.org:451/announce",
		"udp://tracker.moeking.me:6969/announce",
	}
}
