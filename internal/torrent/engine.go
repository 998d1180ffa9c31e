// Package torrent drives swarm-based downloads through an opaque engine. The
// controller owns exactly one session/handle pair per fetch and guarantees
// the handle is removed on every exit path.
package torrent

// AlertKind classifies engine alerts the controller reacts to.
type AlertKind int

const (
	AlertTorrentError AlertKind = iota
	AlertMetadataFailed
)

// Alert is an asynchronous error notification popped from the session.
type Alert struct {
	Kind    AlertKind
	Message string
}

// Status is a point-in-time snapshot of a torrent handle.
type Status struct {
	IsSeed       bool
	Progress     float64 // 0..1, meaningful once metadata is present
	DownloadRate float64 // bytes/sec
	NumPeers     int
	TotalDone    int64
}

// FileEntry is one file within a torrent's layout, relative to the data dir.
type FileEntry struct {
	Path string
	Size int64
}

// Info describes a torrent once its metadata is known.
type Info struct {
	Name      string
	TotalSize int64
	Files     []FileEntry
}

// Handle is one torrent registered with a session.
type Handle interface {
	HasMetadata() bool
	Status() Status
	// Info is only meaningful when HasMetadata reports true.
	Info() Info
}

// Session is an engine session owning zero or more handles.
type Session interface {
	AddTorrent(source string) (Handle, error)
	PopAlerts() []Alert
	RemoveTorrent(h Handle)
	Close()
}

// Engine creates sessions. The production implementation wraps
// anacrolix/torrent; tests substitute a simulated engine.
type Engine interface {
	NewSession(dataDir string) (Session, error)
}
