package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"url-courier/internal/progress"
)

func testEntry() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

type sampleRecorder struct {
	mu      sync.Mutex
	samples []progress.Sample
}

func (r *sampleRecorder) record(_ context.Context, s progress.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
}

func (r *sampleRecorder) all() []progress.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Sample(nil), r.samples...)
}

func newTestDirect(t *testing.T, maxSize int64) *Direct {
	t.Helper()
	return NewDirect(DirectConfig{
		Dir:       t.TempDir(),
		MaxSize:   maxSize,
		ChunkSize: 1 << 20,
	}, testEntry())
}

func TestDirectFetchEndToEnd(t *testing.T) {
	const totalSize = 104857600 // 100 MiB
	chunk := bytes.Repeat([]byte{0xAB}, 1<<20)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(totalSize))
		w.WriteHeader(http.StatusOK)
		for sent := 0; sent < totalSize; sent += len(chunk) {
			w.Write(chunk)
		}
	}))
	defer srv.Close()

	d := newTestDirect(t, 4<<30)
	rec := &sampleRecorder{}

	path, err := d.Fetch(context.Background(), srv.URL+"/movie.mp4", "", rec.record)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(totalSize), info.Size())
	assert.Equal(t, "movie.mp4", filepath.Base(path))

	samples := rec.all()
	require.NotEmpty(t, samples)
	var prev int64
	for _, s := range samples {
		assert.GreaterOrEqual(t, s.Current, prev)
		prev = s.Current
	}
	last := samples[len(samples)-1]
	assert.Equal(t, int64(totalSize), last.Current)
	assert.Equal(t, 100.0, progress.Percentage(last.Current, last.Total))
}

func TestDirectZeroMaxSizeFallsBackToDefault(t *testing.T) {
	body := bytes.Repeat([]byte{0x5C}, 2<<20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	d := NewDirect(DirectConfig{Dir: t.TempDir()}, testEntry())

	path, err := d.Fetch(context.Background(), srv.URL+"/blob.bin", "", func(context.Context, progress.Sample) {})
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), info.Size())
}

func TestDirectFetchRejectsOversizedDeclaration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(10<<20))
		w.WriteHeader(http.StatusOK)
		w.Write(bytes.Repeat([]byte{0}, 10<<20))
	}))
	defer srv.Close()

	d := newTestDirect(t, 1<<20)
	_, err := d.Fetch(context.Background(), srv.URL+"/big.bin", "", func(context.Context, progress.Sample) {})
	require.ErrorIs(t, err, ErrSizeLimitExceeded)

	// size check happens before any byte hits storage
	entries, readErr := os.ReadDir(d.cfg.Dir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestDirectFetchRejectsOversizedBody(t *testing.T) {
	// no declared length, body larger than the cap
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		for i := 0; i < 4; i++ {
			w.Write(bytes.Repeat([]byte{1}, 1<<20))
			flusher.Flush()
		}
	}))
	defer srv.Close()

	d := newTestDirect(t, 2<<20)
	_, err := d.Fetch(context.Background(), srv.URL+"/stream.bin", "", func(context.Context, progress.Sample) {})
	require.ErrorIs(t, err, ErrSizeLimitExceeded)
}

func TestDirectFetchBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	d := newTestDirect(t, 1<<30)
	_, err := d.Fetch(context.Background(), srv.URL+"/missing", "", func(context.Context, progress.Sample) {})
	require.ErrorIs(t, err, ErrBadStatus)
	assert.Contains(t, err.Error(), "404")
}

func TestDirectFetchFilenameResolution(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/disposition" {
			w.Header().Set("Content-Disposition", `attachment; filename="server name.bin"`)
		}
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	d := newTestDirect(t, 1<<30)
	noop := func(context.Context, progress.Sample) {}

	path, err := d.Fetch(context.Background(), srv.URL+"/disposition", "", noop)
	require.NoError(t, err)
	assert.Equal(t, "server name.bin", filepath.Base(path))

	path, err = d.Fetch(context.Background(), srv.URL+"/from/url/segment.iso", "", noop)
	require.NoError(t, err)
	assert.Equal(t, "segment.iso", filepath.Base(path))

	path, err = d.Fetch(context.Background(), srv.URL+"/anything", "caller<name>.mkv", noop)
	require.NoError(t, err)
	assert.Equal(t, "caller_name_.mkv", filepath.Base(path))
}
