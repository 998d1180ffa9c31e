package task

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"url-courier/internal/domain"
	"url-courier/internal/progress"
	"url-courier/internal/transport"
)

type stubMessenger struct {
	mu         sync.Mutex
	sent       []string
	edits      []string
	choices    []string
	deliveries []transport.Delivery
	deletes    int
	editErr    error
	nextID     int64
}

func (m *stubMessenger) SendStatus(_ context.Context, chatID int64, text string) (transport.MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.sent = append(m.sent, text)
	return transport.MessageRef{ChatID: chatID, MessageID: m.nextID}, nil
}

func (m *stubMessenger) EditStatus(_ context.Context, _ transport.MessageRef, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.editErr != nil {
		return m.editErr
	}
	m.edits = append(m.edits, text)
	return nil
}

func (m *stubMessenger) EditChoice(_ context.Context, _ transport.MessageRef, text string, _ [][]transport.Button) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.choices = append(m.choices, text)
	return nil
}

func (m *stubMessenger) DeleteStatus(context.Context, transport.MessageRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	return nil
}

func (m *stubMessenger) Deliver(_ context.Context, _ int64, d transport.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = append(m.deliveries, d)
	return nil
}

func (m *stubMessenger) AnswerCallback(context.Context, string, string, bool) error { return nil }
func (m *stubMessenger) React(context.Context, int64, int64, string) error          { return nil }

func (m *stubMessenger) lastChoice() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.choices) == 0 {
		return ""
	}
	return m.choices[len(m.choices)-1]
}

type stubDispatcher struct {
	calls   atomic.Int64
	path    string
	err     error
	started chan struct{}
	release chan struct{}
}

func (d *stubDispatcher) Fetch(ctx context.Context, _, _ string, _ progress.Func) (string, error) {
	d.calls.Add(1)
	if d.started != nil {
		close(d.started)
	}
	if d.release != nil {
		select {
		case <-d.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return d.path, d.err
}

type stubUsers struct {
	fetches atomic.Int64
	uploads atomic.Int64
}

func (u *stubUsers) Init(context.Context) error { return nil }
func (u *stubUsers) Ensure(_ context.Context, id int64, username string) (*domain.User, error) {
	return &domain.User{ID: id, Username: username}, nil
}
func (u *stubUsers) GetByID(_ context.Context, id int64) (*domain.User, error) {
	return &domain.User{ID: id}, nil
}
func (u *stubUsers) RecordFetch(context.Context, int64, int64) error {
	u.fetches.Add(1)
	return nil
}
func (u *stubUsers) RecordUpload(context.Context, int64, int64) error {
	u.uploads.Add(1)
	return nil
}
func (u *stubUsers) SetCustomName(context.Context, int64, string) error    { return nil }
func (u *stubUsers) SetCustomCaption(context.Context, int64, string) error { return nil }
func (u *stubUsers) SetCustomThumb(context.Context, int64, string) error   { return nil }
func (u *stubUsers) ClearSettings(context.Context, int64) error            { return nil }
func (u *stubUsers) Stats(context.Context) (*domain.Stats, error)          { return &domain.Stats{}, nil }

type stubProber struct{ meta transport.VideoMeta }

func (p *stubProber) Probe(context.Context, string) transport.VideoMeta { return p.meta }

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func newTestOrchestrator(t *testing.T, window time.Duration, dispatcher *stubDispatcher) (*Orchestrator, *stubMessenger, *stubUsers) {
	t.Helper()
	msgr := &stubMessenger{}
	users := &stubUsers{}
	o := NewOrchestrator(
		NewStore(window),
		dispatcher,
		msgr,
		users,
		&stubProber{},
		nil,
		testLogger(),
		Config{RefreshInterval: 5 * time.Millisecond},
	)
	t.Cleanup(func() { o.Shutdown(time.Second) })
	return o, msgr, users
}

func writeArtifact(t *testing.T, name string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "dl-test")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))
	return path
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never held")
}

func TestSecondSubmitRejectedWithoutDownloaderCall(t *testing.T) {
	dispatcher := &stubDispatcher{
		started: make(chan struct{}),
		release: make(chan struct{}),
		path:    writeArtifact(t, "file.bin"),
	}
	o, _, _ := newTestOrchestrator(t, time.Minute, dispatcher)

	require.NoError(t, o.Submit(1, 100, "alice", "https://example.com/a"))
	<-dispatcher.started

	err := o.Submit(1, 100, "alice", "https://example.com/b")
	assert.ErrorIs(t, err, ErrTaskExists)
	assert.Equal(t, int64(1), dispatcher.calls.Load())

	close(dispatcher.release)
}

func TestFetchSuccessAdvancesToRenameDecision(t *testing.T) {
	path := writeArtifact(t, "movie.mkv")
	dispatcher := &stubDispatcher{path: path}
	o, msgr, users := newTestOrchestrator(t, time.Minute, dispatcher)

	require.NoError(t, o.Submit(1, 100, "alice", "https://example.com/movie.mkv"))
	waitFor(t, func() bool { return o.AwaitingRename(1) })

	assert.Equal(t, int64(1), users.fetches.Load())
	assert.Contains(t, msgr.lastChoice(), "movie.mkv")
	assert.Contains(t, msgr.lastChoice(), "Rename")
}

func TestFetchFailureClearsTask(t *testing.T) {
	dispatcher := &stubDispatcher{err: errors.New("connection refused")}
	o, msgr, _ := newTestOrchestrator(t, time.Minute, dispatcher)

	require.NoError(t, o.Submit(1, 100, "alice", "https://example.com/a"))
	waitFor(t, func() bool {
		msgr.mu.Lock()
		defer msgr.mu.Unlock()
		return len(msgr.edits) > 0
	})
	assert.Contains(t, msgr.edits[0], "connection refused")

	// slot is free again
	waitFor(t, func() bool {
		return o.Submit(1, 100, "alice", "https://example.com/b") == nil
	})
}

func TestRenameSanitizesAndKeepsExtension(t *testing.T) {
	path := writeArtifact(t, "movie.mkv")
	dispatcher := &stubDispatcher{path: path}
	o, _, _ := newTestOrchestrator(t, time.Minute, dispatcher)

	require.NoError(t, o.Submit(1, 100, "alice", "https://example.com/movie.mkv"))
	waitFor(t, func() bool { return o.AwaitingRename(1) })

	require.NoError(t, o.Rename(context.Background(), 1, `my<:>/movie`))

	got, ok := o.store.Get(1)
	require.True(t, ok)
	assert.Equal(t, "my_movie.mkv", filepath.Base(got.ArtifactPath))
	assert.FileExists(t, got.ArtifactPath)
	assert.NoFileExists(t, path)
}

func TestRenameWhenArtifactVanished(t *testing.T) {
	path := writeArtifact(t, "movie.mkv")
	dispatcher := &stubDispatcher{path: path}
	o, _, _ := newTestOrchestrator(t, time.Minute, dispatcher)

	require.NoError(t, o.Submit(1, 100, "alice", "https://example.com/movie.mkv"))
	waitFor(t, func() bool { return o.AwaitingRename(1) })

	require.NoError(t, os.Remove(path))
	err := o.Rename(context.Background(), 1, "newname")
	assert.ErrorIs(t, err, ErrArtifactNotFound)

	_, ok := o.store.Get(1)
	assert.False(t, ok)
}

func TestUploadDocumentFlow(t *testing.T) {
	path := writeArtifact(t, "clip.mp4")
	dispatcher := &stubDispatcher{path: path}
	o, msgr, users := newTestOrchestrator(t, 50*time.Millisecond, dispatcher)

	require.NoError(t, o.Submit(1, 100, "alice", "https://example.com/clip.mp4"))
	waitFor(t, func() bool { return o.AwaitingRename(1) })
	require.NoError(t, o.SkipRename(context.Background(), 1))

	require.NoError(t, o.ChooseUpload(context.Background(), 1, domain.UploadFormatDocument))

	require.Len(t, msgr.deliveries, 1)
	assert.Equal(t, transport.KindDocument, msgr.deliveries[0].Kind)
	assert.Equal(t, int64(1), users.uploads.Load())
	assert.NoFileExists(t, path)

	// the progress message is replaced by a fresh completion message
	msgr.mu.Lock()
	deletes, sent := msgr.deletes, append([]string(nil), msgr.sent...)
	msgr.mu.Unlock()
	assert.Equal(t, 1, deletes)
	assert.Contains(t, sent, "✅ Upload complete.")

	_, ok := o.store.Get(1)
	assert.False(t, ok)
	assert.Greater(t, o.CooldownRemaining(1), time.Duration(0))
}

func TestUploadOriginalPicksVideoKind(t *testing.T) {
	path := writeArtifact(t, "clip.mp4")
	dispatcher := &stubDispatcher{path: path}
	o, msgr, _ := newTestOrchestrator(t, time.Minute, dispatcher)

	require.NoError(t, o.Submit(1, 100, "alice", "https://example.com/clip.mp4"))
	waitFor(t, func() bool { return o.AwaitingRename(1) })
	require.NoError(t, o.SkipRename(context.Background(), 1))
	require.NoError(t, o.ChooseUpload(context.Background(), 1, domain.UploadFormatOriginal))

	require.Len(t, msgr.deliveries, 1)
	assert.Equal(t, transport.KindVideo, msgr.deliveries[0].Kind)
	require.NotNil(t, msgr.deliveries[0].Video)
}

func TestUploadOriginalPicksAudioKind(t *testing.T) {
	path := writeArtifact(t, "song.mp3")
	dispatcher := &stubDispatcher{path: path}
	o, msgr, _ := newTestOrchestrator(t, time.Minute, dispatcher)

	require.NoError(t, o.Submit(1, 100, "alice", "https://example.com/song.mp3"))
	waitFor(t, func() bool { return o.AwaitingRename(1) })
	require.NoError(t, o.SkipRename(context.Background(), 1))
	require.NoError(t, o.ChooseUpload(context.Background(), 1, domain.UploadFormatOriginal))

	require.Len(t, msgr.deliveries, 1)
	assert.Equal(t, transport.KindAudio, msgr.deliveries[0].Kind)
	assert.Nil(t, msgr.deliveries[0].Video)
}

// Task state stays observable from other goroutines while a fetch runs and
// while it is being cancelled.
func TestConcurrentInspectionDuringFetch(t *testing.T) {
	dispatcher := &stubDispatcher{
		started: make(chan struct{}),
		release: make(chan struct{}),
		path:    writeArtifact(t, "file.bin"),
	}
	o, _, _ := newTestOrchestrator(t, time.Minute, dispatcher)

	require.NoError(t, o.Submit(1, 100, "alice", "https://example.com/a"))
	<-dispatcher.started

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				o.AwaitingRename(1)
				o.Active()
				o.CooldownRemaining(1)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.Cancel(1)
	}()
	wg.Wait()

	close(dispatcher.release)
	waitFor(t, func() bool {
		_, ok := o.store.Get(1)
		return !ok
	})
}

func TestCooldownRejectionIsAccurate(t *testing.T) {
	path := writeArtifact(t, "a.bin")
	dispatcher := &stubDispatcher{path: path}
	o, _, _ := newTestOrchestrator(t, 159*time.Second, dispatcher)

	require.NoError(t, o.Submit(1, 100, "alice", "https://example.com/a"))
	waitFor(t, func() bool { return o.AwaitingRename(1) })
	require.NoError(t, o.SkipRename(context.Background(), 1))
	require.NoError(t, o.ChooseUpload(context.Background(), 1, domain.UploadFormatDocument))

	err := o.Submit(1, 100, "alice", "https://example.com/b")
	var cd *CooldownError
	require.True(t, errors.As(err, &cd))
	assert.InDelta(t, float64(159*time.Second), float64(cd.Remaining), float64(time.Second))
}

func TestCancelRemovesArtifactAndFreesSlot(t *testing.T) {
	path := writeArtifact(t, "movie.mkv")
	dispatcher := &stubDispatcher{path: path}
	o, _, _ := newTestOrchestrator(t, time.Minute, dispatcher)

	require.NoError(t, o.Submit(1, 100, "alice", "https://example.com/movie.mkv"))
	waitFor(t, func() bool { return o.AwaitingRename(1) })

	require.NoError(t, o.Cancel(1))
	assert.NoFileExists(t, path)

	assert.ErrorIs(t, o.Cancel(1), ErrNoTask)
	assert.NoError(t, o.Submit(1, 100, "alice", "https://example.com/b"))
}

func TestChooseUploadRequiresChoiceState(t *testing.T) {
	path := writeArtifact(t, "a.bin")
	dispatcher := &stubDispatcher{path: path}
	o, _, _ := newTestOrchestrator(t, time.Minute, dispatcher)

	err := o.ChooseUpload(context.Background(), 1, domain.UploadFormatDocument)
	assert.ErrorIs(t, err, ErrNoTask)

	require.NoError(t, o.Submit(1, 100, "alice", "https://example.com/a"))
	waitFor(t, func() bool { return o.AwaitingRename(1) })

	err = o.ChooseUpload(context.Background(), 1, domain.UploadFormatDocument)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestShutdownCleansArtifacts(t *testing.T) {
	path := writeArtifact(t, "movie.mkv")
	dispatcher := &stubDispatcher{path: path}
	o, _, _ := newTestOrchestrator(t, time.Minute, dispatcher)

	require.NoError(t, o.Submit(1, 100, "alice", "https://example.com/movie.mkv"))
	waitFor(t, func() bool { return o.AwaitingRename(1) })

	o.Shutdown(time.Second)
	assert.NoFileExists(t, path)
	assert.Empty(t, o.Active())
}
