package task

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"url-courier/internal/domain"
	"url-courier/internal/fetch"
	"url-courier/internal/fileutil"
	"url-courier/internal/probe"
	"url-courier/internal/progress"
	"url-courier/internal/repository"
	"url-courier/internal/transport"
)

// ErrArtifactNotFound means the fetched file vanished between fetch and
// rename/upload.
var ErrArtifactNotFound = errors.New("artifact not found")

// Archiver copies a finished artifact to long-term storage. Optional and
// best-effort.
type Archiver interface {
	Archive(ctx context.Context, path string) (string, error)
}

type Config struct {
	MaxConcurrent   int
	RefreshInterval time.Duration
	MaxEditFailures int
	// LogChannelID, when non-zero, receives a best-effort line per upload.
	LogChannelID int64
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 3
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 10 * time.Second
	}
	if c.MaxEditFailures <= 0 {
		c.MaxEditFailures = 3
	}
}

// Orchestrator owns the per-user task lifecycle: claim, fetch, the
// rename/upload-choice sub-flow, delivery, and the post-upload cooldown.
type Orchestrator struct {
	store      *Store
	dispatcher fetch.Downloader
	messenger  transport.Messenger
	users      repository.UserRepository
	prober     probe.Prober
	archiver   Archiver
	logger     *logrus.Entry
	cfg        Config

	sem chan struct{}
	wg  sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func NewOrchestrator(
	store *Store,
	dispatcher fetch.Downloader,
	messenger transport.Messenger,
	users repository.UserRepository,
	prober probe.Prober,
	archiver Archiver,
	logger *logrus.Entry,
	cfg Config,
) *Orchestrator {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:      store,
		dispatcher: dispatcher,
		messenger:  messenger,
		users:      users,
		prober:     prober,
		archiver:   archiver,
		logger:     logger,
		cfg:        cfg,
		sem:        make(chan struct{}, cfg.MaxConcurrent),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Submit claims the user's task slot and starts the fetch in the background.
// The claim happens before any downloader work, so a second submit from the
// same user is rejected without touching the network.
func (o *Orchestrator) Submit(userID, chatID int64, username, source string) error {
	t, err := o.store.Claim(userID, chatID, source)
	if err != nil {
		return err
	}

	taskCtx, taskCancel := context.WithCancel(o.ctx)
	o.store.SetCancel(userID, taskCancel)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer taskCancel()
		o.runFetch(taskCtx, t, username)
	}()
	return nil
}

func (o *Orchestrator) runFetch(ctx context.Context, t domain.Task, username string) {
	logger := o.logger.WithFields(logrus.Fields{"user_id": t.UserID, "source": t.Source})

	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	case <-ctx.Done():
		o.store.Delete(t.UserID)
		return
	}

	if _, err := o.users.Ensure(ctx, t.UserID, username); err != nil {
		logger.Warnf("ensure user: %v", err)
	}

	ref, err := o.messenger.SendStatus(ctx, t.ChatID, "⏳ Processing your request...")
	if err != nil {
		logger.Errorf("send status: %v", err)
		o.store.Delete(t.UserID)
		return
	}
	o.store.SetStatusMsg(t.UserID, ref)

	reporter := progress.NewReporter(o.messenger, ref, logger)
	path, err := o.dispatcher.Fetch(ctx, t.Source, "", reporter.Callback())
	if err != nil {
		o.store.Delete(t.UserID)
		if ctx.Err() != nil {
			return
		}
		logger.Warnf("fetch failed: %v", err)
		o.editStatus(ref, fmt.Sprintf("❌ Download failed: %v", err))
		return
	}

	size := artifactSize(path)
	if err := o.users.RecordFetch(ctx, t.UserID, size); err != nil {
		logger.Warnf("record fetch: %v", err)
	}

	name := filepath.Base(path)
	o.store.SetArtifact(t.UserID, path, name)
	if _, err := o.store.Transition(t.UserID, domain.TaskStatusFetching, domain.TaskStatusAwaitingRename); err != nil {
		// task was cancelled mid-fetch; drop the artifact
		removeArtifact(path)
		return
	}

	logger.WithField("path", path).Info("fetch complete")
	text := fmt.Sprintf("✅ Downloaded %s (%s)\n\nRename before upload?", name, fileutil.FormatBytes(size))
	if err := o.messenger.EditChoice(o.ctx, ref, text, renameButtons()); err != nil {
		logger.Warnf("edit choice: %v", err)
	}
}

// Rename sanitizes newName, renames the artifact in place and advances the
// task to the upload-choice step. Only valid while the rename decision is
// pending.
func (o *Orchestrator) Rename(ctx context.Context, userID int64, newName string) error {
	t, ok := o.store.Get(userID)
	if !ok {
		return ErrNoTask
	}
	if t.Status != domain.TaskStatusAwaitingRename {
		return fmt.Errorf("%w: task is %s", ErrInvalidState, t.Status)
	}

	name := fileutil.SanitizeFilename(newName)
	if fileutil.Ext(name) == "" {
		if ext := fileutil.Ext(t.OriginalName); ext != "" {
			name += "." + ext
		}
	}

	if _, err := os.Stat(t.ArtifactPath); err != nil {
		o.store.Delete(userID)
		return fmt.Errorf("%w: %s", ErrArtifactNotFound, t.OriginalName)
	}

	dest := filepath.Join(filepath.Dir(t.ArtifactPath), name)
	if dest != t.ArtifactPath {
		if err := os.Rename(t.ArtifactPath, dest); err != nil {
			return fmt.Errorf("rename artifact: %w", err)
		}
		o.store.SetArtifactPath(userID, dest)
	}

	if _, err := o.store.Transition(userID, domain.TaskStatusAwaitingRename, domain.TaskStatusAwaitingUpload); err != nil {
		return err
	}
	o.promptUploadChoice(ctx, userID, t.StatusMsg, name)
	return nil
}

// SkipRename keeps the fetched name and advances to the upload-choice step.
func (o *Orchestrator) SkipRename(ctx context.Context, userID int64) error {
	t, err := o.store.Transition(userID, domain.TaskStatusAwaitingRename, domain.TaskStatusAwaitingUpload)
	if err != nil {
		return err
	}
	o.promptUploadChoice(ctx, userID, t.StatusMsg, filepath.Base(t.ArtifactPath))
	return nil
}

func (o *Orchestrator) promptUploadChoice(ctx context.Context, userID int64, ref transport.MessageRef, name string) {
	text := fmt.Sprintf("📦 How should I upload %s?", name)
	if err := o.messenger.EditChoice(ctx, ref, text, uploadButtons()); err != nil {
		o.logger.WithField("user_id", userID).Warnf("edit choice: %v", err)
	}
}

// ChooseUpload delivers the artifact in the chosen format, records the
// upload, clears the task and starts the user's cooldown.
func (o *Orchestrator) ChooseUpload(ctx context.Context, userID int64, format domain.UploadFormat) error {
	t, err := o.store.Transition(userID, domain.TaskStatusAwaitingUpload, domain.TaskStatusUploading)
	if err != nil {
		return err
	}
	logger := o.logger.WithField("user_id", userID)

	info, err := os.Stat(t.ArtifactPath)
	if err != nil {
		o.store.Delete(userID)
		o.editStatus(t.StatusMsg, "❌ File disappeared before upload.")
		return fmt.Errorf("%w: %s", ErrArtifactNotFound, t.OriginalName)
	}

	user, err := o.users.GetByID(ctx, userID)
	if err != nil {
		user = &domain.User{ID: userID}
	}

	// a saved default filename applies to single-file artifacts
	if user.CustomName != "" && !info.IsDir() {
		name := fileutil.SanitizeFilename(user.CustomName)
		if fileutil.Ext(name) == "" {
			if ext := fileutil.Ext(t.ArtifactPath); ext != "" {
				name += "." + ext
			}
		}
		dest := filepath.Join(filepath.Dir(t.ArtifactPath), name)
		if dest != t.ArtifactPath {
			if err := os.Rename(t.ArtifactPath, dest); err == nil {
				t.ArtifactPath = dest
				o.store.SetArtifactPath(userID, dest)
			} else {
				logger.Warnf("apply default filename: %v", err)
			}
		}
	}

	reporter := progress.NewReporter(o.messenger, t.StatusMsg, logger)
	report := reporter.Callback()

	if err := o.deliver(ctx, t, info, user, format, report); err != nil {
		logger.Warnf("deliver: %v", err)
		removeArtifact(t.ArtifactPath)
		o.store.Delete(userID)
		o.editStatus(t.StatusMsg, fmt.Sprintf("❌ Upload failed: %v", err))
		return err
	}

	size := artifactSize(t.ArtifactPath)
	if err := o.users.RecordUpload(ctx, userID, size); err != nil {
		logger.Warnf("record upload: %v", err)
	}
	o.logUpload(user, filepath.Base(t.ArtifactPath), size)
	if o.archiver != nil {
		if location, err := o.archiver.Archive(ctx, t.ArtifactPath); err != nil {
			logger.Warnf("archive: %v", err)
		} else {
			logger.WithField("location", location).Info("artifact archived")
		}
	}

	removeArtifact(t.ArtifactPath)
	o.store.Delete(userID)
	o.store.StartCooldown(userID)

	// the progress message is torn down and a fresh completion message hosts
	// the cooldown countdown
	ref := t.StatusMsg
	cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if newRef, err := o.messenger.SendStatus(cctx, t.ChatID, "✅ Upload complete."); err == nil {
		if err := o.messenger.DeleteStatus(cctx, t.StatusMsg); err != nil {
			logger.Debugf("delete progress message: %v", err)
		}
		ref = newRef
	}
	cancel()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.cooldownRefresh(userID, ref)
	}()
	return nil
}

func (o *Orchestrator) deliver(
	ctx context.Context,
	t domain.Task,
	info fs.FileInfo,
	user *domain.User,
	format domain.UploadFormat,
	report progress.Func,
) error {
	if info.IsDir() {
		return o.deliverDir(ctx, t, user, format, report)
	}
	return o.deliverFile(ctx, t.ChatID, t.ArtifactPath, user, format, report)
}

// deliverDir sends every regular file of a multi-file artifact one at a
// time, in path order.
func (o *Orchestrator) deliverDir(
	ctx context.Context,
	t domain.Task,
	user *domain.User,
	format domain.UploadFormat,
	report progress.Func,
) error {
	var paths []string
	err := filepath.WalkDir(t.ArtifactPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk artifact: %w", err)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := o.deliverFile(ctx, t.ChatID, path, user, format, report); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) deliverFile(
	ctx context.Context,
	chatID int64,
	path string,
	user *domain.User,
	format domain.UploadFormat,
	report progress.Func,
) error {
	name := filepath.Base(path)
	caption := user.CustomCaption
	if caption == "" {
		caption = name
	}

	d := transport.Delivery{
		Path:    path,
		Kind:    transport.KindDocument,
		Caption: caption,
		Progress: func(done, total int64) {
			report(ctx, progress.Sample{Current: done, Total: total, Phase: progress.PhaseUploading, Detail: name})
		},
	}

	if user.CustomThumb != "" {
		if _, err := os.Stat(user.CustomThumb); err == nil {
			d.Thumbnail = user.CustomThumb
		}
	}

	if format == domain.UploadFormatOriginal {
		switch {
		case fileutil.IsImage(name):
			d.Kind = transport.KindPhoto
		case fileutil.IsVideo(name):
			d.Kind = transport.KindVideo
			meta := o.prober.Probe(ctx, path)
			d.Video = &meta
		case fileutil.IsAudio(name):
			d.Kind = transport.KindAudio
		}
	}

	return o.messenger.Deliver(ctx, chatID, d)
}

// logUpload posts a line to the log channel. Failures are ignored.
func (o *Orchestrator) logUpload(user *domain.User, name string, size int64) {
	if o.cfg.LogChannelID == 0 {
		return
	}
	who := user.Username
	if who == "" {
		who = fmt.Sprintf("id %d", user.ID)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	text := fmt.Sprintf("📤 %s uploaded %s (%s)", who, name, fileutil.FormatBytes(size))
	if _, err := o.messenger.SendStatus(ctx, o.cfg.LogChannelID, text); err != nil {
		o.logger.Debugf("upload log line: %v", err)
	}
}

// cooldownRefresh edits the status message with the remaining quiet period
// until it elapses. The loop stops early when the message is gone or edits
// keep failing.
func (o *Orchestrator) cooldownRefresh(userID int64, ref transport.MessageRef) {
	logger := o.logger.WithField("user_id", userID)
	ticker := time.NewTicker(o.cfg.RefreshInterval)
	defer ticker.Stop()

	failures := 0
	for {
		remaining := o.store.CooldownRemaining(userID)
		if remaining <= 0 {
			o.editStatus(ref, "✅ Upload complete. You can send a new link now.")
			return
		}

		text := fmt.Sprintf("✅ Upload complete.\n⏳ Next fetch available in %s.", fileutil.FormatDuration(remaining))
		if err := o.messenger.EditStatus(o.ctx, ref, text); err != nil {
			switch transport.ClassifyEditError(err) {
			case transport.EditErrorUnchanged:
				failures = 0
			case transport.EditErrorNotFound:
				return
			default:
				failures++
				if failures >= o.cfg.MaxEditFailures {
					logger.Warnf("cooldown refresh stopped after %d edit failures", failures)
					return
				}
			}
		} else {
			failures = 0
		}

		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Cancel removes the user's task and its artifact. A missing artifact is
// fine; calling cancel twice reports that nothing is left to cancel.
func (o *Orchestrator) Cancel(userID int64) error {
	t, ok := o.store.Get(userID)
	if !ok {
		return ErrNoTask
	}
	if t.Cancel != nil {
		t.Cancel()
	}
	removeArtifact(t.ArtifactPath)
	o.store.Delete(userID)

	if t.StatusMsg != (transport.MessageRef{}) {
		o.editStatus(t.StatusMsg, "🚫 Task cancelled.")
	}
	return nil
}

// AwaitingRename reports whether the user's next text message should be
// read as a filename instead of a new locator.
func (o *Orchestrator) AwaitingRename(userID int64) bool {
	t, ok := o.store.Get(userID)
	return ok && t.Status == domain.TaskStatusAwaitingRename
}

// CooldownRemaining exposes the user's remaining quiet period.
func (o *Orchestrator) CooldownRemaining(userID int64) time.Duration {
	return o.store.CooldownRemaining(userID)
}

// Active returns a snapshot of all live tasks.
func (o *Orchestrator) Active() []domain.Task {
	return o.store.Snapshot()
}

// Shutdown cancels every live task, waits for workers to stop and removes
// all artifacts.
func (o *Orchestrator) Shutdown(timeout time.Duration) {
	tasks := o.store.Snapshot()
	for _, t := range tasks {
		if t.Cancel != nil {
			t.Cancel()
		}
	}
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		o.logger.Warn("shutdown timed out waiting for tasks")
	}

	for _, t := range tasks {
		removeArtifact(t.ArtifactPath)
		o.store.Delete(t.UserID)
	}
}

func (o *Orchestrator) editStatus(ref transport.MessageRef, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.messenger.EditStatus(ctx, ref, text); err != nil {
		if transport.ClassifyEditError(err) == transport.EditErrorOther {
			o.logger.Warnf("edit status: %v", err)
		}
	}
}

func renameButtons() [][]transport.Button {
	return [][]transport.Button{{
		{Label: "✏️ Rename", Data: "rename_now"},
		{Label: "➡️ Keep name", Data: "rename_skip"},
	}}
}

func uploadButtons() [][]transport.Button {
	return [][]transport.Button{{
		{Label: "📄 Document", Data: "upload_doc"},
		{Label: "🎞 Original type", Data: "upload_original"},
	}}
}

func artifactSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	if !info.IsDir() {
		return info.Size()
	}
	var total int64
	filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if fi, err := d.Info(); err == nil {
				total += fi.Size()
			}
		}
		return nil
	})
	return total
}

// removeArtifact tolerates files, directories and already-removed paths.
func removeArtifact(path string) {
	if path == "" {
		return
	}
	if err := os.RemoveAll(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logrus.Warnf("remove artifact %s: %v", path, err)
	}
	// downloads live in per-fetch staging dirs; sweep the dir when empty
	dir := filepath.Dir(path)
	if strings.HasPrefix(filepath.Base(dir), "dl-") {
		os.Remove(dir)
	}
}
