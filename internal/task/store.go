package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"url-courier/internal/domain"
	"url-courier/internal/transport"
)

var (
	// ErrTaskExists means the user already has a live task.
	ErrTaskExists = errors.New("task already in progress")
	// ErrNoTask means no live task exists for the user.
	ErrNoTask = errors.New("no active task")
	// ErrInvalidState means the operation does not match the task's state.
	ErrInvalidState = errors.New("invalid task state")
)

// CooldownError rejects a submit while the user's quiet period is running.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cooldown active: %s remaining", e.Remaining.Round(time.Second))
}

// Store owns the per-user task table and cooldown table. Tasks never leave
// the store by reference: accessors return copies and every read or write of
// task state goes through the lock, so a user's state machine never races
// with the goroutines inspecting it.
type Store struct {
	window time.Duration

	mu        sync.Mutex
	tasks     map[int64]*domain.Task
	cooldowns map[int64]time.Time
}

func NewStore(cooldownWindow time.Duration) *Store {
	return &Store{
		window:    cooldownWindow,
		tasks:     make(map[int64]*domain.Task),
		cooldowns: make(map[int64]time.Time),
	}
}

// Claim atomically rejects a submit when a task is live or a cooldown is
// running, and otherwise registers a fetching task for the user.
func (s *Store) Claim(userID, chatID int64, source string) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[userID]; ok {
		return domain.Task{}, ErrTaskExists
	}
	if remaining := s.cooldownRemainingLocked(userID, time.Now()); remaining > 0 {
		return domain.Task{}, &CooldownError{Remaining: remaining}
	}

	t := &domain.Task{
		UserID:    userID,
		ChatID:    chatID,
		Source:    source,
		Status:    domain.TaskStatusFetching,
		StartedAt: time.Now(),
	}
	s.tasks[userID] = t
	return *t, nil
}

// Get returns a copy of the user's task.
func (s *Store) Get(userID int64) (domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[userID]
	if !ok {
		return domain.Task{}, false
	}
	return *t, true
}

// Transition moves the user's task to next only when it currently sits in
// from, returning a copy of the task on success.
func (s *Store) Transition(userID int64, from, next domain.TaskStatus) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[userID]
	if !ok {
		return domain.Task{}, ErrNoTask
	}
	if t.Status != from {
		return domain.Task{}, fmt.Errorf("%w: task is %s", ErrInvalidState, t.Status)
	}
	t.Status = next
	return *t, nil
}

// SetCancel attaches the task's cancel function. A no-op when the task is
// already gone.
func (s *Store) SetCancel(userID int64, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[userID]; ok {
		t.Cancel = cancel
	}
}

// SetStatusMsg records the status message the task's updates are edited into.
func (s *Store) SetStatusMsg(userID int64, ref transport.MessageRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[userID]; ok {
		t.StatusMsg = ref
	}
}

// SetArtifact records the fetched artifact and its original name.
func (s *Store) SetArtifact(userID int64, path, originalName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[userID]; ok {
		t.ArtifactPath = path
		t.OriginalName = originalName
	}
}

// SetArtifactPath updates the artifact location after a rename.
func (s *Store) SetArtifactPath(userID int64, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[userID]; ok {
		t.ArtifactPath = path
	}
}

func (s *Store) Delete(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, userID)
}

// Snapshot returns copies of all live tasks.
func (s *Store) Snapshot() []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	return out
}

func (s *Store) StartCooldown(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldowns[userID] = time.Now()
}

// CooldownRemaining reports the time left in the user's quiet period, zero
// when none is running. Expired entries are removed on the way out.
func (s *Store) CooldownRemaining(userID int64) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cooldownRemainingLocked(userID, time.Now())
}

func (s *Store) cooldownRemainingLocked(userID int64, now time.Time) time.Duration {
	start, ok := s.cooldowns[userID]
	if !ok {
		return 0
	}
	remaining := s.window - now.Sub(start)
	if remaining <= 0 {
		delete(s.cooldowns, userID)
		return 0
	}
	return remaining
}
