package transport

import (
	"context"
	"errors"
	"strings"
)

// FileKind selects how an artifact is delivered to the chat.
type FileKind string

const (
	KindDocument FileKind = "document"
	KindPhoto    FileKind = "photo"
	KindVideo    FileKind = "video"
	KindAudio    FileKind = "audio"
)

// MessageRef identifies a status message previously sent to a chat.
type MessageRef struct {
	ChatID    int64
	MessageID int64
}

// Button is one inline choice offered under a message.
type Button struct {
	Label string
	Data  string
}

// VideoMeta carries best-effort probed metadata for video deliveries.
// Zero values are acceptable everywhere.
type VideoMeta struct {
	Duration int
	Width    int
	Height   int
}

// Delivery describes an artifact upload to a chat.
type Delivery struct {
	Path      string
	Kind      FileKind
	Caption   string
	Thumbnail string
	Video     *VideoMeta
	Progress  func(done, total int64)
}

// Messenger is the messaging transport consumed by the task orchestrator and
// the progress reporter. Implementations live behind this interface so the
// core never talks wire protocol.
type Messenger interface {
	SendStatus(ctx context.Context, chatID int64, text string) (MessageRef, error)
	EditStatus(ctx context.Context, ref MessageRef, text string) error
	EditChoice(ctx context.Context, ref MessageRef, text string, buttons [][]Button) error
	DeleteStatus(ctx context.Context, ref MessageRef) error
	Deliver(ctx context.Context, chatID int64, d Delivery) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
	React(ctx context.Context, chatID, messageID int64, emoji string) error
}

// EditErrorKind is the closed set of edit failure classes. Unchanged and
// NotFound are expected steady-state noise during progress editing; only
// Other indicates a real transport problem.
type EditErrorKind int

const (
	EditErrorOther EditErrorKind = iota
	EditErrorUnchanged
	EditErrorNotFound
)

// EditError wraps a transport edit failure with its classification.
type EditError struct {
	Kind EditErrorKind
	Err  error
}

func (e *EditError) Error() string { return e.Err.Error() }

func (e *EditError) Unwrap() error { return e.Err }

// ClassifyEditError inspects err and returns its edit-error class. A nil err
// never reaches this; unknown errors classify as Other.
func ClassifyEditError(err error) EditErrorKind {
	var ee *EditError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not modified"):
		return EditErrorUnchanged
	case strings.Contains(msg, "message to edit not found"),
		strings.Contains(msg, "message not found"):
		return EditErrorNotFound
	default:
		return EditErrorOther
	}
}
