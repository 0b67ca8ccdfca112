package chat

import (
	"errors"

	"github.com/sirupsen/logrus"
)

var (
	// ErrNoConversation is returned by sends before a conversation is selected.
	ErrNoConversation = errors.New("chat: no conversation selected")
	// ErrEmptyMessage is returned when sending blank text.
	ErrEmptyMessage = errors.New("chat: message is empty")
	// ErrSessionClosed is returned by calls made after Close.
	ErrSessionClosed = errors.New("chat: session closed")
	// ErrUnknownConversation is returned when selecting an id not in the list.
	ErrUnknownConversation = errors.New("chat: unknown conversation")
)

// NoticeKind groups user-facing failures.
type NoticeKind string

const (
	NoticeValidation NoticeKind = "validation"
	NoticeTransport  NoticeKind = "transport"
	NoticeAPI        NoticeKind = "api"
	NoticeEncoding   NoticeKind = "encoding"
)

// Notice is one failure surfaced to the user. Nothing in the messaging core
// is fatal; every failure ends up here.
type Notice struct {
	Kind    NoticeKind
	Message string
	Err     error
}

// Notifier receives notices. Implementations must not block.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// LogNotifier writes notices to a logger.
type LogNotifier struct {
	Logger logrus.FieldLogger
}

func (n LogNotifier) Notify(notice Notice) {
	entry := n.Logger.WithField("kind", notice.Kind)
	if notice.Err != nil {
		entry = entry.WithError(notice.Err)
	}
	entry.Warn(notice.Message)
}
