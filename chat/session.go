package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tutorchat/attachment"
	"tutorchat/config"
	"tutorchat/metrics"
	"tutorchat/models"
	"tutorchat/network"
)

// SessionOptions configures a Session.
type SessionOptions struct {
	LocalUser  models.Participant
	Token      string
	APIBaseURL string
	API        API
	Connection network.ManagerOptions
	Encoder    *attachment.Encoder
	Summaries  SummarySink
	EchoPolicy EchoPolicy
	ReadDwell  time.Duration
	Notifier   Notifier
	Logger     logrus.FieldLogger
	// OnChange runs on the session loop after every visible change. It must
	// not call back into the session synchronously.
	OnChange func(Snapshot)
	Now      func() time.Time
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.ReadDwell <= 0 {
		o.ReadDwell = time.Duration(config.DefaultReadDwellMillis) * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.Notifier == nil {
		o.Notifier = LogNotifier{Logger: o.Logger}
	}
	if o.Summaries == nil {
		o.Summaries = noopSummaries{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Connection.Logger == nil {
		o.Connection.Logger = o.Logger
	}
	return o
}

// Snapshot is a copy of the session's visible state.
type Snapshot struct {
	Conversation models.Conversation
	Active       bool
	Loading      bool
	State        network.ConnectionState
	Messages     []models.Message
}

type loopEvent interface {
	loopEvent()
}

type inboundEvent struct {
	handle *network.Handle
	event  network.InboundEvent
}

type stateEvent struct {
	handle *network.Handle
	state  network.ConnectionState
}

type historyEvent struct {
	gen      uint64
	messages []models.Message
	err      error
}

type readTimerEvent struct {
	seq uint64
}

type commitEvent struct {
	gen    uint64
	convID string
	ids    []string
	err    error
}

type commandEvent struct {
	fn    func() error
	reply chan error
}

func (inboundEvent) loopEvent()   {}
func (stateEvent) loopEvent()     {}
func (historyEvent) loopEvent()   {}
func (readTimerEvent) loopEvent() {}
func (commitEvent) loopEvent()    {}
func (commandEvent) loopEvent()   {}

// Session is the messaging state of the open conversation. Its message
// list, connection handle and timers are owned by one loop goroutine; every
// other goroutine talks to it through events.
type Session struct {
	opts    SessionOptions
	logger  logrus.FieldLogger
	manager *network.ConnectionManager

	ctx    context.Context
	cancel context.CancelFunc

	events    chan loopEvent
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// Loop-owned state.
	gen          uint64
	conv         models.Conversation
	active       bool
	loading      bool
	state        network.ConnectionState
	handle       *network.Handle
	lastHandle   *network.Handle
	reconciler   *Reconciler
	tracker      *ReadTracker
	readTimer    *time.Timer
	readSeq      uint64
	dirty        bool
	snapMu       sync.RWMutex
	lastSnapshot Snapshot
}

// NewSession constructs a session and starts its loop. Close releases it.
func NewSession(opts SessionOptions) *Session {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		opts:       opts,
		logger:     opts.Logger,
		ctx:        ctx,
		cancel:     cancel,
		events:     make(chan loopEvent, 128),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		reconciler: NewReconciler(opts.LocalUser, opts.EchoPolicy),
		tracker:    NewReadTracker(opts.API),
	}

	connOpts := opts.Connection
	connOpts.OnEvent = func(h *network.Handle, event network.InboundEvent) {
		s.post(inboundEvent{handle: h, event: event})
	}
	connOpts.OnState = func(h *network.Handle, state network.ConnectionState) {
		s.post(stateEvent{handle: h, state: state})
	}
	s.manager = network.NewConnectionManager(connOpts)

	go s.loop()
	return s
}

// Switch tears down the current conversation and starts loading conv. The
// history fetch and socket open complete asynchronously.
func (s *Session) Switch(ctx context.Context, conv models.Conversation) error {
	if strings.TrimSpace(conv.ParticipantID) == "" {
		return ErrUnknownConversation
	}
	return s.do(ctx, func() error {
		s.switchTo(conv)
		return nil
	})
}

// Reconnect reopens the socket of the current conversation after it gave
// up. It is a no-op while a connection is live or being retried.
func (s *Session) Reconnect(ctx context.Context) error {
	return s.do(ctx, func() error {
		if !s.active {
			return ErrNoConversation
		}
		if s.handle != nil && s.state != network.StateDisconnected {
			return nil
		}
		return s.openSocket()
	})
}

// SendText transmits text and appends it optimistically.
func (s *Session) SendText(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	return s.do(ctx, func() error {
		if !s.active {
			return ErrNoConversation
		}
		if err := s.manager.Send(s.handle, network.NewChatMessage(s.conv.ParticipantID, text)); err != nil {
			s.notify(NoticeTransport, "message not sent", err)
			return err
		}

		msg := s.reconciler.AppendOptimistic(models.Message{
			Text:     text,
			SentAt:   s.opts.Now().UTC(),
			Receiver: s.conv.Participant(),
		})
		s.opts.Summaries.RecordMessage(s.conv.ParticipantID, msg, false)
		metrics.RecordSent("text")
		s.messagesChanged()
		return nil
	})
}

// SendAttachments encodes and sends each pending file in order. A file
// that fails is reported and skipped; the rest of the batch still goes out.
// Every preview is released once its file has been handled. The caption
// travels with the first file.
func (s *Session) SendAttachments(ctx context.Context, items []attachment.Pending, caption string) error {
	var errs []error
	for i, item := range items {
		text := ""
		if i == 0 {
			text = caption
		}
		if err := s.sendAttachment(ctx, item, text); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", item.File.Name, err))
		}
		item.Release()
	}
	return errors.Join(errs...)
}

func (s *Session) sendAttachment(ctx context.Context, item attachment.Pending, caption string) error {
	if s.opts.Encoder == nil {
		return errors.New("chat: attachments are not configured")
	}

	payload, err := s.opts.Encoder.Encode(ctx, item.File)
	if err != nil {
		kind := NoticeEncoding
		var validationErr *attachment.ValidationError
		if errors.As(err, &validationErr) {
			kind = NoticeValidation
		}
		s.notify(kind, "could not attach "+item.File.Name, err)
		return err
	}

	return s.do(ctx, func() error {
		if !s.active {
			return ErrNoConversation
		}
		message := network.NewFileMessage(s.conv.ParticipantID, caption, payload)
		if err := s.manager.Send(s.handle, message); err != nil {
			s.notify(NoticeTransport, "attachment not sent", err)
			return err
		}

		msg := s.reconciler.AppendOptimistic(models.Message{
			Text:     caption,
			SentAt:   s.opts.Now().UTC(),
			Receiver: s.conv.Participant(),
			Attachment: &models.AttachmentRef{
				PreviewHandle: item.PreviewHandle(),
				FileName:      payload.FileName,
				MimeType:      payload.MimeType,
				Size:          payload.Size,
				Kind:          attachment.KindFromMIME(payload.MimeType),
			},
		})
		s.opts.Summaries.RecordMessage(s.conv.ParticipantID, msg, false)
		metrics.RecordSent("file")
		s.logger.WithFields(logrus.Fields{
			"conversation": s.conv.ParticipantID,
			"file":         payload.FileName,
			"size":         payload.Size,
			"digest":       payload.Digest,
		}).Debug("attachment sent")
		s.messagesChanged()
		return nil
	})
}

// Snapshot returns a copy of the visible state.
func (s *Session) Snapshot() Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	snap := s.lastSnapshot
	snap.Messages = append([]models.Message(nil), snap.Messages...)
	return snap
}

// Messages returns the transcript in display order.
func (s *Session) Messages() []models.Message {
	return s.Snapshot().Messages
}

// State returns the connection state of the open conversation.
func (s *Session) State() network.ConnectionState {
	return s.Snapshot().State
}

// Close stops timers, closes the connection and ends the loop.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
		<-s.done
		s.cancel()
		if s.lastHandle != nil {
			<-s.lastHandle.Done()
		}
	})
	return nil
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case ev := <-s.events:
			s.dispatch(ev)
			s.publish()
		case <-s.quit:
			s.teardown()
			return
		}
	}
}

func (s *Session) dispatch(ev loopEvent) {
	switch ev := ev.(type) {
	case commandEvent:
		ev.reply <- ev.fn()
	case inboundEvent:
		s.onInbound(ev)
	case stateEvent:
		s.onState(ev)
	case historyEvent:
		s.onHistory(ev)
	case readTimerEvent:
		s.onReadTimer(ev)
	case commitEvent:
		s.onCommit(ev)
	}
}

func (s *Session) post(ev loopEvent) {
	select {
	case s.events <- ev:
	case <-s.quit:
	}
}

func (s *Session) do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case s.events <- commandEvent{fn: fn, reply: reply}:
	case <-s.quit:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrSessionClosed
	}
}

func (s *Session) switchTo(conv models.Conversation) {
	s.stopReadTimer()
	s.closeSocket()

	s.gen++
	s.reconciler.Reset()
	s.tracker.Reset()
	s.conv = conv
	s.active = true
	s.loading = true
	s.state = ""
	s.dirty = true

	gen := s.gen
	s.logger.WithFields(logrus.Fields{
		"conversation": conv.ParticipantID,
		"generation":   gen,
	}).Debug("switching conversation")

	go func() {
		history, err := s.opts.API.FetchHistory(s.ctx, conv.ParticipantID)
		s.post(historyEvent{gen: gen, messages: history, err: err})
	}()
}

func (s *Session) onHistory(ev historyEvent) {
	if ev.gen != s.gen {
		s.logger.WithField("generation", ev.gen).Debug("discarding stale history")
		return
	}

	s.loading = false
	if ev.err != nil {
		s.dirty = true
		s.notify(NoticeAPI, "could not load conversation history", ev.err)
	} else {
		s.reconciler.Load(ev.messages)
		s.messagesChanged()
	}

	if err := s.openSocket(); err != nil {
		s.notify(NoticeTransport, "could not open chat connection", err)
	}
}

func (s *Session) openSocket() error {
	s.closeSocket()
	handle, err := s.manager.Open(s.ctx, s.conv.ParticipantID, s.opts.Token)
	if err != nil {
		return err
	}
	s.handle = handle
	s.lastHandle = handle
	s.state = handle.State()
	s.dirty = true
	return nil
}

func (s *Session) closeSocket() {
	if s.handle == nil {
		return
	}
	_ = s.manager.Close(s.handle)
	s.handle = nil
}

func (s *Session) onInbound(ev inboundEvent) {
	if ev.handle != s.handle || !s.active {
		return
	}

	msg := ev.event.ToMessage(s.opts.APIBaseURL, s.opts.Now().UTC())
	merged, result := s.reconciler.MergeInbound(msg)
	switch result {
	case MergeAppended:
		kind := "text"
		if merged.HasAttachment() {
			kind = "file"
		}
		metrics.RecordReceived(kind)
		unread := !merged.IsRead && !s.opts.LocalUser.Same(merged.Sender)
		s.opts.Summaries.RecordMessage(s.conv.ParticipantID, merged, unread)
		s.messagesChanged()
	case MergeConfirmed:
		s.messagesChanged()
	default:
		metrics.RecordDiscarded(string(result))
		s.logger.WithFields(logrus.Fields{
			"conversation": s.conv.ParticipantID,
			"id":           msg.ID,
			"reason":       result,
		}).Debug("inbound event discarded")
	}
}

func (s *Session) onState(ev stateEvent) {
	if ev.handle != s.handle {
		return
	}
	if s.state == ev.state {
		return
	}
	s.state = ev.state
	s.dirty = true

	if ev.state == network.StateDisconnected {
		s.notify(NoticeTransport, "chat connection lost", network.ErrNotConnected)
	}
}

func (s *Session) armReadTimer() {
	s.stopReadTimer()
	if !s.active || s.reconciler.Len() == 0 {
		return
	}
	seq := s.readSeq
	s.readTimer = time.AfterFunc(s.opts.ReadDwell, func() {
		s.post(readTimerEvent{seq: seq})
	})
}

func (s *Session) stopReadTimer() {
	if s.readTimer != nil {
		s.readTimer.Stop()
		s.readTimer = nil
	}
	s.readSeq++
}

func (s *Session) onReadTimer(ev readTimerEvent) {
	if ev.seq != s.readSeq {
		return
	}
	s.readTimer = nil

	ids := s.tracker.Scan(s.reconciler.messages, s.opts.LocalUser)
	if len(ids) == 0 {
		return
	}
	s.tracker.Begin(ids)

	gen, convID := s.gen, s.conv.ParticipantID
	go func() {
		err := s.tracker.Commit(s.ctx, ids)
		s.post(commitEvent{gen: gen, convID: convID, ids: ids, err: err})
	}()
}

func (s *Session) onCommit(ev commitEvent) {
	if ev.gen != s.gen {
		// Stale transcript: only the summary count follows the server.
		if ev.err == nil {
			metrics.RecordReadCommit(true, len(ev.ids))
			s.opts.Summaries.ApplyRead(ev.convID, len(ev.ids))
		}
		return
	}
	s.tracker.End(ev.ids)

	if ev.err != nil {
		metrics.RecordReadCommit(false, 0)
		s.notify(NoticeAPI, "could not mark messages read", ev.err)
		return
	}

	flipped := s.reconciler.MarkRead(ev.ids)
	metrics.RecordReadCommit(true, flipped)
	if flipped > 0 {
		s.opts.Summaries.ApplyRead(s.conv.ParticipantID, flipped)
		s.dirty = true
	}
}

// messagesChanged marks the snapshot stale and restarts the read dwell.
func (s *Session) messagesChanged() {
	s.dirty = true
	s.armReadTimer()
}

func (s *Session) publish() {
	if !s.dirty {
		return
	}
	s.dirty = false

	snap := Snapshot{
		Conversation: s.conv,
		Active:       s.active,
		Loading:      s.loading,
		State:        s.state,
		Messages:     s.reconciler.Messages(),
	}
	s.snapMu.Lock()
	s.lastSnapshot = snap
	s.snapMu.Unlock()

	if s.opts.OnChange != nil {
		s.opts.OnChange(snap)
	}
}

func (s *Session) teardown() {
	s.stopReadTimer()
	s.closeSocket()
}

func (s *Session) notify(kind NoticeKind, message string, err error) {
	s.opts.Notifier.Notify(Notice{Kind: kind, Message: message, Err: err})
}

type noopSummaries struct{}

func (noopSummaries) RecordMessage(string, models.Message, bool) {}
func (noopSummaries) ApplyRead(string, int)                      {}
