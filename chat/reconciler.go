package chat

import (
	"strconv"

	"tutorchat/models"
)

// EchoPolicy decides what happens to inbound events authored by the local
// user.
type EchoPolicy string

const (
	// EchoDiscard drops every self-authored inbound event. The optimistic
	// copy stays the only copy and keeps its provisional id.
	EchoDiscard EchoPolicy = "discard"
	// EchoConfirm matches a self-authored event to the oldest provisional
	// message with the same content and adopts the server id. Unmatched
	// events (sent from another device) are appended.
	EchoConfirm EchoPolicy = "confirm"
)

// MergeResult reports what MergeInbound did with an event.
type MergeResult string

const (
	MergeAppended        MergeResult = "appended"
	MergeConfirmed       MergeResult = "confirmed"
	MergeDiscardedEcho   MergeResult = "self_echo"
	MergeDiscardedDupeID MergeResult = "duplicate_id"
)

// Reconciler owns the ordered message list of one conversation. It is not
// safe for concurrent use; the session loop is its only caller.
type Reconciler struct {
	local  models.Participant
	policy EchoPolicy

	messages []models.Message
	ids      map[string]int

	// nextLocal survives Reset so provisional ids are never reused.
	nextLocal uint64
}

// NewReconciler constructs a reconciler for the local user.
func NewReconciler(local models.Participant, policy EchoPolicy) *Reconciler {
	if policy == "" {
		policy = EchoDiscard
	}
	return &Reconciler{
		local:  local,
		policy: policy,
		ids:    make(map[string]int),
	}
}

// Reset empties the list.
func (r *Reconciler) Reset() {
	r.messages = nil
	r.ids = make(map[string]int)
}

// Load places history ahead of anything already in the list. History
// entries whose id is already present are skipped.
func (r *Reconciler) Load(history []models.Message) {
	current := r.messages
	r.Reset()
	for _, msg := range history {
		if msg.ID == "" {
			msg.ID = r.provisionalID()
			msg.Provisional = true
		}
		if _, ok := r.ids[msg.ID]; ok {
			continue
		}
		r.push(msg)
	}
	for _, msg := range current {
		if _, ok := r.ids[msg.ID]; ok {
			continue
		}
		r.push(msg)
	}
}

// AppendOptimistic adds a message authored locally before the server has
// seen it.
func (r *Reconciler) AppendOptimistic(msg models.Message) models.Message {
	msg.ID = r.provisionalID()
	msg.Provisional = true
	msg.IsRead = false
	msg.Sender = r.local
	r.push(msg)
	return msg
}

// MergeInbound applies an inbound event to the list.
func (r *Reconciler) MergeInbound(msg models.Message) (models.Message, MergeResult) {
	if r.local.Same(msg.Sender) {
		if r.policy == EchoConfirm {
			if i := r.matchProvisional(msg); i >= 0 {
				return r.confirm(i, msg), MergeConfirmed
			}
		} else {
			return msg, MergeDiscardedEcho
		}
	}

	if msg.ID != "" {
		if _, ok := r.ids[msg.ID]; ok {
			return msg, MergeDiscardedDupeID
		}
	} else {
		msg.ID = r.provisionalID()
		msg.Provisional = true
	}

	r.push(msg)
	return msg, MergeAppended
}

// Messages returns a copy of the list in display order.
func (r *Reconciler) Messages() []models.Message {
	return append([]models.Message(nil), r.messages...)
}

// Len returns the number of messages.
func (r *Reconciler) Len() int {
	return len(r.messages)
}

// MarkRead flips IsRead for ids and returns how many were newly flipped.
func (r *Reconciler) MarkRead(ids []string) int {
	return ApplyRead(r.messages, ids)
}

func (r *Reconciler) push(msg models.Message) {
	r.ids[msg.ID] = len(r.messages)
	r.messages = append(r.messages, msg)
}

func (r *Reconciler) provisionalID() string {
	r.nextLocal++
	return "local-" + strconv.FormatUint(r.nextLocal, 10)
}

func (r *Reconciler) matchProvisional(echo models.Message) int {
	for i, msg := range r.messages {
		if !msg.Provisional || !r.local.Same(msg.Sender) {
			continue
		}
		if msg.Text != echo.Text {
			continue
		}
		if (msg.Attachment == nil) != (echo.Attachment == nil) {
			continue
		}
		if msg.Attachment != nil && msg.Attachment.FileName != echo.Attachment.FileName {
			continue
		}
		return i
	}
	return -1
}

func (r *Reconciler) confirm(i int, echo models.Message) models.Message {
	msg := r.messages[i]
	if echo.ID != "" {
		if _, taken := r.ids[echo.ID]; !taken {
			delete(r.ids, msg.ID)
			msg.ID = echo.ID
			msg.Provisional = false
			r.ids[msg.ID] = i
		}
	}
	if echo.Attachment != nil && echo.Attachment.URL != "" {
		ref := *echo.Attachment
		msg.Attachment = &ref
	}
	if !echo.SentAt.IsZero() {
		msg.SentAt = echo.SentAt
	}
	r.messages[i] = msg
	return msg
}
