package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"

	"tutorchat/attachment"
	"tutorchat/models"
)

const (
	// DefaultWriteWait bounds one websocket write.
	DefaultWriteWait = 10 * time.Second
	// DefaultPongWait is how long the reader waits for any frame or pong.
	DefaultPongWait = 60 * time.Second
	// DefaultPingPeriod must stay below DefaultPongWait.
	DefaultPingPeriod = (DefaultPongWait * 9) / 10
	// DefaultDialTimeout bounds the websocket handshake.
	DefaultDialTimeout = 15 * time.Second
)

const (
	TypeChatMessage = "chat_message"
	TypeFileMessage = "file_message"
)

var (
	// ErrInvalidMessageType indicates the event type is missing or unknown.
	ErrInvalidMessageType = errors.New("network: invalid message type")
	// ErrMalformedEvent indicates an inbound frame is not a JSON object.
	ErrMalformedEvent = errors.New("network: malformed event")
)

var validate = validator.New()

// ChatMessage is an outbound text message.
type ChatMessage struct {
	Type       string `json:"type" validate:"eq=chat_message"`
	Message    string `json:"message" validate:"required"`
	ReceiverID string `json:"receiver_id" validate:"required"`
}

// FileMessage is an outbound attachment with an optional caption.
type FileMessage struct {
	Type       string `json:"type" validate:"eq=file_message"`
	ReceiverID string `json:"receiver_id" validate:"required"`
	Message    string `json:"message"`
	FileData   string `json:"file_data" validate:"required,base64"`
	FileName   string `json:"file_name" validate:"required"`
	FileType   string `json:"file_type"`
	FileSize   int64  `json:"file_size" validate:"gte=0"`
}

// NewChatMessage builds a text message for receiverID.
func NewChatMessage(receiverID, text string) ChatMessage {
	return ChatMessage{Type: TypeChatMessage, Message: text, ReceiverID: receiverID}
}

// NewFileMessage builds a file message carrying an encoded attachment.
func NewFileMessage(receiverID, caption string, payload models.AttachmentPayload) FileMessage {
	return FileMessage{
		Type:       TypeFileMessage,
		ReceiverID: receiverID,
		Message:    caption,
		FileData:   payload.Data,
		FileName:   payload.FileName,
		FileType:   payload.MimeType,
		FileSize:   payload.Size,
	}
}

// EncodeJSON validates an outbound message and marshals it.
func EncodeJSON(message any) ([]byte, error) {
	if err := validate.Struct(message); err != nil {
		return nil, fmt.Errorf("validate outbound message: %w", err)
	}
	payload, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("marshal outbound message: %w", err)
	}
	return payload, nil
}

// InboundEvent is a message pushed by the server or returned by the history
// endpoint. Both use the same field names.
type InboundEvent struct {
	Type          string
	ID            string
	Message       string
	Attachment    string
	FileName      string
	FileType      string
	FileSize      int64
	SentAt        time.Time
	SenderID      string
	SenderName    string
	SenderEmail   string
	ReceiverID    string
	ReceiverName  string
	ReceiverEmail string
	IsRead        bool
}

// DecodeInbound parses one inbound socket frame.
func DecodeInbound(payload []byte) (InboundEvent, error) {
	if !gjson.ValidBytes(payload) {
		return InboundEvent{}, ErrMalformedEvent
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return InboundEvent{}, ErrMalformedEvent
	}

	msgType := root.Get("type").String()
	switch msgType {
	case TypeChatMessage, TypeFileMessage:
	default:
		return InboundEvent{}, fmt.Errorf("%w: %q", ErrInvalidMessageType, msgType)
	}

	event := eventFromJSON(root)
	event.Type = msgType
	return event, nil
}

func eventFromJSON(obj gjson.Result) InboundEvent {
	event := InboundEvent{
		Type:          obj.Get("type").String(),
		ID:            obj.Get("id").String(),
		Message:       obj.Get("message").String(),
		FileName:      obj.Get("file_name").String(),
		FileType:      obj.Get("file_type").String(),
		FileSize:      obj.Get("file_size").Int(),
		SentAt:        parseTimestamp(firstOf(obj, "sent_at", "timestamp", "created_at")),
		SenderID:      firstOf(obj, "sender_id", "sender.id").String(),
		SenderName:    firstOf(obj, "sender_name", "sender.name").String(),
		SenderEmail:   firstOf(obj, "sender_email", "sender.email").String(),
		ReceiverID:    firstOf(obj, "receiver_id", "receiver.id").String(),
		ReceiverName:  firstOf(obj, "receiver_name", "receiver.name").String(),
		ReceiverEmail: firstOf(obj, "receiver_email", "receiver.email").String(),
		IsRead:        obj.Get("is_read").Bool(),
	}

	switch att := obj.Get("attachment"); {
	case att.IsObject():
		event.Attachment = att.Get("url").String()
		if event.FileName == "" {
			event.FileName = att.Get("name").String()
		}
	case att.Type == gjson.String:
		event.Attachment = att.String()
	}

	return event
}

func firstOf(obj gjson.Result, paths ...string) gjson.Result {
	for _, path := range paths {
		if value := obj.Get(path); value.Exists() && value.Type != gjson.Null {
			return value
		}
	}
	return gjson.Result{}
}

func parseTimestamp(value gjson.Result) time.Time {
	switch value.Type {
	case gjson.String:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
			if ts, err := time.Parse(layout, value.String()); err == nil {
				return ts.UTC()
			}
		}
	case gjson.Number:
		n := value.Int()
		if n > 1e12 {
			return time.UnixMilli(n).UTC()
		}
		return time.Unix(n, 0).UTC()
	}
	return time.Time{}
}

// Sender returns the author of the event.
func (e InboundEvent) Sender() models.Participant {
	return models.Participant{ID: e.SenderID, Name: e.SenderName, Email: e.SenderEmail}
}

// Receiver returns the addressee of the event.
func (e InboundEvent) Receiver() models.Participant {
	return models.Participant{ID: e.ReceiverID, Name: e.ReceiverName, Email: e.ReceiverEmail}
}

// ToMessage converts the event into a transcript message. Relative
// attachment URLs are resolved against apiBase. A missing timestamp is
// replaced with now.
func (e InboundEvent) ToMessage(apiBase string, now time.Time) models.Message {
	msg := models.Message{
		ID:       e.ID,
		Text:     e.Message,
		SentAt:   e.SentAt,
		Sender:   e.Sender(),
		Receiver: e.Receiver(),
		IsRead:   e.IsRead,
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = now
	}

	if e.Attachment != "" {
		resolved := attachment.ResolveURL(apiBase, e.Attachment)
		name := e.FileName
		if name == "" {
			name = attachmentName(e.Attachment)
		}
		mimeType := e.FileType
		if mimeType == "" {
			mimeType = attachment.TypeForName(name)
		}
		kind := attachment.KindFromMIME(mimeType)
		if mimeType == "" {
			kind = attachment.KindFromName(resolved)
		}
		msg.Attachment = &models.AttachmentRef{
			URL:      resolved,
			FileName: name,
			MimeType: mimeType,
			Size:     e.FileSize,
			Kind:     kind,
		}
	}

	return msg
}

func attachmentName(ref string) string {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	if i := strings.LastIndexByte(ref, '/'); i >= 0 {
		ref = ref[i+1:]
	}
	return ref
}
