package models

import (
	"strings"
	"time"
)

// Participant identifies one side of a conversation.
type Participant struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Same reports whether p and other denote the same participant. IDs win when
// both sides carry one; otherwise emails are compared case-insensitively.
func (p Participant) Same(other Participant) bool {
	if p.ID != "" && other.ID != "" {
		return p.ID == other.ID
	}
	if p.Email != "" && other.Email != "" {
		return strings.EqualFold(strings.TrimSpace(p.Email), strings.TrimSpace(other.Email))
	}
	return false
}

// DisplayName returns the best available label for the participant.
func (p Participant) DisplayName() string {
	switch {
	case strings.TrimSpace(p.Name) != "":
		return p.Name
	case strings.TrimSpace(p.Email) != "":
		return p.Email
	default:
		return p.ID
	}
}

// Message is one chat entry as shown in a conversation transcript.
type Message struct {
	ID         string         `json:"id"`
	Text       string         `json:"text,omitempty"`
	Attachment *AttachmentRef `json:"attachment,omitempty"`
	SentAt     time.Time      `json:"sent_at"`
	Sender     Participant    `json:"sender"`
	Receiver   Participant    `json:"receiver"`
	IsRead     bool           `json:"is_read"`

	// Provisional is set when ID was assigned locally rather than by the server.
	Provisional bool `json:"provisional,omitempty"`
}

// HasAttachment reports whether the message carries a file.
func (m Message) HasAttachment() bool {
	return m.Attachment != nil
}

// Preview returns a short single-line summary for conversation lists.
func (m Message) Preview() string {
	text := strings.TrimSpace(m.Text)
	if text != "" {
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[:i]
		}
		return text
	}
	if m.Attachment != nil {
		return "📎 " + m.Attachment.FileName
	}
	return ""
}
