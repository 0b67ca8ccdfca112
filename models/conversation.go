package models

import "time"

// Conversation is the list summary for one remote participant.
type Conversation struct {
	ParticipantID   string    `json:"participant_id"`
	DisplayName     string    `json:"display_name"`
	Email           string    `json:"email"`
	LastMessageText string    `json:"last_message_text,omitempty"`
	LastMessageTime time.Time `json:"last_message_time,omitempty"`
	UnreadCount     int       `json:"unread_count"`
}

// Participant returns the remote side of the conversation.
func (c Conversation) Participant() Participant {
	return Participant{
		ID:    c.ParticipantID,
		Name:  c.DisplayName,
		Email: c.Email,
	}
}
