package storage

import (
	"errors"
	"fmt"
	"strings"
)

// NavigationSelectedConversation stores the participant id of the open conversation.
const NavigationSelectedConversation = "selected_conversation"

// SetNavigation records a navigation state value under key.
func (s *Store) SetNavigation(key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("state key is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO navigation_state (state_key, state_value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(state_key) DO UPDATE SET
			state_value = excluded.state_value,
			updated_at = excluded.updated_at`,
		key,
		value,
		nowUnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("set navigation state %q: %w", key, err)
	}

	return nil
}

// GetNavigation returns the value stored under key and whether it exists.
func (s *Store) GetNavigation(key string) (string, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, errors.New("state key is required")
	}

	var value string
	err := s.db.QueryRow(
		`SELECT state_value FROM navigation_state WHERE state_key = ?`,
		key,
	).Scan(&value)
	if isNoRows(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get navigation state %q: %w", key, err)
	}

	return value, true, nil
}

// ClearNavigation removes key. Missing keys are not an error.
func (s *Store) ClearNavigation(key string) error {
	if _, err := s.db.Exec(`DELETE FROM navigation_state WHERE state_key = ?`, key); err != nil {
		return fmt.Errorf("clear navigation state %q: %w", key, err)
	}
	return nil
}

// NavigationStore adapts Store to the single-key interface the conversation
// list persists its selection through.
type NavigationStore struct {
	Store *Store
}

// SaveSelection persists the selected conversation id.
func (n NavigationStore) SaveSelection(conversationID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return n.Store.ClearNavigation(NavigationSelectedConversation)
	}
	return n.Store.SetNavigation(NavigationSelectedConversation, conversationID)
}

// LoadSelection returns the last persisted conversation id, if any.
func (n NavigationStore) LoadSelection() (string, bool, error) {
	return n.Store.GetNavigation(NavigationSelectedConversation)
}
