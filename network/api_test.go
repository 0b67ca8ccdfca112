package network

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T, handler http.HandlerFunc) *APIClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	logger, _ := test.NewNullLogger()
	return NewAPIClient(APIOptions{
		BaseURL: server.URL,
		Token:   "secret",
		Logger:  logger,
		Now:     func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) },
	})
}

func TestListConversations(t *testing.T) {
	client := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, conversationsPath, r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `[
			{"user_id": 3, "name": "Grace", "email": "grace@example.com", "last_message": "see you", "last_message_time": "2024-05-02T09:00:00Z", "unread_count": 3},
			{"user_id": 4, "name": "Alan", "email": "alan@example.com", "last_message": {"message": "ok"}, "unread_count": -2},
			{"name": "ghost"}
		]`)
	})

	conversations, err := client.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, conversations, 2)

	assert.Equal(t, "3", conversations[0].ParticipantID)
	assert.Equal(t, "Grace", conversations[0].DisplayName)
	assert.Equal(t, 3, conversations[0].UnreadCount)
	assert.Equal(t, "see you", conversations[0].LastMessageText)
	assert.Equal(t, "ok", conversations[1].LastMessageText)
	assert.Equal(t, 0, conversations[1].UnreadCount)
}

func TestFetchHistoryFollowsPagesInOrder(t *testing.T) {
	var mu sync.Mutex
	pages := []string{}
	client := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, messagesPath+"3/", r.URL.Path)
		page := r.URL.Query().Get("page")
		mu.Lock()
		pages = append(pages, page)
		mu.Unlock()

		switch page {
		case "1":
			_, _ = io.WriteString(w, `{"next": "http://x/?page=2", "results": [
				{"id": 3, "message": "third", "sent_at": "2024-05-01T10:03:00Z", "sender_email": "grace@example.com", "is_read": false},
				{"id": 2, "message": "second", "sent_at": "2024-05-01T10:02:00Z", "sender_email": "me@example.com", "is_read": true}
			]}`)
		case "2":
			_, _ = io.WriteString(w, `{"next": null, "results": [
				{"id": 1, "message": "first", "sent_at": "2024-05-01T10:01:00Z", "sender_email": "grace@example.com", "is_read": true}
			]}`)
		default:
			http.NotFound(w, r)
		}
	})

	messages, err := client.FetchHistory(context.Background(), "3")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, []string{"1", "2", "3"}, []string{messages[0].ID, messages[1].ID, messages[2].ID})
	assert.False(t, messages[2].IsRead)
	assert.Equal(t, []string{"1", "2"}, pages)
}

func TestFetchHistoryStopsAtPageLimit(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_, _ = io.WriteString(w, `{"next": "more", "results": [{"id": 1, "message": "x"}]}`)
	}))
	defer server.Close()

	logger, _ := test.NewNullLogger()
	client := NewAPIClient(APIOptions{BaseURL: server.URL, PageLimit: 2, Logger: logger})
	messages, err := client.FetchHistory(context.Background(), "3")
	require.NoError(t, err)
	assert.Len(t, messages, 2)
	assert.Equal(t, 2, calls)
}

func TestMarkReadPostsIDs(t *testing.T) {
	var body map[string]any
	client := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, markReadPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, client.MarkRead(context.Background(), []string{"12", "abc"}))
	assert.Equal(t, []any{float64(12), "abc"}, body["message_ids"])

	require.NoError(t, client.MarkRead(context.Background(), nil))
}

func TestAPIErrorsAreTyped(t *testing.T) {
	client := newTestAPI(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"detail":"expired"}`, http.StatusUnauthorized)
	})

	err := client.MarkRead(context.Background(), []string{"1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Contains(t, apiErr.Body, "expired")
}

func TestRequestsCarryClientID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "install-7", r.Header.Get(ClientIDHeader))
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	logger, _ := test.NewNullLogger()
	client := NewAPIClient(APIOptions{BaseURL: server.URL, Token: "secret", ClientID: "install-7", Logger: logger})

	_, err := client.ListConversations(context.Background())
	require.NoError(t, err)
}
