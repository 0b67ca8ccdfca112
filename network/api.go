package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"tutorchat/config"
	"tutorchat/models"
)

const (
	conversationsPath = "/api/chat/conversations/"
	messagesPath      = "/api/chat/messages/"
	markReadPath      = "/api/chat/messages/mark-read/"

	// DefaultRequestTimeout bounds one REST call.
	DefaultRequestTimeout = 20 * time.Second

	maxErrorBody = 4 * 1024
)

// ErrUnauthorized indicates the bearer token was rejected.
var ErrUnauthorized = errors.New("network: unauthorized")

// APIError is a non-2xx REST response.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && (e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden)
}

// ClientIDHeader carries the persistent client id on every REST call.
const ClientIDHeader = "X-Client-ID"

// APIOptions configures APIClient.
type APIOptions struct {
	BaseURL string
	Token   string
	// ClientID identifies this installation to the server in ClientIDHeader.
	ClientID   string
	HTTPClient *http.Client
	// PageLimit bounds how many history pages one fetch follows.
	PageLimit int
	Logger    logrus.FieldLogger
	Now       func() time.Time
}

func (o APIOptions) withDefaults() APIOptions {
	o.BaseURL = strings.TrimRight(strings.TrimSpace(o.BaseURL), "/")
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	if o.PageLimit <= 0 {
		o.PageLimit = config.DefaultHistoryPageLimit
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// APIClient calls the chat REST endpoints.
type APIClient struct {
	opts APIOptions
}

// NewAPIClient constructs a client.
func NewAPIClient(opts APIOptions) *APIClient {
	return &APIClient{opts: opts.withDefaults()}
}

// BaseURL returns the API base used to resolve attachment references.
func (c *APIClient) BaseURL() string {
	return c.opts.BaseURL
}

// ListConversations returns the conversation summaries for the local user.
func (c *APIClient) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	body, err := c.do(ctx, http.MethodGet, c.opts.BaseURL+conversationsPath, nil)
	if err != nil {
		return nil, err
	}

	items := results(gjson.ParseBytes(body))
	conversations := make([]models.Conversation, 0, len(items))
	for _, item := range items {
		conv := models.Conversation{
			ParticipantID:   firstOf(item, "participant_id", "user_id", "id", "participant.id").String(),
			DisplayName:     firstOf(item, "name", "display_name", "full_name", "participant.name").String(),
			Email:           firstOf(item, "email", "participant.email").String(),
			LastMessageText: firstOf(item, "last_message", "last_message.message").String(),
			LastMessageTime: parseTimestamp(firstOf(item, "last_message_time", "last_message.sent_at", "updated_at")),
			UnreadCount:     int(firstOf(item, "unread_count", "unread").Int()),
		}
		if last := item.Get("last_message"); last.IsObject() {
			conv.LastMessageText = last.Get("message").String()
		}
		if conv.ParticipantID == "" {
			c.opts.Logger.WithField("item", item.Raw).Debug("skipping conversation without participant id")
			continue
		}
		if conv.UnreadCount < 0 {
			conv.UnreadCount = 0
		}
		conversations = append(conversations, conv)
	}

	return conversations, nil
}

// FetchHistory returns the conversation transcript with participantID in
// chronological order, following up to PageLimit pages.
func (c *APIClient) FetchHistory(ctx context.Context, participantID string) ([]models.Message, error) {
	if strings.TrimSpace(participantID) == "" {
		return nil, ErrMissingTarget
	}

	now := c.opts.Now().UTC()
	messages := make([]models.Message, 0)
	for page := 1; page <= c.opts.PageLimit; page++ {
		endpoint := c.opts.BaseURL + messagesPath + url.PathEscape(participantID) + "/?page=" + strconv.Itoa(page)
		body, err := c.do(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			var apiErr *APIError
			// Paginators answer 404 for a page past the end.
			if page > 1 && errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
				break
			}
			return nil, err
		}

		root := gjson.ParseBytes(body)
		for _, item := range results(root) {
			messages = append(messages, eventFromJSON(item).ToMessage(c.opts.BaseURL, now))
		}

		next := root.Get("next")
		if !next.Exists() || next.Type == gjson.Null || next.String() == "" {
			break
		}
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].SentAt.Before(messages[j].SentAt)
	})
	return messages, nil
}

// MarkRead confirms ids as read on the server.
func (c *APIClient) MarkRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	payload, err := json.Marshal(struct {
		MessageIDs []any `json:"message_ids"`
	}{MessageIDs: wireIDs(ids)})
	if err != nil {
		return fmt.Errorf("marshal mark-read request: %w", err)
	}

	_, err = c.do(ctx, http.MethodPost, c.opts.BaseURL+markReadPath, payload)
	return err
}

// wireIDs sends numeric ids as JSON numbers and everything else as strings.
func wireIDs(ids []string) []any {
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			out = append(out, n)
			continue
		}
		out = append(out, id)
	}
	return out
}

func (c *APIClient) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	if c.opts.ClientID != "" {
		req.Header.Set(ClientIDHeader, c.opts.ClientID)
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s %s response: %w", method, req.URL.Path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(raw) > maxErrorBody {
			raw = raw[:maxErrorBody]
		}
		apiErr := &APIError{
			Method: method,
			Path:   req.URL.Path,
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(raw)),
		}
		c.opts.Logger.WithFields(logrus.Fields{
			"method": method,
			"path":   req.URL.Path,
			"status": resp.StatusCode,
		}).Warn("chat api request failed")
		return nil, apiErr
	}

	if len(raw) > 0 && !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%s %s: invalid JSON response", method, req.URL.Path)
	}
	return raw, nil
}

// results accepts either a bare array or a paginated {"results": [...]} body.
func results(root gjson.Result) []gjson.Result {
	if root.IsArray() {
		return root.Array()
	}
	for _, key := range []string{"results", "data", "messages", "conversations"} {
		if list := root.Get(key); list.IsArray() {
			return list.Array()
		}
	}
	return nil
}
