package cmd

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutorchat/chat"
	"tutorchat/config"
	"tutorchat/metrics"
	"tutorchat/models"
	"tutorchat/network"
)

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func testToken(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "1",
		"email":   "me@example.com",
		"name":    "Me",
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestVersionCommand(t *testing.T) {
	out, err := runRoot(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "tutorchat "+Version+"\n", out)
}

func TestConversationsCommandListsSummaries(t *testing.T) {
	token := testToken(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `[
			{"participant_id": 3, "name": "Grace Hopper", "email": "grace@example.com", "unread_count": 2, "last_message": "see you"},
			{"participant_id": 4, "name": "Alan Turing", "email": "alan@tutors.org"}
		]`)
	}))
	defer server.Close()

	t.Setenv(config.EnvDataDir, t.TempDir())
	t.Setenv(config.EnvAPIBase, server.URL)
	t.Setenv(config.EnvToken, token)

	out, err := runRoot(t, "conversations", "--search", "GRACE")
	require.NoError(t, err)
	assert.Contains(t, out, "Grace Hopper")
	assert.Contains(t, out, "see you")
	assert.NotContains(t, out, "Alan Turing")
}

func TestConversationsCommandRequiresToken(t *testing.T) {
	t.Setenv(config.EnvDataDir, t.TempDir())
	t.Setenv(config.EnvAPIBase, "http://127.0.0.1:1")
	t.Setenv(config.EnvToken, "")

	_, err := runRoot(t, "conversations")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signed-in user")
}

func TestChatCommandWithoutSelectionFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	}))
	defer server.Close()

	t.Setenv(config.EnvDataDir, t.TempDir())
	t.Setenv(config.EnvAPIBase, server.URL)
	t.Setenv(config.EnvToken, testToken(t))

	_, err := runRoot(t, "chat")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conversation to restore")
}

func TestParseInput(t *testing.T) {
	cases := []struct {
		line string
		want chatInput
	}{
		{"hello there", chatInput{arg: "hello there"}},
		{"/attach  notes.pdf ", chatInput{command: "attach", arg: "notes.pdf"}},
		{"/SEND today's board", chatInput{command: "send", arg: "today's board"}},
		{"/quit", chatInput{command: "quit"}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, parseInput(tc.line), tc.line)
	}
}

func TestTranscriptPrintsEachMessageOnce(t *testing.T) {
	var out bytes.Buffer
	me := models.Participant{ID: "1", Email: "me@example.com"}
	tr := newTranscript(&out, me)

	conv := models.Conversation{ParticipantID: "3", DisplayName: "Grace"}
	first := models.Message{ID: "1", Text: "hi", SentAt: time.Now(), Sender: models.Participant{ID: "3", Name: "Grace"}}
	second := models.Message{ID: "local-1", Text: "hello", SentAt: time.Now(), Sender: me}

	tr.Render(chat.Snapshot{Conversation: conv, Active: true, State: network.StateConnected, Messages: []models.Message{first}})
	tr.Render(chat.Snapshot{Conversation: conv, Active: true, State: network.StateConnected, Messages: []models.Message{first, second}})

	text := out.String()
	assert.Equal(t, 1, strings.Count(text, "== Grace =="))
	assert.Equal(t, 1, strings.Count(text, "-- connected --"))
	assert.Equal(t, 1, strings.Count(text, "Grace: hi"))
	assert.Equal(t, 1, strings.Count(text, "you: hello"))

	tr.Notify(chat.Notice{Kind: chat.NoticeTransport, Message: "message not sent", Err: network.ErrNotConnected})
	assert.Contains(t, out.String(), "! message not sent: "+network.ErrNotConnected.Error())
}

func TestMetricsRouter(t *testing.T) {
	metrics.RecordSent("text")
	router := metricsRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tutorchat_messages_sent_total")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
