package chat

import (
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutorchat/auth"
	"tutorchat/models"
)

var (
	me    = models.Participant{ID: "1", Name: "Me", Email: "me@example.com"}
	tutor = models.Participant{ID: "3", Name: "Grace", Email: "grace@example.com"}
)

func TestAppendOptimisticAssignsProvisionalIDs(t *testing.T) {
	r := NewReconciler(me, EchoDiscard)

	first := r.AppendOptimistic(models.Message{Text: "a", IsRead: true})
	second := r.AppendOptimistic(models.Message{Text: "b"})

	assert.Equal(t, "local-1", first.ID)
	assert.Equal(t, "local-2", second.ID)
	assert.True(t, first.Provisional)
	assert.False(t, first.IsRead)
	assert.Equal(t, me, first.Sender)

	r.Reset()
	third := r.AppendOptimistic(models.Message{Text: "c"})
	assert.Equal(t, "local-3", third.ID, "provisional ids are not reused after reset")
}

func TestSelfEchoNeverDuplicates(t *testing.T) {
	r := NewReconciler(me, EchoDiscard)

	const n = 5
	for i := 0; i < n; i++ {
		text := fmt.Sprintf("msg %d", i)
		r.AppendOptimistic(models.Message{Text: text})
		_, result := r.MergeInbound(models.Message{ID: fmt.Sprint(100 + i), Text: text, Sender: models.Participant{Email: "ME@example.com"}})
		assert.Equal(t, MergeDiscardedEcho, result)
	}

	require.Equal(t, n, r.Len())
	for _, msg := range r.Messages() {
		assert.True(t, msg.Provisional)
	}
}

func TestSelfEchoDiscardedForSubjectOnlyToken(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "42"}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = auth.LocalUser(token)
	require.ErrorIs(t, err, auth.ErrMissingEmail, "an id-only identity cannot recognize its own echoes")

	local, err := auth.ResolveLocalUser(token, "me@example.com")
	require.NoError(t, err)

	r := NewReconciler(local, EchoDiscard)
	r.AppendOptimistic(models.Message{Text: "hello"})
	_, result := r.MergeInbound(models.Message{ID: "99", Text: "hello", Sender: models.Participant{Name: "Me", Email: "me@example.com"}})

	assert.Equal(t, MergeDiscardedEcho, result)
	assert.Equal(t, 1, r.Len())
}

func TestMergeInboundAppendsInArrivalOrder(t *testing.T) {
	r := NewReconciler(me, EchoDiscard)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	r.MergeInbound(models.Message{ID: "2", Text: "later", SentAt: base.Add(time.Minute), Sender: tutor})
	r.MergeInbound(models.Message{ID: "1", Text: "earlier", SentAt: base, Sender: tutor})

	messages := r.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "later", messages[0].Text, "display order is insertion order")
	assert.Equal(t, "earlier", messages[1].Text)
}

func TestMergeInboundDropsDuplicateServerIDs(t *testing.T) {
	r := NewReconciler(me, EchoDiscard)

	_, result := r.MergeInbound(models.Message{ID: "7", Text: "hi", Sender: tutor})
	assert.Equal(t, MergeAppended, result)
	_, result = r.MergeInbound(models.Message{ID: "7", Text: "hi", Sender: tutor})
	assert.Equal(t, MergeDiscardedDupeID, result)

	merged, result := r.MergeInbound(models.Message{Text: "no id", Sender: tutor})
	assert.Equal(t, MergeAppended, result)
	assert.True(t, merged.Provisional)
	assert.Equal(t, 2, r.Len())
}

func TestLoadPlacesHistoryFirst(t *testing.T) {
	r := NewReconciler(me, EchoDiscard)
	r.MergeInbound(models.Message{ID: "3", Text: "live", Sender: tutor})

	r.Load([]models.Message{
		{ID: "1", Text: "old", Sender: tutor},
		{ID: "3", Text: "live", Sender: tutor},
		{ID: "2", Text: "older reply", Sender: me},
	})

	messages := r.Messages()
	require.Len(t, messages, 3)
	assert.Equal(t, []string{"1", "3", "2"}, []string{messages[0].ID, messages[1].ID, messages[2].ID})
}

func TestEchoConfirmAdoptsServerID(t *testing.T) {
	r := NewReconciler(me, EchoConfirm)
	optimistic := r.AppendOptimistic(models.Message{Text: "hello"})

	confirmed, result := r.MergeInbound(models.Message{ID: "99", Text: "hello", Sender: me})
	assert.Equal(t, MergeConfirmed, result)
	assert.Equal(t, "99", confirmed.ID)
	assert.False(t, confirmed.Provisional)
	assert.NotEqual(t, optimistic.ID, confirmed.ID)

	_, result = r.MergeInbound(models.Message{ID: "100", Text: "from my phone", Sender: me})
	assert.Equal(t, MergeAppended, result)
	assert.Equal(t, 2, r.Len())
}
