package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutorchat/models"
)

type markerFunc func(ctx context.Context, ids []string) error

func (f markerFunc) MarkRead(ctx context.Context, ids []string) error { return f(ctx, ids) }

func TestScanSelectsOnlyConfirmableMessages(t *testing.T) {
	tracker := NewReadTracker(markerFunc(func(context.Context, []string) error { return nil }))
	messages := []models.Message{
		{ID: "1", Sender: tutor},
		{ID: "2", Sender: tutor, IsRead: true},
		{ID: "3", Sender: me},
		{ID: "local-1", Sender: tutor, Provisional: true},
		{ID: "4", Sender: models.Participant{Email: "grace@example.com"}},
	}

	assert.Equal(t, []string{"1", "4"}, tracker.Scan(messages, me))

	tracker.Begin([]string{"1"})
	assert.Equal(t, []string{"4"}, tracker.Scan(messages, me))
	tracker.End([]string{"1"})
	assert.Equal(t, []string{"1", "4"}, tracker.Scan(messages, me))
}

func TestApplyReadIsIdempotent(t *testing.T) {
	messages := []models.Message{
		{ID: "1", Sender: tutor},
		{ID: "2", Sender: tutor},
		{ID: "3", Sender: tutor, IsRead: true},
	}

	assert.Equal(t, 2, ApplyRead(messages, []string{"1", "2", "3"}))
	first := append([]models.Message(nil), messages...)

	assert.Equal(t, 0, ApplyRead(messages, []string{"1", "2", "3"}))
	assert.Equal(t, first, messages)
}

func TestCommitWrapsMarkerErrors(t *testing.T) {
	boom := errors.New("boom")
	var got []string
	tracker := NewReadTracker(markerFunc(func(_ context.Context, ids []string) error {
		got = ids
		return boom
	}))

	err := tracker.Commit(context.Background(), []string{"1", "2"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"1", "2"}, got)

	assert.NoError(t, tracker.Commit(context.Background(), nil))
}
