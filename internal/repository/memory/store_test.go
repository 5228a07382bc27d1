package memory_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leolani/chatui/internal/domain"
	"github.com/leolani/chatui/internal/repository/memory"
)

func utt(chatID, id string, ts int64, text string) domain.Utterance {
	return domain.Utterance{ChatID: chatID, ID: id, Timestamp: ts, Speaker: "bob", Text: text}
}

func TestAppendAssignsContiguousSequences(t *testing.T) {
	store := memory.NewStore()
	chatID, isNew, _ := store.CurrentChat(true, false)
	require.True(t, isNew)

	for i := 0; i < 5; i++ {
		err := store.Append([]domain.Utterance{utt(chatID, fmt.Sprintf("u%d", i), int64(i), "hi")}, true)
		require.NoError(t, err)
	}

	utterances, err := store.GetUtterances(chatID, 0)
	require.NoError(t, err)
	require.Len(t, utterances, 5)
	for i, u := range utterances {
		assert.Equal(t, i, u.Sequence)
		assert.Equal(t, fmt.Sprintf("u%d", i), u.ID)
	}
}

func TestAppendSkipsDuplicateIDs(t *testing.T) {
	store := memory.NewStore()
	chatID, _, _ := store.CurrentChat(true, false)

	require.NoError(t, store.Append([]domain.Utterance{utt(chatID, "u1", 1, "first")}, true))
	require.NoError(t, store.Append([]domain.Utterance{utt(chatID, "u1", 2, "replay")}, true))

	utterances, err := store.GetUtterances(chatID, 0)
	require.NoError(t, err)
	require.Len(t, utterances, 1)
	assert.Equal(t, "first", utterances[0].Text)
	assert.Equal(t, 0, utterances[0].Sequence)
}

func TestAppendConcurrentDuplicates(t *testing.T) {
	store := memory.NewStore()
	chatID, _, _ := store.CurrentChat(true, false)

	const ids = 10
	const writers = 8

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < ids; i++ {
				_ = store.Append([]domain.Utterance{utt(chatID, fmt.Sprintf("u%d", i), int64(i), "hi")}, true)
			}
		}()
	}
	wg.Wait()

	utterances, err := store.GetUtterances(chatID, 0)
	require.NoError(t, err)
	require.Len(t, utterances, ids)

	seen := make(map[string]bool)
	for i, u := range utterances {
		assert.Equal(t, i, u.Sequence)
		assert.False(t, seen[u.ID], "id %s stored twice", u.ID)
		seen[u.ID] = true
	}
}

func TestAppendRejectsForeignChat(t *testing.T) {
	store := memory.NewStore()
	_, _, _ = store.CurrentChat(true, false)

	err := store.Append([]domain.Utterance{utt("other-chat", "u1", 1, "hi")}, true)
	assert.ErrorIs(t, err, domain.ErrChatMismatch)
}

func TestAppendWithoutActiveChat(t *testing.T) {
	store := memory.NewStore()

	err := store.Append([]domain.Utterance{utt("nope", "u1", 1, "hi")}, true)
	assert.ErrorIs(t, err, domain.ErrChatMismatch)
}

func TestAppendMovesLastModifiedForward(t *testing.T) {
	store := memory.NewStore()
	chatID, _, _ := store.CurrentChat(true, false)

	require.NoError(t, store.Append([]domain.Utterance{utt(chatID, "u1", 5000, "hi")}, true))
	_, _, lastModified := store.CurrentChat(false, false)
	assert.Equal(t, int64(5000), lastModified)

	// Older timestamps never move it backwards.
	require.NoError(t, store.Append([]domain.Utterance{utt(chatID, "u2", 1000, "hi")}, true))
	_, _, lastModified = store.CurrentChat(false, false)
	assert.Equal(t, int64(5000), lastModified)

	// modifyTimestamp=false leaves it alone.
	require.NoError(t, store.Append([]domain.Utterance{utt(chatID, "u3", 9000, "hi")}, false))
	_, _, lastModified = store.CurrentChat(false, false)
	assert.Equal(t, int64(5000), lastModified)
}

func TestGetUtterancesFromSequence(t *testing.T) {
	store := memory.NewStore()
	chatID, _, _ := store.CurrentChat(true, false)

	for i := 0; i < 6; i++ {
		require.NoError(t, store.Append([]domain.Utterance{utt(chatID, fmt.Sprintf("u%d", i), int64(i), "hi")}, true))
	}

	tail, err := store.GetUtterances(chatID, 4)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, 4, tail[0].Sequence)
	assert.Equal(t, 5, tail[1].Sequence)

	empty, err := store.GetUtterances(chatID, 100)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestGetUtterancesUnknownChat(t *testing.T) {
	store := memory.NewStore()

	_, err := store.GetUtterances("never-created", 0)
	assert.ErrorIs(t, err, domain.ErrUnknownChat)
}

func TestCurrentChatCreatesOnce(t *testing.T) {
	store := memory.NewStore()

	chatID, _, _ := store.CurrentChat(false, false)
	assert.Empty(t, chatID)

	first, isNew, lastModified := store.CurrentChat(true, false)
	require.True(t, isNew)
	assert.NotEmpty(t, first)
	assert.Zero(t, lastModified)

	for i := 0; i < 3; i++ {
		again, isNew, _ := store.CurrentChat(true, false)
		assert.Equal(t, first, again)
		assert.False(t, isNew)
	}
}

func TestCurrentChatBumpReturnsPreviousValue(t *testing.T) {
	now := time.UnixMilli(50_000)
	store := memory.NewStore(memory.WithClock(func() time.Time { return now }))

	chatID, _, _ := store.CurrentChat(true, false)
	require.NoError(t, store.Append([]domain.Utterance{utt(chatID, "u1", 10_000, "hi")}, true))

	_, _, before := store.CurrentChat(false, true)
	assert.Equal(t, int64(10_000), before)

	_, _, after := store.CurrentChat(false, false)
	assert.Equal(t, int64(50_000), after)
}

func TestStopChatRetainsLedger(t *testing.T) {
	store := memory.NewStore()
	chatID, _, _ := store.CurrentChat(true, false)
	require.NoError(t, store.Append([]domain.Utterance{utt(chatID, "u1", 1, "hi")}, true))

	store.StopChat()

	current, _, _ := store.CurrentChat(false, false)
	assert.Empty(t, current)

	// The old ledger stays readable by id.
	utterances, err := store.GetUtterances(chatID, 0)
	require.NoError(t, err)
	assert.Len(t, utterances, 1)

	// A new chat gets a fresh id.
	next, isNew, _ := store.CurrentChat(true, false)
	assert.True(t, isNew)
	assert.NotEqual(t, chatID, next)
}
