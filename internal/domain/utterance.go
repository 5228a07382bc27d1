package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnknownChat is returned when a chat id was never created or is not
	// the currently active chat.
	ErrUnknownChat = errors.New("unknown chat")

	// ErrChatMismatch is returned when an utterance targets a chat other than
	// the active one.
	ErrChatMismatch = errors.New("chat id mismatch")

	// ErrNoScenario is returned when no scenario is mapped to a chat.
	ErrNoScenario = errors.New("no scenario for chat")
)

// Utterance is one attributed text turn within a chat. Sequence is assigned by
// the store; ID is the global deduplication key.
type Utterance struct {
	ChatID    string `json:"chat_id"`
	Sequence  int    `json:"sequence"`
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
}

// NewUtterance builds an utterance with a fresh id for the given chat.
func NewUtterance(chatID, speaker, text string, timestamp int64) Utterance {
	return Utterance{
		ChatID:    chatID,
		ID:        uuid.NewString(),
		Timestamp: timestamp,
		Speaker:   speaker,
		Text:      text,
	}
}

// TimestampNow returns the current time as epoch milliseconds, the unit used
// for utterance timestamps throughout.
func TimestampNow() int64 {
	return time.Now().UnixMilli()
}

// UtteranceStore is an in-memory ledger of utterances keyed by chat, tracking
// the single currently active chat. Implementations must make every call
// atomic with respect to concurrent callers.
type UtteranceStore interface {
	// Append admits each utterance whose id has not been seen before,
	// assigning the next sequence number in the active chat. Already seen ids
	// are skipped silently. Fails with ErrChatMismatch when an utterance
	// targets a chat other than the active one. When modifyTimestamp is set,
	// the active chat's last-modified moves forward to the utterance
	// timestamp.
	Append(utterances []Utterance, modifyTimestamp bool) error

	// GetUtterances returns the ordered tail of utterances with
	// sequence >= fromSequence, or ErrUnknownChat if the chat was never
	// created.
	GetUtterances(chatID string, fromSequence int) ([]Utterance, error)

	// CurrentChat returns the active chat id, lazily creating one when create
	// is set and none is active. lastModified is the epoch-millisecond value
	// before any bump; zero means no human has claimed the chat yet. When
	// bump is set, last-modified moves forward to now.
	CurrentChat(create, bump bool) (chatID string, isNew bool, lastModified int64)

	// StopChat clears the active chat pointer and its last-modified value.
	// Ledger entries for the chat are retained.
	StopChat()
}
