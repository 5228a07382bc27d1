// Package memory provides the in-memory utterance ledger backing the chat
// relay. Nothing is persisted; ledgers live until process end.
package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leolani/chatui/internal/domain"
)

// Store is an in-memory domain.UtteranceStore. One mutex serializes all
// operations; critical sections are O(1) map and slice work only.
type Store struct {
	mu           sync.Mutex
	ledgers      map[string][]domain.Utterance
	seen         map[string]struct{}
	current      string
	lastModified int64
	now          func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for last-modified bumps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates an empty store with no active chat.
func NewStore(opts ...Option) *Store {
	s := &Store{
		ledgers: make(map[string][]domain.Utterance),
		seen:    make(map[string]struct{}),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append implements domain.UtteranceStore. Utterances with an already seen id
// are skipped without consuming a sequence number.
func (s *Store) Append(utterances []domain.Utterance, modifyTimestamp bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range utterances {
		if _, ok := s.seen[u.ID]; ok {
			continue
		}
		if s.current == "" || u.ChatID != s.current {
			return fmt.Errorf("%w: utterance %s targets chat %q, active chat %q",
				domain.ErrChatMismatch, u.ID, u.ChatID, s.current)
		}

		u.Sequence = len(s.ledgers[u.ChatID])
		s.ledgers[u.ChatID] = append(s.ledgers[u.ChatID], u)
		s.seen[u.ID] = struct{}{}

		if modifyTimestamp && u.Timestamp > s.lastModified {
			s.lastModified = u.Timestamp
		}
	}

	return nil
}

// GetUtterances implements domain.UtteranceStore.
func (s *Store) GetUtterances(chatID string, fromSequence int) ([]domain.Utterance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger, ok := s.ledgers[chatID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownChat, chatID)
	}
	if fromSequence < 0 {
		fromSequence = 0
	}
	if fromSequence >= len(ledger) {
		return []domain.Utterance{}, nil
	}

	tail := make([]domain.Utterance, len(ledger)-fromSequence)
	copy(tail, ledger[fromSequence:])

	return tail, nil
}

// CurrentChat implements domain.UtteranceStore. The returned lastModified is
// the value before any bump.
func (s *Store) CurrentChat(create, bump bool) (string, bool, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == "" {
		if !create {
			return "", false, 0
		}
		s.current = uuid.NewString()
		s.ledgers[s.current] = []domain.Utterance{}
		s.lastModified = 0
		return s.current, true, 0
	}

	before := s.lastModified
	if bump {
		if now := s.now().UnixMilli(); now > s.lastModified {
			s.lastModified = now
		}
	}

	return s.current, false, before
}

// StopChat implements domain.UtteranceStore.
func (s *Store) StopChat() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = ""
	s.lastModified = 0
}
