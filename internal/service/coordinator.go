package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/leolani/chatui/internal/config"
	"github.com/leolani/chatui/internal/domain"
	"github.com/leolani/chatui/internal/eventbus"
)

// identity is the cached attribution pair. It is replaced as a whole, never
// mutated in place.
type identity struct {
	Agent   string
	Speaker string
}

// ChatHandle is the outcome of one current-chat poll. RemainingSeconds is
// only meaningful when the poll was rejected; it may be zero or negative once
// the session has expired.
type ChatHandle struct {
	ID               string
	Agent            string
	Accepted         bool
	RemainingSeconds int
}

// Coordinator owns the chat session lifecycle: chat/scenario correlation,
// cookie acceptance, lazy timeout expiry, and translation between bus events
// and store mutations. HTTP handler goroutines and the single event-consumer
// goroutine both call into it; shared state is either behind the store's lock
// or swapped atomically as immutable snapshots.
type Coordinator struct {
	store   domain.UtteranceStore
	bus     domain.Publisher
	locator *Locator
	logger  zerolog.Logger

	externalInput bool
	timeout       time.Duration
	topics        config.EventsConfig

	defaults  identity
	ident     atomic.Pointer[identity]
	scenarios atomic.Pointer[map[string]string]
	writeMu   sync.Mutex

	handlers map[string]func(context.Context, eventbus.Event) error
	now      func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source used for timeout evaluation.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// NewCoordinator creates a coordinator wired to the given store and bus.
func NewCoordinator(cfg *config.Config, store domain.UtteranceStore, bus domain.Publisher,
	locator *Locator, logger zerolog.Logger, opts ...Option) *Coordinator {

	c := &Coordinator{
		store:         store,
		bus:           bus,
		locator:       locator,
		logger:        logger,
		externalInput: cfg.Chat.ExternalInput,
		timeout:       cfg.Chat.Timeout(),
		topics:        cfg.Events,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.defaults = identity{Agent: cfg.Chat.Agent, Speaker: cfg.Chat.Speaker}
	initial := c.defaults
	c.ident.Store(&initial)
	empty := map[string]string{}
	c.scenarios.Store(&empty)

	c.handlers = map[string]func(context.Context, eventbus.Event) error{
		c.topics.TopicUtterance: c.handleUtterance,
	}
	if c.topics.TopicScenario != "" {
		c.handlers[c.topics.TopicScenario] = c.handleScenario
	}
	for _, topic := range c.topics.TopicsResponse {
		c.handlers[topic] = c.handleResponse
	}

	return c
}

// Topics lists the inbound topics the coordinator consumes.
func (c *Coordinator) Topics() []string {
	topics := make([]string, 0, len(c.handlers))
	for topic := range c.handlers {
		topics = append(topics, topic)
	}
	return topics
}

// CookieMode reports whether session cookies and timeout expiry are active.
func (c *Coordinator) CookieMode() bool {
	return c.timeout > 0
}

// ExternalInput reports whether utterance reads default to all speakers
// instead of agent responses only.
func (c *Coordinator) ExternalInput() bool {
	return c.externalInput
}

// AgentName returns the cached agent identity.
func (c *Coordinator) AgentName() string {
	return c.ident.Load().Agent
}

// CanTerminate reports whether the terminate endpoint is operational.
func (c *Coordinator) CanTerminate() bool {
	return c.CookieMode() && c.topics.TopicDesire != ""
}

// CurrentChat runs the cookie/timeout poll protocol. expectedID is the chat
// id carried by the request cookie, empty when none was sent.
//
// With cookie mode disabled every poll creates or reuses the chat and is
// accepted unconditionally. Otherwise a poll is accepted when it created the
// chat itself, when no human has claimed the chat yet, or when the cookie
// matches and the timeout window has not elapsed. An expired session is
// evicted as a side effect, whoever polled.
func (c *Coordinator) CurrentChat(ctx context.Context, expectedID string) ChatHandle {
	if !c.CookieMode() {
		chatID, isNew, _ := c.store.CurrentChat(true, false)
		if isNew {
			c.logger.Info().Str("chat_id", chatID).Msg("chat created by poll")
		}
		return ChatHandle{ID: chatID, Agent: c.AgentName(), Accepted: true}
	}

	chatID, isNew, lastModified := c.store.CurrentChat(true, false)

	var (
		accepted  bool
		expired   bool
		remaining time.Duration
	)
	switch {
	case isNew:
		c.logger.Info().Str("chat_id", chatID).Msg("chat created by poll")
		accepted = true
	case lastModified == 0:
		// Created by the agent side, not yet claimed by a human.
		accepted = true
	default:
		elapsed := time.Duration(c.now().UnixMilli()-lastModified) * time.Millisecond
		remaining = c.timeout - elapsed
		accepted = expectedID == chatID && remaining > 0
		expired = remaining < 0
	}

	if accepted {
		c.store.CurrentChat(false, true)
	}
	if expired && c.topics.TopicDesire != "" {
		c.evictExpired(ctx, chatID)
	}

	if !accepted {
		return ChatHandle{Accepted: false, RemainingSeconds: ceilSeconds(remaining)}
	}
	return ChatHandle{ID: chatID, Agent: c.AgentName(), Accepted: true}
}

// GetUtterances returns the utterances of the active chat from the given
// sequence on, optionally filtered to one speaker. Reading a chat other than
// the active one fails with ErrUnknownChat.
func (c *Coordinator) GetUtterances(chatID string, fromSequence int, speaker string) ([]domain.Utterance, error) {
	current, _, _ := c.store.CurrentChat(false, false)
	if current != chatID {
		return nil, fmt.Errorf("%w: %s is not the active chat", domain.ErrUnknownChat, chatID)
	}

	utterances, err := c.store.GetUtterances(chatID, fromSequence)
	if err != nil {
		return nil, err
	}
	if speaker == "" {
		return utterances, nil
	}

	filtered := make([]domain.Utterance, 0, len(utterances))
	for _, u := range utterances {
		if u.Speaker == speaker {
			filtered = append(filtered, u)
		}
	}
	return filtered, nil
}

// PostUtterance stores a human turn and relays it to the agent side. The
// utterance is stored even when the relay fails; the caller still gets the
// new utterance id.
func (c *Coordinator) PostUtterance(ctx context.Context, chatID, speaker, text string) (string, error) {
	u := domain.NewUtterance(chatID, speaker, text, c.now().UnixMilli())

	if err := c.store.Append([]domain.Utterance{u}, true); err != nil {
		return "", err
	}

	if err := c.publishSignal(ctx, u); err != nil {
		c.logger.Error().Err(err).
			Str("chat_id", chatID).
			Str("utterance_id", u.ID).
			Msg("outbound signal dropped")
	}

	return u.ID, nil
}

// Terminate ends the current session on behalf of the human: it asks the
// agent side to quit, stops the scenario and clears the chat.
func (c *Coordinator) Terminate(ctx context.Context) {
	chatID, _, _ := c.store.CurrentChat(false, false)

	if err := c.bus.Publish(ctx, c.topics.TopicDesire, domain.DesireEvent{Desire: domain.DesireQuit}); err != nil {
		c.logger.Error().Err(err).Msg("failed to publish quit desire")
	}

	if chatID == "" {
		return
	}
	c.stopScenarioForChat(ctx, chatID)
	c.store.StopChat()
	c.logger.Info().Str("chat_id", chatID).Msg("chat terminated by user")
}

// Process handles one inbound bus event. It is called by the single topic
// worker goroutine; failures are isolated per event.
func (c *Coordinator) Process(ev eventbus.Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Str("topic", ev.Topic).Msg("panic while processing event")
		}
	}()

	handle, ok := c.handlers[ev.Topic]
	if !ok {
		c.logger.Debug().Str("topic", ev.Topic).Msg("event on unhandled topic")
		return
	}

	if err := handle(context.Background(), ev); err != nil {
		c.logger.Error().Err(err).Str("topic", ev.Topic).Msg("failed to process event")
	}
}

func (c *Coordinator) handleUtterance(ctx context.Context, ev eventbus.Event) error {
	var sig domain.TextSignal
	if err := json.Unmarshal(ev.Payload, &sig); err != nil {
		return fmt.Errorf("failed to decode text signal: %w", err)
	}
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}

	chatID, isNew, _ := c.store.CurrentChat(true, false)
	if isNew {
		c.logger.Info().Str("chat_id", chatID).Msg("chat created by inbound utterance")
		c.startScenarioForChat(ctx, chatID)
	}

	u := domain.Utterance{
		ChatID:    chatID,
		ID:        sig.ID,
		Timestamp: sig.Timestamp,
		Speaker:   c.ident.Load().Speaker,
		Text:      sig.Text,
	}
	return c.store.Append([]domain.Utterance{u}, true)
}

func (c *Coordinator) handleResponse(ctx context.Context, ev eventbus.Event) error {
	var sig domain.TextSignal
	if err := json.Unmarshal(ev.Payload, &sig); err != nil {
		return fmt.Errorf("failed to decode text signal: %w", err)
	}
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}

	chatID, isNew, _ := c.store.CurrentChat(true, false)
	if isNew {
		c.logger.Info().Str("chat_id", chatID).Msg("chat created by agent response")
		c.startScenarioForChat(ctx, chatID)
	}

	u := domain.Utterance{
		ChatID:    chatID,
		ID:        sig.ID,
		Timestamp: sig.Timestamp,
		Speaker:   c.ident.Load().Agent,
		Text:      sig.Text,
	}
	// Agent responses must not reset the human's idle-timeout clock.
	return c.store.Append([]domain.Utterance{u}, false)
}

func (c *Coordinator) handleScenario(_ context.Context, ev eventbus.Event) error {
	var sc domain.ScenarioEvent
	if err := json.Unmarshal(ev.Payload, &sc); err != nil {
		return fmt.Errorf("failed to decode scenario event: %w", err)
	}

	if sc.Stopped() {
		c.logger.Info().Str("scenario_id", sc.ID).Msg("scenario stopped by agent side")
		c.resetIdentity()
		c.unmapScenarioID(sc.ID)
		c.store.StopChat()
		return nil
	}

	next := identity{Agent: sc.Context.Agent.Name, Speaker: sc.Context.Speaker.Name}
	current := c.ident.Load()
	if next.Agent == "" {
		next.Agent = current.Agent
	}
	if next.Speaker == "" {
		next.Speaker = current.Speaker
	}
	c.swapIdentity(next)
	return nil
}

// startScenarioForChat creates a fresh scenario for the chat, announces it on
// the scenario topic and records the correlation.
func (c *Coordinator) startScenarioForChat(ctx context.Context, chatID string) {
	ident := c.ident.Load()
	scenarioID := uuid.NewString()

	ev := domain.ScenarioEvent{
		ID:    scenarioID,
		Start: c.now().UnixMilli(),
		Context: domain.ScenarioContext{
			Agent:       domain.Actor{Name: ident.Agent},
			Speaker:     domain.Actor{Name: ident.Speaker},
			Correlation: uuid.NewString(),
			Location:    c.locator.Current(),
			Signals:     []string{},
		},
	}
	c.locator.Refresh()

	if c.topics.TopicScenario != "" {
		if err := c.bus.Publish(ctx, c.topics.TopicScenario, ev); err != nil {
			c.logger.Error().Err(err).Str("scenario_id", scenarioID).Msg("failed to publish scenario start")
		}
	}

	c.mapScenario(chatID, scenarioID)
	c.logger.Info().Str("chat_id", chatID).Str("scenario_id", scenarioID).Msg("scenario started")
}

// stopScenarioForChat announces the end of the scenario mapped to the chat
// and removes the correlation. Stopping an unmapped chat is a no-op.
func (c *Coordinator) stopScenarioForChat(ctx context.Context, chatID string) {
	scenarioID, ok := c.scenarioFor(chatID)
	if !ok {
		c.logger.Warn().Str("chat_id", chatID).Msg("no scenario mapped to chat, nothing to stop")
		return
	}

	if c.topics.TopicScenario != "" {
		ev := domain.ScenarioEvent{ID: scenarioID, End: c.now().UnixMilli()}
		if err := c.bus.Publish(ctx, c.topics.TopicScenario, ev); err != nil {
			c.logger.Error().Err(err).Str("scenario_id", scenarioID).Msg("failed to publish scenario stop")
		}
	}

	c.unmapScenario(chatID)
	c.logger.Info().Str("chat_id", chatID).Str("scenario_id", scenarioID).Msg("scenario stopped")
}

func (c *Coordinator) evictExpired(ctx context.Context, chatID string) {
	c.logger.Info().Str("chat_id", chatID).Msg("chat session timed out")

	if err := c.bus.Publish(ctx, c.topics.TopicDesire, domain.DesireEvent{Desire: domain.DesireQuit}); err != nil {
		c.logger.Error().Err(err).Msg("failed to publish quit desire")
	}
	c.stopScenarioForChat(ctx, chatID)
	c.store.StopChat()
}

func (c *Coordinator) publishSignal(ctx context.Context, u domain.Utterance) error {
	scenarioID, ok := c.scenarioFor(u.ChatID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNoScenario, u.ChatID)
	}

	sig := domain.TextSignal{
		ID:         u.ID,
		ScenarioID: scenarioID,
		Timestamp:  u.Timestamp,
		Text:       u.Text,
	}
	return c.bus.Publish(ctx, c.topics.TopicUtterance, sig)
}

// scenarioFor reads the correlation snapshot without locking.
func (c *Coordinator) scenarioFor(chatID string) (string, bool) {
	scenarioID, ok := (*c.scenarios.Load())[chatID]
	return scenarioID, ok
}

func (c *Coordinator) mapScenario(chatID, scenarioID string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	next := copyScenarios(*c.scenarios.Load())
	next[chatID] = scenarioID
	c.scenarios.Store(&next)
}

func (c *Coordinator) unmapScenario(chatID string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	next := copyScenarios(*c.scenarios.Load())
	delete(next, chatID)
	c.scenarios.Store(&next)
}

func (c *Coordinator) unmapScenarioID(scenarioID string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	next := copyScenarios(*c.scenarios.Load())
	for chatID, id := range next {
		if id == scenarioID {
			delete(next, chatID)
		}
	}
	c.scenarios.Store(&next)
}

func (c *Coordinator) swapIdentity(next identity) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ident.Store(&next)
}

func (c *Coordinator) resetIdentity() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	next := c.defaults
	c.ident.Store(&next)
}

func copyScenarios(m map[string]string) map[string]string {
	next := make(map[string]string, len(m)+1)
	for k, v := range m {
		next[k] = v
	}
	return next
}

func ceilSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
