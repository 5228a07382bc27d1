package domain

import "context"

// Actor identifies one party of a conversation.
type Actor struct {
	Name string `json:"name"`
}

// Location is a best-effort geolocation attached to a scenario context. All
// fields may be empty when the lookup failed.
type Location struct {
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
}

// ScenarioContext carries the identities and surroundings of a scenario.
type ScenarioContext struct {
	Agent       Actor    `json:"agent"`
	Speaker     Actor    `json:"speaker"`
	Correlation string   `json:"correlation"`
	Location    Location `json:"location"`
	Signals     []string `json:"signals"`
}

// ScenarioEvent announces the start or stop of a scenario on the scenario
// topic. A non-zero End marks the scenario as stopped.
type ScenarioEvent struct {
	ID      string          `json:"id"`
	Start   int64           `json:"start"`
	End     int64           `json:"end,omitempty"`
	Context ScenarioContext `json:"context"`
}

// Stopped reports whether the event signals scenario termination.
func (e ScenarioEvent) Stopped() bool {
	return e.End != 0
}

// TextSignal is the wire form of an utterance exchanged with the agent side.
// The signal id doubles as the utterance dedup key.
type TextSignal struct {
	ID         string `json:"id"`
	ScenarioID string `json:"scenario_id"`
	Timestamp  int64  `json:"timestamp"`
	Text       string `json:"text"`
}

// DesireEvent asks the agent side to act on an intent, e.g. terminate the
// current session.
type DesireEvent struct {
	Desire string `json:"desire"`
}

// DesireQuit requests termination of the current session.
const DesireQuit = "quit"

// Publisher sends a payload to a named topic, fire-and-forget.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}
