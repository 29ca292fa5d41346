package scriptgate

import "consentgate/internal/events"

// Event names dispatched by the gate.
const (
	EventLoaded  = "script.loaded"
	EventBlocked = "script.blocked"
)

// LoadedEvent fires when a registered script renders live because its
// category has consent.
type LoadedEvent struct {
	events.Base
	ScriptID string
	Category string
	Provider string
}

func NewLoadedEvent(scriptID, category, provider string) *LoadedEvent {
	return &LoadedEvent{ScriptID: scriptID, Category: category, Provider: provider}
}

func (e *LoadedEvent) Name() string { return EventLoaded }

// BlockedEvent fires when a registered script is neutralized. Markup carries
// the original element for listeners that audit what was withheld.
type BlockedEvent struct {
	events.Base
	ScriptID string
	Category string
	Provider string
	Markup   string
}

func NewBlockedEvent(scriptID, category, provider, markup string) *BlockedEvent {
	return &BlockedEvent{ScriptID: scriptID, Category: category, Provider: provider, Markup: markup}
}

func (e *BlockedEvent) Name() string { return EventBlocked }
