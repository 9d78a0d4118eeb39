package notifications

import "slices"

// Rule instrada gli eventi verso i canali indicati
type Rule struct {
	Name string
	// Events tipi di evento gestiti; vuoto significa tutti
	Events      []EventType
	MinSeverity Severity
	Channels    []string
	Enabled     bool
}

// Matches indica se la regola si applica all'evento
func (r *Rule) Matches(event Event) bool {
	if !r.Enabled {
		return false
	}
	if len(r.Events) > 0 && !slices.Contains(r.Events, event.Type()) {
		return false
	}
	if r.MinSeverity != "" && !event.Severity().AtLeast(r.MinSeverity) {
		return false
	}
	return true
}

// DefaultRules eventi di conversazione su tutti i canali,
// eventi di backend solo se almeno warning
func DefaultRules(channels ...string) []*Rule {
	return []*Rule{
		{
			Name: "conversation-lifecycle",
			Events: []EventType{
				EventConversationStarted,
				EventConversationCompleted,
				EventConversationFailed,
			},
			Channels: channels,
			Enabled:  true,
		},
		{
			Name:        "backend-availability",
			Events:      []EventType{EventBackendExcluded, EventBackendRestored},
			MinSeverity: SeverityWarning,
			Channels:    channels,
			Enabled:     true,
		},
	}
}
