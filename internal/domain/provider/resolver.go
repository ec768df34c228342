package provider

import "errors"

// ErrNotPermitted is returned when a caller picks a provider the current
// status does not enable.
var ErrNotPermitted = errors.New("ai provider not enabled")

// Resolution is the outcome of Resolve. A zero Provider with None set means
// no provider is configured; that is a reportable state, not a fault.
type Resolution struct {
	Provider Provider `json:"provider,omitempty"`
	Changed  bool     `json:"changed"`
	None     bool     `json:"no_provider_configured"`
}

// preference lists providers in the order the mode prefers them.
func preference(m Mode) [2]Provider {
	if m == ModeExternal {
		return [2]Provider{OpenAI, VLLM}
	}
	// local and mixed (and anything unknown) prefer the local model
	return [2]Provider{VLLM, OpenAI}
}

// Resolve returns the provider that should be used given status and the
// current selection. An empty current selection gets the mode's initial
// choice; a selection that is no longer usable falls over to the other
// provider when that one is usable. Resolve has no side effects.
func Resolve(status SystemStatus, current Provider) Resolution {
	if current.Valid() && status.Usable(current) {
		return Resolution{Provider: current}
	}

	for _, p := range preference(status.AIMode) {
		if status.Usable(p) {
			return Resolution{Provider: p, Changed: p != current}
		}
	}
	return Resolution{None: true, Changed: current != ""}
}

// Permit validates an explicit selection against status.
func Permit(status SystemStatus, p Provider) error {
	if !status.Usable(p) {
		return ErrNotPermitted
	}
	return nil
}
