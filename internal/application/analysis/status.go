package analysis

import (
	"context"

	"github.com/bryanwahyu/automaton-sca/internal/domain/provider"
)

// Prober checks that an inference endpoint answers.
type Prober interface {
	Probe(ctx context.Context) error
}

// DirectStatus derives SystemStatus from local configuration. vLLM is
// probed only while enabled; OpenAI counts as available when a key is set.
type DirectStatus struct {
	Mode         provider.Mode
	VLLM         Prober
	VLLMURL      string
	VLLMModel    string
	OpenAIModel  string
	OpenAIKeySet bool
}

func (d *DirectStatus) SystemStatus(ctx context.Context) (provider.SystemStatus, error) {
	st := provider.SystemStatus{
		AIMode: d.Mode,
		VLLM: provider.Backend{
			Enabled: d.Mode == provider.ModeLocal || d.Mode == provider.ModeMixed,
			URL:     d.VLLMURL,
			Model:   d.VLLMModel,
		},
		OpenAI: provider.Backend{
			Enabled:   d.Mode == provider.ModeExternal || d.Mode == provider.ModeMixed,
			Available: d.OpenAIKeySet,
		},
	}
	if d.OpenAIKeySet {
		st.OpenAI.Model = d.OpenAIModel
	}
	if st.VLLM.Enabled && d.VLLM != nil {
		if err := d.VLLM.Probe(ctx); err != nil {
			st.VLLM.Error = err.Error()
		} else {
			st.VLLM.Available = true
		}
	}
	return st, nil
}
