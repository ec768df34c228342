package provider

// Provider identifies one of the two AI analysis backends.
type Provider string

const (
	VLLM   Provider = "vllm"
	OpenAI Provider = "openai"
)

// Valid reports whether p names a known provider.
func (p Provider) Valid() bool {
	return p == VLLM || p == OpenAI
}

// Other returns the alternate provider.
func (p Provider) Other() Provider {
	if p == VLLM {
		return OpenAI
	}
	return VLLM
}

// Mode is the backend-wide policy governing which providers are permitted.
type Mode string

const (
	ModeLocal    Mode = "local"
	ModeExternal Mode = "external"
	ModeMixed    Mode = "mixed"
)

// Valid reports whether m names a known mode.
func (m Mode) Valid() bool {
	return m == ModeLocal || m == ModeExternal || m == ModeMixed
}

// Backend describes one provider as reported by the status endpoint.
// Enabled decides eligibility; Available is live reachability only.
type Backend struct {
	Enabled   bool   `json:"enabled"`
	Available bool   `json:"available"`
	URL       string `json:"url,omitempty"`
	Model     string `json:"model,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Wazuh describes reachability of the check-data source.
type Wazuh struct {
	Available bool   `json:"available"`
	URL       string `json:"url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SystemStatus is immutable per fetch.
type SystemStatus struct {
	AIMode Mode    `json:"ai_mode"`
	VLLM   Backend `json:"vllm"`
	OpenAI Backend `json:"openai"`
	Wazuh  Wazuh   `json:"wazuh"`
}

// Backend returns the status block for p.
func (s SystemStatus) Backend(p Provider) Backend {
	if p == OpenAI {
		return s.OpenAI
	}
	return s.VLLM
}

// Usable reports whether p may be selected under s.
func (s SystemStatus) Usable(p Provider) bool {
	return p.Valid() && s.Backend(p).Enabled
}
