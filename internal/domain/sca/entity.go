package sca

// Agent is a monitored host.
type Agent struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	IP     string         `json:"ip,omitempty"`
	Status string         `json:"status,omitempty"`
	OS     map[string]any `json:"os,omitempty"`
}

// Policy is an SCA policy applied to an agent.
type Policy struct {
	PolicyID    string `json:"policy_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Compliance maps a check to one framework control.
type Compliance struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Check is a single SCA test result. ID is unique within a policy.
type Check struct {
	ID          int          `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Rationale   string       `json:"rationale,omitempty"`
	Remediation string       `json:"remediation,omitempty"`
	Result      string       `json:"result,omitempty"`
	Compliance  []Compliance `json:"compliance,omitempty"`
}
