// Package controlplane connects worker subprocesses to the master over
// HTTP on a loopback port. Workers load and save host state and forward
// operator prompts; the master answers every request from its single
// event loop.
package controlplane

// Wire contract. Every /v1 request carries ProtocolHeader set to
// ProtocolVersion; anything else is rejected with 400.
const (
	ProtocolHeader  = "X-Shipit-Protocol"
	ProtocolVersion = "1"

	PathLoad    = "/v1/load"
	PathSave    = "/v1/save"
	PathProxy   = "/v1/proxy"
	PathMetrics = "/metrics"
)

// Proxied prompt functions.
const (
	FuncAsk               = "ask"
	FuncAskConfirmation   = "askConfirmation"
	FuncAskHiddenResponse = "askHiddenResponse"
	FuncAskChoice         = "askChoice"
)

// LoadRequest asks for the state a worker starts from.
type LoadRequest struct {
	Host string `json:"host"`
}

// LoadResponse is the master's global and host configuration snapshot.
type LoadResponse struct {
	Global map[string]any `json:"global"`
	Host   map[string]any `json:"host"`
}

// SaveRequest sends a host's state back after its task ran.
type SaveRequest struct {
	Host   string         `json:"host"`
	Values map[string]any `json:"values"`
}

// ProxyRequest is a prompt to run on the master's terminal.
type ProxyRequest struct {
	Host        string   `json:"host,omitempty"`
	Function    string   `json:"function"`
	Question    string   `json:"question"`
	Default     string   `json:"default,omitempty"`
	DefaultBool bool     `json:"default_bool,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Choices     []string `json:"choices,omitempty"`
	Multiple    bool     `json:"multiple,omitempty"`
}

// ProxyResponse carries the operator's answer.
type ProxyResponse struct {
	Text      string   `json:"text,omitempty"`
	Confirmed bool     `json:"confirmed,omitempty"`
	Choices   []string `json:"choices,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error    string `json:"error"`
	SoftStop bool   `json:"soft_stop,omitempty"`
}
