package llm

import "fmt"

// Kind distinguishes the ways a provider call can fail.
type Kind string

const (
	KindHTTPStatus Kind = "http_status"
	KindNetwork    Kind = "network"
	KindMalformed  Kind = "malformed_response"
)

// ProviderError is returned for any failed code-generation call.
type ProviderError struct {
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		return fmt.Sprintf("LLM API error: %d - %s", e.StatusCode, e.Message)
	case KindNetwork:
		if e.Err != nil {
			return fmt.Sprintf("network error when calling LLM API: %s: %v", e.Message, e.Err)
		}
		return "network error when calling LLM API: " + e.Message
	default:
		if e.Err != nil {
			return fmt.Sprintf("invalid response structure from LLM API: %s: %v", e.Message, e.Err)
		}
		return "invalid response structure from LLM API: " + e.Message
	}
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
