package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// Entitlement errors. Only ErrTokenTampered and ErrRemoteRevoked force a
// visible state change; the rest are logged and absorbed.
var (
	ErrInvalidCode        = errors.New("invalid activation code")
	ErrDemoAlreadyUsed    = errors.New("demo already used")
	ErrNetworkUnavailable = errors.New("license authority unreachable")
	ErrTokenTampered      = errors.New("entitlement token tampered")
	ErrRemoteRevoked      = errors.New("license revoked by authority")
	ErrCorruptToken       = errors.New("entitlement token corrupt")
	ErrEmptySecret        = errors.New("activation secret is empty")
	ErrRecordNotFound     = errors.New("record not found")
)

// NetworkError wraps a failed call to the license authority
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrNetworkUnavailable, e.Op, e.Err)
}

// Unwrap lets errors.Is match both the sentinel and the cause
func (e *NetworkError) Unwrap() []error {
	return []error{ErrNetworkUnavailable, e.Err}
}

// NewNetworkError wraps err as a NetworkError for op; nil stays nil
func NewNetworkError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &NetworkError{Op: op, Err: err}
}

// Classify maps an error onto a short label for metrics and spans
func Classify(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrInvalidCode):
		return "invalid_code"
	case errors.Is(err, ErrDemoAlreadyUsed):
		return "demo_used"
	case errors.Is(err, ErrTokenTampered):
		return "tampered"
	case errors.Is(err, ErrRemoteRevoked):
		return "revoked"
	case errors.Is(err, ErrCorruptToken):
		return "corrupt_token"
	case errors.Is(err, ErrRecordNotFound):
		return "not_found"
	case errors.Is(err, ErrNetworkUnavailable):
		return "network"
	case errors.Is(err, ErrEmptySecret):
		return "configuration"
	default:
		return "unknown"
	}
}

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON flattens extensions into the top-level object
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := map[string]interface{}{
		"type":   pd.Type,
		"title":  pd.Title,
		"status": pd.Status,
	}
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}
	for k, v := range pd.Extensions {
		data[k] = v
	}
	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}
