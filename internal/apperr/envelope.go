package apperr

import (
	"context"
	"encoding/json"
	"net/http"
)

// Envelope is the serialized form of an error returned to callers. It
// never carries the underlying cause.
type Envelope struct {
	Status    int            `json:"status"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	ToolName  string         `json:"toolName,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// NewEnvelope converts err into an Envelope for the given tool and request.
func NewEnvelope(err error, toolName, requestID string) Envelope {
	ae := From(err)

	return Envelope{
		Status:    ae.Status(),
		Code:      ae.Code,
		Message:   ae.Message,
		ToolName:  toolName,
		RequestID: requestID,
		Details:   ae.Details,
	}
}

// WriteJSON writes err as a JSON envelope with the matching HTTP status.
func WriteJSON(w http.ResponseWriter, err error, requestID string) {
	env := NewEnvelope(err, "", requestID)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(env.Status)
	_ = json.NewEncoder(w).Encode(env)
}

type requestIDKey struct{}

// WithRequestID stores the request identifier used in error envelopes.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request identifier stored in ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
