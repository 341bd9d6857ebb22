package lifecycle

import "decisionlens/internal/analysis"

type EventKind string

const (
	EventPending           EventKind = "pending"
	EventProcessed         EventKind = "processed"
	EventError             EventKind = "error"
	EventRetrySuccess      EventKind = "retrySuccess"
	EventRetryError        EventKind = "retryError"
	EventRegenerateSuccess EventKind = "regenerateSuccess"
	EventRegenerateError   EventKind = "regenerateError"
)

// Event is one lifecycle transition, broadcast to every live member of
// the owning conversation. Payload holds the fixed record shape of the
// kind: PendingPayload, ResultPayload or FailurePayload.
type Event struct {
	Kind    EventKind
	Payload any
}

// PendingPayload announces a freshly submitted message before its
// analysis begins.
type PendingPayload struct {
	ID             string   `json:"id"`
	Description    string   `json:"description"`
	Decision       string   `json:"decision"`
	Considerations []string `json:"considerations"`
}

// ResultPayload carries a stored analysis version: Processed,
// RetrySuccess and RegenerateSuccess events.
type ResultPayload struct {
	MessageID  string            `json:"messageId"`
	Analysis   analysis.Analysis `json:"analysis"`
	ResponseID string            `json:"responseId"`
	Version    int               `json:"version"`
}

// FailurePayload carries a terminal failure: Error, RetryError and
// RegenerateError events.
type FailurePayload struct {
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
}

// Broadcaster fans an event out to every live connection subscribed to
// the conversation.
type Broadcaster interface {
	Broadcast(conversationID string, ev Event)
}
