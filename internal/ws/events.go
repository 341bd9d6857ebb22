package ws

import "encoding/json"

// inboundEnvelope is what clients write on the wire. Exactly five
// event kinds are dispatched; anything else is ignored.
type inboundEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

const (
	inboundJoin       = "join"
	inboundLeave      = "leave"
	inboundSend       = "send"
	inboundRetry      = "retry"
	inboundRegenerate = "regenerate"
)

type roomPayload struct {
	RoomID string `json:"roomId"`
}

type sendPayload struct {
	ConversationID string   `json:"conversationId"`
	Description    string   `json:"description"`
	Decision       string   `json:"decision"`
	Considerations []string `json:"considerations"`
}

type actionPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// outboundEnvelope mirrors inboundEnvelope for server-to-client
// traffic; Data is one of the lifecycle payload shapes.
type outboundEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}
