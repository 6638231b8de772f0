package observability

// EventEnvelope wraps domain events published to the broker.
type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// Routing keys for unread-refresh events. Consumers (badge services, pollers)
// use these to learn that a user's unread aggregate may have changed.
const (
	RoutingKeyMessageCreated   = "chat_events.message_created"
	RoutingKeyConversationRead = "chat_events.conversation_read"
)

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
