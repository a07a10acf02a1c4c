package domain

// Event types carried on the message stream.
const (
	EventDelta = "delta"
	EventFinal = "final"
	EventError = "error"
)

// DeltaPayload carries one fragment of generated text.
type DeltaPayload struct {
	T string `json:"t"`
}

// FinalPayload carries the authoritative answer and the conversation id.
type FinalPayload struct {
	Text      string `json:"text"`
	SessionID string `json:"sessionId"`
}

// ErrorPayload terminates a stream without an answer.
type ErrorPayload struct {
	Error string `json:"error"`
}
