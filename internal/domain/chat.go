package domain

import "time"

// Attachment is extracted document text submitted alongside a message.
type Attachment struct {
	Filename string `json:"filename,omitempty" validate:"max=255"`
	Text     string `json:"text"`
}

// ChatRequest is the body accepted by both the streaming and the blocking
// message endpoints. An empty SessionID starts a new conversation.
type ChatRequest struct {
	Message     string       `json:"message" validate:"max=20000"`
	Attachments []Attachment `json:"attachments" validate:"max=10,dive"`
	SessionID   string       `json:"sessionId,omitempty" validate:"omitempty,max=64"`
}

// Empty reports whether the request carries neither text nor attachments.
func (r ChatRequest) Empty() bool {
	return r.Message == "" && len(r.Attachments) == 0
}

// ChatResult is the unified outcome of one turn, whichever path produced it.
type ChatResult struct {
	Text      string `json:"text"`
	SessionID string `json:"sessionId"`
}

// BlockingResponse is the body returned by the non-streaming endpoint.
type BlockingResponse struct {
	OK        bool   `json:"ok"`
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	Error     string `json:"error,omitempty"`
}

// Identity is the caller resolved from a bearer credential.
// The zero value is a guest.
type Identity struct {
	UserID string
	Email  string
}

// Authenticated reports whether the identity belongs to a registered user.
func (i Identity) Authenticated() bool { return i.Email != "" }

// Turn is one exchange ready for persistence.
type Turn struct {
	SessionID   string
	Title       string
	ThreadID    string
	UserText    string
	Attachments []Attachment
	BotText     string
	At          time.Time
}
