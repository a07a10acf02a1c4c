package usecase

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"askuni/internal/domain"
)

const (
	attachmentHeader   = "📎 Attached materials (extracted):\n"
	maxAttachmentChars = 8000
	maxTitleChars      = 60
	defaultTitle       = "New chat"
)

// BuildPrompt joins extracted attachment text and the user message into the
// single text sent to the assistant.
func BuildPrompt(req domain.ChatRequest) string {
	if len(req.Attachments) == 0 {
		return req.Message
	}

	blocks := make([]string, 0, len(req.Attachments))
	for i, a := range req.Attachments {
		name := a.Filename
		if name == "" {
			name = "attachment-" + strconv.Itoa(i+1)
		}
		blocks = append(blocks, "---\n"+name+"\n"+truncateRunes(a.Text, maxAttachmentChars))
	}

	var b strings.Builder
	b.WriteString(attachmentHeader)
	b.WriteString(strings.Join(blocks, "\n"))
	b.WriteString("\n\n")
	b.WriteString(req.Message)
	return b.String()
}

// SessionTitle derives a conversation title from its first message.
func SessionTitle(message string) string {
	if message == "" {
		return defaultTitle
	}
	return truncateRunes(message, maxTitleChars)
}

// NewSessionID mints a conversation id.
func NewSessionID() string {
	return "S" + ulid.Make().String()
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
