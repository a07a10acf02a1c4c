package domain

import "context"

// GenerationDelta is one increment from a streaming generation. Exactly one
// delta with Done or Err set ends the sequence.
type GenerationDelta struct {
	Text string
	Done bool
	Err  error
}

// Assistant is the generation backend bound to a knowledge base.
type Assistant interface {
	// Name returns the backend identifier (e.g., "openai", "bedrock").
	Name() string
	// NewThread creates a conversation thread and returns its id.
	NewThread(ctx context.Context) (string, error)
	// StreamGenerate appends prompt to the thread and streams the reply.
	StreamGenerate(ctx context.Context, threadID, prompt string) (<-chan GenerationDelta, error)
	// BlockingGenerate appends prompt to the thread and waits for the full reply.
	BlockingGenerate(ctx context.Context, threadID, prompt string) (string, error)
}

// Citation is a reference from an answer to a knowledge base file.
type Citation struct {
	FileID string
	Quote  string
}

// CitationSource is implemented by assistants that can report the citations
// attached to the latest reply on a thread.
type CitationSource interface {
	LatestCitations(ctx context.Context, threadID string) ([]Citation, error)
}

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio []byte) (string, error)
}
