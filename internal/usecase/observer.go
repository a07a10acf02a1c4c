package usecase

import "time"

// Stream and blocking outcomes.
const (
	OutcomeFinal        = "final"
	OutcomeError        = "error"
	OutcomeOffline      = "offline"
	OutcomeDisconnected = "disconnected"
)

// ChatObserver receives chat lifecycle events, typically to export metrics.
type ChatObserver interface {
	StreamStarted()
	StreamEnded(outcome string, elapsed time.Duration)
	BlockingServed(outcome string, elapsed time.Duration)
	AnswerSubstituted(reason string)
}

type nopObserver struct{}

func (nopObserver) StreamStarted()                       {}
func (nopObserver) StreamEnded(string, time.Duration)    {}
func (nopObserver) BlockingServed(string, time.Duration) {}
func (nopObserver) AnswerSubstituted(string)             {}
