package usecase

import (
	"context"
	"fmt"
	"sync"
)

// ConversationLocker serializes assistant calls per conversation id. Each
// conversation gets a one-slot semaphore that is dropped once nobody holds
// or waits for it.
type ConversationLocker struct {
	mu    sync.Mutex
	slots map[string]*conversationSlot
}

type conversationSlot struct {
	sem      chan struct{}
	refCount int
}

// NewConversationLocker creates an empty locker.
func NewConversationLocker() *ConversationLocker {
	return &ConversationLocker{slots: make(map[string]*conversationSlot)}
}

// Lock blocks until the conversation is free or ctx is done. The returned
// unlock func must be called exactly once.
func (cl *ConversationLocker) Lock(ctx context.Context, conversationID string) (unlock func(), err error) {
	cl.mu.Lock()
	slot, ok := cl.slots[conversationID]
	if !ok {
		slot = &conversationSlot{sem: make(chan struct{}, 1)}
		cl.slots[conversationID] = slot
	}
	slot.refCount++
	cl.mu.Unlock()

	select {
	case slot.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-slot.sem
				cl.release(conversationID, slot)
			})
		}, nil
	case <-ctx.Done():
		cl.release(conversationID, slot)
		return nil, fmt.Errorf("conversation lock %s: %w", conversationID, ctx.Err())
	}
}

func (cl *ConversationLocker) release(id string, slot *conversationSlot) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	slot.refCount--
	if slot.refCount == 0 {
		delete(cl.slots, id)
	}
}

// ActiveCount returns the number of conversations held or waited on.
func (cl *ConversationLocker) ActiveCount() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.slots)
}
