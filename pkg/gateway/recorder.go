package gateway

import (
	"context"
	"sync"
)

// Recorder is an in-memory Gateway used by tests: it records every enqueued
// message instead of publishing.
type Recorder struct {
	mu       sync.Mutex
	messages []OutboundMessage
	failWith error
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Enqueue(_ context.Context, msg OutboundMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failWith != nil {
		return r.failWith
	}

	r.messages = append(r.messages, msg)

	return nil
}

// Messages returns a copy of everything enqueued so far.
func (r *Recorder) Messages() []OutboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]OutboundMessage(nil), r.messages...)
}

// FailWith makes every subsequent Enqueue return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failWith = err
}
