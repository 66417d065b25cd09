package broker

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBroker is an in-process stream broker with consumer-group
// semantics: fetched messages stay pending until acked, and pending
// messages can be claimed back for redelivery. Used in tests and in
// memory-storage mode.
type MemoryBroker struct {
	mu       sync.Mutex
	streams  map[string][]Message
	cursors  map[string]int
	pending  map[string]map[string]Message
	sequence int
}

// NewMemoryBroker creates an empty in-memory broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		streams: make(map[string][]Message),
		cursors: make(map[string]int),
		pending: make(map[string]map[string]Message),
	}
}

// Publish appends a message to the subject.
func (b *MemoryBroker) Publish(ctx context.Context, subject string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sequence++
	cp := make([]byte, len(payload))
	copy(cp, payload)
	b.streams[subject] = append(b.streams[subject], Message{
		ID:      fmt.Sprintf("%d-0", b.sequence),
		Payload: cp,
	})
	return nil
}

// EnsureGroup is a no-op for the in-memory broker.
func (b *MemoryBroker) EnsureGroup(ctx context.Context, subject string) error {
	return nil
}

// Fetch returns up to count not-yet-delivered messages and marks them
// pending.
func (b *MemoryBroker) Fetch(ctx context.Context, subject string, count int64) ([]Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.streams[subject]
	cursor := b.cursors[subject]

	var msgs []Message
	for cursor < len(entries) && int64(len(msgs)) < count {
		m := entries[cursor]
		if b.pending[subject] == nil {
			b.pending[subject] = make(map[string]Message)
		}
		b.pending[subject][m.ID] = m
		msgs = append(msgs, m)
		cursor++
	}
	b.cursors[subject] = cursor
	return msgs, nil
}

// Claim redelivers every pending message, simulating the idle window
// having elapsed.
func (b *MemoryBroker) Claim(ctx context.Context, subject string, count int64) ([]Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var msgs []Message
	for _, m := range b.pending[subject] {
		if int64(len(msgs)) >= count {
			break
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Ack removes a message from the pending set.
func (b *MemoryBroker) Ack(ctx context.Context, subject string, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending[subject], id)
	return nil
}

// Pending returns the number of unacked deliveries.
func (b *MemoryBroker) Pending(ctx context.Context, subject string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.pending[subject])), nil
}

// Len returns the total number of messages ever published to the
// subject. Test helper.
func (b *MemoryBroker) Len(subject string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams[subject])
}

// Messages returns a copy of every message published to the subject.
// Test helper.
func (b *MemoryBroker) Messages(subject string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.streams[subject]))
	copy(out, b.streams[subject])
	return out
}
