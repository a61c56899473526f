package message

import "sync"

// ReplayBuffer keeps the last N messages per conversation in memory so hot
// history requests can be answered without touching Postgres. It is
// goroutine-safe and uses a fixed-size ring per conversation.
type ReplayBuffer struct {
	size  int
	mu    sync.RWMutex
	rings map[string]*ring // conversationID -> ring
}

type ring struct {
	items []*Message
	pos   int
	count int
}

// NewReplayBuffer creates an empty buffer retaining size messages per
// conversation.
func NewReplayBuffer(size int) *ReplayBuffer {
	return &ReplayBuffer{
		size:  size,
		rings: make(map[string]*ring),
	}
}

// Add appends a message to its conversation's ring. When the ring is full
// the oldest message is overwritten.
func (b *ReplayBuffer) Add(m *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.rings[m.ConversationID]
	if !ok {
		r = &ring{items: make([]*Message, b.size)}
		b.rings[m.ConversationID] = r
	}

	r.items[r.pos] = m
	r.pos = (r.pos + 1) % b.size
	if r.count < b.size {
		r.count++
	}
}

// Recent returns the buffered messages for a conversation in chronological
// order (oldest first). A conversation with no buffer yields an empty slice.
func (b *ReplayBuffer) Recent(conversationID string) []*Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.rings[conversationID]
	if !ok {
		return []*Message{}
	}

	result := make([]*Message, r.count)
	// The oldest message is at position (pos - count) mod size.
	start := (r.pos - r.count + b.size) % b.size
	for i := 0; i < r.count; i++ {
		result[i] = r.items[(start+i)%b.size]
	}
	return result
}

// Full reports whether the conversation's ring holds at least n messages,
// meaning Recent can satisfy a history request of that depth on its own.
func (b *ReplayBuffer) Full(conversationID string, n int) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.rings[conversationID]
	return ok && r.count >= n
}

// Remove drops the buffer for a conversation.
func (b *ReplayBuffer) Remove(conversationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.rings, conversationID)
}
