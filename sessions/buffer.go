package sessions

import (
	"errors"
	"sync"
	"time"
)

// DefaultBufferCapacity bounds each session's replay buffer.
const DefaultBufferCapacity = 100

// ErrInvalidArgument is returned when a buffered message is missing its
// event id or payload.
var ErrInvalidArgument = errors.New("event id and payload are required")

// BufferedMessage is one recorded notification, kept for replay.
type BufferedMessage struct {
	EventID   string
	Payload   []byte
	Timestamp time.Time
}

// MessageBuffer is a bounded FIFO of recently delivered events for one
// session. A single lock guards it; contention is low since each session has
// its own buffer and writes are infrequent relative to reads.
type MessageBuffer struct {
	mu       sync.Mutex
	capacity int
	messages []BufferedMessage
	now      func() time.Time
}

// NewMessageBuffer creates a buffer holding at most capacity messages. A
// non-positive capacity selects DefaultBufferCapacity.
func NewMessageBuffer(capacity int) *MessageBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &MessageBuffer{capacity: capacity, now: time.Now}
}

// Add enqueues a message, evicting oldest-first once capacity is exceeded.
func (b *MessageBuffer) Add(eventID string, payload []byte) error {
	if eventID == "" || payload == nil {
		return ErrInvalidArgument
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.messages = append(b.messages, BufferedMessage{
		EventID:   eventID,
		Payload:   payload,
		Timestamp: b.now(),
	})
	if n := len(b.messages) - b.capacity; n > 0 {
		b.messages = append(b.messages[:0:0], b.messages[n:]...)
	}
	return nil
}

// MessagesAfter returns the messages recorded strictly after lastEventID, in
// insertion order. An empty lastEventID returns the whole buffer. A
// lastEventID that is no longer (or never was) in the buffer also returns
// the whole buffer: the client fell further behind than the buffer retains,
// and a full best-effort catch-up beats silently returning nothing. Gaps are
// possible either way; replay is explicitly best-effort.
//
// The result is always a copy, never a live view.
func (b *MessageBuffer) MessagesAfter(lastEventID string) []BufferedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := 0
	if lastEventID != "" {
		for i, msg := range b.messages {
			if msg.EventID == lastEventID {
				start = i + 1
				break
			}
		}
	}

	out := make([]BufferedMessage, len(b.messages)-start)
	copy(out, b.messages[start:])
	return out
}

// Len reports the number of buffered messages.
func (b *MessageBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}
