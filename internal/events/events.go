package events

import (
	"context"
	"strings"
	"sync"
)

const (
	TypeMessageAdded    = "message.added"
	TypeAgentCompleted  = "agent.completed"
	TypeAgentFailed     = "agent.failed"
	TypeTranscriptReset = "transcript.reset"
)

type SessionEvent struct {
	SessionID string         `json:"session_id"`
	Seq       int64          `json:"seq"`
	Type      string         `json:"type"`
	Ts        string         `json:"ts"`
	TraceID   string         `json:"trace_id,omitempty"`
	Payload   map[string]any `json:"payload"`
}

// Broker fans session events out to live subscribers. Slow subscribers
// miss events instead of blocking the publisher.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan SessionEvent]struct{}
}

func NormalizeType(eventType string) string {
	return strings.TrimSpace(strings.ToLower(eventType))
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: map[string]map[chan SessionEvent]struct{}{},
	}
}

func (b *Broker) Subscribe(ctx context.Context, sessionID string) <-chan SessionEvent {
	ch := make(chan SessionEvent, 16)

	b.mu.Lock()
	if b.subscribers[sessionID] == nil {
		b.subscribers[sessionID] = map[chan SessionEvent]struct{}{}
	}
	b.subscribers[sessionID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if b.subscribers[sessionID] != nil {
			delete(b.subscribers[sessionID], ch)
			if len(b.subscribers[sessionID]) == 0 {
				delete(b.subscribers, sessionID)
			}
		}
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// Publish delivers under the read lock so a concurrent unsubscribe cannot
// close a channel mid-send.
func (b *Broker) Publish(event SessionEvent) {
	event.Type = NormalizeType(event.Type)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers[event.SessionID] {
		select {
		case ch <- event:
		default:
		}
	}
}
