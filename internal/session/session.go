package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/events"
	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/observability"
)

// CompletedAck is recorded when the agent finishes without reply text.
const CompletedAck = "Task completed."

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type State string

const (
	StateIdle    State = "idle"
	StatePending State = "pending"
)

type Entry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Agent is the external collaborator that turns a prompt into a reply.
type Agent interface {
	Run(ctx context.Context, prompt string) (string, error)
}

type Publisher interface {
	Publish(event events.SessionEvent)
}

type nopPublisher struct{}

func (nopPublisher) Publish(events.SessionEvent) {}

var now = time.Now

type options struct {
	logger    *zap.Logger
	metrics   *observability.Metrics
	publisher Publisher
	timeout   time.Duration

	idleTTL     time.Duration
	maxSessions int
}

type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *options) { o.metrics = metrics }
}

func WithPublisher(publisher Publisher) Option {
	return func(o *options) {
		if publisher != nil {
			o.publisher = publisher
		}
	}
}

// WithIdleTTL lets a Manager evict sessions unused for longer than ttl.
// Zero keeps sessions until they are deleted.
func WithIdleTTL(ttl time.Duration) Option {
	return func(o *options) { o.idleTTL = ttl }
}

// WithMaxSessions caps the sessions a Manager holds. Creating one past the
// cap evicts the least recently used idle session. Zero means no cap.
func WithMaxSessions(max int) Option {
	return func(o *options) { o.maxSessions = max }
}

// WithTimeout bounds every agent invocation. Zero disables the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) { o.timeout = timeout }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), publisher: nopPublisher{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Session is the transcript and agent handle for one browser session. At
// most one submission is in flight at a time.
type Session struct {
	id        string
	agent     Agent
	createdAt time.Time
	opts      options
	logger    *zap.Logger

	guard    *semaphore.Weighted
	pending  atomic.Bool
	lastUsed atomic.Int64

	mu         sync.RWMutex
	transcript []Entry
	seq        int64
}

func New(id string, agent Agent, opts ...Option) *Session {
	o := buildOptions(opts)
	s := &Session{
		id:        id,
		agent:     agent,
		createdAt: now().UTC(),
		opts:      o,
		logger:    o.logger.With(zap.String("session_id", id)),
		guard:     semaphore.NewWeighted(1),
	}
	s.touch()
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

func (s *Session) State() State {
	if s.pending.Load() {
		return StatePending
	}
	return StateIdle
}

// LastUsed is the time of the most recent lookup or submission.
func (s *Session) LastUsed() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

func (s *Session) touch() {
	s.lastUsed.Store(now().UnixNano())
}

// Transcript returns a copy of the entries in insertion order.
func (s *Session) Transcript() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entry(nil), s.transcript...)
}

// Submit records text as a user entry, runs the agent, and records its
// reply. On failure only the user entry remains and an
// *AgentInvocationError is returned.
func (s *Session) Submit(ctx context.Context, text string) (Entry, error) {
	if strings.TrimSpace(text) == "" {
		s.opts.metrics.RejectSubmission("empty")
		return Entry{}, ErrEmptyInput
	}
	if !s.guard.TryAcquire(1) {
		s.opts.metrics.RejectSubmission("busy")
		return Entry{}, ErrBusy
	}
	s.pending.Store(true)
	s.touch()
	defer func() {
		s.touch()
		s.pending.Store(false)
		s.guard.Release(1)
	}()

	traceID := uuid.NewString()
	s.append(RoleUser, text, traceID)

	runCtx := ctx
	if s.opts.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.opts.timeout)
		defer cancel()
	}

	started := now()
	reply, err := s.agent.Run(runCtx, text)
	elapsed := now().Sub(started)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("agent did not reply within %s: %w", s.opts.timeout, err)
		}
		s.opts.metrics.ObserveAgentInvocation("failed", elapsed)
		s.logger.Error("agent invocation failed",
			zap.String("trace_id", traceID),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		s.publish(events.TypeAgentFailed, traceID, map[string]any{
			"error":      err.Error(),
			"elapsed_ms": elapsed.Milliseconds(),
		})
		return Entry{}, &AgentInvocationError{SessionID: s.id, Err: err}
	}

	if strings.TrimSpace(reply) == "" {
		reply = CompletedAck
	}
	entry := s.append(RoleAssistant, reply, traceID)
	s.opts.metrics.ObserveAgentInvocation("completed", elapsed)
	s.logger.Info("agent invocation completed",
		zap.String("trace_id", traceID),
		zap.Duration("elapsed", elapsed),
	)
	s.publish(events.TypeAgentCompleted, traceID, map[string]any{
		"elapsed_ms": elapsed.Milliseconds(),
	})
	return entry, nil
}

// Reset clears the transcript. The agent handle is kept, and a reply still
// in flight is appended once it arrives.
func (s *Session) Reset() {
	s.mu.Lock()
	cleared := len(s.transcript)
	s.transcript = nil
	s.publishLocked(events.TypeTranscriptReset, "", map[string]any{"cleared": cleared})
	s.mu.Unlock()
	s.logger.Info("transcript reset", zap.Int("cleared", cleared))
}

func (s *Session) append(role Role, content string, traceID string) Entry {
	entry := Entry{Role: role, Content: content, CreatedAt: now().UTC()}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, entry)
	s.publishLocked(events.TypeMessageAdded, traceID, map[string]any{
		"index":      len(s.transcript) - 1,
		"role":       string(entry.Role),
		"content":    entry.Content,
		"created_at": entry.CreatedAt.Format(time.RFC3339Nano),
	})
	return entry
}

func (s *Session) publish(eventType string, traceID string, payload map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishLocked(eventType, traceID, payload)
}

// publishLocked must be called with s.mu held so seq order matches
// delivery order.
func (s *Session) publishLocked(eventType string, traceID string, payload map[string]any) {
	s.seq++
	s.opts.publisher.Publish(events.SessionEvent{
		SessionID: s.id,
		Seq:       s.seq,
		Type:      eventType,
		Ts:        now().UTC().Format(time.RFC3339Nano),
		TraceID:   traceID,
		Payload:   payload,
	})
}
