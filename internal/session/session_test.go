package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/events"
	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/observability"
)

type mockAgent struct {
	mock.Mock
}

func (m *mockAgent) Run(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.SessionEvent
}

func (p *recordingPublisher) Publish(event events.SessionEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.Type)
	}
	return types
}

func TestSubmitSuccess(t *testing.T) {
	agent := &mockAgent{}
	agent.On("Run", mock.Anything, "open example.com").Return("The page title is Example Domain.", nil).Once()
	publisher := &recordingPublisher{}
	s := New("s1", agent, WithPublisher(publisher))

	entry, err := s.Submit(context.Background(), "open example.com")
	require.NoError(t, err)
	require.Equal(t, RoleAssistant, entry.Role)
	require.Equal(t, "The page title is Example Domain.", entry.Content)

	transcript := s.Transcript()
	require.Len(t, transcript, 2)
	require.Equal(t, Entry{Role: RoleUser, Content: "open example.com", CreatedAt: transcript[0].CreatedAt}, transcript[0])
	require.Equal(t, entry, transcript[1])
	require.Equal(t, StateIdle, s.State())

	require.Equal(t, []string{events.TypeMessageAdded, events.TypeMessageAdded, events.TypeAgentCompleted}, publisher.types())
	for i, event := range publisher.events {
		require.Equal(t, "s1", event.SessionID)
		require.Equal(t, int64(i+1), event.Seq)
		require.NotEmpty(t, event.TraceID)
		require.Equal(t, publisher.events[0].TraceID, event.TraceID)
	}
	agent.AssertExpectations(t)
}

func TestSubmitEmptyReplyIsAcknowledged(t *testing.T) {
	agent := &mockAgent{}
	agent.On("Run", mock.Anything, "do it").Return("  ", nil)
	s := New("s1", agent)

	entry, err := s.Submit(context.Background(), "do it")
	require.NoError(t, err)
	require.Equal(t, CompletedAck, entry.Content)
}

func TestSubmitEmptyInput(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t"} {
		agent := &mockAgent{}
		publisher := &recordingPublisher{}
		s := New("s1", agent, WithPublisher(publisher))

		_, err := s.Submit(context.Background(), text)
		require.ErrorIs(t, err, ErrEmptyInput)
		require.Empty(t, s.Transcript())
		require.Empty(t, publisher.types())
		agent.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
	}
}

func TestSubmitWhilePendingIsRejected(t *testing.T) {
	defer goleak.VerifyNone(t)

	started := make(chan struct{})
	release := make(chan struct{})
	agent := &mockAgent{}
	agent.On("Run", mock.Anything, "first").
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return("first done", nil).Once()
	s := New("s1", agent)

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), "first")
		done <- err
	}()
	<-started
	require.Equal(t, StatePending, s.State())

	_, err := s.Submit(context.Background(), "second")
	require.ErrorIs(t, err, ErrBusy)
	require.Len(t, s.Transcript(), 1)

	close(release)
	require.NoError(t, <-done)
	require.Equal(t, StateIdle, s.State())
	require.Len(t, s.Transcript(), 2)
	agent.AssertNumberOfCalls(t, "Run", 1)
}

func TestSubmitAgentFailure(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	agent := &mockAgent{}
	agent.On("Run", mock.Anything, "book a flight").Return("", errors.New("browser crashed")).Once()
	publisher := &recordingPublisher{}
	s := New("s1", agent, WithLogger(zap.New(core)), WithPublisher(publisher))

	_, err := s.Submit(context.Background(), "book a flight")
	var invocationErr *AgentInvocationError
	require.ErrorAs(t, err, &invocationErr)
	require.Equal(t, "s1", invocationErr.SessionID)
	require.EqualError(t, invocationErr.Err, "browser crashed")

	transcript := s.Transcript()
	require.Len(t, transcript, 1)
	require.Equal(t, RoleUser, transcript[0].Role)
	require.Equal(t, StateIdle, s.State())
	require.Equal(t, []string{events.TypeMessageAdded, events.TypeAgentFailed}, publisher.types())

	entries := logs.FilterMessage("agent invocation failed").All()
	require.Len(t, entries, 1)
	require.Equal(t, "s1", entries[0].ContextMap()["session_id"])
	require.Equal(t, "browser crashed", entries[0].ContextMap()["error"])

	agent.On("Run", mock.Anything, "try again").Return("ok", nil).Once()
	_, err = s.Submit(context.Background(), "try again")
	require.NoError(t, err)
	require.Len(t, s.Transcript(), 3)
}

func TestSubmitTimeout(t *testing.T) {
	agent := &mockAgent{}
	agent.On("Run", mock.Anything, "slow").
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return("", context.DeadlineExceeded)
	s := New("s1", agent, WithTimeout(10*time.Millisecond))

	_, err := s.Submit(context.Background(), "slow")
	var invocationErr *AgentInvocationError
	require.ErrorAs(t, err, &invocationErr)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Contains(t, err.Error(), "did not reply within 10ms")
	require.Len(t, s.Transcript(), 1)
}

func TestReset(t *testing.T) {
	agent := &mockAgent{}
	agent.On("Run", mock.Anything, mock.Anything).Return("reply", nil)
	publisher := &recordingPublisher{}
	s := New("s1", agent, WithPublisher(publisher))

	_, err := s.Submit(context.Background(), "hello")
	require.NoError(t, err)
	s.Reset()
	require.Empty(t, s.Transcript())
	require.Equal(t, events.TypeTranscriptReset, publisher.types()[len(publisher.types())-1])

	_, err = s.Submit(context.Background(), "again")
	require.NoError(t, err)
	require.Len(t, s.Transcript(), 2)
}

func TestResetWhilePendingKeepsLateReply(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	agent := &mockAgent{}
	agent.On("Run", mock.Anything, "long task").
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return("late reply", nil)
	s := New("s1", agent)

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), "long task")
		done <- err
	}()
	<-started
	s.Reset()
	require.Empty(t, s.Transcript())

	close(release)
	require.NoError(t, <-done)
	transcript := s.Transcript()
	require.Len(t, transcript, 1)
	require.Equal(t, "late reply", transcript[0].Content)
}

func TestSubmitRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.MustNewMetrics(reg)
	agent := &mockAgent{}
	agent.On("Run", mock.Anything, "ok").Return("done", nil)
	agent.On("Run", mock.Anything, "fail").Return("", errors.New("nope"))
	s := New("s1", agent, WithMetrics(metrics))

	_, _ = s.Submit(context.Background(), "ok")
	_, _ = s.Submit(context.Background(), "fail")
	_, _ = s.Submit(context.Background(), " ")

	families, err := reg.Gather()
	require.NoError(t, err)
	found := map[string]float64{}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			if metric.GetCounter() == nil {
				continue
			}
			label := ""
			if len(metric.GetLabel()) > 0 {
				label = metric.GetLabel()[0].GetValue()
			}
			found[family.GetName()+"/"+label] = metric.GetCounter().GetValue()
		}
	}
	require.Equal(t, 1.0, found["agent_console_session_agent_invocations_total/completed"])
	require.Equal(t, 1.0, found["agent_console_session_agent_invocations_total/failed"])
	require.Equal(t, 1.0, found["agent_console_session_rejected_submissions_total/empty"])
}

func TestSessionsRunIndependently(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	blocking := &mockAgent{}
	blocking.On("Run", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return("slow", nil)
	quick := &mockAgent{}
	quick.On("Run", mock.Anything, mock.Anything).Return("fast", nil)

	slow := New("slow", blocking)
	fast := New("fast", quick)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = slow.Submit(context.Background(), "wait")
	}()
	require.Eventually(t, func() bool { return slow.State() == StatePending }, time.Second, time.Millisecond)

	entry, err := fast.Submit(context.Background(), "go")
	require.NoError(t, err)
	require.Equal(t, "fast", entry.Content)

	close(release)
	<-done
}
