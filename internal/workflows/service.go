package workflows

import (
	"context"
	"fmt"
	"sync"

	"go.temporal.io/sdk/client"

	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/agent"
	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/llm"
)

const DefaultTaskQueue = "agent-console"

// Agent runs each prompt as an AgentWorkflow execution and waits for the
// reply. It carries the session's conversation history between executions.
type Agent struct {
	client    client.Client
	taskQueue string
	sessionID string

	mu      sync.Mutex
	turn    int
	history []llm.Message
}

func NewAgent(client client.Client, taskQueue string, sessionID string) *Agent {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	return &Agent{client: client, taskQueue: taskQueue, sessionID: sessionID}
}

func (a *Agent) Run(ctx context.Context, prompt string) (string, error) {
	a.mu.Lock()
	a.turn++
	turn := a.turn
	history := append([]llm.Message(nil), a.history...)
	a.mu.Unlock()

	options := client.StartWorkflowOptions{
		ID:        workflowID(a.sessionID, turn),
		TaskQueue: a.taskQueue,
	}
	run, err := a.client.ExecuteWorkflow(ctx, options, AgentWorkflow, AgentInput{
		SessionID: a.sessionID,
		Prompt:    prompt,
		History:   history,
	})
	if err != nil {
		return "", fmt.Errorf("start agent workflow: %w", err)
	}

	var result AgentResult
	if err := run.Get(ctx, &result); err != nil {
		if ctx.Err() != nil {
			// The caller gave up; don't leave the execution running.
			_ = a.client.CancelWorkflow(context.Background(), run.GetID(), run.GetRunID())
		}
		return "", err
	}

	a.mu.Lock()
	a.history = agent.TrimHistory(append(a.history,
		llm.Message{Role: "user", Content: prompt},
		llm.Message{Role: "assistant", Content: result.Reply},
	))
	a.mu.Unlock()
	return result.Reply, nil
}

func (a *Agent) History() []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]llm.Message(nil), a.history...)
}

func workflowID(sessionID string, turn int) string {
	return fmt.Sprintf("session:%s:%d", sessionID, turn)
}
