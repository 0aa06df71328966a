package workflows

import (
	"context"
	"strings"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/agent"
)

type Activities struct {
	documents agent.DocumentLoader
	opts      []agent.Option
}

// NewActivities hosts the inline agent for workflow executions. opts apply
// to every agent built for a turn.
func NewActivities(documents agent.DocumentLoader, opts ...agent.Option) *Activities {
	return &Activities{documents: documents, opts: opts}
}

func (a *Activities) RunAgent(ctx context.Context, input AgentInput) (AgentResult, error) {
	if strings.TrimSpace(input.Prompt) == "" {
		return AgentResult{}, temporal.NewNonRetryableApplicationError("prompt required", "InvalidInput", nil)
	}
	opts := append(append([]agent.Option(nil), a.opts...), agent.WithHistory(input.History))
	reply, err := agent.New(a.documents, opts...).Run(ctx, input.Prompt)
	if err != nil {
		return AgentResult{}, err
	}
	activity.GetLogger(ctx).Info("agent replied", "session_id", input.SessionID, "history", len(input.History))
	return AgentResult{Reply: reply}, nil
}
