package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/Keyring-Network/keyring-gavryn/agent-console/internal/llm"
)

const RunAgentActivity = "RunAgent"

type AgentInput struct {
	SessionID string
	Prompt    string
	History   []llm.Message
}

type AgentResult struct {
	Reply string
}

// AgentWorkflow executes one agent turn. Agent calls have side effects in
// the browser and sandbox, so the activity is never retried.
func AgentWorkflow(ctx workflow.Context, input AgentInput) (AgentResult, error) {
	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 20 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)
	logger := workflow.GetLogger(ctx)

	var result AgentResult
	if err := workflow.ExecuteActivity(ctx, RunAgentActivity, input).Get(ctx, &result); err != nil {
		logger.Error("agent activity failed", "session_id", input.SessionID, "error", err)
		return AgentResult{}, err
	}
	logger.Info("agent activity completed", "session_id", input.SessionID)
	return result, nil
}
