package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattjoyce/bridgeq/internal/dispatch"
)

const (
	ProcCreateQueueItem   = "CreateQueueItem"
	ProcGetQueueItemTrace = "GetQueueItemTrace"
)

// SubmitFunc returns a dispatch.SubmitFunc that creates a queue item on the
// remote API.
func (c *Client) SubmitFunc() dispatch.SubmitFunc {
	return func(ctx context.Context, data dispatch.Data) (dispatch.SubmitResult, error) {
		params := map[string]any{
			"teamName":     data.Team,
			"machineName":  data.Machine,
			"bridgeName":   data.Bridge,
			"vaultContent": data.Vault,
			"priority":     data.Priority,
		}
		resp, err := c.Call(ctx, ProcCreateQueueItem, params)
		if err != nil {
			return dispatch.SubmitResult{}, err
		}

		row := resp.Row(1, 0)
		taskID := row.String("taskId")
		if taskID == "" {
			c.logger.Warn("queue item created without task id", "bridge", data.Bridge, "machine", data.Machine)
		}
		return dispatch.SubmitResult{TaskID: taskID, IsQueued: taskID != ""}, nil
	}
}

// TaskStatus implements dispatch.TaskLookup using the queue item trace.
// Remote statuses outside the terminal set map to dispatch.StatusSubmitted.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (dispatch.Status, error) {
	resp, err := c.Call(ctx, ProcGetQueueItemTrace, map[string]any{"taskId": taskID})
	if errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("task %s: %w", taskID, dispatch.ErrTaskNotFound)
	}
	if err != nil {
		return "", err
	}

	row := resp.Row(1, 0)
	if row == nil {
		return "", fmt.Errorf("task %s: %w", taskID, dispatch.ErrTaskNotFound)
	}
	if row.Bool("permanentlyFailed") {
		return dispatch.StatusFailed, nil
	}
	return remoteStatus(row.String("status")), nil
}

func remoteStatus(s string) dispatch.Status {
	if st := dispatch.ParseStatus(s); st.Terminal() {
		return st
	}
	return dispatch.StatusSubmitted
}
