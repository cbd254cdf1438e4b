package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/ShayCichocki/herd/pkg/models"
)

// runSequential executes the task set one at a time. It is the
// degraded path taken when workspace provisioning fails for the
// majority of tasks: each task still gets its own isolated workspace,
// but provisioning and execution are retried strictly in order so a
// transient resource shortage (disk, worktree capacity) can drain
// between tasks. An existing workspace from the failed parallel
// attempt is reused iff it is clean; a dirty one fails the task and is
// preserved for inspection.
func (c *Coordinator) runSequential(ctx context.Context, tasks []models.TaskSpec, orchID string, started time.Time) (*models.OrchestrationResult, error) {
	var taskResults []models.TaskResult

	for _, task := range tasks {
		if ctx.Err() != nil {
			now := time.Now()
			taskResults = append(taskResults, models.TaskResult{
				TaskID:      task.ID,
				Success:     false,
				Error:       "orchestration canceled",
				StartedAt:   now,
				CompletedAt: now,
			})
			continue
		}

		c.logger.Log("[%s] sequential: task %s", orchID, task.ID)
		rec, err := c.workspaceFor(task)
		if err != nil {
			now := time.Now()
			taskResults = append(taskResults, models.TaskResult{
				TaskID:      task.ID,
				Success:     false,
				Error:       fmt.Sprintf("workspace setup: %v", err),
				StartedAt:   now,
				CompletedAt: now,
			})
			continue
		}
		taskResults = append(taskResults, c.executeTask(ctx, task, rec))
	}

	summary := "degraded to sequential execution after majority workspace provisioning failure"
	result := c.finish(orchID, started, tasks, taskResults, true, summary)
	return result, nil
}
