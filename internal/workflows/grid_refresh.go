package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/samirrijal/riskgrid/internal/core/domain"
)

// TaskQueue is the default queue the refresh worker polls.
const TaskQueue = "grid-refresh"

// GridRefreshInput selects which grids a refresh run rebuilds.
type GridRefreshInput struct {
	Resolutions []int
	// WindowHours limits each grid to observations from the last N hours.
	// Zero means all observations.
	WindowHours int
}

// GridRefreshResult summarises one run.
type GridRefreshResult struct {
	Refreshed     int
	CriticalCells int
	Alerts        int
}

// GridRefreshWorkflow rebuilds and announces each requested grid, then
// raises an alert for every grid that contains critical cells. It is
// started on a cron schedule by the worker.
func GridRefreshWorkflow(ctx workflow.Context, input GridRefreshInput) (*GridRefreshResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting grid refresh", "resolutions", input.Resolutions, "windowHours", input.WindowHours)

	actOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: 5 * time.Second,
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, actOpts)

	resolutions := input.Resolutions
	if len(resolutions) == 0 {
		// Zero lets the service pick its configured default.
		resolutions = []int{0}
	}

	var filter domain.DateRange
	if input.WindowHours > 0 {
		now := workflow.Now(ctx).UTC()
		filter = domain.DateRange{From: now.Add(-time.Duration(input.WindowHours) * time.Hour), To: now}
	}

	result := &GridRefreshResult{}
	for _, res := range resolutions {
		params := domain.BuildParams{Resolution: res, Filter: filter}

		var update domain.GridUpdate
		if err := workflow.ExecuteActivity(ctx, "RefreshGrid", params).Get(ctx, &update); err != nil {
			return result, err
		}
		result.Refreshed++

		if update.Levels.Critical == 0 {
			continue
		}
		var critical int
		if err := workflow.ExecuteActivity(ctx, "NotifyCriticalCells", params).Get(ctx, &critical); err != nil {
			// The grid itself is published; a missed alert is retried next run.
			logger.Warn("critical cell alert failed", "key", update.Key, "error", err)
			continue
		}
		result.CriticalCells += critical
		result.Alerts++
	}

	logger.Info("Grid refresh finished", "refreshed", result.Refreshed, "alerts", result.Alerts)
	return result, nil
}
