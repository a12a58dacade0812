package workflows

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"

	"github.com/samirrijal/riskgrid/internal/core/domain"
	"github.com/samirrijal/riskgrid/internal/core/ports"
)

// GridRefresher is the part of the heatmap service the activities drive.
type GridRefresher interface {
	Refresh(ctx context.Context, p domain.BuildParams) (*domain.GridUpdate, error)
	CriticalAlert(ctx context.Context, p domain.BuildParams) (*domain.CriticalAlert, error)
}

// GridActivities holds the activity implementations for GridRefreshWorkflow.
type GridActivities struct {
	Heatmap   GridRefresher
	Publisher ports.EventPublisher
}

// RefreshGrid rebuilds, publishes and announces one grid.
func (a *GridActivities) RefreshGrid(ctx context.Context, p domain.BuildParams) (*domain.GridUpdate, error) {
	update, err := a.Heatmap.Refresh(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("refresh grid r%d: %w", p.Resolution, err)
	}
	activity.GetLogger(ctx).Info("grid refreshed",
		"key", update.Key, "critical", update.Levels.Critical, "high", update.Levels.High)
	return update, nil
}

// NotifyCriticalCells publishes the critical cells of the grid and returns
// how many there were.
func (a *GridActivities) NotifyCriticalCells(ctx context.Context, p domain.BuildParams) (int, error) {
	alert, err := a.Heatmap.CriticalAlert(ctx, p)
	if err != nil {
		return 0, fmt.Errorf("collect critical cells: %w", err)
	}
	if alert.Total == 0 {
		return 0, nil
	}
	if a.Publisher == nil {
		activity.GetLogger(ctx).Warn("no publisher, critical alert dropped", "key", alert.Key, "cells", alert.Total)
		return alert.Total, nil
	}
	if err := a.Publisher.PublishCriticalAlert(ctx, alert); err != nil {
		return 0, fmt.Errorf("publish critical alert: %w", err)
	}
	return alert.Total, nil
}
