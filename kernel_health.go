package magkernel

import (
	"context"
	"fmt"
	"time"

	"github.com/GoCodeAlone/magkernel/health"
	"github.com/GoCodeAlone/magkernel/lifecycle"
)

// Health collects a report from every component and aggregates them.
//
// A running component that reports a critical status is marked degraded; a
// degraded component that reports healthy again is marked running. Components
// without a HealthReporter are judged by their lifecycle state alone.
//
// Health does not wait for BootAll, StartAll or the other lifecycle walks, so
// a reporter may be called while its component is booting or shutting down.
func (k *Kernel) Health(ctx context.Context) health.Aggregated {
	components := k.registry.All()
	reports := make([]health.Report, 0, len(components))
	changed := false

	for _, c := range components {
		name := c.Name()
		current := k.ComponentState(name)
		report := k.componentReport(ctx, c, current)

		switch {
		case current == lifecycle.StateRunning && report.Status.Critical():
			if k.transition(ctx, c, change{
				to:     lifecycle.StateDegraded,
				phase:  lifecycle.PhaseHealth,
				event:  lifecycle.EventComponentDegraded,
				cause:  fmt.Errorf("health %s: %s", report.Status, report.Message),
				expect: lifecycle.StateRunning,
			}) {
				k.logger.Warn("Component degraded", "component", name, "status", report.Status, "message", report.Message)
				current = lifecycle.StateDegraded
				changed = true
			}
		case current == lifecycle.StateDegraded && report.Status == health.StatusHealthy:
			if k.transition(ctx, c, change{
				to:     lifecycle.StateRunning,
				phase:  lifecycle.PhaseHealth,
				event:  lifecycle.EventComponentRecovered,
				expect: lifecycle.StateDegraded,
			}) {
				k.logger.Info("Component healthy again", "component", name)
				current = lifecycle.StateRunning
				changed = true
			}
		}

		report.State = string(current)
		reports = append(reports, report)
	}

	if changed {
		k.refreshSystemState(ctx)
	}
	return health.Aggregate(reports)
}

func (k *Kernel) componentReport(ctx context.Context, c Component, current lifecycle.State) health.Report {
	var report health.Report
	reporter, ok := c.(HealthReporter)
	if ok && current.Serving() {
		err := safeCall(func() error {
			report = reporter.Health(ctx)
			return nil
		})
		if err != nil {
			report = health.Unhealthy(err.Error())
		}
	} else {
		report = health.Report{Status: stateStatus(current), Message: "lifecycle state " + string(current)}
	}

	if current == lifecycle.StateFailed {
		report.Status = health.Worst(report.Status, health.StatusUnhealthy)
	}
	report.Component = c.Name()
	report.Optional = isOptional(c)
	if report.CheckedAt.IsZero() {
		report.CheckedAt = time.Now()
	}
	return report
}

func stateStatus(s lifecycle.State) health.Status {
	switch s {
	case lifecycle.StateRunning:
		return health.StatusHealthy
	case lifecycle.StateDegraded:
		return health.StatusDegraded
	case lifecycle.StateFailed:
		return health.StatusUnhealthy
	default:
		return health.StatusUnknown
	}
}
