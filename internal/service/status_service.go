package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// healthCheckTimeout bounds each component probe so one hung dependency
// cannot stall the whole status report.
const healthCheckTimeout = 5 * time.Second

// Counter reports the size of a mirrored collection.
type Counter interface {
	Count(ctx context.Context) (int64, error)
}

// HealthCheck probes one component's connectivity.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Status is a point-in-time report over the mirror and its dependencies.
type Status struct {
	Events     int64
	Markets    int64
	Components map[string]string // component name -> "ok" or the error text
}

// StatusService aggregates mirror counts and component health for the
// /status command.
type StatusService struct {
	events  Counter
	markets Counter
	checks  []HealthCheck
	logger  *slog.Logger
}

// NewStatusService creates a StatusService over the given counters and
// health checks.
func NewStatusService(events, markets Counter, checks []HealthCheck, logger *slog.Logger) *StatusService {
	return &StatusService{
		events:  events,
		markets: markets,
		checks:  checks,
		logger:  logger.With(slog.String("component", "status_service")),
	}
}

// Report gathers counts and runs every health check. Probe failures are
// reported per component, not returned as errors.
func (s *StatusService) Report(ctx context.Context) (Status, error) {
	status := Status{Components: make(map[string]string, len(s.checks))}

	var err error
	status.Events, err = s.events.Count(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("status_service: count events: %w", err)
	}
	status.Markets, err = s.markets.Count(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("status_service: count markets: %w", err)
	}

	for _, check := range s.checks {
		checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		if checkErr := check.Check(checkCtx); checkErr != nil {
			status.Components[check.Name] = checkErr.Error()
			s.logger.WarnContext(ctx, "health check failed",
				slog.String("check", check.Name),
				slog.String("error", checkErr.Error()),
			)
		} else {
			status.Components[check.Name] = "ok"
		}
		cancel()
	}

	return status, nil
}

// Healthy reports whether every component probe passed.
func (st Status) Healthy() bool {
	for _, v := range st.Components {
		if v != "ok" {
			return false
		}
	}
	return true
}
