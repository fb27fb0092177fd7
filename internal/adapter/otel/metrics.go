package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "cellbox"

// Metrics holds all cellbox metric instruments.
type Metrics struct {
	CellsProvisioned    metric.Int64Counter
	CellsFailed         metric.Int64Counter
	StepsRun            metric.Int64Counter
	StepDuration        metric.Float64Histogram
	OrphansCleaned      metric.Int64Counter
	ServicesRestarted   metric.Int64Counter
	ContinuationPrompts metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.CellsProvisioned, err = meter.Int64Counter("cellbox.cells.provisioned",
		metric.WithDescription("Number of cells that reached ready"))
	if err != nil {
		return nil, err
	}

	m.CellsFailed, err = meter.Int64Counter("cellbox.cells.failed",
		metric.WithDescription("Number of provisioning runs that ended in error"))
	if err != nil {
		return nil, err
	}

	m.StepsRun, err = meter.Int64Counter("cellbox.steps.run",
		metric.WithDescription("Number of provisioning steps executed"))
	if err != nil {
		return nil, err
	}

	m.StepDuration, err = meter.Float64Histogram("cellbox.step.duration_seconds",
		metric.WithDescription("Provisioning step duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.OrphansCleaned, err = meter.Int64Counter("cellbox.supervisor.orphans_cleaned",
		metric.WithDescription("Number of foreign pids killed to reclaim service ports"))
	if err != nil {
		return nil, err
	}

	m.ServicesRestarted, err = meter.Int64Counter("cellbox.supervisor.services_flagged",
		metric.WithDescription("Number of services flagged for restart"))
	if err != nil {
		return nil, err
	}

	m.ContinuationPrompts, err = meter.Int64Counter("cellbox.continuation.prompts",
		metric.WithDescription("Number of continuation prompts sent to idle sessions"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
