package metrics

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	meter = otel.Meter("argus/business")

	// Run metrics
	RunsTotal   metric.Int64Counter
	RunDuration metric.Float64Histogram

	// Check metrics
	ChecksTotal   metric.Int64Counter
	CheckDuration metric.Float64Histogram

	// Finding metrics
	FindingsTotal metric.Int64Counter

	// External API metrics
	BackendCallsTotal metric.Int64Counter
	BackendDuration   metric.Float64Histogram
)

func Init() error {
	var err error

	// Run metrics
	RunsTotal, err = meter.Int64Counter(
		"assessment.runs.total",
		metric.WithDescription("Total number of compliance runs"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	RunDuration, err = meter.Float64Histogram(
		"assessment.run.duration",
		metric.WithDescription("Duration of a full compliance run"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return err
	}

	// Check metrics
	ChecksTotal, err = meter.Int64Counter(
		"assessment.checks.total",
		metric.WithDescription("Total number of guardrail checks executed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	CheckDuration, err = meter.Float64Histogram(
		"assessment.check.duration",
		metric.WithDescription("Duration of a single guardrail check"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2, 5, 10, 30, 60),
	)
	if err != nil {
		return err
	}

	// Finding metrics
	FindingsTotal, err = meter.Int64Counter(
		"assessment.findings.total",
		metric.WithDescription("Total number of compliance findings by status"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	// External API metrics
	BackendCallsTotal, err = meter.Int64Counter(
		"external.api.calls.total",
		metric.WithDescription("Total number of tenant backend API calls"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	BackendDuration, err = meter.Float64Histogram(
		"external.api.duration",
		metric.WithDescription("Duration of tenant backend API calls"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2, 5, 10, 30),
	)
	if err != nil {
		return err
	}

	return nil
}
