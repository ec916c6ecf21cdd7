// Package telemetry provides OpenTelemetry initialization and helpers
// for distributed tracing across the Argus services.
//
// The package configures OTLP HTTP export for traces and logs, with
// support for Grafana Cloud and local Tempo backends.
package telemetry
