// Package otel binds engine metrics to OpenTelemetry observable instruments.
//
// [NewExporter] registers an Int64ObservableCounter per counter, an
// Int64ObservableGauge per histogram bucket and a Float64ObservableGauge per
// permission cache gauge. A single callback reads the engine on each
// collection cycle. Callers own the MeterProvider.
package otel
