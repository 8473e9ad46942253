// Package prometheus exposes engine metrics as a prometheus.Collector.
//
// [NewExporter] binds to an [goAuthz.Engine]; register the result on any
// prometheus.Registerer, or call [Exporter.Handler] for a self-contained
// /metrics endpoint. Counter names are goauthz_*_total; latency histograms
// end in _seconds; permission cache state is reported as gauges.
//
// The exporter never registers with the global default registry and never
// mutates engine state.
package prometheus
