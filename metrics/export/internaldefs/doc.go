// Package internaldefs exposes stable metric names shared by exporter
// implementations.
//
// Counter, histogram and gauge definitions live here so that the Prometheus
// and OTel exporters publish identical names and bucket boundaries.
package internaldefs
