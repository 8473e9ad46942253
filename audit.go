package goAuthz

import (
	"io"
	"log/slog"

	internalaudit "github.com/MrEthical07/goAuthz/internal/audit"
)

type (
	// AuditEvent is one security-relevant record.
	AuditEvent = internalaudit.Event
	// AuditSink receives audit events from the dispatcher goroutine.
	AuditSink        = internalaudit.Sink
	NoOpSink         = internalaudit.NoOpSink
	ChannelSink      = internalaudit.ChannelSink
	JSONWriterSink   = internalaudit.JSONWriterSink
	SlogSink         = internalaudit.SlogSink
	auditDispatcher  = internalaudit.Dispatcher
	auditDispatchCfg = internalaudit.Config
)

// NewChannelSink returns a sink that forwards events to a buffered channel.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink that writes one JSON object per line.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewSlogSink returns a sink that logs through logger, or slog.Default when nil.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink, logger *slog.Logger) *auditDispatcher {
	return internalaudit.NewDispatcher(auditDispatchCfg{
		Enabled:    cfg.Enabled,
		BufferSize: cfg.BufferSize,
		DropIfFull: cfg.DropIfFull,
	}, sink, logger)
}
