package gatekeep

import (
	"context"
	"io"
	"log/slog"

	internalaudit "github.com/MrEthical07/gatekeep/internal/audit"
)

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per event.
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink logs events through a *slog.Logger.
type SlogSink = internalaudit.SlogSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewSlogSink creates a [SlogSink].
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}

func (e *Engine) emitAudit(ctx context.Context, event AuditEvent, err error) {
	if e == nil || e.audit == nil {
		return
	}
	if event.ClientKey == "" {
		event.ClientKey = clientIPFromContext(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestIDFromContext(ctx)
	}
	if err != nil {
		event.Error = KindOf(err).String()
	}
	e.audit.Emit(ctx, event)
}

// logSecurity records a rejected operation. The specific kind goes to the
// log; clients only ever see PublicMessage.
func (e *Engine) logSecurity(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	kind := KindOf(err)
	level := slog.LevelInfo
	switch kind {
	case KindReplayDetected, KindRevoked, KindInvalidSignature, KindForbidden, KindRateLimited:
		level = slog.LevelWarn
	case KindUnavailable, KindInternal:
		level = slog.LevelError
	}
	base := []slog.Attr{
		slog.String("kind", kind.String()),
		slog.String("error", err.Error()),
	}
	if id := requestIDFromContext(ctx); id != "" {
		base = append(base, slog.String("request_id", id))
	}
	e.logger.LogAttrs(ctx, level, msg, append(base, attrs...)...)
}

// redactToken keeps the first 8 characters of a token for log correlation.
func redactToken(tok string) slog.Attr {
	return slog.String("token", internalaudit.Redact(tok))
}
