// Package requestctx carries per-request values shared by middleware, handlers and services.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	traceKey
	actorKey
	actorSlotKey
)

var nop = zap.NewNop()

// TraceInfo is the trace metadata resolved for the current request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// WithLogger returns a context carrying logger. A nil logger stores the shared no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = nop
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger returns the request logger or the shared no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok && logger != nil {
			return logger
		}
	}
	return nop
}

// NoopLogger is the logger Logger falls back to.
func NoopLogger() *zap.Logger { return nop }

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceKey, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey).(TraceInfo)
	return info, ok
}

// TraceID returns the current trace id or "".
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

type actorSlot struct{ id string }

// TrackActor lets an outer middleware observe an actor recorded further down the chain.
func TrackActor(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorSlotKey, &actorSlot{})
}

// WithActor records the id of the staff member acting on the request.
func WithActor(ctx context.Context, actorID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if slot, ok := ctx.Value(actorSlotKey).(*actorSlot); ok {
		slot.id = actorID
	}
	return context.WithValue(ctx, actorKey, actorID)
}

// Actor returns the acting staff id recorded by WithActor.
func Actor(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if actor, ok := ctx.Value(actorKey).(string); ok {
		return actor
	}
	if slot, ok := ctx.Value(actorSlotKey).(*actorSlot); ok {
		return slot.id
	}
	return ""
}
