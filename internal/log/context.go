// SPDX-License-Identifier: MIT

package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	runIDKey    ctxKey = "run_id"
	serviceKey  ctxKey = "pipeline_service"
	unitNameKey ctxKey = "unit"
)

// ContextWithRunID stores the orchestration run ID in the context.
func ContextWithRunID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, runIDKey, id)
}

// ContextWithService stores the pipeline service name in the context.
func ContextWithService(ctx context.Context, service string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, serviceKey, service)
}

// ContextWithUnit stores the executing unit name in the context.
func ContextWithUnit(ctx context.Context, unit string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, unitNameKey, unit)
}

// RunIDFromContext extracts the run ID from context if present.
func RunIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(runIDKey).(string); ok {
		return v
	}
	return ""
}

// ServiceFromContext extracts the pipeline service name from context if present.
func ServiceFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(serviceKey).(string); ok {
		return v
	}
	return ""
}

// FromContext returns a logger annotated with every pipeline field stored in the context.
func FromContext(ctx context.Context) zerolog.Logger {
	builder := logger().With()
	if id := RunIDFromContext(ctx); id != "" {
		builder = builder.Str("run_id", id)
	}
	if svc := ServiceFromContext(ctx); svc != "" {
		builder = builder.Str("pipeline_service", svc)
	}
	if ctx != nil {
		if unit, ok := ctx.Value(unitNameKey).(string); ok && unit != "" {
			builder = builder.Str("unit", unit)
		}
	}
	return builder.Logger()
}

// WithComponentFromContext combines context fields with a component annotation.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	l := FromContext(ctx).With().Str("component", component).Logger()
	return l
}
