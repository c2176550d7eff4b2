// Package auditcontext carries request-scoped actor and correlation data
// from the transport layer down to audit logging.
package auditcontext

import (
	"context"
	"strings"
)

type actorKey struct{}
type requestIDKey struct{}
type ipAddressKey struct{}

// WithActor annotates the context with the acting user or system id.
func WithActor(ctx context.Context, actorID string) context.Context {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, actorID)
}

// ActorFromContext returns the actor id, or "system" when none was set.
func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return "system"
	}
	if v, ok := ctx.Value(actorKey{}).(string); ok && v != "" {
		return v
	}
	return "system"
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

func WithIPAddress(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, ipAddressKey{}, ip)
}

func IPAddressFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(ipAddressKey{}).(string)
	return v
}

type reportKey struct{}

// WithReport tags the context with the report an operation acts on so
// downstream logs and audit entries can be correlated.
func WithReport(ctx context.Context, reportID string) context.Context {
	reportID = strings.TrimSpace(reportID)
	if reportID == "" {
		return ctx
	}
	return context.WithValue(ctx, reportKey{}, reportID)
}

func ReportFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(reportKey{}).(string)
	return v
}
