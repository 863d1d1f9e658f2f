// Package obscontext carries correlation identifiers across request boundaries.
package obscontext

import (
	"context"
	"strings"
)

type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	customerIDKey contextKey = "customer_id"
)

// WithRequestID stores the request identifier on the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request identifier, if any.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

// WithCustomerID stores the customer identifier on the context.
func WithCustomerID(ctx context.Context, customerID string) context.Context {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return ctx
	}
	return context.WithValue(ctx, customerIDKey, customerID)
}

// CustomerIDFromContext returns the customer identifier, if any.
func CustomerIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(customerIDKey).(string)
	return value
}
