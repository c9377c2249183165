// Package requestcontext carries invocation-scoped values that every layer
// reads but only the entry point sets: the operator CLI, the outbox relay or a
// test.
//
//	ctx = requestcontext.WithInvocationID(ctx, uuid.NewString())
//	ctx = requestcontext.Pin(ctx) // one "now" for the whole action
//	at := requestcontext.Now(ctx)
package requestcontext

import (
	"context"
	"time"
)

type (
	invocationIDKey struct{}
	timeKey         struct{}
)

// InvocationID identifies the CLI run or worker pass that issued ctx. Empty
// when unset.
func InvocationID(ctx context.Context) string {
	if v, ok := ctx.Value(invocationIDKey{}).(string); ok {
		return v
	}
	return ""
}

func WithInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, invocationIDKey{}, id)
}

// Now returns the pinned time, or the wall clock when nothing is pinned.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(timeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime pins t as the time every reader of ctx sees.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, timeKey{}, t)
}

// Pin fixes the current wall-clock time on ctx unless a time is already
// pinned, so all rows written by one action share a timestamp.
func Pin(ctx context.Context) context.Context {
	if _, ok := ctx.Value(timeKey{}).(time.Time); ok {
		return ctx
	}
	return WithTime(ctx, time.Now().UTC())
}
