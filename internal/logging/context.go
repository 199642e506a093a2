package logging

import "context"

type ctxArgsKey struct{}

// ContextWith returns a context carrying key-value pairs that every logger
// call made with it includes, e.g. the snapshot a push is uploading.
func ContextWith(ctx context.Context, args ...any) context.Context {
	prev, _ := ctx.Value(ctxArgsKey{}).([]any)
	merged := make([]any, 0, len(prev)+len(args))
	merged = append(merged, prev...)
	merged = append(merged, args...)
	return context.WithValue(ctx, ctxArgsKey{}, merged)
}

func withContextArgs(ctx context.Context, args []any) []any {
	if ctx == nil {
		return args
	}
	carried, _ := ctx.Value(ctxArgsKey{}).([]any)
	if len(carried) == 0 {
		return args
	}
	out := make([]any, 0, len(carried)+len(args))
	out = append(out, carried...)
	return append(out, args...)
}
