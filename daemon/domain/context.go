package domain

import "context"

type ctxKey int

const authHeadersKey ctxKey = iota

// WithAuthHeaders attaches a session's auth headers to ctx so a downstream
// adapter serving many sessions at once (the openapi Bridge) can recover
// which session a forwarded request belongs to without the Adapter
// interface itself growing a session parameter (spec.md §4.5: invocation
// "merges tool arguments in header position with session headers").
func WithAuthHeaders(ctx context.Context, headers map[string]string) context.Context {
	return context.WithValue(ctx, authHeadersKey, headers)
}

// AuthHeadersFromContext recovers headers attached by WithAuthHeaders, or
// nil if none were attached.
func AuthHeadersFromContext(ctx context.Context) map[string]string {
	headers, _ := ctx.Value(authHeadersKey).(map[string]string)
	return headers
}
