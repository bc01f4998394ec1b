package iostreams

import "context"

type contextKey struct{}

// NewContext derives a context that carries io.
func NewContext(ctx context.Context, io *IOStreams) context.Context {
	return context.WithValue(ctx, contextKey{}, io)
}

// FromContext returns the IOStreams ctx carries, or the process streams when
// it carries none.
func FromContext(ctx context.Context) *IOStreams {
	if io, ok := ctx.Value(contextKey{}).(*IOStreams); ok {
		return io
	}
	return System()
}
