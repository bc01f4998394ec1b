package flag

import (
	"context"
	"time"

	"github.com/spf13/pflag"
)

type contextKey struct{}

// NewContext derives a context that carries fs.
func NewContext(ctx context.Context, fs *pflag.FlagSet) context.Context {
	return context.WithValue(ctx, contextKey{}, fs)
}

// FromContext returns the FlagSet ctx carries. It panics if there is none.
func FromContext(ctx context.Context) *pflag.FlagSet {
	return ctx.Value(contextKey{}).(*pflag.FlagSet)
}

// Args returns the non-flag arguments.
func Args(ctx context.Context) []string {
	return FromContext(ctx).Args()
}

// FirstArg returns the first non-flag argument, or an empty string.
func FirstArg(ctx context.Context) string {
	if args := Args(ctx); len(args) > 0 {
		return args[0]
	}
	return ""
}

// IsSet reports whether the named flag was given on the command line.
func IsSet(ctx context.Context, name string) bool {
	f := FromContext(ctx).Lookup(name)
	return f != nil && f.Changed
}

// GetString returns the value of the named string flag, or "" when it is
// not defined.
func GetString(ctx context.Context, name string) string {
	v, err := FromContext(ctx).GetString(name)
	if err != nil {
		return ""
	}
	return v
}

// GetInt returns the value of the named int flag.
func GetInt(ctx context.Context, name string) int {
	v, err := FromContext(ctx).GetInt(name)
	if err != nil {
		return 0
	}
	return v
}

// GetBool returns the value of the named bool flag.
func GetBool(ctx context.Context, name string) bool {
	v, err := FromContext(ctx).GetBool(name)
	if err != nil {
		return false
	}
	return v
}

// GetDuration returns the value of the named duration flag.
func GetDuration(ctx context.Context, name string) time.Duration {
	v, err := FromContext(ctx).GetDuration(name)
	if err != nil {
		return 0
	}
	return v
}

// GetYes reports whether confirmations were accepted up front.
func GetYes(ctx context.Context) bool {
	return GetBool(ctx, "yes") || GetBool(ctx, "auto-confirm")
}
