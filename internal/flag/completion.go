package flag

import (
	"context"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
)

// CompletionFunc suggests values for a flag given the partial input.
type CompletionFunc func(ctx context.Context, cmd *cobra.Command, args []string, partial string) ([]string, error)

// Values completes from a fixed set of values.
func Values(values ...string) CompletionFunc {
	return func(context.Context, *cobra.Command, []string, string) ([]string, error) {
		return values, nil
	}
}

// Adapt turns fn into a cobra completion func. Suggestions that do not
// start with the partial input are dropped.
func Adapt(fn CompletionFunc) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, partial string) (ideas []string, code cobra.ShellCompDirective) {
		var err error
		defer func() {
			if code == cobra.ShellCompDirectiveError {
				slog.Debug("completion error", "error", err)
			}
		}()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx = NewContext(ctx, cmd.Flags())

		res, err := fn(ctx, cmd, args, partial)
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
		for _, r := range res {
			if strings.HasPrefix(r, partial) {
				ideas = append(ideas, r)
			}
		}
		return ideas, cobra.ShellCompDirectiveNoFileComp
	}
}
