package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rugwirobaker/ember/internal/command"
	"github.com/rugwirobaker/ember/internal/flag"
	"github.com/rugwirobaker/ember/internal/iostreams"
	"github.com/rugwirobaker/ember/internal/render"
	"github.com/rugwirobaker/ember/internal/store"
	"github.com/spf13/cobra"
)

var errNotFound = errors.New("no value")

func NewGetCommand() *cobra.Command {
	const (
		long  = "Prints the value stored for ACCOUNT and KEY. Exits with status 2 when there is none."
		short = "Reads a secret"
	)

	cmd := command.New("get ACCOUNT KEY", short, long, runGet)
	cmd.Args = cobra.ExactArgs(2)

	flag.Add(cmd,
		commonFlags(),
		flag.Session(),
		flag.JSON(),
		flag.Bool{
			Name:        "wait",
			Shorthand:   "w",
			Description: "Poll until the value is available",
		},
		flag.Int{
			Name:        "attempts",
			Description: "Number of reads when waiting",
		},
		flag.Duration{
			Name:        "interval",
			Description: "Delay between reads when waiting",
		},
	)
	return cmd
}

func runGet(ctx context.Context) error {
	args := flag.Args(ctx)
	account, key := args[0], args[1]

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	st, release, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer release()

	var (
		value string
		ok    bool
	)
	if flag.GetBool(ctx, "wait") {
		var opts []store.WaitOption
		if n := flag.GetInt(ctx, "attempts"); n > 0 {
			opts = append(opts, store.Attempts(n))
		}
		if d := flag.GetDuration(ctx, "interval"); d > 0 {
			opts = append(opts, store.Interval(d))
		}
		value, ok, err = st.GetUntilAvailable(ctx, account, key, opts...)
	} else {
		value, ok, err = st.Get(ctx, account, key)
	}
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w for %s/%s", errNotFound, account, key)
	}

	io := iostreams.FromContext(ctx)
	if flag.GetBool(ctx, "json") {
		return render.JSON(io.Out, map[string]string{
			"account": account,
			"key":     key,
			"value":   value,
		})
	}
	fmt.Fprintln(io.Out, value)
	return nil
}
