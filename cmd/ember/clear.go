package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rugwirobaker/ember/internal/command"
	"github.com/rugwirobaker/ember/internal/flag"
	"github.com/rugwirobaker/ember/internal/iostreams"
	"github.com/rugwirobaker/ember/internal/render"
	"github.com/spf13/cobra"
)

func NewClearCommand() *cobra.Command {
	const (
		long = `Wipes every secret held by the server, e.g. on logout or lock. With
--session only the session store is wiped.`
		short = "Wipes all secrets"
	)

	cmd := command.New("clear", short, long, runClear)
	cmd.Args = cobra.NoArgs

	flag.Add(cmd,
		commonFlags(),
		flag.Session(),
		flag.Yes(),
	)
	return cmd
}

func runClear(ctx context.Context) error {
	if !flag.GetYes(ctx) {
		what := "every secret"
		if flag.GetBool(ctx, "session") {
			what = "the session store"
		}
		ok, err := render.Confirmf(ctx, "Wipe %s?", what)
		if errors.Is(err, render.ErrNonInteractive) {
			return fmt.Errorf("refusing to clear without confirmation; pass --yes")
		}
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	st, release, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer release()

	if err := st.Clear(ctx); err != nil {
		return err
	}
	fmt.Fprintln(iostreams.FromContext(ctx).ErrOut, "Cleared.")
	return nil
}
