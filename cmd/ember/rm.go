package main

import (
	"context"

	"github.com/rugwirobaker/ember/internal/command"
	"github.com/rugwirobaker/ember/internal/flag"
	"github.com/spf13/cobra"
)

func NewRemoveCommand() *cobra.Command {
	const (
		long  = "Removes the value stored for ACCOUNT and KEY"
		short = "Removes a secret"
	)

	cmd := command.New("rm ACCOUNT KEY", short, long, runRemove)
	cmd.Args = cobra.ExactArgs(2)
	cmd.Aliases = []string{"remove"}

	flag.Add(cmd,
		commonFlags(),
		flag.Session(),
	)
	return cmd
}

func runRemove(ctx context.Context) error {
	args := flag.Args(ctx)

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	st, release, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer release()

	return st.Remove(ctx, args[0], args[1])
}
