package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rugwirobaker/ember/internal/command"
	"github.com/rugwirobaker/ember/internal/config"
	"github.com/rugwirobaker/ember/internal/flag"
	"github.com/rugwirobaker/ember/internal/iostreams"
	"github.com/rugwirobaker/ember/internal/render"
	"github.com/spf13/cobra"
)

func NewConfigCommand() *cobra.Command {
	const (
		long  = "Inspects and creates ember configuration files"
		short = "Manages configuration"
	)

	cmd := command.New("config", short, long, nil)

	cmd.AddCommand(
		newConfigInitCommand(),
		newConfigShowCommand(),
		newConfigDiffCommand(),
	)
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	const (
		long  = "Creates a default configuration file at the specified path"
		short = "Creates configuration file"
	)

	cmd := command.New("init", short, long, runConfigInit)
	cmd.Args = cobra.NoArgs

	flag.Add(cmd,
		flag.String{
			Name:        "path",
			Shorthand:   "p",
			Description: "The path to write the configuration file",
			Default:     config.DefaultPath(),
		},
		flag.Bool{
			Name:        "force",
			Description: "Overwrite an existing file",
		},
	)
	return cmd
}

func runConfigInit(ctx context.Context) (err error) {
	var path = flag.GetString(ctx, "path")

	flags := os.O_CREATE | os.O_WRONLY | os.O_EXCL
	if flag.GetBool(ctx, "force") {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("could not create configuration directory: %w", err)
	}

	file, err := os.OpenFile(path, flags, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%s already exists; pass --force to overwrite", path)
	}
	if err != nil {
		return fmt.Errorf("could not create configuration file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()

	if err := config.Default().Write(file); err != nil {
		return fmt.Errorf("could not write configuration file: %w", err)
	}
	fmt.Fprintf(iostreams.FromContext(ctx).ErrOut, "Wrote %s\n", path)
	return nil
}

func newConfigShowCommand() *cobra.Command {
	const (
		long  = "Prints the effective configuration after applying the file, the environment and flags"
		short = "Prints effective configuration"
	)

	cmd := command.New("show", short, long, runConfigShow)
	cmd.Args = cobra.NoArgs

	flag.Add(cmd, commonFlags())
	return cmd
}

func runConfigShow(ctx context.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	return cfg.Write(iostreams.FromContext(ctx).Out)
}

func newConfigDiffCommand() *cobra.Command {
	const (
		long  = "Shows how the effective configuration differs from the defaults"
		short = "Diffs configuration against defaults"
	)

	cmd := command.New("diff", short, long, runConfigDiff)
	cmd.Args = cobra.NoArgs

	flag.Add(cmd, commonFlags())
	return cmd
}

func runConfigDiff(ctx context.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	var want, got bytes.Buffer
	if err := config.Default().Write(&want); err != nil {
		return err
	}
	if err := cfg.Write(&got); err != nil {
		return err
	}

	out := iostreams.FromContext(ctx).Out
	diff := render.PrettyDiff(want.String(), got.String())
	if diff == "" {
		fmt.Fprintln(out, "Configuration matches the defaults.")
		return nil
	}
	fmt.Fprint(out, diff)
	return nil
}
