package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rugwirobaker/ember/internal/command"
	"github.com/rugwirobaker/ember/internal/flag"
	"github.com/rugwirobaker/ember/internal/iostreams"
	"github.com/rugwirobaker/ember/internal/render"
	"github.com/spf13/cobra"
)

func NewSetCommand() *cobra.Command {
	const (
		long = `Stores a value for ACCOUNT and KEY. The value is read from stdin when it
is not a terminal and prompted for otherwise; it is never taken from the
command line.`
		short = "Stores a secret"
	)

	cmd := command.New("set ACCOUNT KEY", short, long, runSet)
	cmd.Args = cobra.ExactArgs(2)

	flag.Add(cmd,
		commonFlags(),
		flag.Session(),
		flag.Duration{
			Name:        "ttl",
			Description: "Lifetime of this value; defaults to the server's TTL",
		},
		flag.String{
			Name:        "expires-at",
			Description: "Absolute expiry in RFC 3339 format",
		},
	)
	return cmd
}

func runSet(ctx context.Context) error {
	args := flag.Args(ctx)
	account, key := args[0], args[1]

	expiresAt, err := expiryFromFlags(ctx, time.Now())
	if err != nil {
		return err
	}

	value, err := readValue(ctx)
	if err != nil {
		return err
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

	return st.Set(ctx, account, key, value, expiresAt)
}

// expiryFromFlags turns --ttl or --expires-at into an absolute time. Zero
// means the server default.
func expiryFromFlags(ctx context.Context, now time.Time) (time.Time, error) {
	ttlSet := flag.IsSet(ctx, "ttl")
	at := flag.GetString(ctx, "expires-at")

	switch {
	case ttlSet && at != "":
		return time.Time{}, errors.New("--ttl and --expires-at are mutually exclusive")
	case ttlSet:
		ttl := flag.GetDuration(ctx, "ttl")
		if ttl <= 0 {
			return time.Time{}, fmt.Errorf("--ttl must be positive, got %s", ttl)
		}
		return now.Add(ttl), nil
	case at != "":
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --expires-at: %w", err)
		}
		return t, nil
	default:
		return time.Time{}, nil
	}
}

func readValue(ctx context.Context) (string, error) {
	io := iostreams.FromContext(ctx)

	if io.IsStdinTTY() {
		return render.Password(ctx, "Value:")
	}

	r := bufio.NewReader(io.In)
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read value from stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
