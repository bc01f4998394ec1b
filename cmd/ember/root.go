package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/rugwirobaker/ember/internal/command"
	"github.com/rugwirobaker/ember/internal/config"
	"github.com/rugwirobaker/ember/internal/flag"
	"github.com/rugwirobaker/ember/internal/logging"
	"github.com/rugwirobaker/ember/internal/relay"
	"github.com/rugwirobaker/ember/internal/secret"
	"github.com/rugwirobaker/ember/internal/store"
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	const (
		long  = "Ember keeps pass-phrases and decrypted keys in memory for a bounded time and shares them between processes"
		short = "ember is an expiring in-memory secret store"
	)

	cmd := command.New("ember", short, long, nil)
	cmd.Version = version

	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		cmd.SilenceUsage = true
		cmd.SilenceErrors = true
	}

	cmd.AddCommand(
		NewServerCommand(),
		NewProxyCommand(),
		NewGetCommand(),
		NewSetCommand(),
		NewRemoveCommand(),
		NewClearCommand(),
		NewStatusCommand(),
		NewConfigCommand(),
		NewAuditCommand(),
	)
	return cmd
}

// commonFlags are understood by every command that talks to a server.
func commonFlags() flag.Set {
	return flag.Set{
		flag.Config(config.DefaultPath()),
		flag.Socket(),
		flag.Duration{
			Name:        "timeout",
			Description: "Deadline of each request to the server",
		},
		flag.Bool{
			Name:        "debug",
			Description: "Include debug logging",
		},
	}
}

// loadConfig reads the config file, then applies the environment and
// finally the command line.
func loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load(flag.GetString(ctx, "config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.OverrideWithEnv(); err != nil {
		return nil, err
	}
	cfg.OverrideWithFlags(ctx)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// clientLogger keeps client commands quiet unless debugging.
func clientLogger(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	lc := cfg.Log
	if !lc.Debug && lc.Level == "info" {
		lc.Level = "warn"
	}
	return logging.New(lc)
}

// secretStore is the surface shared by InMemoryStore and SessionStore.
type secretStore interface {
	Get(ctx context.Context, account, key string) (string, bool, error)
	Set(ctx context.Context, account, key, value string, expiresAt time.Time) error
	Remove(ctx context.Context, account, key string) error
	Clear(ctx context.Context) error
	GetUntilAvailable(ctx context.Context, account, key string, opts ...store.WaitOption) (string, bool, error)
}

// openStore connects to the server and returns the facade selected by the
// --session flag. The returned func releases the connection.
func openStore(ctx context.Context, cfg *config.Config) (secretStore, func(), error) {
	logger, logCloser, err := clientLogger(cfg)
	if err != nil {
		return nil, nil, err
	}

	dial, err := relay.ParseDialer(cfg.SocketPath)
	if err != nil {
		logCloser.Close()
		return nil, nil, err
	}
	client, err := relay.NewClient(dial, relay.ClientConfig{
		Timeout: cfg.Relay.Timeout,
		Retries: cfg.Relay.Retries,
	}, logger)
	if err != nil {
		logCloser.Close()
		return nil, nil, err
	}
	release := func() {
		client.Close()
		logCloser.Close()
	}

	d := store.Dispatch{Role: secret.RoleRelay, Remote: client}
	wait := store.WithWait(store.Wait{Attempts: cfg.Wait.Attempts, Interval: cfg.Wait.Interval})

	var st secretStore
	if flag.GetBool(ctx, "session") {
		st, err = store.NewSessionStore(d, logger, wait)
	} else {
		st, err = store.NewInMemoryStore(d, logger, wait)
	}
	if err != nil {
		release()
		return nil, nil, err
	}
	return st, release, nil
}
