package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rugwirobaker/ember/internal/command"
	"github.com/rugwirobaker/ember/internal/flag"
	"github.com/rugwirobaker/ember/internal/logging"
	"github.com/rugwirobaker/ember/internal/relay"
	"github.com/rugwirobaker/ember/internal/server"
	"github.com/spf13/cobra"
)

func NewProxyCommand() *cobra.Command {
	const (
		longDesc = `Listens on a local address and forwards every store operation to an
upstream ember server. Use it to give a sandbox or a microVM guest access to
the store without exposing the server's socket, e.g.

  ember proxy --listen vsock:10100 --socket unix:/run/user/1000/ember.sock`
		shortDesc = "Forwards store operations to another ember server"
	)
	cmd := command.New("proxy", shortDesc, longDesc, runProxy)

	flag.Add(cmd,
		commonFlags(),
		flag.String{
			Name:        "listen",
			Shorthand:   "l",
			Description: "Address to listen on (unix:/path or vsock:PORT)",
		},
		flag.Bool{
			Name:        "read-only",
			Description: "Refuse operations that change the store",
		},
	)

	return cmd
}

func runProxy(ctx context.Context) error {
	listen := flag.GetString(ctx, "listen")
	if listen == "" {
		return fmt.Errorf("--listen is required")
	}

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	closer, err := logging.Configure(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to configure logger: %w", err)
	}
	defer closer.Close()
	logger := slog.Default()

	dial, err := relay.ParseDialer(cfg.SocketPath)
	if err != nil {
		return err
	}
	upstream, err := relay.NewClient(dial, relay.ClientConfig{
		Timeout: cfg.Relay.Timeout,
		Retries: cfg.Relay.Retries,
	}, logger)
	if err != nil {
		return err
	}
	defer upstream.Close()

	readOnly := flag.GetBool(ctx, "read-only")
	rs := relay.NewServer(relay.ServerConfig{
		Version:        version,
		RequireSameUID: cfg.Relay.RequireSameUID,
	}, logger)
	relay.Forward(rs, upstream, readOnly, logger)

	mode, err := cfg.Mode()
	if err != nil {
		return err
	}
	ls, err := server.Listen(listen, mode)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	logger.Info("Proxying store operations",
		"listen", listen,
		"upstream", cfg.SocketPath,
		"read_only", readOnly,
	)
	return server.Serve(ctx, ls, rs, logger)
}
