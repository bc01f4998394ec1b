package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rugwirobaker/ember/internal/command"
	"github.com/rugwirobaker/ember/internal/flag"
	"github.com/rugwirobaker/ember/internal/logging"
	"github.com/rugwirobaker/ember/internal/server"
	"github.com/spf13/cobra"
)

func NewServerCommand() *cobra.Command {
	const (
		longDesc  = "Runs the authoritative store. Secrets live only in this process's memory and are wiped when they expire, when the store sits idle, or when the server exits."
		shortDesc = "Starts the ember server"
	)
	cmd := command.New("server", shortDesc, longDesc, runServer)

	flag.Add(cmd,
		commonFlags(),
		flag.Duration{
			Name:        "ttl",
			Description: "Default lifetime of a secret",
			EnvName:     "EMBER_TTL",
		},
		flag.Duration{
			Name:        "idle-timeout",
			Description: "Wipe every secret after this long without use",
			EnvName:     "EMBER_IDLE_TIMEOUT",
		},
		flag.String{
			Name:        "audit-path",
			Description: "Path of the audit database",
			EnvName:     "EMBER_AUDIT_PATH",
		},
		flag.LogFormat(),
		flag.String{
			Name:        "log-path",
			Description: "Write logs to this file instead of stderr",
		},
	)

	return cmd
}

func runServer(ctx context.Context) error {
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
	logger.Info("Starting ember",
		"version", version,
		"socket_path", cfg.SocketPath,
		"ttl", cfg.Store.TTL,
		"idle_timeout", cfg.Store.IdleTimeout,
	)

	srv, err := server.New(cfg, version, logger)
	if err != nil {
		return err
	}

	mode, err := cfg.Mode()
	if err != nil {
		return err
	}
	ls, err := server.Listen(cfg.SocketPath, mode)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}

	return srv.Run(ctx, ls)
}
