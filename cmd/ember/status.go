package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rugwirobaker/ember/internal/command"
	"github.com/rugwirobaker/ember/internal/flag"
	"github.com/rugwirobaker/ember/internal/iostreams"
	"github.com/rugwirobaker/ember/internal/relay"
	"github.com/rugwirobaker/ember/internal/render"
	"github.com/spf13/cobra"
)

func NewStatusCommand() *cobra.Command {
	const (
		long  = "Shows whether the server is reachable and how many secrets it holds"
		short = "Shows server status"
	)

	cmd := command.New("status", short, long, runStatus)
	cmd.Args = cobra.NoArgs

	flag.Add(cmd,
		commonFlags(),
		flag.JSON(),
	)
	return cmd
}

func runStatus(ctx context.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	logger, logCloser, err := clientLogger(cfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	dial, err := relay.ParseDialer(cfg.SocketPath)
	if err != nil {
		return err
	}
	client, err := relay.NewClient(dial, relay.ClientConfig{
		Timeout: cfg.Relay.Timeout,
		Retries: -1,
	}, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	health, err := client.Health(ctx)
	if err != nil {
		return fmt.Errorf("server at %s: %w", cfg.SocketPath, err)
	}

	io := iostreams.FromContext(ctx)
	if flag.GetBool(ctx, "json") {
		return render.JSON(io.Out, health)
	}

	cols := []string{"Socket", "Status", "Version", "Uptime", "Server Time"}
	row := []string{
		cfg.SocketPath,
		health.Status,
		health.Version,
		health.Uptime,
		time.Unix(health.ServerTimeUTC, 0).UTC().Format(time.RFC3339),
	}

	names := make([]string, 0, len(health.Stats))
	for name := range health.Stats {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cols = append(cols, name)
		row = append(row, strconv.Itoa(health.Stats[name]))
	}

	render.WriteVerticalTable(io.Out, "Server", [][]string{row}, cols...)
	return nil
}
