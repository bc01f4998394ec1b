package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rugwirobaker/ember/internal/audit/sqlite"
	"github.com/rugwirobaker/ember/internal/command"
	"github.com/rugwirobaker/ember/internal/config"
	"github.com/rugwirobaker/ember/internal/flag"
	"github.com/rugwirobaker/ember/internal/iostreams"
	"github.com/rugwirobaker/ember/internal/render"
	"github.com/spf13/cobra"
)

func NewAuditCommand() *cobra.Command {
	const (
		long = `Lists the most recent store operations recorded by the server. Values are
never recorded. Requires audit.path to be set.`
		short = "Lists recorded operations"
	)

	cmd := command.New("audit", short, long, runAudit)
	cmd.Args = cobra.NoArgs

	flag.Add(cmd,
		flag.Config(config.DefaultPath()),
		flag.String{
			Name:        "audit-path",
			Description: "Path of the audit database",
			EnvName:     "EMBER_AUDIT_PATH",
		},
		flag.Int{
			Name:        "limit",
			Shorthand:   "n",
			Description: "Number of events to show",
			Default:     50,
		},
		flag.JSON(),
	)
	return cmd
}

func runAudit(ctx context.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.Audit.Path == "" {
		return errors.New("audit log is disabled; set audit.path or --audit-path")
	}

	rec, err := sqlite.New(cfg.Audit.Path, slog.Default())
	if err != nil {
		return err
	}
	defer rec.Close()

	events, err := rec.List(ctx, flag.GetInt(ctx, "limit"))
	if err != nil {
		return err
	}

	out := iostreams.FromContext(ctx).Out
	if flag.GetBool(ctx, "json") {
		return render.JSON(out, events)
	}

	rows := make([][]string, 0, len(events))
	for _, ev := range events {
		rows = append(rows, []string{
			ev.Time.Local().Format(time.DateTime),
			ev.Caller,
			ev.Op,
			ev.Account,
			ev.Key,
			ev.Outcome,
			ev.RequestID,
		})
	}
	render.WriteTable(out, "", rows, "Time", "Caller", "Op", "Account", "Key", "Outcome", "Request")
	return nil
}
