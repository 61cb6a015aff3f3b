package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	units "github.com/docker/go-units"
	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/xbrianh/flashflood/go/flashflood"
	mbp "go.gazette.dev/core/mainboilerplate"
)

var green = color.New(color.FgGreen).SprintFunc()

type cmdList struct {
	Store       StoreConfig           `group:"Store" namespace:"store" env-namespace:"STORE"`
	From        string                `long:"from" description:"List journals holding events strictly after this time"`
	To          string                `long:"to" description:"List journals holding events up to and including this time"`
	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
}

func (cmd cmdList) Execute(_ []string) error {
	defer mbp.InitDiagnosticsAndRecover(cmd.Diagnostics)()
	mbp.InitLog(cmd.Log)

	log.WithFields(log.Fields{
		"config":    cmd,
		"version":   mbp.Version,
		"buildDate": mbp.BuildDate,
	}).Info("flashfloodctl configuration")

	var from, err = parseTimeFlag(cmd.From)
	if err != nil {
		return err
	}
	to, err := parseTimeFlag(cmd.To)
	if err != nil {
		return err
	}

	var ctx = context.Background()
	s, err := cmd.Store.newStore(ctx)
	if err != nil {
		return fmt.Errorf("building store: %w", err)
	}
	flood, err := flashflood.New(s, flashflood.Config{
		RootPrefix: cmd.Store.Prefix,
		Workers:    cmd.Store.Workers,
	})
	if err != nil {
		return err
	}

	var w = tabwriter.NewWriter(os.Stdout, 20, 1, 3, ' ', 0)
	fmt.Fprintln(w, "JOURNAL\tVERSION\tEVENTS\tSIZE\tFROM\tTO")

	var it = flood.ListJournals(ctx, from, to)
	for it.Next() {
		journal, err := flashflood.JournalFromID(ctx, s, flood.Layout(), it.ID())
		if err != nil {
			return fmt.Errorf("loading journal %s: %w", it.ID(), err)
		}
		manifest, err := journal.Manifest()
		if err != nil {
			return err
		}

		var version = journal.Version
		if version == flashflood.VersionNew {
			version = green(version)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			it.ID(),
			version,
			len(manifest.Events),
			units.HumanSize(float64(manifest.Size)),
			manifest.FromDate,
			manifest.ToDate,
		)
	}
	if err = it.Err(); err != nil {
		return fmt.Errorf("listing journals: %w", err)
	}
	return w.Flush()
}
