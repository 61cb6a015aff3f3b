package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	mbp "go.gazette.dev/core/mainboilerplate"
)

type cmdStreams struct {
	Store       StoreConfig           `group:"Store" namespace:"store" env-namespace:"STORE"`
	From        string                `long:"from" description:"List journals holding events strictly after this time"`
	To          string                `long:"to" description:"List journals holding events up to and including this time"`
	Limit       int                   `long:"limit" default:"0" description:"Stop after this many streams. 0 lists all"`
	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
}

func (cmd cmdStreams) Execute(_ []string) error {
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
	flood, err := cmd.Store.newFlood(ctx)
	if err != nil {
		return err
	}

	streams, err := flood.ListEventStreams(ctx, from, to, cmd.Limit)
	if err != nil {
		return fmt.Errorf("listing event streams: %w", err)
	}

	var enc = json.NewEncoder(os.Stdout)
	for _, stream := range streams {
		if err = enc.Encode(stream); err != nil {
			return fmt.Errorf("writing stream: %w", err)
		}
	}
	return nil
}
