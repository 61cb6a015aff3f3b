package main

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	mbp "go.gazette.dev/core/mainboilerplate"
)

type cmdGet struct {
	Store       StoreConfig           `group:"Store" namespace:"store" env-namespace:"STORE"`
	ID          string                `long:"id" required:"true" description:"Event id to fetch"`
	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
}

func (cmd cmdGet) Execute(_ []string) error {
	defer mbp.InitDiagnosticsAndRecover(cmd.Diagnostics)()
	mbp.InitLog(cmd.Log)

	log.WithFields(log.Fields{
		"config":    cmd,
		"version":   mbp.Version,
		"buildDate": mbp.BuildDate,
	}).Info("flashfloodctl configuration")

	var ctx = context.Background()
	var flood, err = cmd.Store.newFlood(ctx)
	if err != nil {
		return err
	}

	event, err := flood.GetEvent(ctx, cmd.ID)
	if err != nil {
		return fmt.Errorf("getting event: %w", err)
	}
	if _, err = os.Stdout.Write(event.Data); err != nil {
		return fmt.Errorf("writing event data: %w", err)
	}
	return nil
}
