package main

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	mbp "go.gazette.dev/core/mainboilerplate"
)

type cmdDelete struct {
	Store       StoreConfig           `group:"Store" namespace:"store" env-namespace:"STORE"`
	ID          string                `long:"id" required:"true" description:"Event id to delete"`
	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
}

func (cmd cmdDelete) Execute(_ []string) error {
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

	if err = flood.DeleteEvent(ctx, cmd.ID); err != nil {
		return fmt.Errorf("deleting event: %w", err)
	}
	log.WithField("event", cmd.ID).Info("staged delete marker")
	return nil
}
