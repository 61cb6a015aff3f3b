package main

import (
	"context"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	mbp "go.gazette.dev/core/mainboilerplate"
)

type cmdUpdate struct {
	Store       StoreConfig           `group:"Store" namespace:"store" env-namespace:"STORE"`
	ID          string                `long:"id" required:"true" description:"Event id to update"`
	Data        string                `long:"data" description:"Replacement data. Reads stdin if empty"`
	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
}

func (cmd cmdUpdate) Execute(_ []string) error {
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

	var data = []byte(cmd.Data)
	if cmd.Data == "" {
		if data, err = io.ReadAll(os.Stdin); err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
	}

	if err = flood.UpdateEvent(ctx, cmd.ID, data); err != nil {
		return fmt.Errorf("updating event: %w", err)
	}
	log.WithField("event", cmd.ID).Info("staged update marker")
	return nil
}
