package main

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/xbrianh/flashflood/go/flashflood"
	mbp "go.gazette.dev/core/mainboilerplate"
)

type cmdCompact struct {
	Store       StoreConfig           `group:"Store" namespace:"store" env-namespace:"STORE"`
	MinEvents   int                   `long:"min-events" default:"100" description:"Combine only once this many events are journaled"`
	MinSize     string                `long:"min-size" default:"0" description:"Combine only once this much event data is journaled, e.g. 100MB"`
	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
}

func (cmd cmdCompact) Execute(_ []string) error {
	defer mbp.InitDiagnosticsAndRecover(cmd.Diagnostics)()
	mbp.InitLog(cmd.Log)

	log.WithFields(log.Fields{
		"config":    cmd,
		"version":   mbp.Version,
		"buildDate": mbp.BuildDate,
	}).Info("flashfloodctl configuration")

	var minSize, err = parseSizeFlag(cmd.MinSize)
	if err != nil {
		return err
	}

	var ctx = context.Background()
	flood, err := cmd.Store.newFlood(ctx)
	if err != nil {
		return err
	}

	switch err = flood.Journal(ctx, cmd.MinEvents, minSize); {
	case err == nil:
		return nil
	case errors.Is(err, flashflood.ErrJournaling):
		log.WithField("reason", err).Info("thresholds not met; nothing compacted")
		return nil
	default:
		return fmt.Errorf("compacting: %w", err)
	}
}
