package main

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	mbp "go.gazette.dev/core/mainboilerplate"
)

type cmdDestroy struct {
	Store       StoreConfig           `group:"Store" namespace:"store" env-namespace:"STORE"`
	Yes         bool                  `long:"yes" description:"Confirm deletion of every object beneath the root prefix"`
	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
}

func (cmd cmdDestroy) Execute(_ []string) error {
	defer mbp.InitDiagnosticsAndRecover(cmd.Diagnostics)()
	mbp.InitLog(cmd.Log)

	log.WithFields(log.Fields{
		"config":    cmd,
		"version":   mbp.Version,
		"buildDate": mbp.BuildDate,
	}).Info("flashfloodctl configuration")

	if !cmd.Yes {
		return fmt.Errorf("refusing to destroy %s/%s without --yes", cmd.Store.Bucket, cmd.Store.Prefix)
	}

	var ctx = context.Background()
	var flood, err = cmd.Store.newFlood(ctx)
	if err != nil {
		return err
	}

	if err = flood.Destroy(ctx); err != nil {
		return fmt.Errorf("destroying instance: %w", err)
	}
	return nil
}
