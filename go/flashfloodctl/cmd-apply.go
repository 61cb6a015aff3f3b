package main

import (
	"context"
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"
	mbp "go.gazette.dev/core/mainboilerplate"
)

type cmdApply struct {
	Store       StoreConfig           `group:"Store" namespace:"store" env-namespace:"STORE"`
	Budget      int                   `long:"budget" default:"0" description:"Stop after consuming this many markers. 0 applies all"`
	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
}

func (cmd cmdApply) Execute(_ []string) error {
	defer mbp.InitDiagnosticsAndRecover(cmd.Diagnostics)()
	mbp.InitLog(cmd.Log)

	log.WithFields(log.Fields{
		"config":    cmd,
		"version":   mbp.Version,
		"buildDate": mbp.BuildDate,
	}).Info("flashfloodctl configuration")

	var budget = cmd.Budget
	if budget <= 0 {
		budget = math.MaxInt
	}

	var ctx = context.Background()
	var flood, err = cmd.Store.newFlood(ctx)
	if err != nil {
		return err
	}

	applied, err := flood.Update(ctx, budget)
	if err != nil {
		return fmt.Errorf("applying markers: %w", err)
	}
	log.WithField("applied", applied).Info("applied staged markers")
	return nil
}
