package main

import (
	"context"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/xbrianh/flashflood/go/flashflood"
	mbp "go.gazette.dev/core/mainboilerplate"
)

type cmdPut struct {
	Store       StoreConfig           `group:"Store" namespace:"store" env-namespace:"STORE"`
	ID          string                `long:"id" description:"Event id. Assigned a fresh UUID if empty"`
	Date        string                `long:"date" description:"Event timestamp. Defaults to the current time"`
	Data        string                `long:"data" description:"Event data. Reads stdin if empty"`
	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
}

func (cmd cmdPut) Execute(_ []string) error {
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
	var date flashflood.Timestamp
	if date, err = parseTimeFlag(cmd.Date); err != nil {
		return err
	}

	event, err := flood.Put(ctx, data, cmd.ID, date)
	if err != nil {
		return fmt.Errorf("putting event: %w", err)
	}
	fmt.Println(event.EventID)
	return nil
}
