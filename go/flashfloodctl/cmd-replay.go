package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/xbrianh/flashflood/go/flashflood"
	"github.com/xbrianh/flashflood/go/reader"
	mbp "go.gazette.dev/core/mainboilerplate"
)

type cmdReplay struct {
	Store       StoreConfig           `group:"Store" namespace:"store" env-namespace:"STORE"`
	From        string                `long:"from" description:"Replay events strictly after this time"`
	To          string                `long:"to" description:"Replay events up to and including this time"`
	Output      string                `long:"output" default:"json" choice:"json" choice:"data" description:"Print events as JSON lines, or as raw concatenated data"`
	ViaURLs     bool                  `long:"via-urls" description:"Fetch event data over presigned URLs rather than the store API"`
	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
}

// replayDoc is the JSON encoding of one replayed event. Data is base64.
type replayDoc struct {
	EventID string               `json:"event_id"`
	Date    flashflood.Timestamp `json:"date"`
	Data    []byte               `json:"data"`
}

func (cmd cmdReplay) Execute(_ []string) error {
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

	var out = bufio.NewWriter(os.Stdout)
	var enc = json.NewEncoder(out)
	var emit = func(event flashflood.Event) error {
		if cmd.Output == "data" {
			var _, err = out.Write(event.Data)
			return err
		}
		return enc.Encode(replayDoc{
			EventID: event.EventID,
			Date:    event.Date,
			Data:    event.Data,
		})
	}

	var count int
	if cmd.ViaURLs {
		streams, err := flood.ListEventStreams(ctx, from, to, 0)
		if err != nil {
			return fmt.Errorf("listing event streams: %w", err)
		}
		var it = reader.Replay(ctx, nil, streams, from, to)
		for it.Next() {
			if err = emit(it.Event()); err != nil {
				return fmt.Errorf("writing event: %w", err)
			}
			count++
		}
		if err = it.Err(); err != nil {
			return fmt.Errorf("replaying: %w", err)
		}
	} else {
		var it = flood.Replay(ctx, from, to)
		for it.Next() {
			if err = emit(it.Event()); err != nil {
				return fmt.Errorf("writing event: %w", err)
			}
			count++
		}
		if err = it.Err(); err != nil {
			return fmt.Errorf("replaying: %w", err)
		}
	}

	if err = out.Flush(); err != nil {
		return fmt.Errorf("flushing output: %w", err)
	}
	log.WithField("events", count).Info("replay complete")
	return nil
}
