package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
	"github.com/xbrianh/flashflood/go/flashflood"
	mbp "go.gazette.dev/core/mainboilerplate"
	"go.gazette.dev/core/task"
)

type cmdCompactor struct {
	Store       StoreConfig           `group:"Store" namespace:"store" env-namespace:"STORE"`
	MinEvents   int                   `long:"min-events" default:"100" description:"Combine only once this many events are journaled"`
	MinSize     string                `long:"min-size" default:"0" description:"Combine only once this much event data is journaled, e.g. 100MB"`
	Budget      int                   `long:"budget" default:"0" description:"Markers applied per cycle. 0 applies all"`
	Interval    time.Duration         `long:"interval" default:"1m" description:"Delay between compaction cycles"`
	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
}

func (cmd cmdCompactor) Execute(_ []string) error {
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
	var budget = cmd.Budget
	if budget <= 0 {
		budget = math.MaxInt
	}

	var tasks = task.NewGroup(context.Background())
	flood, err := cmd.Store.newFlood(tasks.Context())
	if err != nil {
		return err
	}

	// Install signal handler and start the compaction loop.
	var signalCh = make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)

	tasks.Queue("watch signalCh", func() error {
		select {
		case sig := <-signalCh:
			log.WithField("signal", sig).Info("caught signal")
			tasks.Cancel()
			return nil

		case <-tasks.Context().Done():
			return nil
		}
	})
	tasks.Queue("compactor", func() error {
		return serveCompactor(tasks.Context(), flood, cmd.MinEvents, minSize, budget, cmd.Interval)
	})
	tasks.GoRun()

	// Block until all tasks complete.
	if err = tasks.Wait(); err != nil {
		return fmt.Errorf("task failed: %w", err)
	}

	log.Info("goodbye")
	return nil
}

// serveCompactor runs compaction cycles until |ctx| is cancelled. Each
// cycle combines new journals once thresholds are met, then applies
// staged markers. Failed cycles are retried with exponential backoff.
func serveCompactor(ctx context.Context, flood *flashflood.FlashFlood, minEvents int, minSize int64, budget int, interval time.Duration) error {
	// BackOff implementations are stateful; use a fresh instance.
	var bo = backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // Retry until cancelled.

	for {
		var wait = interval
		switch err := compactorCycle(ctx, flood, minEvents, minSize, budget); {
		case err == nil:
			bo.Reset()
		case errors.Is(err, context.Canceled):
			return nil
		default:
			wait = bo.NextBackOff()
			log.WithFields(log.Fields{
				"err":  err,
				"wait": wait,
			}).Warn("compactor cycle failed; backing off")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func compactorCycle(ctx context.Context, flood *flashflood.FlashFlood, minEvents int, minSize int64, budget int) error {
	switch err := flood.Journal(ctx, minEvents, minSize); {
	case err == nil:
	case errors.Is(err, flashflood.ErrJournaling):
		log.WithField("reason", err).Debug("compaction thresholds not met")
	default:
		return err
	}

	var applied, err = flood.Update(ctx, budget)
	if err != nil {
		return err
	}
	log.WithField("applied", applied).Debug("compactor cycle complete")
	return nil
}
