// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"csi/cmd"
	"csi/internal/config"
	"csi/internal/csi"
	applog "csi/internal/log"
	"csi/internal/metrics"
	"csi/internal/monitor"
	"csi/internal/radio"
	"csi/internal/sink"
	"csi/internal/tui"
	"csi/pkg/build"

	"golang.org/x/sync/errgroup"
)

// main is the entry point for the CSI capture application.
// The program flow is divided into three distinct phases:
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Configure runtime settings
//   - Parse command line arguments and configuration
//   - Execute one-off commands if requested
//   - Build the sink, the pipeline and the radio driver
//
// 2. Concurrent Phase (Hot Path):
//   - Run the delivery consumer
//   - Start the radio driver, whose callback feeds the producer
//   - Serve telemetry and the dashboard if enabled
//
// 3. Shutdown Phase (Cold Path):
//   - Handle termination signals
//   - Stop the driver, then the consumer
//   - Close the sink and report final statistics
func main() {
	// ==================== STARTUP PHASE (Cold Path) ====================

	if err := build.Initialize(); err != nil {
		applog.Debugf("Build info not embedded (%v), using development defaults", err)
	}

	// One thread for the driver callback, one for delivery and I/O.
	runtime.GOMAXPROCS(2)

	cfg, err := cmd.ParseArgs()
	if err != nil {
		applog.Fatalf("%v", err)
	}
	if cfg.Command != "" {
		return
	}

	applog.SetLevel(cfg.Level())
	applog.Infof("Starting %s", build.GetBuildFlags())

	if err := run(cfg); err != nil {
		applog.Fatalf("%v", err)
	}
}

func run(cfg *config.Config) error {
	out, dialer, err := newSink(cfg)
	if err != nil {
		return err
	}
	defer out.Close()

	var (
		pipeline *csi.Pipeline
		reg      *metrics.Metrics
	)
	stats := func() csi.Stats { return pipeline.Stats() }

	var emit csi.Sink = out
	if cfg.Monitor.Enabled {
		reg = metrics.New(stats)
		emit = reg.InstrumentSink(out)
	}

	pipeline, err = csi.New(csi.Options{
		QueueCapacity: cfg.Capture.QueueCapacity,
		MaxSamples:    cfg.Capture.MaxSamples,
		AllocBudget:   cfg.Capture.AllocBudget,
		Producers:     1, // The driver invokes OnFrame from a single goroutine.
	}, emit)
	if err != nil {
		return err
	}

	driver, err := radio.New(radioOptions(cfg))
	if err != nil {
		return err
	}
	defer driver.Close()
	driver.SetCallback(pipeline.OnFrame)

	var server *monitor.Server
	if cfg.Monitor.Enabled {
		server, err = monitor.NewServer(cfg.Monitor.Address, cfg.Monitor.PublishInterval, stats, reg.Handler())
		if err != nil {
			return err
		}
	}

	// ==================== CONCURRENT PHASE (Hot Path) ====================

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The consumer outlives the driver so nothing is pushed after the final drain.
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	consumerDone := make(chan error, 1)
	go func() { consumerDone <- pipeline.Run(consumerCtx) }()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		applog.Infof("Radio: starting %s source", driver.Name())
		return driver.Start(gctx)
	})

	if dialer != nil {
		g.Go(func() error {
			return dialer.DialLoop(gctx, cfg.Sink.DialRetryInterval)
		})
	}

	if server != nil {
		g.Go(func() error {
			return server.Run(gctx)
		})
	}

	if cfg.TUIMode {
		// The dashboard owns the terminal; log lines would tear it.
		applog.SetOutput(io.Discard)
		g.Go(func() error {
			defer stop()
			return tui.Run(gctx, stats, tui.DefaultRefresh)
		})
	}

	// Keep capturing after an exhausted source until asked to stop.
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	runErr := g.Wait()

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	applog.SetOutput(os.Stderr)
	applog.Infof("Shutting down...")

	stopConsumer()
	if err := <-consumerDone; err != nil {
		applog.Errorf("Consumer: %v", err)
	}

	s := pipeline.Stats()
	applog.Infof("Session %s: captured %d, delivered %d, dropped %d (queue %d, alloc %d, not ready %d, sink %d), rejected %d",
		s.Session, s.Captured, s.Delivered, s.Dropped(), s.QueueDrops, s.AllocFailures, s.NotReady, s.SinkErrors, s.Rejected)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// newSink builds the configured sink. For the datagram sink the second
// result is the same sink, which still has to be dialed.
func newSink(cfg *config.Config) (sink.Sink, *sink.DatagramSink, error) {
	switch cfg.Sink.Kind {
	case sink.KindDatagram:
		s := sink.NewDatagramSink(cfg.Sink.UDPTargetAddress)
		return s, s, nil
	default:
		w := os.Stdout
		if cfg.Sink.TextOutput == "stderr" {
			w = os.Stderr
		}
		return sink.NewTextSink(w), nil, nil
	}
}

func radioOptions(cfg *config.Config) radio.Options {
	sim := cfg.Radio.Simulator
	return radio.Options{
		Source: cfg.Radio.Source,
		Simulator: radio.SimulatorOptions{
			Rate:    sim.Rate,
			Samples: sim.Samples,
			RSSI:    sim.RSSI,
			Jitter:  sim.Jitter,
			Noise:   sim.Noise,
			Count:   sim.Count,
			Seed:    sim.Seed,
		},
		Replay: radio.ReplayOptions{
			Path:       cfg.Radio.Replay.Path,
			Loop:       cfg.Radio.Replay.Loop,
			Rate:       cfg.Radio.Replay.Rate,
			MaxSamples: cfg.Capture.MaxSamples,
		},
		Datagram: radio.DatagramOptions{
			Listen: cfg.Radio.UDP.Listen,
		},
	}
}
