package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/hidppd/internal/config"
	"github.com/srg/hidppd/internal/correlator"
	"github.com/srg/hidppd/internal/hidpp"
	"github.com/srg/hidppd/internal/lifecycle"
	"github.com/srg/hidppd/internal/receiver"
	"github.com/srg/hidppd/internal/respqueue"
	"github.com/srg/hidppd/internal/router"
	"github.com/srg/hidppd/internal/transport"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the HID++ battery telemetry daemon",
	Long: `Starts the daemon against a bound pair of HID report endpoints
(the SHORT 7-byte and LONG 20-byte device paths), detects receiver vs.
direct-device mode, brings up every discovered slot, and publishes
battery telemetry as newline-delimited JSON until interrupted.`,
	RunE: runRun,
}

var (
	runShortDevice              string
	runLongDevice               string
	runSoftwareID               int
	runDisabledDevices          []string
	runPollPeriodSeconds        int
	runRetryTimeSeconds         int
	runKeepPollingWithEvents    bool
	runBatteryEventDelayAfterOn int
	runLoggingVerbose           bool
)

func init() {
	runCmd.Flags().StringVar(&runShortDevice, "short-device", "", "Path to the SHORT (7-byte) HID report device")
	runCmd.Flags().StringVar(&runLongDevice, "long-device", "", "Path to the LONG (20-byte) HID report device")
	runCmd.Flags().IntVar(&runSoftwareID, "software-id", 1, "Software ID (1..15) used in outbound requests")
	runCmd.Flags().StringSliceVar(&runDisabledDevices, "disabled-device", nil, "Device name substring to abort init for (repeatable)")
	runCmd.Flags().IntVar(&runPollPeriodSeconds, "poll-period", 30, "Seconds between battery polls, clamped to [20, 3600]")
	runCmd.Flags().IntVar(&runRetryTimeSeconds, "retry-time", 5, "Additional inter-cycle retry delay after a poll attempt")
	runCmd.Flags().BoolVar(&runKeepPollingWithEvents, "keep-polling-with-events", true, "Keep polling after the first battery event")
	runCmd.Flags().IntVar(&runBatteryEventDelayAfterOn, "battery-event-delay-after-on", 0, "Seconds after ON during which battery events are accepted but not published")
	runCmd.Flags().BoolVar(&runLoggingVerbose, "verbose", false, "Shorthand for --log-level=debug")

	_ = runCmd.MarkFlagRequired("short-device")
	_ = runCmd.MarkFlagRequired("long-device")
}

func runRun(cmd *cobra.Command, args []string) error {
	raw := config.Raw{
		SoftwareID:               runSoftwareID,
		DisabledDevices:          runDisabledDevices,
		PollPeriodSeconds:        runPollPeriodSeconds,
		RetryTimeSeconds:         runRetryTimeSeconds,
		KeepPollingWithEvents:    runKeepPollingWithEvents,
		BatteryEventDelayAfterOn: runBatteryEventDelayAfterOn,
		Logging:                  config.LoggingOptions{Enabled: true, Verbose: runLoggingVerbose, MaxLines: 1000},
	}
	cfg, err := config.Build(raw)
	if err != nil {
		return err
	}
	// Build's defaulting turns an explicit false back into true, so the
	// flag's value is applied after it.
	cfg.KeepPollingWithEvents = runKeepPollingWithEvents

	logger, tail, err := configureLogger(cmd, cfg.Logging)
	if err != nil {
		return err
	}
	_ = tail // drained by the external crash-log writer; nothing to do with it here

	cmd.SilenceUsage = true

	shortHandle, err := openFileHandle(runShortDevice)
	if err != nil {
		return fmt.Errorf("open short-device %s: %w", runShortDevice, err)
	}
	longHandle, err := openFileHandle(runLongDevice)
	if err != nil {
		_ = shortHandle.Close()
		return fmt.Errorf("open long-device %s: %w", runLongDevice, err)
	}

	builder, err := hidpp.NewBuilder(cfg.SoftwareID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received interrupt signal, shutting down")
		cancel()
	}()

	responses := respqueue.New()

	// rtr is assigned below, before pair.Start launches the reader
	// goroutines that invoke this callback - the closure only ever fires
	// after rtr is non-nil.
	var rtr *router.Router
	pair := transport.NewPair(shortHandle, longHandle, logger, func(f hidpp.Frame) {
		rtr.Route(f)
	}, func(endpoint string, err error) {
		logger.WithFields(map[string]any{"endpoint": endpoint, "error": err}).Warn("HID endpoint closed")
		cancel()
	})

	corr := correlator.New(pair, responses, logger)

	sink := newJSONLineSink(os.Stdout)

	lifecycleCfg := lifecycle.Config{
		SoftwareID:               cfg.SoftwareID,
		DisabledDevices:          cfg.DisabledDevices,
		PollInterval:             time.Duration(cfg.PollPeriod) * time.Second,
		RetryDelay:               time.Duration(cfg.RetryTime) * time.Second,
		KeepPollingWithEvents:    cfg.KeepPollingWithEvents,
		BatteryEventDelayAfterOn: time.Duration(cfg.BatteryEventDelayAfterOn) * time.Second,
		Backoff:                  cfg.Backoff,
	}
	lifecycleMgr := lifecycle.New(lifecycleCfg, builder, corr, sink, logger)

	coordinator := receiver.New(builder, corr, lifecycleMgr, cfg.Backoff, logger)

	rtr = router.New(logger, coordinator, lifecycleMgr, responses)

	pair.Start(ctx)

	if err := coordinator.Bringup(ctx); err != nil {
		logger.WithError(err).Warn("receiver bringup did not complete cleanly")
	}

	<-ctx.Done()
	logger.Info("shutting down")
	pair.Dispose()
	return nil
}
