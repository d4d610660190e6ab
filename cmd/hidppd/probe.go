package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/hidppd/internal/config"
	"github.com/srg/hidppd/internal/correlator"
	"github.com/srg/hidppd/internal/hidpp"
	"github.com/srg/hidppd/internal/lifecycle"
	"github.com/srg/hidppd/internal/receiver"
	"github.com/srg/hidppd/internal/respqueue"
	"github.com/srg/hidppd/internal/router"
	"github.com/srg/hidppd/internal/transport"
	"github.com/srg/hidppd/pkg/sink"
)

// probeCmd is a one-shot bring-up diagnostic (supplemented feature, spec
// Non-goals still exclude any non-power feature control): it runs receiver
// detection and slot enumeration, prints what it found, then exits.
var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Detect receiver/direct mode and enumerate slots, then exit",
	RunE:  runProbe,
}

var (
	probeShortDevice string
	probeLongDevice  string
	probeSoftwareID  int
	probeTimeout     time.Duration
)

func init() {
	probeCmd.Flags().StringVar(&probeShortDevice, "short-device", "", "Path to the SHORT (7-byte) HID report device")
	probeCmd.Flags().StringVar(&probeLongDevice, "long-device", "", "Path to the LONG (20-byte) HID report device")
	probeCmd.Flags().IntVar(&probeSoftwareID, "software-id", 1, "Software ID (1..15) used in outbound requests")
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 5*time.Second, "How long to wait for slots to settle before printing results")

	_ = probeCmd.MarkFlagRequired("short-device")
	_ = probeCmd.MarkFlagRequired("long-device")
}

// discardSink satisfies sink.Sink for probe: it only needs
// lifecycle.Manager.Snapshot() after bring-up, not the outbound stream.
type discardSink struct{}

func (discardSink) Init(sink.InitMessage)     {}
func (discardSink) Update(sink.UpdateMessage) {}
func (discardSink) Remove(sink.RemoveMessage) {}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Build(config.Raw{SoftwareID: probeSoftwareID})
	if err != nil {
		return err
	}

	logger, _, err := configureLogger(cmd, config.LoggingOptions{Enabled: true, MaxLines: 100})
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	shortHandle, err := openFileHandle(probeShortDevice)
	if err != nil {
		return fmt.Errorf("open short-device %s: %w", probeShortDevice, err)
	}
	longHandle, err := openFileHandle(probeLongDevice)
	if err != nil {
		_ = shortHandle.Close()
		return fmt.Errorf("open long-device %s: %w", probeLongDevice, err)
	}

	builder, err := hidpp.NewBuilder(cfg.SoftwareID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	responses := respqueue.New()

	var rtr *router.Router
	pair := transport.NewPair(shortHandle, longHandle, logger, func(f hidpp.Frame) {
		rtr.Route(f)
	}, func(endpoint string, err error) {
		logger.WithFields(map[string]any{"endpoint": endpoint, "error": err}).Warn("HID endpoint closed")
	})
	defer pair.Dispose()

	corr := correlator.New(pair, responses, logger)

	lifecycleMgr := lifecycle.New(lifecycle.Config{
		SoftwareID:            cfg.SoftwareID,
		PollInterval:          time.Duration(cfg.PollPeriod) * time.Second,
		RetryDelay:            time.Duration(cfg.RetryTime) * time.Second,
		KeepPollingWithEvents: cfg.KeepPollingWithEvents,
		Backoff:               cfg.Backoff,
	}, builder, corr, discardSink{}, logger)

	coordinator := receiver.New(builder, corr, lifecycleMgr, cfg.Backoff, logger)
	rtr = router.New(logger, coordinator, lifecycleMgr, responses)

	pair.Start(ctx)

	if err := coordinator.Bringup(ctx); err != nil {
		logger.WithError(err).Warn("bring-up did not complete cleanly")
	}

	<-ctx.Done()

	printSlotTable(lifecycleMgr.Snapshot())
	return nil
}

func printSlotTable(slots []lifecycle.Snapshot) {
	if len(slots) == 0 {
		fmt.Println(color.YellowString("no slots discovered"))
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SLOT\tSTATE\tIDENTIFIER\tDEVICE\tBATTERY")
	for _, s := range slots {
		state := s.State.String()
		switch s.State {
		case lifecycle.StateOnline:
			state = color.GreenString(state)
		case lifecycle.StateOffline, lifecycle.StateDisposed:
			state = color.RedString(state)
		default:
			state = color.YellowString(state)
		}
		battery := "no"
		if s.HasBattery {
			battery = color.CyanString("yes")
		}
		fmt.Fprintf(w, "0x%02X\t%s\t%s\t%s\t%s\n", s.SlotIndex, state, s.Identifier, s.DeviceName, battery)
	}
	_ = w.Flush()
}
