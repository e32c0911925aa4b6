package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hipsterbrown/dynamixel/dynamixel"
	"github.com/hipsterbrown/dynamixel/internal/logging"
	"github.com/hipsterbrown/dynamixel/transports"
)

var replayRaw bool

var replayCmd = &cobra.Command{
	Use:   "replay FILE",
	Short: "Decode every status packet in a recorded stream",
	Long: `Decode the status packets in a capture written with --capture, or in a raw
byte dump with --raw.

Malformed packets are skipped by dropping one byte and rescanning, so a
packet embedded after garbage is still found.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replayRaw, "raw", false, "FILE is a raw byte dump rather than a capture")
}

func openReplay(path string) (*transports.ReplayTransport, error) {
	if replayRaw {
		return transports.OpenReplay(path)
	}
	frames, err := transports.LoadCapture(path)
	if err != nil {
		return nil, err
	}
	received := transports.Received(frames)
	logging.LogRawBytes("replaying capture", received)
	return transports.NewReplayBytes(received), nil
}

func runReplay(cmd *cobra.Command, args []string) error {
	version, err := busVersion()
	if err != nil {
		return err
	}
	registry, err := loadRegistry()
	if err != nil {
		return err
	}
	replay, err := openReplay(args[0])
	if err != nil {
		return err
	}

	bus, err := dynamixel.NewBus(dynamixel.BusConfig{
		Transport: replay,
		Protocol:  version,
		Timeout:   timeout,
		Strict:    strict,
		Rescan:    true,
		Registry:  registry,
		Logger:    logging.GetLogger(),
	})
	if err != nil {
		replay.Close()
		return err
	}
	defer bus.Close()

	packets, err := bus.RecvAll(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	rows := make([][]string, 0, len(packets))
	for _, p := range packets {
		errs := strings.Join(bus.Protocol().Categories(p.Error), ",")
		rows = append(rows, []string{fmt.Sprintf("%d", p.ID), errs, fmt.Sprintf("% X", p.Parameters)})
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, warnStyle.Render("no status packets found"))
		return nil
	}
	fmt.Fprintln(out, renderTable([]string{"ID", "ERRORS", "PARAMETERS"}, rows))
	return nil
}
