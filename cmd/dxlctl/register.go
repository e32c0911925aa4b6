package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hipsterbrown/dynamixel/dynamixel"
	"github.com/hipsterbrown/dynamixel/internal/logging"
)

var (
	rawAddress int
	rawLength  int
)

var readCmd = &cobra.Command{
	Use:   "read IDS [FIELD]",
	Short: "Read a control table field or raw registers",
	Long: `Read a named control table field from one or more servos, or raw
bytes with --address and --length.

With several ids the field is read with one sync or bulk read when the
protocol allows it.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runRead,
}

var writeCmd = &cobra.Command{
	Use:   "write IDS FIELD VALUE | write IDS --address ADDR HEX",
	Short: "Write a control table field or raw registers",
	Args:  cobra.RangeArgs(2, 3),
	RunE:  runWrite,
}

func init() {
	rootCmd.AddCommand(readCmd, writeCmd)
	readCmd.Flags().IntVar(&rawAddress, "address", -1, "Raw register address")
	readCmd.Flags().IntVar(&rawLength, "length", 1, "Raw read length in bytes")
	writeCmd.Flags().IntVar(&rawAddress, "address", -1, "Raw register address")
}

// detectServos builds a handle with a detected model for every id that
// answers a ping. Silent ids are logged and skipped.
func detectServos(ctx context.Context, bus *dynamixel.Bus, ids []int) ([]*dynamixel.Servo, error) {
	var servos []*dynamixel.Servo
	for _, id := range ids {
		s := dynamixel.NewServo(bus, id, nil)
		if err := s.DetectModel(ctx); err != nil {
			if dynamixel.IsNoResponse(err) {
				logging.GetLogger().Warn("servo did not answer", zap.Int("id", id))
				continue
			}
			return nil, err
		}
		servos = append(servos, s)
	}
	if len(servos) == 0 {
		return nil, fmt.Errorf("none of the servos %v answered", ids)
	}
	return servos, nil
}

func runRead(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args[0])
	if err != nil {
		return err
	}
	if rawAddress < 0 && len(args) < 2 {
		return fmt.Errorf("a field name or --address is required")
	}

	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()
	out := cmd.OutOrStdout()

	if rawAddress >= 0 {
		for _, id := range ids {
			data, err := s.bus.ReadRegister(cmd.Context(), id, rawAddress, rawLength)
			if err != nil {
				fmt.Fprintf(out, "%3d  %s\n", id, errorStyle.Render(err.Error()))
				continue
			}
			fmt.Fprintf(out, "%3d  % X\n", id, data)
		}
		return nil
	}

	servos, err := detectServos(cmd.Context(), s.bus, ids)
	if err != nil {
		return err
	}
	values, err := dynamixel.NewServoGroup(s.bus, servos...).ReadField(cmd.Context(), args[1])
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(values))
	for _, sv := range servos {
		v, ok := values[sv.ID()]
		if !ok {
			continue
		}
		rows = append(rows, []string{strconv.Itoa(sv.ID()), sv.Model().Name, strconv.FormatInt(v, 10)})
	}
	fmt.Fprintln(out, renderTable([]string{"ID", "MODEL", strings.ToUpper(args[1])}, rows))
	return nil
}

func runWrite(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args[0])
	if err != nil {
		return err
	}

	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	if rawAddress >= 0 {
		data, err := hex.DecodeString(strings.ReplaceAll(args[1], " ", ""))
		if err != nil {
			return fmt.Errorf("invalid hex data: %w", err)
		}
		for _, id := range ids {
			if err := s.bus.WriteRegister(cmd.Context(), id, rawAddress, data); err != nil {
				return err
			}
		}
		return nil
	}

	if len(args) != 3 {
		return fmt.Errorf("usage: %s", cmd.Use)
	}
	value, err := strconv.ParseInt(args[2], 0, 64)
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", args[2], err)
	}

	servos, err := detectServos(cmd.Context(), s.bus, ids)
	if err != nil {
		return err
	}
	values := make(map[int]int64, len(servos))
	for _, sv := range servos {
		values[sv.ID()] = value
	}
	if err := dynamixel.NewServoGroup(s.bus, servos...).WriteField(cmd.Context(), args[1], values); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(fmt.Sprintf("wrote %s=%d to %d servo(s)", args[1], value, len(servos))))
	return nil
}
