package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hipsterbrown/dynamixel/dynamixel"
)

var (
	scanFrom int
	scanTo   int
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Find servos on the bus",
	Long: `Ping every id in a range and list the servos that answer.

Ids that stay silent are skipped; only transport failures abort the scan.`,
	RunE: runScan,
}

var pingCmd = &cobra.Command{
	Use:   "ping IDS",
	Short: "Ping servos and report their model",
	Args:  cobra.ExactArgs(1),
	RunE:  runPing,
}

func init() {
	rootCmd.AddCommand(scanCmd, pingCmd)
	scanCmd.Flags().IntVar(&scanFrom, "from", 0, "First id to probe")
	scanCmd.Flags().IntVar(&scanTo, "to", int(dynamixel.MaxServoID), "Last id to probe")
}

func runScan(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render("dxlctl scan"))
	fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("%s, ids %d-%d", s.info, scanFrom, scanTo)))

	found, err := s.bus.Scan(cmd.Context(), scanFrom, scanTo)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, foundTable(found))
	return nil
}

func runPing(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args[0])
	if err != nil {
		return err
	}
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	for _, id := range ids {
		number, err := s.bus.Ping(cmd.Context(), id)
		switch {
		case dynamixel.IsNoResponse(err):
			fmt.Fprintf(out, "%3d  %s\n", id, mutedStyle.Render("no response"))
		case err != nil:
			fmt.Fprintf(out, "%3d  %s\n", id, errorStyle.Render(err.Error()))
		default:
			fmt.Fprintf(out, "%3d  %s\n", id, okStyle.Render(modelLabel(s.bus.Registry(), number)))
		}
	}
	return nil
}

func foundTable(found []dynamixel.FoundServo) string {
	if len(found) == 0 {
		return warnStyle.Render("no servos found")
	}
	rows := make([][]string, 0, len(found))
	for _, f := range found {
		name := "unknown"
		if f.Model != nil {
			name = f.Model.Name
		}
		rows = append(rows, []string{strconv.Itoa(f.ID), strconv.Itoa(f.ModelNumber), name})
	}
	return renderTable([]string{"ID", "MODEL #", "MODEL"}, rows)
}

func modelLabel(r *dynamixel.Registry, number int) string {
	m, err := r.Lookup(number)
	if err != nil {
		return fmt.Sprintf("model %d (unknown)", number)
	}
	return fmt.Sprintf("%s (model %d)", m.Name, number)
}
