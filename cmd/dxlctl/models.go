package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hipsterbrown/dynamixel/dynamixel"
	"github.com/hipsterbrown/dynamixel/transports"
)

var modelsCmd = &cobra.Command{
	Use:   "models [NAME]",
	Short: "List known servo models, or the control table of one",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runModels,
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := transports.ListPorts()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), warnStyle.Render("no serial ports found"))
			return nil
		}
		for _, p := range ports {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd, portsCmd)
}

func runModels(cmd *cobra.Command, args []string) error {
	registry, err := loadRegistry()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		models := registry.Models()
		rows := make([][]string, 0, len(models))
		for _, m := range models {
			rows = append(rows, []string{
				strconv.Itoa(m.Number),
				m.Name,
				strconv.Itoa(int(m.Protocol)),
				fmt.Sprintf("%g°-%g°", m.Calibration.MinDeg, m.Calibration.MaxDeg),
			})
		}
		fmt.Fprintln(out, renderTable([]string{"NUMBER", "NAME", "PROTOCOL", "RANGE"}, rows))
		return nil
	}

	m, err := registry.ByName(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%s (model %d, %s)", m.Name, m.Number, m.Protocol)))
	fmt.Fprintln(out, fieldTable(m))
	return nil
}

func fieldTable(m *dynamixel.Model) string {
	names := m.FieldNames()
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		f := m.Fields[name]
		access := "rw"
		if f.ReadOnly {
			access = "r"
		}
		signed := ""
		if f.Signed {
			signed = "signed"
		}
		rows = append(rows, []string{strconv.Itoa(f.Address), name, strconv.Itoa(f.Width), access, signed})
	}
	return renderTable([]string{"ADDR", "FIELD", "WIDTH", "ACCESS", ""}, rows)
}
