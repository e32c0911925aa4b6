package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hipsterbrown/dynamixel/dynamixel"
)

var rebootCmd = &cobra.Command{
	Use:   "reboot IDS",
	Short: "Reboot servos (protocol 2 only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args[0])
		if err != nil {
			return err
		}
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		for _, id := range ids {
			if err := s.bus.Reboot(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%3d  %s\n", id, okStyle.Render("rebooted"))
		}
		return nil
	},
}

var resetConfirm bool

var resetCmd = &cobra.Command{
	Use:   "reset IDS",
	Short: "Restore factory settings",
	Long: `Restore the factory control table of each servo. This also resets the id
and baud rate, so the servo may disappear from its current address.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetConfirm {
			return fmt.Errorf("factory reset changes servo ids and baud rates; pass --yes to continue")
		}
		ids, err := parseIDs(args[0])
		if err != nil {
			return err
		}
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		for _, id := range ids {
			if err := s.bus.FactoryReset(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%3d  %s\n", id, warnStyle.Render("factory reset"))
		}
		return nil
	},
}

var setIDCmd = &cobra.Command{
	Use:   "set-id ID NEW_ID",
	Short: "Change a servo's id",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		newID, err := parseID(args[1])
		if err != nil {
			return err
		}
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		servos, err := detectServos(cmd.Context(), s.bus, []int{id})
		if err != nil {
			return err
		}
		if err := servos[0].SetID(cmd.Context(), newID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%3d  %s\n", id, okStyle.Render("now id "+strconv.Itoa(newID)))
		return nil
	},
}

var torqueCmd = &cobra.Command{
	Use:   "torque IDS on|off",
	Short: "Enable or disable torque",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args[0])
		if err != nil {
			return err
		}
		var enable bool
		switch args[1] {
		case "on":
			enable = true
		case "off":
		default:
			return fmt.Errorf("expected on or off, got %q", args[1])
		}

		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		servos, err := detectServos(cmd.Context(), s.bus, ids)
		if err != nil {
			return err
		}
		return dynamixel.NewServoGroup(s.bus, servos...).SetTorqueEnabled(cmd.Context(), enable)
	},
}

func init() {
	rootCmd.AddCommand(rebootCmd, resetCmd, setIDCmd, torqueCmd)
	resetCmd.Flags().BoolVar(&resetConfirm, "yes", false, "Confirm the factory reset")
}
