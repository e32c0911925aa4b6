package main

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hipsterbrown/dynamixel/dynamixel"
)

var (
	positionDegrees bool
	positionJoints  string
	positionStage   bool
)

var positionCmd = &cobra.Command{
	Use:   "position IDS [ANGLE | ID=ANGLE...]",
	Short: "Read or set servo positions",
	Long: `Without angles, print the present position of every servo.

With a single angle, move every servo to it. With ID=ANGLE pairs, move each
servo to its own angle. Angles are radians unless --deg is set. All servos
move together with one sync or bulk write; nothing is sent if any angle is
out of range.

--joints takes a YAML calibration file mapping joint names to servo ids,
direction and offset, and makes angles joint angles instead of servo angles.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPosition,
}

func init() {
	rootCmd.AddCommand(positionCmd)
	positionCmd.Flags().BoolVar(&positionDegrees, "deg", false, "Angles are in degrees")
	positionCmd.Flags().StringVar(&positionJoints, "joints", "", "Joint calibration file")
	positionCmd.Flags().BoolVar(&positionStage, "stage", false, "Stage the move with reg_write and start it with action")
}

func parseAngle(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid angle %q", s)
	}
	if positionDegrees {
		v = v * math.Pi / 180
	}
	return v, nil
}

func formatAngle(rad float64) string {
	if positionDegrees {
		return strconv.FormatFloat(rad*180/math.Pi, 'f', 2, 64) + "°"
	}
	return strconv.FormatFloat(rad, 'f', 4, 64)
}

// parseTargets reads either one angle for every id or ID=ANGLE pairs.
func parseTargets(ids []int, args []string) (map[int]float64, error) {
	targets := make(map[int]float64)
	if len(args) == 1 && !strings.Contains(args[0], "=") {
		angle, err := parseAngle(args[0])
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			targets[id] = angle
		}
		return targets, nil
	}

	for _, arg := range args {
		idStr, angleStr, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("expected ID=ANGLE, got %q", arg)
		}
		id, err := parseID(idStr)
		if err != nil {
			return nil, err
		}
		angle, err := parseAngle(angleStr)
		if err != nil {
			return nil, err
		}
		targets[id] = angle
	}
	return targets, nil
}

func runPosition(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args[0])
	if err != nil {
		return err
	}

	var cals dynamixel.JointCalibrations
	if positionJoints != "" {
		if cals, _, err = dynamixel.LoadJointCalibrations(positionJoints); err != nil {
			return err
		}
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
	group := dynamixel.NewServoGroup(s.bus, servos...)
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		positions, err := group.JointPositions(cmd.Context(), cals)
		if err != nil {
			return err
		}
		ordered := make([]int, 0, len(positions))
		for id := range positions {
			ordered = append(ordered, id)
		}
		sort.Ints(ordered)

		rows := make([][]string, 0, len(ordered))
		for _, id := range ordered {
			rows = append(rows, []string{strconv.Itoa(id), group.ServoByID(id).Model().Name, formatAngle(positions[id])})
		}
		fmt.Fprintln(out, renderTable([]string{"ID", "MODEL", "POSITION"}, rows))
		return nil
	}

	targets, err := parseTargets(group.IDs(), args[1:])
	if err != nil {
		return err
	}

	if positionStage {
		servoTargets := make(map[int]float64, len(targets))
		for id, angle := range targets {
			servoTargets[id] = angle
			if cal, ok := cals[id]; ok && group.ServoByID(id) != nil {
				if servoTargets[id], err = cal.ToServo(group.ServoByID(id).Model().Calibration, angle); err != nil {
					return err
				}
			}
		}
		if err := group.StagePositions(cmd.Context(), servoTargets); err != nil {
			return err
		}
		if err := group.Commit(cmd.Context()); err != nil {
			return err
		}
	} else if err := group.SetJointPositions(cmd.Context(), cals, targets); err != nil {
		return err
	}

	fmt.Fprintln(out, okStyle.Render(fmt.Sprintf("moved %d servo(s)", len(targets))))
	return nil
}
