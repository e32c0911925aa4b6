package main

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/hipsterbrown/dynamixel/dynamixel"
)

// parseIDs parses a list such as "1,3,5-8" into sorted, unique servo ids.
func parseIDs(s string) ([]int, error) {
	var ids []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		first, err := parseID(lo)
		if err != nil {
			return nil, err
		}
		last := first
		if isRange {
			if last, err = parseID(hi); err != nil {
				return nil, err
			}
			if last < first {
				return nil, fmt.Errorf("invalid id range %q", part)
			}
		}
		for id := first; id <= last; id++ {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no servo ids in %q", s)
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid servo id %q", s)
	}
	if id < 0 || id > int(dynamixel.MaxServoID) {
		return 0, fmt.Errorf("servo id %d out of range 0-%d", id, dynamixel.MaxServoID)
	}
	return id, nil
}
