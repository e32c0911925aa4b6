package main

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestParseIDs(t *testing.T) {
	tests := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{"1", []int{1}, false},
		{"3,1,2", []int{1, 2, 3}, false},
		{"1-4", []int{1, 2, 3, 4}, false},
		{"5, 1-2, 2", []int{1, 2, 5}, false},
		{"253", []int{253}, false},
		{"254", nil, true},
		{"4-1", nil, true},
		{"x", nil, true},
		{",", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseIDs(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseIDs(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseIDs(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseTargets(t *testing.T) {
	positionDegrees = true
	defer func() { positionDegrees = false }()

	targets, err := parseTargets([]int{1, 2}, []string{"90"})
	if err != nil {
		t.Fatalf("parseTargets failed: %v", err)
	}
	if len(targets) != 2 || math.Abs(targets[2]-math.Pi/2) > 1e-12 {
		t.Errorf("single angle: got %v", targets)
	}

	targets, err = parseTargets([]int{1, 2}, []string{"1=180", "2=0"})
	if err != nil {
		t.Fatalf("parseTargets failed: %v", err)
	}
	if math.Abs(targets[1]-math.Pi) > 1e-12 || targets[2] != 0 {
		t.Errorf("pairs: got %v", targets)
	}

	if _, err := parseTargets([]int{1}, []string{"1=abc"}); err == nil {
		t.Error("expected error for bad angle")
	}
	if _, err := parseTargets([]int{1}, []string{"1=10", "20"}); err == nil {
		t.Error("expected error for missing id")
	}
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"ID", "MODEL"}, [][]string{{"1", "AX-12A"}, {"12", "XL430-W250"}})
	for _, want := range []string{"ID", "MODEL", "AX-12A", "XL430-W250"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestModelsCommand(t *testing.T) {
	out, err := runCommand(t, "models")
	if err != nil {
		t.Fatalf("models failed: %v", err)
	}
	for _, want := range []string{"AX-12A", "XL430-W250", "1060"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}

	out, err = runCommand(t, "models", "AX-12A")
	if err != nil {
		t.Fatalf("models AX-12A failed: %v", err)
	}
	if !strings.Contains(out, "goal_position") {
		t.Errorf("control table missing goal_position:\n%s", out)
	}
}

func TestReplayCommand(t *testing.T) {
	// A truncated packet followed by a status reply from servo 5 with two
	// parameter bytes.
	stream := []byte{
		0xFF, 0xFF, 0x01, 0x05,
		0xFF, 0xFF, 0x05, 0x04, 0x00, 0x20, 0x01, 0xD5,
	}
	path := filepath.Join(t.TempDir(), "line.bin")
	if err := os.WriteFile(path, stream, 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCommand(t, "replay", "--raw", "--timeout", "5ms", path)
	replayRaw = false
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !strings.Contains(out, "20 01") {
		t.Errorf("replay output missing parameters:\n%s", out)
	}
}

func TestResetRequiresConfirmation(t *testing.T) {
	_, err := runCommand(t, "reset", "1")
	if err == nil || !strings.Contains(err.Error(), "--yes") {
		t.Errorf("got %v, want confirmation error", err)
	}
}
