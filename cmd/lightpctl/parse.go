package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dokzlo13/lightpd/internal/program"
)

// parseAction reads one action in the forms
//
//	fixed:DURATION_MS:CW:WW
//	ramp:DURATION_MS:CW:WW   (or "ramp" for the 30s ramp to full)
//	blink:DURATION_MS:HIGH_MS:LOW_MS:HIGH_CW:HIGH_WW:LOW_CW:LOW_WW
func parseAction(s string) (program.Action, error) {
	parts := strings.Split(s, ":")
	kind, args := parts[0], parts[1:]

	switch kind {
	case "fixed":
		v, err := parseUints(args, 3)
		if err != nil {
			return program.Action{}, fmt.Errorf("fixed: %w", err)
		}
		if err := checkLevels(v[1:]); err != nil {
			return program.Action{}, fmt.Errorf("fixed: %w", err)
		}
		return program.NewFixed(v[0], uint8(v[1]), uint8(v[2])), nil

	case "ramp":
		if len(args) == 0 {
			return program.DefaultRamp(), nil
		}
		v, err := parseUints(args, 3)
		if err != nil {
			return program.Action{}, fmt.Errorf("ramp: %w", err)
		}
		if err := checkLevels(v[1:]); err != nil {
			return program.Action{}, fmt.Errorf("ramp: %w", err)
		}
		a := program.NewRamp(v[0], uint8(v[1]), uint8(v[2]))
		if err := a.Validate(); err != nil {
			return program.Action{}, err
		}
		return a, nil

	case "blink":
		v, err := parseUints(args, 7)
		if err != nil {
			return program.Action{}, fmt.Errorf("blink: %w", err)
		}
		if v[1] > 0xFFFF || v[2] > 0xFFFF {
			return program.Action{}, fmt.Errorf("blink: phase durations must fit 16 bits")
		}
		if err := checkLevels(v[3:]); err != nil {
			return program.Action{}, fmt.Errorf("blink: %w", err)
		}
		return program.NewBlink(v[0], uint16(v[1]), uint16(v[2]),
			uint8(v[3]), uint8(v[4]), uint8(v[5]), uint8(v[6])), nil

	default:
		return program.Action{}, fmt.Errorf("unknown action %q", kind)
	}
}

func parseUints(args []string, n int) ([]uint64, error) {
	if len(args) != n {
		return nil, fmt.Errorf("want %d fields, got %d", n, len(args))
	}
	out := make([]uint64, n)
	for i, a := range args {
		v, err := strconv.ParseUint(a, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i+1, err)
		}
		out[i] = v
	}
	return out, nil
}

func checkLevels(v []uint64) error {
	for _, x := range v {
		if x > 255 {
			return fmt.Errorf("level %d out of range 0-255", x)
		}
	}
	return nil
}

// parseAt reads a time: "now", a signed Go duration offset from now
// ("+90s", "-1h"), an RFC3339 timestamp or raw epoch seconds.
func parseAt(s string, now time.Time) (time.Time, error) {
	switch {
	case s == "" || s == "now":
		return now, nil
	case strings.HasPrefix(s, "+"), strings.HasPrefix(s, "-"):
		d, err := time.ParseDuration(s)
		if err != nil {
			return time.Time{}, err
		}
		return now.Add(d), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	epoch, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse time %q", s)
	}
	return time.Unix(epoch, 0), nil
}

// actionList collects repeated -action flags.
type actionList []string

func (l *actionList) String() string { return strings.Join(*l, ",") }

func (l *actionList) Set(v string) error {
	*l = append(*l, v)
	return nil
}
