package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

// Mode is an execution topology.
type Mode string

const (
	ModeSingle     Mode = "single"
	ModeParallel   Mode = "parallel"
	ModeSequential Mode = "sequential"
	ModeLoop       Mode = "loop"
)

var (
	ErrUnknownMode  = errors.New("unknown execution mode")
	ErrUnknownAgent = errors.New("unknown agent")
	ErrNoAgents     = errors.New("no agents available")
	ErrInvalidAgent = errors.New("runner must have a non-empty id")
)

// ParseMode accepts the mode names case-insensitively. The empty string is
// single.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeSingle, nil
	case ModeSingle, ModeParallel, ModeSequential, ModeLoop:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}
