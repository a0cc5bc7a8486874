package supervisor

import (
	"fmt"
	"strings"
	"time"
)

// Strategy selects which children are restarted when one of them exits
type Strategy int

const (
	// OneForOne restarts only the child that exited
	OneForOne Strategy = iota
	// OneForAll stops every other child and restarts the whole group
	OneForAll
	// RestForOne restarts the exited child and every child declared after it
	RestForOne
	// SimpleOneForOne is a dynamic pool of homogeneous children restarted
	// independently
	SimpleOneForOne
)

// String returns the string representation of a Strategy
func (s Strategy) String() string {
	switch s {
	case OneForOne:
		return "one_for_one"
	case OneForAll:
		return "one_for_all"
	case RestForOne:
		return "rest_for_one"
	case SimpleOneForOne:
		return "simple_one_for_one"
	default:
		return "unknown"
	}
}

// ParseStrategy parses the snake_case name of a strategy
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "-", "_")) {
	case "one_for_one":
		return OneForOne, nil
	case "one_for_all":
		return OneForAll, nil
	case "rest_for_one":
		return RestForOne, nil
	case "simple_one_for_one":
		return SimpleOneForOne, nil
	default:
		return 0, ErrInvalidConfiguration("strategy", s, "unknown strategy")
	}
}

// Flags is a validated supervisor configuration
type Flags struct {
	strategy  Strategy
	intensity int
	period    time.Duration
}

// NewFlags validates and returns supervisor flags. Intensity zero is legal and
// means the first restart escalates.
func NewFlags(strategy Strategy, intensity int, period time.Duration) (Flags, error) {
	if strategy < OneForOne || strategy > SimpleOneForOne {
		return Flags{}, ErrInvalidConfiguration("strategy", int(strategy), "unknown strategy")
	}
	if intensity < 0 {
		return Flags{}, ErrInvalidConfiguration("intensity", intensity, "must not be negative")
	}
	if period <= 0 {
		return Flags{}, ErrInvalidConfiguration("period", period.String(), "must be strictly positive").
			WithSuggestion("Use a period of at least one second, e.g. 5s")
	}
	return Flags{strategy: strategy, intensity: intensity, period: period}, nil
}

// Strategy returns the restart strategy
func (f Flags) Strategy() Strategy { return f.strategy }

// Intensity returns the maximum number of restarts tolerated within Period
func (f Flags) Intensity() int { return f.intensity }

// Period returns the restart window length
func (f Flags) Period() time.Duration { return f.period }

func (f Flags) String() string {
	return fmt.Sprintf("%s intensity=%d period=%s", f.strategy, f.intensity, f.period)
}
