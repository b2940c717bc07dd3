package chess

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeControl describes one side's clock and tracks its remaining budget
// during a game. Supported forms: a session clock ("40/3600+30", "60+1",
// "300"), a fixed budget per move, or an infinite clock.
type TimeControl struct {
	MovesPerTC  int
	TimePerTC   time.Duration
	Increment   time.Duration
	TimePerMove time.Duration
	Infinite    bool

	timeLeft  time.Duration
	movesLeft int
}

// ParseTimeControl reads the "moves/base+increment" notation, with base and
// increment in seconds, or "inf" for an unclocked game.
func ParseTimeControl(s string) (*TimeControl, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty time control")
	}
	if strings.EqualFold(s, "inf") || strings.EqualFold(s, "infinite") {
		return &TimeControl{Infinite: true}, nil
	}

	tc := &TimeControl{}
	rest := s
	if movesPart, timePart, ok := strings.Cut(rest, "/"); ok {
		moves, err := strconv.Atoi(strings.TrimSpace(movesPart))
		if err != nil || moves <= 0 {
			return nil, fmt.Errorf("invalid moves count in time control %q", s)
		}
		tc.MovesPerTC = moves
		rest = timePart
	}
	basePart, incPart, hasInc := strings.Cut(rest, "+")
	base, err := parseSeconds(basePart)
	if err != nil || base <= 0 {
		return nil, fmt.Errorf("invalid base time in time control %q", s)
	}
	tc.TimePerTC = base
	if hasInc {
		inc, err := parseSeconds(incPart)
		if err != nil || inc < 0 {
			return nil, fmt.Errorf("invalid increment in time control %q", s)
		}
		tc.Increment = inc
	}
	return tc, nil
}

// FixedTimeControl gives a side the same budget on every move.
func FixedTimeControl(perMove time.Duration) *TimeControl {
	return &TimeControl{TimePerMove: perMove}
}

func parseSeconds(s string) (time.Duration, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(v * float64(time.Second)), nil
}

func (tc *TimeControl) Valid() bool {
	if tc == nil {
		return false
	}
	return tc.Infinite || tc.TimePerMove > 0 || tc.TimePerTC > 0
}

// Reset arms the clock for a new game.
func (tc *TimeControl) Reset() {
	tc.movesLeft = tc.MovesPerTC
	if tc.TimePerMove > 0 {
		tc.timeLeft = tc.TimePerMove
		return
	}
	tc.timeLeft = tc.TimePerTC
}

func (tc *TimeControl) TimeLeft() time.Duration { return tc.timeLeft }
func (tc *TimeControl) MovesLeft() int          { return tc.movesLeft }

func (tc *TimeControl) Expired() bool {
	if tc.Infinite {
		return false
	}
	return tc.timeLeft < 0
}

// Update books one played move: elapsed time off the clock, increment on,
// and a fresh session budget when the move quota rolls over.
func (tc *TimeControl) Update(elapsed time.Duration) {
	if tc.Infinite {
		return
	}
	if tc.TimePerMove > 0 {
		tc.timeLeft = tc.TimePerMove - elapsed
		return
	}
	tc.timeLeft += tc.Increment - elapsed
	if tc.MovesPerTC > 0 {
		tc.movesLeft--
		if tc.movesLeft <= 0 {
			tc.timeLeft += tc.TimePerTC
			tc.movesLeft = tc.MovesPerTC
		}
	}
}

func (tc *TimeControl) String() string {
	switch {
	case tc == nil:
		return ""
	case tc.Infinite:
		return "inf"
	case tc.TimePerMove > 0:
		return formatSeconds(tc.TimePerMove) + "/move"
	}
	var b strings.Builder
	if tc.MovesPerTC > 0 {
		fmt.Fprintf(&b, "%d/", tc.MovesPerTC)
	}
	b.WriteString(formatSeconds(tc.TimePerTC))
	if tc.Increment > 0 {
		b.WriteByte('+')
		b.WriteString(formatSeconds(tc.Increment))
	}
	return b.String()
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'g', -1, 64)
}
