package chess

import (
	"encoding/json"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// Outcome is the game-level verdict of one game.
type Outcome uint8

const (
	OutcomeNone Outcome = iota
	OutcomeDraw
	OutcomeWhiteWins
	OutcomeBlackWins
)

// Reason classifies how a result came about.
type Reason uint8

const (
	ReasonNormal Reason = iota
	ReasonAdjudication
	ReasonTimeout
	ReasonDisconnection
	ReasonError
	ReasonNoResult
)

func (r Reason) String() string {
	switch r {
	case ReasonAdjudication:
		return "adjudication"
	case ReasonTimeout:
		return "timeout"
	case ReasonDisconnection:
		return "disconnection"
	case ReasonError:
		return "error"
	case ReasonNoResult:
		return "no result"
	default:
		return "normal"
	}
}

// Result is the terminal verdict of one game. The zero value means the game
// is still running; a session assigns a non-zero Result exactly once.
type Result struct {
	Outcome     Outcome
	Reason      Reason
	Description string
}

func WinResult(winner nchess.Color, reason Reason, description string) Result {
	outcome := OutcomeWhiteWins
	if winner == nchess.Black {
		outcome = OutcomeBlackWins
	}
	return Result{Outcome: outcome, Reason: reason, Description: description}
}

func DrawResult(reason Reason, description string) Result {
	return Result{Outcome: OutcomeDraw, Reason: reason, Description: description}
}

func ErrorResult(description string) Result {
	return Result{Outcome: OutcomeNone, Reason: ReasonError, Description: description}
}

func (r Result) IsNone() bool { return r == Result{} }

// Winner reports the winning side for decisive results.
func (r Result) Winner() (nchess.Color, bool) {
	switch r.Outcome {
	case OutcomeWhiteWins:
		return nchess.White, true
	case OutcomeBlackWins:
		return nchess.Black, true
	default:
		return nchess.White, false
	}
}

// PGNString returns the PGN result token.
func (r Result) PGNString() string {
	switch r.Outcome {
	case OutcomeWhiteWins:
		return "1-0"
	case OutcomeBlackWins:
		return "0-1"
	case OutcomeDraw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

func (r Result) String() string {
	if strings.TrimSpace(r.Description) == "" {
		return r.PGNString()
	}
	return fmt.Sprintf("%s {%s}", r.PGNString(), r.Description)
}

// MarshalJSON encodes the verdict with its PGN token and reason name so
// downstream consumers never see the numeric enums.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Token       string `json:"token"`
		Reason      string `json:"reason"`
		Description string `json:"description,omitempty"`
	}{r.PGNString(), r.Reason.String(), r.Description})
}

// ColorName spells a side out the way result descriptions and PGN tags do.
func ColorName(c nchess.Color) string {
	if c == nchess.Black {
		return "Black"
	}
	return "White"
}
