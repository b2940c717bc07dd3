package game

import (
	nchess "github.com/corentings/chess/v2"

	"github.com/laldon/cutechess/internal/chess"
)

// AdjudicationRules configures early game adjudication. A zero value
// disables every rule.
type AdjudicationRules struct {
	// The draw rule fires once the game has reached DrawMoveNumber full
	// moves and both sides have scored within DrawScoreCP of zero for
	// DrawMoveCount consecutive full moves. Zero DrawMoveNumber disables it.
	DrawMoveNumber int
	DrawMoveCount  int
	DrawScoreCP    int

	// The resign rule awards the win to the opponent once one side has
	// scored at or below ResignScoreCP for ResignMoveCount consecutive
	// moves of its own. Zero ResignMoveCount disables it.
	ResignMoveCount int
	ResignScoreCP   int

	UseTablebase bool
}

func (r AdjudicationRules) Enabled() bool {
	return r.DrawMoveNumber > 0 || r.ResignMoveCount > 0 || r.UseTablebase
}

// Adjudicator watches the stream of played moves and their evaluations and
// decides whether to end the game early. One instance serves one game.
type Adjudicator struct {
	rules            AdjudicationRules
	drawScoreCount   int
	resignScoreCount [2]int
	result           chess.Result
}

func NewAdjudicator(rules AdjudicationRules) *Adjudicator {
	return &Adjudicator{rules: rules}
}

// Result is the adjudicated verdict, none until a rule fires. Later calls
// to AddEval may still overwrite it.
func (a *Adjudicator) Result() chess.Result { return a.result }

// AddEval consumes the evaluation the side that just moved reported for its
// move. The board must already reflect that move, so the mover is the side
// not on turn. Moves without search depth carry no signal and reset the
// rolling counters instead.
func (a *Adjudicator) AddEval(b *chess.Board, eval chess.MoveEvaluation) {
	if a.rules.UseTablebase {
		if r := b.TablebaseResult(); !r.IsNone() {
			a.result = r
			return
		}
	}

	mover := opponentOf(b.SideToMove())
	idx := sideIndex(mover)

	if eval.Depth <= 0 {
		a.drawScoreCount = 0
		a.resignScoreCount[idx] = 0
		return
	}

	if a.rules.DrawMoveNumber > 0 {
		if abs(eval.ScoreCP) <= a.rules.DrawScoreCP {
			a.drawScoreCount++
		} else {
			a.drawScoreCount = 0
		}
		if b.PlyCount()/2 >= a.rules.DrawMoveNumber && a.drawScoreCount >= 2*a.rules.DrawMoveCount {
			a.result = chess.DrawResult(chess.ReasonAdjudication, "draw by adjudication")
		}
	}

	if a.rules.ResignMoveCount > 0 {
		if eval.ScoreCP <= a.rules.ResignScoreCP {
			a.resignScoreCount[idx]++
		} else {
			a.resignScoreCount[idx] = 0
		}
		if a.resignScoreCount[idx] >= a.rules.ResignMoveCount {
			winner := opponentOf(mover)
			a.result = chess.WinResult(winner, chess.ReasonAdjudication,
				chess.ColorName(winner)+" wins by adjudication")
		}
	}
}

func sideIndex(c nchess.Color) int {
	if c == nchess.Black {
		return 1
	}
	return 0
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
