package chess

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// MoveEvaluation carries the searching side's view of the move it just
// played: the score in centipawns from the mover's perspective, the search
// depth and the time the search took. Forced book moves carry the zero value.
type MoveEvaluation struct {
	ScoreCP int
	Depth   int
	Elapsed time.Duration
}

func (e MoveEvaluation) IsEmpty() bool {
	return e.ScoreCP == 0 && e.Depth == 0 && e.Elapsed == 0
}

// Comment renders the evaluation as a PGN move annotation, for example
// "+0.28/12 3s". Evaluations without search depth produce no annotation.
func (e MoveEvaluation) Comment() string {
	if e.Depth <= 0 {
		return ""
	}
	var b strings.Builder
	if e.ScoreCP > 0 {
		b.WriteByte('+')
	}
	fmt.Fprintf(&b, "%.2f/%d %ds",
		float64(e.ScoreCP)/100,
		e.Depth,
		int(math.Round(e.Elapsed.Seconds())))
	return b.String()
}
