package chess

import (
	"encoding/json"
	"testing"
	"time"

	nchess "github.com/corentings/chess/v2"
)

func TestResultZeroValueMeansRunning(t *testing.T) {
	var r Result
	if !r.IsNone() {
		t.Fatalf("zero Result not none")
	}
	if got := r.PGNString(); got != "*" {
		t.Fatalf("PGNString() = %q", got)
	}
	if _, ok := r.Winner(); ok {
		t.Fatalf("zero Result has a winner")
	}
}

func TestResultConstructors(t *testing.T) {
	r := WinResult(nchess.White, ReasonNormal, "White mates")
	if r.Outcome != OutcomeWhiteWins || r.PGNString() != "1-0" {
		t.Fatalf("white win mishandled: %+v", r)
	}
	if winner, ok := r.Winner(); !ok || winner != nchess.White {
		t.Fatalf("Winner() = %v %v", winner, ok)
	}
	if got := r.String(); got != "1-0 {White mates}" {
		t.Fatalf("String() = %q", got)
	}

	r = WinResult(nchess.Black, ReasonTimeout, "Black wins on time")
	if r.Outcome != OutcomeBlackWins || r.PGNString() != "0-1" || r.Reason != ReasonTimeout {
		t.Fatalf("black win mishandled: %+v", r)
	}

	r = DrawResult(ReasonAdjudication, "draw by adjudication")
	if r.Outcome != OutcomeDraw || r.PGNString() != "1/2-1/2" {
		t.Fatalf("draw mishandled: %+v", r)
	}
	if _, ok := r.Winner(); ok {
		t.Fatalf("draw has a winner")
	}

	r = ErrorResult("connection stalls")
	if r.IsNone() || r.Outcome != OutcomeNone || r.Reason != ReasonError {
		t.Fatalf("error result mishandled: %+v", r)
	}
	if got := r.String(); got != "* {connection stalls}" {
		t.Fatalf("String() = %q", got)
	}
}

func TestResultMarshalJSON(t *testing.T) {
	cases := []struct {
		result Result
		want   string
	}{
		{WinResult(nchess.White, ReasonTimeout, "Black loses on time"),
			`{"token":"1-0","reason":"timeout","description":"Black loses on time"}`},
		{DrawResult(ReasonAdjudication, ""),
			`{"token":"1/2-1/2","reason":"adjudication"}`},
		{Result{},
			`{"token":"*","reason":"normal"}`},
	}
	for _, c := range cases {
		raw, err := json.Marshal(c.result)
		if err != nil {
			t.Fatalf("Marshal(%+v): %v", c.result, err)
		}
		if string(raw) != c.want {
			t.Fatalf("Marshal(%+v) = %s, want %s", c.result, raw, c.want)
		}
	}
}

func TestMoveEvaluationComment(t *testing.T) {
	cases := []struct {
		eval MoveEvaluation
		want string
	}{
		{MoveEvaluation{}, ""},
		{MoveEvaluation{ScoreCP: 500, Elapsed: time.Second}, ""},
		{MoveEvaluation{ScoreCP: 34, Depth: 12, Elapsed: 2600 * time.Millisecond}, "+0.34/12 3s"},
		{MoveEvaluation{ScoreCP: -150, Depth: 8, Elapsed: 400 * time.Millisecond}, "-1.50/8 0s"},
		{MoveEvaluation{ScoreCP: 0, Depth: 10, Elapsed: time.Second}, "0.00/10 1s"},
	}
	for _, c := range cases {
		if got := c.eval.Comment(); got != c.want {
			t.Fatalf("Comment(%+v) = %q, want %q", c.eval, got, c.want)
		}
	}
}

func TestMoveEvaluationIsEmpty(t *testing.T) {
	if !(MoveEvaluation{}).IsEmpty() {
		t.Fatalf("zero evaluation not empty")
	}
	if (MoveEvaluation{Depth: 1}).IsEmpty() {
		t.Fatalf("searched evaluation reported empty")
	}
}

func TestColorName(t *testing.T) {
	if ColorName(nchess.White) != "White" || ColorName(nchess.Black) != "Black" {
		t.Fatalf("ColorName mismatch")
	}
}
