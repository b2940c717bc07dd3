package uci

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	nchess "github.com/corentings/chess/v2"

	"github.com/laldon/cutechess/internal/chess"
	"github.com/laldon/cutechess/internal/loop"
)

// sinkPipe stands in for the engine's stdin so command traffic can be
// inspected without a process.
type sinkPipe struct{ bytes.Buffer }

func (s *sinkPipe) Close() error { return nil }

func newBenchEngine(t *testing.T) (*Engine, *sinkPipe) {
	t.Helper()
	board, err := chess.NewBoard("standard", "")
	if err != nil {
		t.Fatalf("new board: %v", err)
	}
	sink := &sinkPipe{}
	tc := chess.FixedTimeControl(time.Second)
	tc.Reset()
	e := &Engine{
		lp:       loop.New(),
		name:     "bench",
		tc:       tc,
		stdin:    sink,
		declared: make(map[string]bool),
		variants: make(map[string]bool),
		board:    board,
	}
	return e, sink
}

func TestBestmoveEmitsMoveAndChargesClock(t *testing.T) {
	e, _ := newBenchEngine(t)
	e.side = nchess.White
	e.inGame = true
	e.st = stateThinking
	e.searchStart = time.Now().Add(-50 * time.Millisecond)

	var got string
	e.OnMoveMade(func(mv *nchess.Move) { got = mv.String() })

	e.onLine("info depth 11 score cp 28 nodes 4242 pv e2e4 e7e5")
	e.onLine("bestmove e2e4 ponder e7e5")

	if got != "e2e4" {
		t.Fatalf("emitted move = %q", got)
	}
	if e.st != stateObserving {
		t.Fatalf("state = %d after bestmove", e.st)
	}
	if len(e.moves) != 1 || e.moves[0] != "e2e4" {
		t.Fatalf("recorded moves = %v", e.moves)
	}
	ev := e.Evaluation()
	if ev.Depth != 11 || ev.ScoreCP != 28 || ev.Elapsed <= 0 {
		t.Fatalf("evaluation = %+v", ev)
	}
	if left := e.tc.TimeLeft(); left <= 0 || left >= time.Second {
		t.Fatalf("clock not charged, time left %v", left)
	}
}

func TestBestmoveIllegalMoveForfeits(t *testing.T) {
	e, _ := newBenchEngine(t)
	e.side = nchess.White
	e.inGame = true
	e.st = stateThinking
	e.searchStart = time.Now()

	var forfeits []chess.Result
	e.OnForfeit(func(r chess.Result) { forfeits = append(forfeits, r) })
	moved := false
	e.OnMoveMade(func(*nchess.Move) { moved = true })

	e.onLine("bestmove e2e5")

	if moved || len(e.moves) != 0 {
		t.Fatalf("illegal move was emitted")
	}
	if len(forfeits) != 1 {
		t.Fatalf("forfeits = %v", forfeits)
	}
	r := forfeits[0]
	if r.Outcome != chess.OutcomeBlackWins || r.Reason != chess.ReasonError {
		t.Fatalf("forfeit result = %+v", r)
	}
}

func TestBestmoveNullMoveForfeits(t *testing.T) {
	e, _ := newBenchEngine(t)
	e.side = nchess.Black
	e.inGame = true
	e.st = stateThinking
	e.searchStart = time.Now()

	var forfeits []chess.Result
	e.OnForfeit(func(r chess.Result) { forfeits = append(forfeits, r) })

	e.onLine("bestmove (none)")

	if len(forfeits) != 1 {
		t.Fatalf("forfeits = %v", forfeits)
	}
	r := forfeits[0]
	if r.Outcome != chess.OutcomeWhiteWins || r.Reason != chess.ReasonError {
		t.Fatalf("forfeit result = %+v", r)
	}
	if !strings.Contains(r.Description, "null move") {
		t.Fatalf("description = %q", r.Description)
	}
}

func TestOverBudgetMoveLosesOnTime(t *testing.T) {
	e, _ := newBenchEngine(t)
	e.tc = chess.FixedTimeControl(50 * time.Millisecond)
	e.tc.Reset()
	e.side = nchess.White
	e.inGame = true
	e.st = stateThinking
	e.searchStart = time.Now().Add(-200 * time.Millisecond)

	var forfeits []chess.Result
	e.OnForfeit(func(r chess.Result) { forfeits = append(forfeits, r) })
	moved := false
	e.OnMoveMade(func(*nchess.Move) { moved = true })

	e.onLine("bestmove e2e4")

	if moved {
		t.Fatalf("move emitted despite blown budget")
	}
	if len(forfeits) != 1 || forfeits[0].Reason != chess.ReasonTimeout {
		t.Fatalf("forfeits = %v", forfeits)
	}
	if forfeits[0].Outcome != chess.OutcomeBlackWins {
		t.Fatalf("forfeit result = %+v", forfeits[0])
	}
}

func TestStaleBestmoveIsDiscarded(t *testing.T) {
	e, _ := newBenchEngine(t)
	e.st = stateIdle

	moved := false
	e.OnMoveMade(func(*nchess.Move) { moved = true })
	e.onLine("bestmove e2e4")

	if moved || len(e.moves) != 0 {
		t.Fatalf("idle bestmove was not discarded")
	}
}

func TestEndGameStopsSearchAndPingsAfterBestmove(t *testing.T) {
	e, sink := newBenchEngine(t)
	e.side = nchess.White
	e.inGame = true
	e.st = stateThinking
	e.searchStart = time.Now()

	readyCount := 0
	e.OnReady(func() { readyCount++ })
	moved := false
	e.OnMoveMade(func(*nchess.Move) { moved = true })

	e.EndGame(chess.DrawResult(chess.ReasonAdjudication, "adjudicated"))
	if e.st != stateFinishing || e.IsReady() {
		t.Fatalf("state = %d ready = %v after end", e.st, e.IsReady())
	}
	if !strings.Contains(sink.String(), "stop\n") {
		t.Fatalf("no stop sent: %q", sink.String())
	}
	if strings.Contains(sink.String(), "isready") {
		t.Fatalf("ping sent before the search wound down")
	}

	e.onLine("bestmove a2a3")
	if moved {
		t.Fatalf("stale bestmove emitted after end of game")
	}
	if !strings.Contains(sink.String(), "isready\n") {
		t.Fatalf("no ping after stale bestmove: %q", sink.String())
	}

	e.onLine("readyok")
	if readyCount != 1 || !e.IsReady() || e.st != stateIdle {
		t.Fatalf("ready not reported: count %d state %d", readyCount, e.st)
	}
}

func TestEndGameWhileObservingPingsImmediately(t *testing.T) {
	e, sink := newBenchEngine(t)
	e.side = nchess.Black
	e.inGame = true
	e.st = stateObserving

	readyCount := 0
	e.OnReady(func() { readyCount++ })

	e.EndGame(chess.WinResult(nchess.White, chess.ReasonNormal, "White mates"))
	if strings.Contains(sink.String(), "stop\n") {
		t.Fatalf("stop sent without a running search")
	}
	if !strings.Contains(sink.String(), "isready\n") {
		t.Fatalf("no ping sent: %q", sink.String())
	}

	e.onLine("readyok")
	if readyCount != 1 || e.st != stateIdle {
		t.Fatalf("ready not reported: count %d state %d", readyCount, e.st)
	}
}

func TestDisconnectForfeitsMidGame(t *testing.T) {
	e, _ := newBenchEngine(t)
	e.side = nchess.Black
	e.inGame = true
	e.st = stateObserving

	var forfeits []chess.Result
	e.OnForfeit(func(r chess.Result) { forfeits = append(forfeits, r) })
	readyCount := 0
	e.OnReady(func() { readyCount++ })

	e.onDisconnect()

	if len(forfeits) != 1 {
		t.Fatalf("forfeits = %v", forfeits)
	}
	r := forfeits[0]
	if r.Outcome != chess.OutcomeWhiteWins || r.Reason != chess.ReasonDisconnection {
		t.Fatalf("forfeit result = %+v", r)
	}
	if readyCount != 1 {
		t.Fatalf("barrier not released, ready count %d", readyCount)
	}
	if !e.Disconnected() || !e.IsReady() {
		t.Fatalf("disconnected engine must read as ready")
	}

	e.onDisconnect()
	if len(forfeits) != 1 || readyCount != 1 {
		t.Fatalf("second disconnect repeated events")
	}
}

func TestNewGameResetsState(t *testing.T) {
	e, sink := newBenchEngine(t)
	e.declared["UCI_Opponent"] = true
	e.moves = []string{"e2e4"}
	e.eval = chess.MoveEvaluation{ScoreCP: 99, Depth: 9, Elapsed: time.Second}

	e.NewGame(nchess.Black, "rival")

	if e.st != stateObserving || !e.inGame || e.side != nchess.Black {
		t.Fatalf("state = %d inGame = %v side = %v", e.st, e.inGame, e.side)
	}
	if len(e.moves) != 0 || !e.eval.IsEmpty() {
		t.Fatalf("stale game state survived: moves %v eval %+v", e.moves, e.eval)
	}
	if e.startFen != chess.DefaultStartFEN {
		t.Fatalf("start fen = %q", e.startFen)
	}
	out := sink.String()
	if !strings.Contains(out, "ucinewgame\n") {
		t.Fatalf("no ucinewgame sent: %q", out)
	}
	if !strings.Contains(out, "setoption name UCI_Opponent value none none computer rival\n") {
		t.Fatalf("no opponent option sent: %q", out)
	}
}

func TestPositionCommand(t *testing.T) {
	e, _ := newBenchEngine(t)
	e.startFen = chess.DefaultStartFEN
	if got := e.positionCommand(); got != "position startpos" {
		t.Fatalf("got %q", got)
	}

	e.moves = []string{"e2e4", "e7e5"}
	if got := e.positionCommand(); got != "position startpos moves e2e4 e7e5" {
		t.Fatalf("got %q", got)
	}

	e.startFen = "k7/8/8/8/8/8/8/K6R w - - 0 41"
	e.moves = []string{"h1h2"}
	want := "position fen k7/8/8/8/8/8/8/K6R w - - 0 41 moves h1h2"
	if got := e.positionCommand(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestGoCommandMovetime(t *testing.T) {
	e, _ := newBenchEngine(t)
	e.tc = chess.FixedTimeControl(2 * time.Second)
	e.tc.Reset()
	if got := e.goCommand(); got != "go movetime 2000" {
		t.Fatalf("got %q", got)
	}

	e.cfg.Depth = 8
	e.cfg.Nodes = 100000
	if got := e.goCommand(); got != "go movetime 2000 depth 8 nodes 100000" {
		t.Fatalf("got %q", got)
	}
}

func TestGoCommandSessionClock(t *testing.T) {
	e, _ := newBenchEngine(t)
	own, err := chess.ParseTimeControl("40/60+0.6")
	if err != nil {
		t.Fatalf("parse tc: %v", err)
	}
	opp, err := chess.ParseTimeControl("40/60+0.6")
	if err != nil {
		t.Fatalf("parse tc: %v", err)
	}
	own.Reset()
	opp.Reset()
	e.tc = own
	e.opponentTC = opp
	e.side = nchess.White

	want := "go wtime 60000 btime 60000 winc 600 binc 600 movestogo 40"
	if got := e.goCommand(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestGoCommandBlackSwapsClocks(t *testing.T) {
	e, _ := newBenchEngine(t)
	own, err := chess.ParseTimeControl("60")
	if err != nil {
		t.Fatalf("parse tc: %v", err)
	}
	opp, err := chess.ParseTimeControl("30")
	if err != nil {
		t.Fatalf("parse tc: %v", err)
	}
	own.Reset()
	opp.Reset()
	e.tc = own
	e.opponentTC = opp
	e.side = nchess.Black

	if got := e.goCommand(); got != "go wtime 30000 btime 60000" {
		t.Fatalf("got %q", got)
	}
}

func TestGoCommandInfinite(t *testing.T) {
	e, _ := newBenchEngine(t)
	inf, err := chess.ParseTimeControl("inf")
	if err != nil {
		t.Fatalf("parse tc: %v", err)
	}
	e.tc = inf
	if got := e.goCommand(); got != "go infinite" {
		t.Fatalf("got %q", got)
	}

	e.cfg.Depth = 8
	if got := e.goCommand(); got != "go depth 8" {
		t.Fatalf("got %q", got)
	}
}

func TestSupportsVariant(t *testing.T) {
	e, _ := newBenchEngine(t)
	if !e.SupportsVariant("standard") {
		t.Fatalf("standard must always be supported")
	}
	if e.SupportsVariant("atomic") {
		t.Fatalf("undeclared variant accepted")
	}
	e.variants["atomic"] = true
	if !e.SupportsVariant("atomic") {
		t.Fatalf("declared variant rejected")
	}
}

const scriptedEngine = `#!/bin/sh
while read line; do
  case "$line" in
    uci)
      echo "id name Scripted 1.0"
      echo "option name Hash type spin default 16 min 1 max 1024"
      echo "option name UCI_Opponent type string default"
      echo "uciok"
      ;;
    isready) echo "readyok" ;;
    go*)
      echo "info depth 5 score cp 13 pv e2e4"
      echo "bestmove e2e4"
      ;;
    quit) exit 0 ;;
  esac
done
`

const crashingEngine = `#!/bin/sh
while read line; do
  case "$line" in
    uci) echo "uciok" ;;
    isready) echo "readyok" ;;
    go*) exit 3 ;;
  esac
done
`

const muteEngine = `#!/bin/sh
while read line; do :; done
`

func writeScriptEngine(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.sh")
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func startLoop(t *testing.T) *loop.Loop {
	t.Helper()
	lp := loop.New()
	go lp.Run(context.Background())
	t.Cleanup(func() {
		lp.Stop()
		<-lp.Done()
	})
	return lp
}

func onLoop(t *testing.T, lp *loop.Loop, fn func()) {
	t.Helper()
	done := make(chan struct{})
	lp.Post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("loop call timed out")
	}
}

func TestSpawnPlaysMoveAndQuits(t *testing.T) {
	lp := startLoop(t)
	script := writeScriptEngine(t, scriptedEngine)

	e, err := Spawn(lp, Config{
		Command:     script,
		TimeControl: chess.FixedTimeControl(time.Second),
		Options:     map[string]string{"Hash": "32"},
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		e.Quit(ctx)
	})

	if e.Name() != "Scripted 1.0" {
		t.Fatalf("name = %q", e.Name())
	}

	board, err := chess.NewBoard("standard", "")
	if err != nil {
		t.Fatalf("new board: %v", err)
	}
	moveCh := make(chan string, 1)
	onLoop(t, lp, func() {
		e.SetBoard(board)
		e.NewGame(nchess.White, "rival")
		e.OnMoveMade(func(mv *nchess.Move) { moveCh <- mv.String() })
		e.Go()
	})

	var mv string
	select {
	case mv = <-moveCh:
	case <-time.After(3 * time.Second):
		t.Fatalf("engine never moved")
	}
	if mv != "e2e4" {
		t.Fatalf("move = %q", mv)
	}
	onLoop(t, lp, func() {
		ev := e.Evaluation()
		if ev.Depth != 5 || ev.ScoreCP != 13 || ev.Elapsed <= 0 {
			t.Errorf("evaluation = %+v", ev)
		}
	})

	readyCh := make(chan struct{}, 1)
	onLoop(t, lp, func() {
		e.OnReady(func() { readyCh <- struct{}{} })
		e.EndGame(chess.DrawResult(chess.ReasonAdjudication, "called off"))
	})
	select {
	case <-readyCh:
	case <-time.After(3 * time.Second):
		t.Fatalf("engine never reported ready after the game")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := e.Quit(ctx); err != nil {
		t.Fatalf("quit: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		var gone bool
		onLoop(t, lp, func() { gone = e.Disconnected() })
		if gone {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("engine never marked disconnected")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSpawnCrashMidSearchForfeits(t *testing.T) {
	lp := startLoop(t)
	script := writeScriptEngine(t, crashingEngine)

	e, err := Spawn(lp, Config{
		Name:        "crasher",
		Command:     script,
		TimeControl: chess.FixedTimeControl(time.Second),
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	board, err := chess.NewBoard("standard", "")
	if err != nil {
		t.Fatalf("new board: %v", err)
	}
	forfeitCh := make(chan chess.Result, 1)
	onLoop(t, lp, func() {
		e.SetBoard(board)
		e.NewGame(nchess.White, "rival")
		e.OnForfeit(func(r chess.Result) { forfeitCh <- r })
		e.Go()
	})

	var r chess.Result
	select {
	case r = <-forfeitCh:
	case <-time.After(3 * time.Second):
		t.Fatalf("crash did not forfeit")
	}
	if r.Outcome != chess.OutcomeBlackWins || r.Reason != chess.ReasonDisconnection {
		t.Fatalf("forfeit result = %+v", r)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := e.Quit(ctx); err != nil {
		t.Fatalf("quit after crash: %v", err)
	}
}

func TestSpawnRejectsMissingBinary(t *testing.T) {
	lp := startLoop(t)
	_, err := Spawn(lp, Config{
		Command:     filepath.Join(t.TempDir(), "no-such-engine"),
		TimeControl: chess.FixedTimeControl(time.Second),
	})
	if err == nil {
		t.Fatalf("spawn of a missing binary succeeded")
	}
}

func TestSpawnTimesOutOnMuteEngine(t *testing.T) {
	lp := startLoop(t)
	script := writeScriptEngine(t, muteEngine)

	start := time.Now()
	_, err := Spawn(lp, Config{
		Command:     script,
		TimeControl: chess.FixedTimeControl(time.Second),
		InitTimeout: 200 * time.Millisecond,
	})
	if err == nil {
		t.Fatalf("handshake with a mute engine succeeded")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("timeout took %v", elapsed)
	}
}

func TestSpawnRequiresTimeControl(t *testing.T) {
	lp := startLoop(t)
	if _, err := Spawn(lp, Config{Command: "/bin/sh"}); err == nil {
		t.Fatalf("spawn without a time control succeeded")
	}
}
