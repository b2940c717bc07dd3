// Package uci drives one UCI engine process and adapts it to the game.Player
// contract. The process is spawned and handshaken synchronously; afterwards a
// pump goroutine forwards every engine line onto the match event loop, so all
// state in Engine is touched from the loop only.
package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/laldon/cutechess/internal/chess"
	"github.com/laldon/cutechess/internal/game"
	"github.com/laldon/cutechess/internal/loop"
	"github.com/laldon/cutechess/internal/obslog"
)

const (
	defaultInitTimeout = 10 * time.Second
	// extra slack past the clock before the stall timer forfeits the game,
	// covering process scheduling and pipe latency.
	timeoutMargin = 2 * time.Second
	killGrace     = 2 * time.Second
)

// Config describes how to launch and set up one engine.
type Config struct {
	// Name overrides the engine's self-reported "id name".
	Name    string
	Command string
	Args    []string
	// Dir is the working directory the process starts in.
	Dir string
	// Options are sent as "setoption" pairs after the uciok handshake.
	// Options the engine did not declare are skipped with a warning.
	Options     map[string]string
	TimeControl *chess.TimeControl
	// Depth and Nodes cap the search independently of the clock.
	Depth       int
	Nodes       int64
	InitTimeout time.Duration
}

type engineState uint8

const (
	stateIdle engineState = iota
	stateObserving
	stateThinking
	stateFinishing
	stateDisconnected
)

// Engine is a live UCI engine process playing one side of a game.
type Engine struct {
	game.Events

	lp   *loop.Loop
	cfg  Config
	name string
	tc   *chess.TimeControl
	// opponentTC is read live when building go commands so wtime/btime
	// reflect both clocks.
	opponentTC *chess.TimeControl

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	writeMu sync.Mutex
	waitErr error
	exited  chan struct{}

	idName   string
	declared map[string]bool
	variants map[string]bool

	st          engineState
	ready       bool
	inGame      bool
	board       *chess.Board
	side        nchess.Color
	startFen    string
	moves       []string
	eval        chess.MoveEvaluation
	searchStart time.Time
	moveTimer   *time.Timer
}

var _ game.Player = (*Engine)(nil)

// Spawn launches the engine process, runs the uci/isready handshake and
// applies the configured options. It returns only once the engine answered
// readyok, or fails after Config.InitTimeout.
func Spawn(lp *loop.Loop, cfg Config) (*Engine, error) {
	if cfg.Command == "" {
		return nil, errors.New("uci: empty engine command")
	}
	if cfg.TimeControl == nil || !cfg.TimeControl.Valid() {
		return nil, fmt.Errorf("uci: engine %q has no valid time control", cfg.Command)
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open engine stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open engine stdout: %w", err)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start engine %q: %w", cfg.Command, err)
	}

	e := &Engine{
		lp:       lp,
		cfg:      cfg,
		tc:       cfg.TimeControl,
		cmd:      cmd,
		stdin:    stdin,
		exited:   make(chan struct{}),
		declared: make(map[string]bool),
		variants: make(map[string]bool),
	}

	reader := bufio.NewReader(stdout)
	timeout := cfg.InitTimeout
	if timeout <= 0 {
		timeout = defaultInitTimeout
	}
	if err := e.handshake(reader, timeout); err != nil {
		stdin.Close()
		cmd.Process.Kill()
		cmd.Wait()
		return nil, err
	}

	e.name = cfg.Name
	if e.name == "" {
		e.name = e.idName
	}
	if e.name == "" {
		e.name = filepath.Base(cfg.Command)
	}
	e.ready = true

	go e.pump(reader)
	return e, nil
}

func (e *Engine) handshake(r *bufio.Reader, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := e.writeLine("uci"); err != nil {
		return fmt.Errorf("engine %q handshake: %w", e.cfg.Command, err)
	}
	for {
		line, err := readLine(ctx, r)
		if err != nil {
			return fmt.Errorf("engine %q handshake: %w", e.cfg.Command, err)
		}
		obslog.L().Debug("engine handshake", zap.String("command", e.cfg.Command), zap.String("line", line))
		if line == "uciok" {
			break
		}
		if name, ok := parseIDName(line); ok {
			e.idName = name
			continue
		}
		if decl, ok := parseOptionDeclaration(line); ok {
			e.declared[decl.Name] = true
			if decl.Name == "UCI_Variant" {
				for _, v := range decl.Vars {
					e.variants[v] = true
				}
			}
		}
	}

	e.applyOptions()

	if err := e.writeLine("isready"); err != nil {
		return fmt.Errorf("engine %q handshake: %w", e.cfg.Command, err)
	}
	for {
		line, err := readLine(ctx, r)
		if err != nil {
			return fmt.Errorf("engine %q handshake: %w", e.cfg.Command, err)
		}
		if line == "readyok" {
			return nil
		}
	}
}

func (e *Engine) applyOptions() {
	names := make([]string, 0, len(e.cfg.Options))
	for name := range e.cfg.Options {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !e.declared[name] {
			obslog.L().Warn("engine does not declare option",
				zap.String("command", e.cfg.Command), zap.String("option", name))
			continue
		}
		e.writeLine(fmt.Sprintf("setoption name %s value %s", name, e.cfg.Options[name]))
	}
}

type lineResult struct {
	line string
	err  error
}

func readLine(ctx context.Context, r *bufio.Reader) (string, error) {
	ch := make(chan lineResult, 1)
	go func() {
		line, err := r.ReadString('\n')
		ch <- lineResult{line: strings.TrimSpace(line), err: err}
	}()
	select {
	case res := <-ch:
		if res.err != nil {
			return "", res.err
		}
		return res.line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// pump forwards engine output onto the loop until the process closes its
// stdout, then reaps it.
func (e *Engine) pump(r *bufio.Reader) {
	for {
		line, err := r.ReadString('\n')
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			e.lp.Post(func() { e.onLine(trimmed) })
		}
		if err != nil {
			break
		}
	}
	e.waitErr = e.cmd.Wait()
	close(e.exited)
	e.lp.Post(e.onDisconnect)
}

func (e *Engine) Name() string { return e.name }

// IsReady reports whether the engine answered the last readiness ping.
// A disconnected engine counts as ready so nothing waits on a dead process.
func (e *Engine) IsReady() bool { return e.ready || e.st == stateDisconnected }

func (e *Engine) Disconnected() bool { return e.st == stateDisconnected }

// DeclaredOptions lists the option names the engine announced during the
// handshake, sorted.
func (e *Engine) DeclaredOptions() []string {
	names := make([]string, 0, len(e.declared))
	for name := range e.declared {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) SupportsVariant(variant string) bool {
	return variant == "standard" || e.variants[variant]
}

func (e *Engine) TimeControl() *chess.TimeControl { return e.tc }

func (e *Engine) Evaluation() chess.MoveEvaluation { return e.eval }

// SetOpponentClock hands over the other side's clock for go commands.
func (e *Engine) SetOpponentClock(tc *chess.TimeControl) { e.opponentTC = tc }

func (e *Engine) SetBoard(b *chess.Board) { e.board = b }

func (e *Engine) NewGame(side nchess.Color, opponent string) {
	if e.st == stateDisconnected {
		return
	}
	e.st = stateObserving
	e.inGame = true
	e.side = side
	e.startFen = ""
	if e.board != nil {
		e.startFen = e.board.StartingFEN()
	}
	e.moves = nil
	e.eval = chess.MoveEvaluation{}
	e.tc.Reset()

	e.send("ucinewgame")
	if e.declared["UCI_Opponent"] {
		e.send("setoption name UCI_Opponent value none none computer " + opponent)
	}
}

func (e *Engine) Go() {
	if e.st == stateDisconnected {
		return
	}
	e.st = stateThinking
	e.searchStart = time.Now()
	e.send(e.positionCommand())
	e.send(e.goCommand())
	if d, ok := e.thinkingTime(); ok {
		e.moveTimer = e.lp.After(d, e.onMoveTimeout)
	}
}

func (e *Engine) MakeMove(mv *nchess.Move) { e.recordMove(mv) }

func (e *Engine) MakeBookMove(mv *nchess.Move) { e.recordMove(mv) }

func (e *Engine) recordMove(mv *nchess.Move) {
	if !e.inGame {
		return
	}
	e.moves = append(e.moves, mv.String())
}

// EndGame stops a running search and pings the engine; EmitReady fires once
// the interrupted search has wound down and the engine answered readyok.
func (e *Engine) EndGame(result chess.Result) {
	if !e.inGame {
		return
	}
	e.inGame = false
	e.ready = false
	e.stopMoveTimer()
	if e.st == stateDisconnected {
		return
	}
	if e.st == stateThinking {
		// the ping is deferred until the stale bestmove arrives, so it
		// cannot leak into the next game
		e.st = stateFinishing
		e.send("stop")
		return
	}
	e.st = stateFinishing
	e.send("isready")
}

// Quit asks the process to exit and reaps it, killing after the context or
// the grace period runs out.
func (e *Engine) Quit(ctx context.Context) error {
	e.writeLine("quit")
	select {
	case <-e.exited:
		return nil
	case <-ctx.Done():
	}
	if err := e.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill engine %q: %w", e.name, err)
	}
	select {
	case <-e.exited:
		return nil
	case <-time.After(killGrace):
		return fmt.Errorf("engine %q did not exit", e.name)
	}
}

func (e *Engine) onLine(line string) {
	e.EmitDebug("<" + e.name + ": " + line)

	if mv, ok := parseBestmove(line); ok {
		e.onBestmove(mv)
		return
	}
	if si, ok := parseInfo(line); ok {
		if e.st == stateThinking {
			if si.HasScore {
				e.eval.ScoreCP = si.ScoreCP
			}
			if si.Depth > 0 {
				e.eval.Depth = si.Depth
			}
		}
		return
	}
	if line == "readyok" {
		e.onReadyOK()
	}
}

func (e *Engine) onBestmove(uciMove string) {
	e.stopMoveTimer()
	switch e.st {
	case stateThinking:
	case stateFinishing:
		e.send("isready")
		return
	default:
		obslog.L().Debug("discarding unexpected bestmove",
			zap.String("engine", e.name), zap.String("move", uciMove))
		return
	}

	elapsed := time.Since(e.searchStart)
	e.eval.Elapsed = elapsed
	e.tc.Update(elapsed)
	if e.tc.Expired() {
		e.forfeit(chess.WinResult(opponentOf(e.side), chess.ReasonTimeout,
			chess.ColorName(e.side)+" loses on time"))
		return
	}
	if uciMove == "(none)" || uciMove == "0000" {
		e.forfeit(chess.WinResult(opponentOf(e.side), chess.ReasonError,
			chess.ColorName(e.side)+" sends a null move"))
		return
	}
	mv, err := e.board.ParseUCI(uciMove)
	if err != nil {
		e.forfeit(chess.WinResult(opponentOf(e.side), chess.ReasonError,
			fmt.Sprintf("%s makes an illegal move: %s", chess.ColorName(e.side), uciMove)))
		return
	}

	e.moves = append(e.moves, uciMove)
	e.st = stateObserving
	e.EmitMoveMade(mv)
}

func (e *Engine) onMoveTimeout() {
	if e.st != stateThinking {
		return
	}
	e.forfeit(chess.WinResult(opponentOf(e.side), chess.ReasonTimeout,
		chess.ColorName(e.side)+" loses on time"))
}

func (e *Engine) onReadyOK() {
	e.ready = true
	if e.st == stateFinishing {
		e.st = stateIdle
		e.EmitReady()
	}
}

func (e *Engine) onDisconnect() {
	e.stopMoveTimer()
	if e.st == stateDisconnected {
		return
	}
	wasInGame := e.inGame
	e.st = stateDisconnected
	e.ready = false
	obslog.L().Info("engine exited",
		zap.String("engine", e.name), zap.Error(e.waitErr))
	if wasInGame {
		e.forfeit(chess.WinResult(opponentOf(e.side), chess.ReasonDisconnection,
			chess.ColorName(e.side)+" disconnects"))
	}
	// release anyone waiting on the readiness barrier
	e.EmitReady()
}

func (e *Engine) forfeit(result chess.Result) {
	if !e.inGame {
		return
	}
	e.EmitForfeit(result)
}

func (e *Engine) positionCommand() string {
	var b strings.Builder
	if e.startFen == "" || e.startFen == chess.DefaultStartFEN {
		b.WriteString("position startpos")
	} else {
		b.WriteString("position fen ")
		b.WriteString(e.startFen)
	}
	if len(e.moves) > 0 {
		b.WriteString(" moves ")
		b.WriteString(strings.Join(e.moves, " "))
	}
	return b.String()
}

func (e *Engine) goCommand() string {
	var b strings.Builder
	b.WriteString("go")
	switch {
	case e.tc.TimePerMove > 0:
		fmt.Fprintf(&b, " movetime %d", e.tc.TimePerMove.Milliseconds())
	case e.tc.Infinite:
		if e.cfg.Depth <= 0 && e.cfg.Nodes <= 0 {
			b.WriteString(" infinite")
		}
	default:
		own, opp := e.tc, e.opponentTC
		if opp == nil {
			opp = own
		}
		white, black := own, opp
		if e.side == nchess.Black {
			white, black = opp, own
		}
		fmt.Fprintf(&b, " wtime %d btime %d", clampMS(white.TimeLeft()), clampMS(black.TimeLeft()))
		if white.Increment > 0 || black.Increment > 0 {
			fmt.Fprintf(&b, " winc %d binc %d",
				white.Increment.Milliseconds(), black.Increment.Milliseconds())
		}
		if own.MovesPerTC > 0 {
			fmt.Fprintf(&b, " movestogo %d", own.MovesLeft())
		}
	}
	if e.cfg.Depth > 0 {
		fmt.Fprintf(&b, " depth %d", e.cfg.Depth)
	}
	if e.cfg.Nodes > 0 {
		fmt.Fprintf(&b, " nodes %d", e.cfg.Nodes)
	}
	return b.String()
}

// thinkingTime is how long to wait for a bestmove before declaring the
// engine stalled. Infinite searches are capped by depth or nodes instead.
func (e *Engine) thinkingTime() (time.Duration, bool) {
	switch {
	case e.tc.TimePerMove > 0:
		return e.tc.TimePerMove + timeoutMargin, true
	case e.tc.Infinite:
		return 0, false
	default:
		return e.tc.TimeLeft() + timeoutMargin, true
	}
}

func (e *Engine) stopMoveTimer() {
	if e.moveTimer != nil {
		e.moveTimer.Stop()
		e.moveTimer = nil
	}
}

func (e *Engine) send(cmd string) {
	e.EmitDebug(">" + e.name + ": " + cmd)
	if err := e.writeLine(cmd); err != nil {
		obslog.L().Debug("engine write failed",
			zap.String("engine", e.name), zap.Error(err))
	}
}

func (e *Engine) writeLine(s string) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	_, err := io.WriteString(e.stdin, s+"\n")
	return err
}

func opponentOf(c nchess.Color) nchess.Color {
	if c == nchess.White {
		return nchess.Black
	}
	return nchess.White
}

// clampMS keeps reported clocks positive; engines misbehave on wtime 0.
func clampMS(d time.Duration) int64 {
	ms := d.Milliseconds()
	if ms < 1 {
		return 1
	}
	return ms
}
