// Package game runs a single engine-versus-engine game: the turn protocol,
// the readiness barrier around game start and teardown, and early
// adjudication.
package game

import (
	"context"

	nchess "github.com/corentings/chess/v2"

	"github.com/laldon/cutechess/internal/chess"
)

// Player is one side of a game. Implementations translate these calls into
// their engine's wire protocol and surface engine activity through the
// event subscriptions. All methods and event callbacks run on the match
// event loop.
type Player interface {
	Name() string
	IsReady() bool
	// Disconnected reports that the player's process is gone for good.
	// Disconnected players also report IsReady so nothing waits on them.
	Disconnected() bool
	SupportsVariant(variant string) bool
	TimeControl() *chess.TimeControl
	// Evaluation is the player's view of its own last move.
	Evaluation() chess.MoveEvaluation

	SetBoard(b *chess.Board)
	NewGame(side nchess.Color, opponent string)
	// Go asks the player to produce its next move.
	Go()
	// MakeMove informs the player of the opponent's move.
	MakeMove(mv *nchess.Move)
	// MakeBookMove records a forced opening move on the player's own clock
	// side without requesting a search.
	MakeBookMove(mv *nchess.Move)
	EndGame(result chess.Result)
	// Quit asks the player's process to exit and waits for it, bounded by
	// the context.
	Quit(ctx context.Context) error

	OnMoveMade(fn func(mv *nchess.Move)) (unsubscribe func())
	OnForfeit(fn func(result chess.Result)) (unsubscribe func())
	OnReady(fn func()) (unsubscribe func())
	OnDebug(fn func(line string)) (unsubscribe func())
}

// Events is the subscription half of the Player contract, meant to be
// embedded by implementations. Emit calls and subscriptions must stay on
// one goroutine; unsubscribe closures are idempotent.
type Events struct {
	nextID      int
	moveSubs    map[int]func(*nchess.Move)
	forfeitSubs map[int]func(chess.Result)
	readySubs   map[int]func()
	debugSubs   map[int]func(string)
}

func (e *Events) OnMoveMade(fn func(*nchess.Move)) func() {
	if e.moveSubs == nil {
		e.moveSubs = make(map[int]func(*nchess.Move))
	}
	e.nextID++
	id := e.nextID
	e.moveSubs[id] = fn
	return func() { delete(e.moveSubs, id) }
}

func (e *Events) OnForfeit(fn func(chess.Result)) func() {
	if e.forfeitSubs == nil {
		e.forfeitSubs = make(map[int]func(chess.Result))
	}
	e.nextID++
	id := e.nextID
	e.forfeitSubs[id] = fn
	return func() { delete(e.forfeitSubs, id) }
}

func (e *Events) OnReady(fn func()) func() {
	if e.readySubs == nil {
		e.readySubs = make(map[int]func())
	}
	e.nextID++
	id := e.nextID
	e.readySubs[id] = fn
	return func() { delete(e.readySubs, id) }
}

func (e *Events) OnDebug(fn func(string)) func() {
	if e.debugSubs == nil {
		e.debugSubs = make(map[int]func(string))
	}
	e.nextID++
	id := e.nextID
	e.debugSubs[id] = fn
	return func() { delete(e.debugSubs, id) }
}

func (e *Events) EmitMoveMade(mv *nchess.Move) {
	for _, fn := range e.moveSubs {
		fn(mv)
	}
}

func (e *Events) EmitForfeit(result chess.Result) {
	for _, fn := range e.forfeitSubs {
		fn(result)
	}
}

func (e *Events) EmitReady() {
	for _, fn := range e.readySubs {
		fn()
	}
}

func (e *Events) EmitDebug(line string) {
	for _, fn := range e.debugSubs {
		fn(line)
	}
}

func opponentOf(c nchess.Color) nchess.Color {
	if c == nchess.White {
		return nchess.Black
	}
	return nchess.White
}
