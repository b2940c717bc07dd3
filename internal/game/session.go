package game

import (
	"fmt"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/laldon/cutechess/internal/chess"
	"github.com/laldon/cutechess/internal/loop"
	"github.com/laldon/cutechess/internal/obslog"
	"github.com/laldon/cutechess/internal/pgn"
)

// State tracks a session through its life. Ended is terminal.
type State uint8

const (
	StateIdle State = iota
	StateAwaitingReady
	StateInProgress
	StateEnding
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingReady:
		return "awaiting ready"
	case StateInProgress:
		return "in progress"
	case StateEnding:
		return "ending"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

// Config describes one game to play.
type Config struct {
	Variant  string
	StartFEN string
	// OpeningUCI seeds the game with forced moves played on no one's
	// search, in long algebraic notation.
	OpeningUCI []string
	White      Player
	Black      Player
	// Adjudicator may be nil to disable early adjudication.
	Adjudicator *Adjudicator
}

// Session drives a single game between two players to its terminal Result.
// Every method must run on the session's event loop; player events are
// delivered there too, so no session state needs locking.
type Session struct {
	loop        *loop.Loop
	variant     string
	startFen    string
	openingUCI  []string
	white       Player
	black       Player
	adjudicator *Adjudicator

	state  State
	board  *chess.Board
	record *pgn.Game
	result chess.Result

	readyUnsubs map[Player]func()
	whenReady   func()
	unsubs      []func()

	movePlayed func()
	gameEnded  func()
}

func NewSession(lp *loop.Loop, cfg Config) *Session {
	variant := cfg.Variant
	if variant == "" {
		variant = "standard"
	}
	return &Session{
		loop:        lp,
		variant:     variant,
		startFen:    cfg.StartFEN,
		openingUCI:  append([]string(nil), cfg.OpeningUCI...),
		white:       cfg.White,
		black:       cfg.Black,
		adjudicator: cfg.Adjudicator,
		record:      pgn.NewGame(),
		readyUnsubs: make(map[Player]func()),
	}
}

func (s *Session) State() State         { return s.state }
func (s *Session) Result() chess.Result { return s.result }
func (s *Session) Record() *pgn.Game    { return s.record }
func (s *Session) Board() *chess.Board  { return s.board }
func (s *Session) White() Player        { return s.white }
func (s *Session) Black() Player        { return s.black }

// OnMovePlayed registers a callback run after every move reaches the board,
// forced opening moves included.
func (s *Session) OnMovePlayed(fn func()) { s.movePlayed = fn }

// OnGameEnded registers the completion callback. It runs on a fresh loop
// iteration once the game is over and both players have reported ready
// again, so observers always see a quiesced game.
func (s *Session) OnGameEnded(fn func()) { s.gameEnded = fn }

// Start brings the session from Idle to InProgress: waits for both players,
// checks variant support, sets up the board, replays the forced opening and
// hands the move to the side on turn.
func (s *Session) Start() {
	if s.state != StateIdle && s.state != StateAwaitingReady {
		return
	}
	if !s.bothReady() {
		s.state = StateAwaitingReady
		s.awaitReady(s.Start)
		return
	}

	for _, p := range s.players() {
		if p.Disconnected() {
			winner := nchess.White
			if p == s.white {
				winner = nchess.Black
			}
			s.result = chess.WinResult(winner, chess.ReasonDisconnection,
				fmt.Sprintf("%s disconnected before the game", p.Name()))
			s.finish()
			return
		}
		if !p.SupportsVariant(s.variant) {
			obslog.L().Warn("variant unsupported",
				zap.String("player", p.Name()),
				zap.String("variant", s.variant))
			s.result = chess.ErrorResult(fmt.Sprintf("%s does not support variant %s", p.Name(), s.variant))
			s.finish()
			return
		}
	}

	board, err := chess.NewBoard(s.variant, s.startFen)
	if err != nil {
		obslog.L().Error("cannot set up board", zap.Error(err))
		s.result = chess.ErrorResult(err.Error())
		s.finish()
		return
	}
	s.board = board

	s.record.SetStartPosition(board.StartingFEN())
	s.record.SetTag("White", s.white.Name())
	s.record.SetTag("Black", s.black.Name())
	wtc := s.white.TimeControl().String()
	btc := s.black.TimeControl().String()
	if wtc == btc {
		s.record.SetTag("TimeControl", wtc)
	} else {
		s.record.SetTag("WhiteTimeControl", wtc)
		s.record.SetTag("BlackTimeControl", btc)
	}

	s.white.SetBoard(board)
	s.black.SetBoard(board)
	s.white.NewGame(nchess.White, s.black.Name())
	s.black.NewGame(nchess.Black, s.white.Name())
	s.subscribePlayers()
	s.state = StateInProgress

	obslog.L().Info("game started",
		zap.String("white", s.white.Name()),
		zap.String("black", s.black.Name()),
		zap.String("fen", board.StartingFEN()))

	s.replayOpening()
	if s.state == StateInProgress {
		s.playerToMove().Go()
	}
}

// replayOpening feeds the forced opening moves to both players and the
// board. Neither player searches and the adjudicator is not consulted.
func (s *Session) replayOpening() {
	for _, uci := range s.openingUCI {
		mv, err := s.board.ParseUCI(uci)
		if err != nil {
			obslog.L().Warn("dropping unplayable opening move",
				zap.String("move", uci), zap.Error(err))
			return
		}
		san := s.board.SAN(mv)
		s.record.AppendMove(san, "book")
		s.playerToMove().MakeBookMove(mv)
		s.playerWaiting().MakeMove(mv)
		if err := s.board.MakeMove(mv); err != nil {
			obslog.L().Warn("dropping unplayable opening move",
				zap.String("move", uci), zap.Error(err))
			return
		}
		if s.adjudicator != nil {
			s.adjudicator.AddEval(s.board, chess.MoveEvaluation{})
		}
		s.notifyMovePlayed()
		if r := s.board.Result(); !r.IsNone() {
			s.result = r
			s.finish()
			return
		}
	}
}

func (s *Session) onMoveMade(p Player, mv *nchess.Move) {
	if s.state != StateInProgress {
		return
	}
	if p != s.playerToMove() {
		obslog.L().Warn("move out of turn",
			zap.String("player", p.Name()),
			zap.String("move", mv.String()))
		return
	}

	san := s.board.SAN(mv)
	s.record.AppendMove(san, p.Evaluation().Comment())
	s.playerWaiting().MakeMove(mv)
	if err := s.board.MakeMove(mv); err != nil {
		obslog.L().Error("board rejected move",
			zap.String("player", p.Name()),
			zap.String("move", mv.String()),
			zap.Error(err))
		s.result = chess.ErrorResult(fmt.Sprintf("illegal move %s by %s", mv, p.Name()))
		s.finish()
		return
	}
	s.notifyMovePlayed()

	if s.adjudicator != nil {
		s.adjudicator.AddEval(s.board, p.Evaluation())
	}
	result := s.board.Result()
	if result.IsNone() && s.adjudicator != nil {
		result = s.adjudicator.Result()
	}
	if !result.IsNone() {
		s.result = result
		s.finish()
		return
	}
	s.playerToMove().Go()
}

func (s *Session) onForfeit(result chess.Result) {
	if s.state != StateInProgress {
		return
	}
	s.result = result
	s.finish()
}

// finish moves the session to Ending: both players learn the result, then
// the readiness barrier gates the externally visible completion.
func (s *Session) finish() {
	if s.state == StateEnding || s.state == StateEnded {
		return
	}
	s.state = StateEnding
	s.record.SetResult(s.result)
	obslog.L().Info("game over", zap.String("result", s.result.String()))
	for _, p := range s.players() {
		p.EndGame(s.result)
	}
	s.awaitReady(s.ended)
}

func (s *Session) ended() {
	if s.state == StateEnded {
		return
	}
	s.state = StateEnded
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	if s.gameEnded != nil {
		s.loop.Post(s.gameEnded)
	}
}

// awaitReady runs then once both players report ready, subscribing to the
// laggards' readiness events when it must wait.
func (s *Session) awaitReady(then func()) {
	s.whenReady = then
	waiting := false
	for _, p := range s.players() {
		if p.IsReady() {
			continue
		}
		if _, ok := s.readyUnsubs[p]; !ok {
			p := p
			s.readyUnsubs[p] = p.OnReady(func() { s.onPlayerReady(p) })
		}
		waiting = true
	}
	if !waiting {
		s.fireReady()
	}
}

func (s *Session) onPlayerReady(p Player) {
	// Unsubscribe first, tolerating a handler that is already gone.
	if unsub, ok := s.readyUnsubs[p]; ok {
		unsub()
		delete(s.readyUnsubs, p)
	}
	if !s.bothReady() {
		return
	}
	s.fireReady()
}

// fireReady hands control to the stored continuation at most once per wait
// cycle.
func (s *Session) fireReady() {
	then := s.whenReady
	s.whenReady = nil
	if then != nil {
		then()
	}
}

func (s *Session) subscribePlayers() {
	for _, p := range s.players() {
		p := p
		s.unsubs = append(s.unsubs,
			p.OnMoveMade(func(mv *nchess.Move) { s.onMoveMade(p, mv) }),
			p.OnForfeit(s.onForfeit),
		)
	}
}

func (s *Session) notifyMovePlayed() {
	if s.movePlayed != nil {
		s.movePlayed()
	}
}

func (s *Session) players() [2]Player {
	return [2]Player{s.white, s.black}
}

func (s *Session) bothReady() bool {
	return s.white.IsReady() && s.black.IsReady()
}

func (s *Session) playerToMove() Player {
	if s.board.SideToMove() == nchess.White {
		return s.white
	}
	return s.black
}

func (s *Session) playerWaiting() Player {
	if s.board.SideToMove() == nchess.White {
		return s.black
	}
	return s.white
}
