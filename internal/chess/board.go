package chess

import (
	"fmt"
	"strconv"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// DefaultStartFEN is the standard chess starting position.
const DefaultStartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Board wraps a chess/v2 game with the view a match needs: side to move,
// legality and repetition probes, natural result detection and polyglot
// position keys. It is not safe for concurrent use; all callers run on the
// match event loop.
type Board struct {
	game     *nchess.Game
	variant  string
	startFen string
	basePly  int
	history  []uint64
}

// NewBoard sets up a position from fen, or the variant's default position
// when fen is empty. Only the standard variant is playable.
func NewBoard(variant, fen string) (*Board, error) {
	if strings.TrimSpace(variant) == "" {
		variant = "standard"
	}
	if variant != "standard" {
		return nil, fmt.Errorf("unsupported variant %q", variant)
	}

	var game *nchess.Game
	if strings.TrimSpace(fen) == "" {
		game = nchess.NewGame()
	} else {
		option, err := nchess.FEN(fen)
		if err != nil {
			return nil, fmt.Errorf("parse fen %q: %w", fen, err)
		}
		game = nchess.NewGame(option)
	}

	b := &Board{
		game:     game,
		variant:  variant,
		startFen: game.FEN(),
	}
	b.basePly = plyFromFEN(b.startFen)
	b.history = append(b.history, b.Key())
	return b, nil
}

func (b *Board) Variant() string     { return b.variant }
func (b *Board) StartingFEN() string { return b.startFen }
func (b *Board) FEN() string         { return b.game.FEN() }

func (b *Board) SideToMove() nchess.Color { return b.game.Position().Turn() }

// PlyCount counts half-moves from move one of the game, including any that
// happened before the starting position's FEN was recorded.
func (b *Board) PlyCount() int { return b.basePly + len(b.game.Moves()) }

// Key is the polyglot Zobrist key of the current position, 0 if the
// position cannot be hashed.
func (b *Board) Key() uint64 { return keyOf(b.game.FEN()) }

// MakeMove applies a move to the board. The move must be legal.
func (b *Board) MakeMove(m *nchess.Move) error {
	if m == nil {
		return fmt.Errorf("nil move")
	}
	if err := b.game.PushNotationMove(m.String(), nchess.UCINotation{}, nil); err != nil {
		return fmt.Errorf("apply move %v: %w", m, err)
	}
	b.history = append(b.history, b.Key())
	return nil
}

// IsLegalMove reports whether m is playable in the current position.
func (b *Board) IsLegalMove(m *nchess.Move) bool {
	if m == nil {
		return false
	}
	probe := b.game.Clone()
	return probe.PushNotationMove(m.String(), nchess.UCINotation{}, nil) == nil
}

// IsRepeatMove reports whether playing m would land on a position the game
// has already visited. Book walks stop on such moves.
func (b *Board) IsRepeatMove(m *nchess.Move) bool {
	if m == nil {
		return false
	}
	probe := b.game.Clone()
	if probe.PushNotationMove(m.String(), nchess.UCINotation{}, nil) != nil {
		return false
	}
	key := keyOf(probe.FEN())
	for _, seen := range b.history {
		if seen == key {
			return true
		}
	}
	return false
}

// Result inspects the position for a natural end: checkmate, stalemate or
// insufficient material from the rules library, threefold repetition and the
// fifty-move rule from the board's own bookkeeping. The zero Result means
// the game goes on.
func (b *Board) Result() Result {
	outcome := b.game.Outcome()
	if outcome != nchess.NoOutcome {
		method := strings.ToLower(b.game.Method().String())
		switch outcome {
		case nchess.WhiteWon, nchess.BlackWon:
			winner := nchess.White
			if outcome == nchess.BlackWon {
				winner = nchess.Black
			}
			if strings.Contains(method, "checkmate") {
				return WinResult(winner, ReasonNormal, ColorName(winner)+" mates")
			}
			return WinResult(winner, ReasonNormal, ColorName(winner)+" wins")
		default:
			return DrawResult(ReasonNormal, drawDescription(method))
		}
	}
	if b.repeatCount() >= 3 {
		return DrawResult(ReasonNormal, "draw by threefold repetition")
	}
	if b.halfmoveClock() >= 100 {
		return DrawResult(ReasonNormal, "draw by fifty moves rule")
	}
	return Result{}
}

// TablebaseResult classifies positions whose outcome is certain without
// search. Built-in knowledge covers the dead endings only: bare kings and
// king plus a single minor piece.
func (b *Board) TablebaseResult() Result {
	var extras []byte
	placement, _, _ := strings.Cut(b.game.FEN(), " ")
	for _, r := range placement {
		switch {
		case r == 'k' || r == 'K' || r == '/' || (r >= '1' && r <= '8'):
		case r == 'b' || r == 'B' || r == 'n' || r == 'N':
			extras = append(extras, byte(r))
		default:
			return Result{}
		}
	}
	if len(extras) <= 1 {
		return DrawResult(ReasonAdjudication, "draw by tablebase")
	}
	return Result{}
}

// SAN renders m in standard algebraic notation for the current position.
func (b *Board) SAN(m *nchess.Move) string {
	return nchess.AlgebraicNotation{}.Encode(b.game.Position(), m)
}

// ParseUCI resolves a long-algebraic move string against the current
// position; it fails for illegal or malformed moves.
func (b *Board) ParseUCI(s string) (*nchess.Move, error) {
	return nchess.UCINotation{}.Decode(b.game.Position(), s)
}

// ParseSAN resolves a standard-algebraic move string against the current
// position.
func (b *Board) ParseSAN(s string) (*nchess.Move, error) {
	return nchess.AlgebraicNotation{}.Decode(b.game.Position(), s)
}

func (b *Board) repeatCount() int {
	cur := b.history[len(b.history)-1]
	n := 0
	for _, seen := range b.history {
		if seen == cur {
			n++
		}
	}
	return n
}

func (b *Board) halfmoveClock() int {
	fields := strings.Fields(b.game.FEN())
	if len(fields) < 5 {
		return 0
	}
	clock, err := strconv.Atoi(fields[4])
	if err != nil {
		return 0
	}
	return clock
}

func drawDescription(method string) string {
	switch {
	case strings.Contains(method, "stalemate"):
		return "draw by stalemate"
	case strings.Contains(method, "insufficient"):
		return "draw by insufficient material"
	case strings.Contains(method, "repetition"):
		return "draw by threefold repetition"
	case strings.Contains(method, "seventyfive"), strings.Contains(method, "fifty"):
		return "draw by fifty moves rule"
	default:
		return "drawn game"
	}
}

func plyFromFEN(fen string) int {
	fields := strings.Fields(fen)
	if len(fields) < 6 {
		return 0
	}
	fullmove, err := strconv.Atoi(fields[5])
	if err != nil || fullmove < 1 {
		return 0
	}
	ply := (fullmove - 1) * 2
	if fields[1] == "b" {
		ply++
	}
	return ply
}

func keyOf(fen string) uint64 {
	hash, err := nchess.NewZobristHasher().HashPosition(fen)
	if err != nil {
		return 0
	}
	return nchess.ZobristHashToUint64(hash)
}
