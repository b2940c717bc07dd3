package match

import (
	"go.uber.org/zap"

	"github.com/laldon/cutechess/internal/chess"
	"github.com/laldon/cutechess/internal/obslog"
	"github.com/laldon/cutechess/internal/pgn"
)

// openingForGame picks the opening for the game with the given zero-based
// index. With Repeat on, odd games reuse the opening their even predecessor
// got, so both engines play each line from both sides.
func (m *Match) openingForGame(idx int) pgn.Opening {
	if m.opts.Repeat && idx%2 == 1 && m.repeatOpening != nil {
		return *m.repeatOpening
	}

	opening := pgn.Opening{FEN: m.opts.StartFEN}
	switch {
	case m.book != nil:
		opening = m.bookOpening()
	case m.stream != nil:
		opening = m.pgnOpening()
	}

	if m.opts.Repeat && idx%2 == 0 {
		captured := opening
		m.repeatOpening = &captured
	}
	return opening
}

// bookOpening walks the Polyglot book from the start position, drawing each
// move by weight. The walk stops at the depth cap, at the first position the
// book misses, and before any move that would repeat an earlier position.
func (m *Match) bookOpening() pgn.Opening {
	opening := pgn.Opening{FEN: m.opts.StartFEN}
	board, err := chess.NewBoard(m.opts.Variant, m.opts.StartFEN)
	if err != nil {
		obslog.L().Warn("book walk needs a valid start position", zap.Error(err))
		return opening
	}
	maxPly := m.opts.BookDepth
	if maxPly <= 0 {
		maxPly = 1000
	}
	for len(opening.MovesUCI) < maxPly {
		mv, ok := m.book.Pick(board.Key(), m.rand)
		if !ok {
			break
		}
		if !board.IsLegalMove(mv) {
			obslog.L().Warn("book suggests an illegal move",
				zap.String("move", mv.String()), zap.String("fen", board.FEN()))
			break
		}
		if board.IsRepeatMove(mv) {
			break
		}
		if err := board.MakeMove(mv); err != nil {
			break
		}
		opening.MovesUCI = append(opening.MovesUCI, mv.String())
	}
	return opening
}

// pgnOpening reads the next opening from the PGN collection. When the
// collection runs out it is rewound and read once more; a collection that
// yields nothing even then is dropped for the rest of the match.
func (m *Match) pgnOpening() pgn.Opening {
	op, err := m.stream.ReadGame(m.opts.PGNDepth)
	if err != nil {
		if m.stream.GamesRead() == 0 {
			obslog.L().Warn("opening collection has no games",
				zap.String("path", m.opts.PGNFile))
			m.stream.Close()
			m.stream = nil
			return pgn.Opening{FEN: m.opts.StartFEN}
		}
		obslog.L().Info("opening collection exhausted, rewinding",
			zap.String("path", m.opts.PGNFile),
			zap.Int("games", m.stream.GamesRead()))
		if rerr := m.stream.Rewind(); rerr != nil {
			obslog.L().Warn("rewind opening collection", zap.Error(rerr))
			return pgn.Opening{FEN: m.opts.StartFEN}
		}
		op, err = m.stream.ReadGame(m.opts.PGNDepth)
		if err != nil {
			obslog.L().Warn("opening collection unreadable after rewind", zap.Error(err))
			return pgn.Opening{FEN: m.opts.StartFEN}
		}
	}
	if op.FEN == "" {
		op.FEN = m.opts.StartFEN
	}
	return *op
}
