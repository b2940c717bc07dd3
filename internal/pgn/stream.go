package pgn

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/laldon/cutechess/internal/chess"
)

// Opening is one game's worth of opening material read from a PGN
// collection: the starting position and the legal moves that followed it.
type Opening struct {
	FEN      string
	MovesUCI []string
}

// Stream reads games one at a time from a PGN file, transparently
// decompressing .zst/.zstd collections. It is not safe for concurrent use.
type Stream struct {
	path      string
	file      *os.File
	dec       *zstd.Decoder
	r         *bufio.Reader
	gamesRead int
}

// OpenStream opens a PGN collection for sequential reading.
func OpenStream(path string) (*Stream, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pgn file %q: %w", path, err)
	}
	s := &Stream{path: path, file: file}
	if strings.HasSuffix(path, ".zst") || strings.HasSuffix(path, ".zstd") {
		dec, err := zstd.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("open zstd stream %q: %w", path, err)
		}
		s.dec = dec
		s.r = bufio.NewReader(dec)
	} else {
		s.r = bufio.NewReader(file)
	}
	return s, nil
}

// GamesRead counts the games returned over the stream's whole lifetime;
// Rewind does not reset it.
func (s *Stream) GamesRead() int { return s.gamesRead }

// Rewind restarts the stream from the first game.
func (s *Stream) Rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind pgn file %q: %w", s.path, err)
	}
	if s.dec != nil {
		if err := s.dec.Reset(s.file); err != nil {
			return fmt.Errorf("reset zstd stream %q: %w", s.path, err)
		}
		s.r.Reset(s.dec)
	} else {
		s.r.Reset(s.file)
	}
	return nil
}

func (s *Stream) Close() error {
	if s.dec != nil {
		s.dec.Close()
	}
	return s.file.Close()
}

// ReadGame returns the next game's opening, keeping at most maxPly moves
// (no cap when maxPly <= 0). Moves are validated as they are read; the
// rest of a game is skipped from the first move that does not decode.
// io.EOF signals the end of the collection.
func (s *Stream) ReadGame(maxPly int) (*Opening, error) {
	if maxPly <= 0 {
		maxPly = math.MaxInt
	}

	tags, sawTags, err := s.readTagSection()
	if err != nil {
		return nil, err
	}

	board, boardErr := chess.NewBoard("standard", tags["FEN"])
	dead := boardErr != nil
	var moves []string
	sawMovetext := false

	for {
		tok, kind, err := s.nextToken()
		if err == io.EOF {
			if !sawTags && !sawMovetext {
				return nil, io.EOF
			}
			break
		}
		if err != nil {
			return nil, err
		}
		if kind == tokenGameEnd {
			break
		}
		sawMovetext = true
		if kind != tokenMove {
			continue
		}
		if dead || len(moves) >= maxPly {
			continue
		}
		mv, err := board.ParseSAN(tok)
		if err != nil {
			dead = true
			continue
		}
		if err := board.MakeMove(mv); err != nil {
			dead = true
			continue
		}
		moves = append(moves, mv.String())
	}

	s.gamesRead++
	return &Opening{FEN: tags["FEN"], MovesUCI: moves}, nil
}

func (s *Stream) readTagSection() (map[string]string, bool, error) {
	tags := make(map[string]string)
	saw := false
	for {
		c, err := s.r.ReadByte()
		if err == io.EOF {
			if saw {
				return tags, saw, nil
			}
			return nil, false, io.EOF
		}
		if err != nil {
			return nil, false, err
		}
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
		case c == '%':
			if err := s.skipToLineEnd(); err != nil && err != io.EOF {
				return nil, false, err
			}
		case c == '[':
			name, value, err := s.readTagPair()
			if err != nil {
				return nil, false, err
			}
			if name != "" {
				tags[name] = value
			}
			saw = true
		default:
			s.r.UnreadByte()
			return tags, saw, nil
		}
	}
}

// readTagPair consumes one "[Name \"value\"]" pair, the opening bracket
// already read.
func (s *Stream) readTagPair() (string, string, error) {
	var name, value strings.Builder
	inName := true
	for {
		c, err := s.r.ReadByte()
		if err != nil {
			return "", "", fmt.Errorf("truncated tag in %q: %w", s.path, err)
		}
		if inName {
			switch c {
			case ']':
				return strings.TrimSpace(name.String()), "", nil
			case '"':
				inName = false
			default:
				name.WriteByte(c)
			}
			continue
		}
		switch c {
		case '\\':
			next, err := s.r.ReadByte()
			if err != nil {
				return "", "", fmt.Errorf("truncated tag in %q: %w", s.path, err)
			}
			value.WriteByte(next)
		case '"':
			for {
				c, err := s.r.ReadByte()
				if err != nil || c == ']' {
					return strings.TrimSpace(name.String()), value.String(), nil
				}
			}
		default:
			value.WriteByte(c)
		}
	}
}

type tokenKind int

const (
	tokenMove tokenKind = iota
	tokenGameEnd
)

// nextToken returns the next movetext token, skipping comments, variations
// and numeric annotation glyphs. tokenGameEnd marks a result token or the
// start of the next game's tag section.
func (s *Stream) nextToken() (string, tokenKind, error) {
	for {
		c, err := s.r.ReadByte()
		if err != nil {
			return "", tokenGameEnd, err
		}
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
		case c == '{':
			if err := s.skipBraceComment(); err != nil {
				return "", tokenGameEnd, err
			}
		case c == ';' || c == '%':
			if err := s.skipToLineEnd(); err != nil {
				return "", tokenGameEnd, err
			}
		case c == '(':
			if err := s.skipVariation(); err != nil {
				return "", tokenGameEnd, err
			}
		case c == ')' || c == '$':
			if c == '$' {
				s.skipDigits()
			}
		case c == '[':
			s.r.UnreadByte()
			return "", tokenGameEnd, nil
		case c == '*':
			return "*", tokenGameEnd, nil
		default:
			tok := s.readBareToken(c)
			if tok == "1-0" || tok == "0-1" || tok == "1/2-1/2" {
				return tok, tokenGameEnd, nil
			}
			// A move number may be glued to its move, as in "1.e4".
			tok = strings.TrimLeft(tok, "0123456789.")
			tok = strings.TrimRight(tok, "!?")
			if tok == "" {
				continue
			}
			return tok, tokenMove, nil
		}
	}
}

func (s *Stream) readBareToken(first byte) string {
	var b strings.Builder
	b.WriteByte(first)
	for {
		c, err := s.r.ReadByte()
		if err != nil {
			return b.String()
		}
		switch c {
		case ' ', '\t', '\r', '\n':
			return b.String()
		case '{', '(', ')', '[', ';':
			s.r.UnreadByte()
			return b.String()
		default:
			b.WriteByte(c)
		}
	}
}

func (s *Stream) skipBraceComment() error {
	for {
		c, err := s.r.ReadByte()
		if err != nil {
			return err
		}
		if c == '}' {
			return nil
		}
	}
}

func (s *Stream) skipToLineEnd() error {
	_, err := s.r.ReadString('\n')
	return err
}

func (s *Stream) skipVariation() error {
	depth := 1
	for depth > 0 {
		c, err := s.r.ReadByte()
		if err != nil {
			return err
		}
		switch c {
		case '{':
			if err := s.skipBraceComment(); err != nil {
				return err
			}
		case '(':
			depth++
		case ')':
			depth--
		}
	}
	return nil
}

func (s *Stream) skipDigits() {
	for {
		c, err := s.r.ReadByte()
		if err != nil {
			return
		}
		if c < '0' || c > '9' {
			s.r.UnreadByte()
			return
		}
	}
}
