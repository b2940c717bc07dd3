// Package pgn models games in Portable Game Notation and reads opening
// lines out of PGN collections.
package pgn

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/laldon/cutechess/internal/chess"
)

// Mode selects how much detail a rendered game carries.
type Mode int

const (
	// Verbose writes every tag plus move comments, a ply count and the
	// termination detail.
	Verbose Mode = iota
	// Minimal writes the seven-tag roster, the starting position if it is
	// not the default one, and bare moves.
	Minimal
)

const maxLineWidth = 80

var sevenTagRoster = []string{"Event", "Site", "Date", "Round", "White", "Black", "Result"}

// Move is one played half-move with its optional annotation.
type Move struct {
	SAN     string
	Comment string
}

// Game is a single finished or running game on its way to PGN.
type Game struct {
	tags          map[string]string
	moves         []Move
	result        chess.Result
	startFullmove int
	blackFirst    bool
}

func NewGame() *Game {
	return &Game{tags: make(map[string]string), startFullmove: 1}
}

func (g *Game) SetTag(name, value string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	if value == "" {
		delete(g.tags, name)
		return
	}
	g.tags[name] = value
}

func (g *Game) Tag(name string) string { return g.tags[name] }

// SetStartPosition records a non-default starting position. It drives the
// FEN and SetUp tags and the numbering of the first written move.
func (g *Game) SetStartPosition(fen string) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == chess.DefaultStartFEN {
		delete(g.tags, "FEN")
		delete(g.tags, "SetUp")
		g.startFullmove = 1
		g.blackFirst = false
		return
	}
	g.tags["FEN"] = fen
	g.tags["SetUp"] = "1"
	g.startFullmove = 1
	g.blackFirst = false
	fields := strings.Fields(fen)
	if len(fields) >= 2 {
		g.blackFirst = fields[1] == "b"
	}
	if len(fields) >= 6 {
		if n, err := strconv.Atoi(fields[5]); err == nil && n >= 1 {
			g.startFullmove = n
		}
	}
}

func (g *Game) AppendMove(san, comment string) {
	g.moves = append(g.moves, Move{SAN: san, Comment: comment})
}

func (g *Game) Moves() []Move            { return g.moves }
func (g *Game) SetResult(r chess.Result) { g.result = r }
func (g *Game) Result() chess.Result     { return g.result }

// Render produces the complete PGN text of the game, movetext wrapped to 80
// columns and terminated with the result token.
func (g *Game) Render(mode Mode) string {
	var b strings.Builder

	for _, name := range sevenTagRoster {
		value := g.tags[name]
		if name == "Result" {
			value = g.result.PGNString()
		}
		if value == "" {
			value = "?"
		}
		writeTagPair(&b, name, value)
	}
	extra := g.extraTags(mode)
	names := make([]string, 0, len(extra))
	for name := range extra {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		writeTagPair(&b, name, extra[name])
	}
	b.WriteByte('\n')

	line := ""
	for _, tok := range g.movetextTokens(mode) {
		switch {
		case line == "":
			line = tok
		case len(line)+1+len(tok) > maxLineWidth:
			b.WriteString(line)
			b.WriteByte('\n')
			line = tok
		default:
			line += " " + tok
		}
	}
	if line != "" {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

func (g *Game) Write(w io.Writer, mode Mode) error {
	_, err := io.WriteString(w, g.Render(mode))
	return err
}

// AppendToFile adds the game to a PGN collection, blank-line separated from
// the previous game.
func (g *Game) AppendToFile(path string, mode Mode) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open pgn file %q: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat pgn file %q: %w", path, err)
	}
	out := g.Render(mode)
	if info.Size() > 0 {
		out = "\n" + out
	}
	if _, err := io.WriteString(f, out); err != nil {
		f.Close()
		return fmt.Errorf("write pgn file %q: %w", path, err)
	}
	return f.Close()
}

func (g *Game) extraTags(mode Mode) map[string]string {
	extra := make(map[string]string)
	if mode == Minimal {
		for _, name := range []string{"FEN", "SetUp"} {
			if value := g.tags[name]; value != "" {
				extra[name] = value
			}
		}
		return extra
	}
	for name, value := range g.tags {
		if value != "" && !isRosterTag(name) {
			extra[name] = value
		}
	}
	if _, ok := extra["PlyCount"]; !ok {
		extra["PlyCount"] = strconv.Itoa(len(g.moves))
	}
	if term := terminationTag(g.result); term != "" {
		if _, ok := extra["Termination"]; !ok {
			extra["Termination"] = term
		}
	}
	return extra
}

func (g *Game) movetextTokens(mode Mode) []string {
	startPly := (g.startFullmove - 1) * 2
	if g.blackFirst {
		startPly++
	}
	tokens := make([]string, 0, len(g.moves)*2+1)
	for i, mv := range g.moves {
		ply := startPly + i
		number := ply/2 + 1
		switch {
		case ply%2 == 0:
			tokens = append(tokens, strconv.Itoa(number)+".", mv.SAN)
		case i == 0:
			tokens = append(tokens, strconv.Itoa(number)+"...", mv.SAN)
		default:
			tokens = append(tokens, mv.SAN)
		}
		if mode == Verbose && mv.Comment != "" {
			tokens = append(tokens, "{"+mv.Comment+"}")
		}
	}
	return append(tokens, g.result.PGNString())
}

func terminationTag(r chess.Result) string {
	if r.IsNone() {
		return ""
	}
	switch r.Reason {
	case chess.ReasonAdjudication:
		return "adjudication"
	case chess.ReasonTimeout:
		return "time forfeit"
	case chess.ReasonDisconnection:
		return "abandoned"
	case chess.ReasonError, chess.ReasonNoResult:
		return "unterminated"
	default:
		return ""
	}
}

var tagEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func writeTagPair(b *strings.Builder, name, value string) {
	b.WriteByte('[')
	b.WriteString(name)
	b.WriteString(` "`)
	b.WriteString(tagEscaper.Replace(value))
	b.WriteString("\"]\n")
}

func isRosterTag(name string) bool {
	for _, roster := range sevenTagRoster {
		if name == roster {
			return true
		}
	}
	return false
}
