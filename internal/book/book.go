// Package book reads polyglot opening books and draws weighted moves from
// them.
package book

import (
	"fmt"
	"math/rand"
	"os"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// Book is an opening book loaded from a polyglot .bin file. Lookups are
// keyed by the polyglot Zobrist hash of a position.
type Book struct {
	path string
	book *nchess.PolyglotBook
}

// Open loads a polyglot book from disk.
func Open(path string) (*Book, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("polyglot book path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open polyglot book %q: %w", path, err)
	}
	defer file.Close()

	pb, err := nchess.LoadFromReader(file)
	if err != nil {
		return nil, fmt.Errorf("load polyglot book %q: %w", path, err)
	}
	return &Book{path: path, book: pb}, nil
}

func (b *Book) Path() string { return b.path }

// Pick draws one book move for the position key, biased by entry weight.
// Entries with zero weight are never drawn unless every entry has zero
// weight, in which case the draw is uniform.
func (b *Book) Pick(key uint64, r *rand.Rand) (*nchess.Move, bool) {
	entries := b.book.FindMoves(key)
	if len(entries) == 0 {
		return nil, false
	}

	total := 0
	for _, entry := range entries {
		total += int(entry.Weight)
	}

	idx := 0
	if total > 0 {
		threshold := r.Intn(total)
		for i, entry := range entries {
			threshold -= int(entry.Weight)
			if threshold < 0 {
				idx = i
				break
			}
		}
	} else {
		idx = r.Intn(len(entries))
	}

	move := nchess.DecodeMove(entries[idx].Move).ToMove()
	return &move, true
}
