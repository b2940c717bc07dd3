// Package archive persists finished games to Postgres.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/laldon/cutechess/internal/match"
)

type Store struct {
	db *sql.DB
}

var _ match.Sink = (*Store)(nil)

// Open connects to Postgres and verifies the connection. The games table is
// created on demand.
func Open(databaseURL string) (*Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	q := `CREATE TABLE IF NOT EXISTS games (
        match_id    TEXT        NOT NULL,
        game_no     INTEGER     NOT NULL,
        event       TEXT        NOT NULL DEFAULT '',
        site        TEXT        NOT NULL DEFAULT '',
        white_name  TEXT        NOT NULL,
        black_name  TEXT        NOT NULL,
        result      TEXT        NOT NULL,
        termination TEXT        NOT NULL DEFAULT '',
        ply_count   INTEGER     NOT NULL,
        pgn         TEXT        NOT NULL,
        started_at  TIMESTAMPTZ NOT NULL,
        finished_at TIMESTAMPTZ NOT NULL,
        PRIMARY KEY (match_id, game_no)
    )`
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create games table: %w", err)
	}
	return nil
}

// SaveGame upserts one finished game, so a replayed game number overwrites
// its earlier row instead of duplicating it.
func (s *Store) SaveGame(ctx context.Context, r match.GameReport) error {
	if s == nil || s.db == nil {
		return nil
	}
	q := `INSERT INTO games (
        match_id, game_no, event, site, white_name, black_name,
        result, termination, ply_count, pgn, started_at, finished_at
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
      ) ON CONFLICT (match_id, game_no) DO UPDATE SET
        event=EXCLUDED.event,
        site=EXCLUDED.site,
        white_name=EXCLUDED.white_name,
        black_name=EXCLUDED.black_name,
        result=EXCLUDED.result,
        termination=EXCLUDED.termination,
        ply_count=EXCLUDED.ply_count,
        pgn=EXCLUDED.pgn,
        started_at=EXCLUDED.started_at,
        finished_at=EXCLUDED.finished_at`

	_, err := s.db.ExecContext(ctx, q,
		r.MatchID, r.GameNo, r.Event, r.Site,
		r.White, r.Black,
		r.Result.PGNString(), r.Result.Description,
		r.PlyCount, r.PGN,
		r.StartedAt.UTC(), r.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save game %d: %w", r.GameNo, err)
	}
	return nil
}
