// Package match schedules a series of games between two engines: it spawns
// and validates the participants, alternates colors, picks openings, tallies
// results and fans completed games out to the configured sinks.
package match

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/laldon/cutechess/internal/book"
	"github.com/laldon/cutechess/internal/chess"
	"github.com/laldon/cutechess/internal/game"
	"github.com/laldon/cutechess/internal/loop"
	"github.com/laldon/cutechess/internal/obslog"
	"github.com/laldon/cutechess/internal/pgn"
	"github.com/laldon/cutechess/internal/uci"
)

const (
	defaultCooldown = 2 * time.Second
	teardownTimeout = 5 * time.Second
	sinkTimeout     = 10 * time.Second
)

// PlayerFactory builds one participant. Tests substitute scripted players;
// the default spawns a UCI engine process.
type PlayerFactory func(lp *loop.Loop, cfg uci.Config) (game.Player, error)

// GameReport is the record of one finished game handed to result sinks.
type GameReport struct {
	MatchID    string       `json:"match_id"`
	GameNo     int          `json:"game_no"`
	Event      string       `json:"event,omitempty"`
	Site       string       `json:"site,omitempty"`
	White      string       `json:"white"`
	Black      string       `json:"black"`
	Result     chess.Result `json:"result"`
	PGN        string       `json:"pgn"`
	PlyCount   int          `json:"ply_count"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// Sink receives finished games. Sink failures are logged, never fatal.
type Sink interface {
	SaveGame(ctx context.Context, r GameReport) error
}

// LiveState is a point-in-time view of the running game for spectators.
// Clocks are reported in milliseconds.
type LiveState struct {
	MatchID     string `json:"match_id"`
	GameNo      int    `json:"game_no"`
	White       string `json:"white"`
	Black       string `json:"black"`
	FEN         string `json:"fen"`
	PlyCount    int    `json:"ply_count"`
	WhiteTimeMs int64  `json:"white_time_ms"`
	BlackTimeMs int64  `json:"black_time_ms"`
	Result      string `json:"result,omitempty"`
}

// LiveSink publishes LiveState after every move and once more at game end.
type LiveSink interface {
	PushState(ctx context.Context, s LiveState) error
}

// Options configures a match.
type Options struct {
	Event    string
	Site     string
	Variant  string
	Games    int
	Repeat   bool
	StartFEN string

	Engines [2]uci.Config

	Rules game.AdjudicationRules

	BookFile  string
	BookDepth int
	PGNFile   string
	PGNDepth  int

	PGNOut  string
	PGNMode pgn.Mode

	Cooldown time.Duration
	Debug    bool

	Factory PlayerFactory
	Archive Sink
	Report  Sink
	Live    LiveSink
}

type engineRecord struct {
	cfg    uci.Config
	player game.Player
	wins   int
}

// Match owns the event loop and both engine processes for one series of
// games. Build it with New, then Run drives it to completion.
type Match struct {
	id   string
	lp   *loop.Loop
	opts Options
	rand *rand.Rand

	engines [2]*engineRecord
	book    *book.Book
	stream  *pgn.Stream

	session   *game.Session
	gameNo    int
	startedAt time.Time

	completed     int
	draws         int
	repeatOpening *pgn.Opening
	stopped       bool

	sinks errgroup.Group
}

func New(opts Options) *Match {
	if opts.Games < 1 {
		opts.Games = 1
	}
	if opts.Variant == "" {
		opts.Variant = "standard"
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = defaultCooldown
	}
	if opts.Factory == nil {
		opts.Factory = func(lp *loop.Loop, cfg uci.Config) (game.Player, error) {
			return uci.Spawn(lp, cfg)
		}
	}
	m := &Match{
		id:   uuid.NewString(),
		lp:   loop.New(),
		opts: opts,
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	m.sinks.SetLimit(4)
	return m
}

func (m *Match) ID() string { return m.id }

// Completed, Wins and Draws report the tally; safe to read once Run returned.
func (m *Match) Completed() int { return m.completed }
func (m *Match) Draws() int     { return m.draws }
func (m *Match) Wins() [2]int {
	return [2]int{m.engines[0].wins, m.engines[1].wins}
}

// Score renders the running tally the way the final log line does.
func (m *Match) Score() string {
	return fmt.Sprintf("score of %s vs %s: %d - %d - %d",
		m.engineName(0), m.engineName(1),
		m.engines[0].wins, m.engines[1].wins, m.draws)
}

func (m *Match) engineName(i int) string {
	if m.engines[i] != nil && m.engines[i].player != nil {
		return m.engines[i].player.Name()
	}
	if m.opts.Engines[i].Name != "" {
		return m.opts.Engines[i].Name
	}
	return fmt.Sprintf("engine %d", i+1)
}

// Run plays the whole match and blocks until it is finished or the context
// is canceled. Engines are torn down before it returns.
func (m *Match) Run(ctx context.Context) error {
	if err := m.initialize(); err != nil {
		return err
	}
	defer m.teardown()

	m.lp.Post(m.nextGame)
	if err := m.lp.Run(ctx); err != nil {
		m.flushAbandoned()
		return fmt.Errorf("match interrupted: %w", err)
	}
	return nil
}

// flushAbandoned appends the game in progress to the PGN file when the match
// is interrupted, so the series still accounts for its unfinished game.
func (m *Match) flushAbandoned() {
	s := m.session
	if s == nil || m.opts.PGNOut == "" || !s.Result().IsNone() {
		return
	}
	rec := s.Record()
	m.stampRecord(rec, m.gameNo, time.Now())
	if err := rec.AppendToFile(m.opts.PGNOut, m.opts.PGNMode); err != nil {
		obslog.L().Error("write pgn", zap.String("path", m.opts.PGNOut), zap.Error(err))
	}
}

// initialize validates both participants, opens the opening sources and only
// then spawns the engine processes.
func (m *Match) initialize() error {
	for i, cfg := range m.opts.Engines {
		if cfg.Command == "" {
			return fmt.Errorf("engine %d has no command", i+1)
		}
		if cfg.TimeControl == nil || !cfg.TimeControl.Valid() {
			return fmt.Errorf("engine %d has no valid time control", i+1)
		}
	}

	if m.opts.BookFile != "" {
		b, err := book.Open(m.opts.BookFile)
		if err != nil {
			return err
		}
		m.book = b
	}
	if m.opts.PGNFile != "" {
		s, err := pgn.OpenStream(m.opts.PGNFile)
		if err != nil {
			return err
		}
		m.stream = s
	}

	for i, cfg := range m.opts.Engines {
		p, err := m.opts.Factory(m.lp, cfg)
		if err != nil {
			m.teardown()
			return fmt.Errorf("engine %d: %w", i+1, err)
		}
		m.engines[i] = &engineRecord{cfg: cfg, player: p}
	}

	if a, ok := m.engines[0].player.(*uci.Engine); ok {
		if b, ok := m.engines[1].player.(*uci.Engine); ok {
			a.SetOpponentClock(b.TimeControl())
			b.SetOpponentClock(a.TimeControl())
		}
	}

	if m.opts.Debug {
		for _, rec := range m.engines {
			rec.player.OnDebug(func(line string) {
				obslog.L().Debug("engine io", zap.String("line", line))
			})
		}
	}

	obslog.L().Info("match initialized",
		zap.String("match", m.id),
		zap.String("engine1", m.engineName(0)),
		zap.String("engine2", m.engineName(1)),
		zap.Int("games", m.opts.Games))
	return nil
}

func (m *Match) teardown() {
	quit, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	var g errgroup.Group
	for _, rec := range m.engines {
		if rec == nil || rec.player == nil {
			continue
		}
		p := rec.player
		g.Go(func() error { return p.Quit(quit) })
	}
	if err := g.Wait(); err != nil {
		obslog.L().Warn("engine teardown", zap.Error(err))
	}
	if err := m.sinks.Wait(); err != nil {
		obslog.L().Warn("result sink", zap.Error(err))
	}
	if m.stream != nil {
		m.stream.Close()
		m.stream = nil
	}
}

// nextGame sets up and starts one game. It runs on the loop.
func (m *Match) nextGame() {
	if m.stopped {
		return
	}
	if m.completed >= m.opts.Games {
		m.finishMatch()
		return
	}

	idx := m.completed
	m.gameNo = idx + 1
	m.startedAt = time.Now()

	whiteIdx := idx % 2
	blackIdx := 1 - whiteIdx
	white := m.engines[whiteIdx].player
	black := m.engines[blackIdx].player

	opening := m.openingForGame(idx)

	var adj *game.Adjudicator
	if m.opts.Rules.Enabled() {
		adj = game.NewAdjudicator(m.opts.Rules)
	}

	s := game.NewSession(m.lp, game.Config{
		Variant:     m.opts.Variant,
		StartFEN:    opening.FEN,
		OpeningUCI:  opening.MovesUCI,
		White:       white,
		Black:       black,
		Adjudicator: adj,
	})
	m.session = s

	gameNo := m.gameNo
	started := m.startedAt
	s.OnMovePlayed(func() { m.publishLive(s, gameNo, "") })
	s.OnGameEnded(func() { m.onGameEnded(s, gameNo, whiteIdx, started) })

	obslog.L().Info("game starting",
		zap.String("match", m.id),
		zap.Int("game", gameNo),
		zap.String("white", white.Name()),
		zap.String("black", black.Name()))
	s.Start()
}

func (m *Match) onGameEnded(s *game.Session, gameNo, whiteIdx int, started time.Time) {
	m.completed++
	result := s.Result()
	finished := time.Now()

	if winner, ok := result.Winner(); ok {
		idx := whiteIdx
		if winner == nchess.Black {
			idx = 1 - whiteIdx
		}
		m.engines[idx].wins++
	} else if result.Outcome == chess.OutcomeDraw {
		m.draws++
	}

	rec := s.Record()
	m.stampRecord(rec, gameNo, finished)

	if m.opts.PGNOut != "" {
		if err := rec.AppendToFile(m.opts.PGNOut, m.opts.PGNMode); err != nil {
			obslog.L().Error("write pgn", zap.String("path", m.opts.PGNOut), zap.Error(err))
		}
	}

	obslog.L().Info("game finished",
		zap.Int("game", gameNo),
		zap.String("result", result.String()))
	obslog.L().Info(m.Score())

	m.publishLive(s, gameNo, result.String())
	m.saveGame(s, gameNo, started, finished)

	if result.Reason == chess.ReasonError || result.Reason == chess.ReasonDisconnection {
		obslog.L().Error("halting match", zap.String("reason", result.Description))
		m.finishMatch()
		return
	}
	if m.completed >= m.opts.Games {
		m.finishMatch()
		return
	}
	m.lp.After(m.opts.Cooldown, m.nextGame)
}

func (m *Match) stampRecord(rec *pgn.Game, gameNo int, finished time.Time) {
	if m.opts.Event != "" {
		rec.SetTag("Event", m.opts.Event)
	}
	if m.opts.Site != "" {
		rec.SetTag("Site", m.opts.Site)
	}
	rec.SetTag("Date", finished.UTC().Format("2006.01.02"))
	rec.SetTag("Round", strconv.Itoa(gameNo))
}

func (m *Match) saveGame(s *game.Session, gameNo int, started, finished time.Time) {
	if m.opts.Archive == nil && m.opts.Report == nil {
		return
	}
	report := GameReport{
		MatchID:    m.id,
		GameNo:     gameNo,
		Event:      m.opts.Event,
		Site:       m.opts.Site,
		White:      s.White().Name(),
		Black:      s.Black().Name(),
		Result:     s.Result(),
		PGN:        s.Record().Render(m.opts.PGNMode),
		StartedAt:  started,
		FinishedAt: finished,
	}
	if b := s.Board(); b != nil {
		report.PlyCount = b.PlyCount()
	}
	for _, sink := range []Sink{m.opts.Archive, m.opts.Report} {
		if sink == nil {
			continue
		}
		sink := sink
		m.sinks.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
			defer cancel()
			if err := sink.SaveGame(ctx, report); err != nil {
				obslog.L().Warn("save game", zap.Int("game", report.GameNo), zap.Error(err))
			}
			return nil
		})
	}
}

func (m *Match) publishLive(s *game.Session, gameNo int, result string) {
	if m.opts.Live == nil {
		return
	}
	b := s.Board()
	if b == nil {
		return
	}
	state := LiveState{
		MatchID:     m.id,
		GameNo:      gameNo,
		White:       s.White().Name(),
		Black:       s.Black().Name(),
		FEN:         b.FEN(),
		PlyCount:    b.PlyCount(),
		WhiteTimeMs: s.White().TimeControl().TimeLeft().Milliseconds(),
		BlackTimeMs: s.Black().TimeControl().TimeLeft().Milliseconds(),
		Result:      result,
	}
	m.sinks.Go(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		defer cancel()
		if err := m.opts.Live.PushState(ctx, state); err != nil {
			obslog.L().Warn("publish live state", zap.Error(err))
		}
		return nil
	})
}

func (m *Match) finishMatch() {
	if m.stopped {
		return
	}
	m.stopped = true
	obslog.L().Info("match finished",
		zap.String("match", m.id),
		zap.Int("games", m.completed))
	obslog.L().Info(m.Score())
	m.lp.Stop()
}
