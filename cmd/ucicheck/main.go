// ucicheck probes a UCI engine binary: it runs the handshake, reports the
// engine's identity and options, and asks for one move from the starting
// position. Exits non-zero when the engine fails any stage.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"

	"github.com/laldon/cutechess/internal/chess"
	"github.com/laldon/cutechess/internal/loop"
	"github.com/laldon/cutechess/internal/obslog"
	"github.com/laldon/cutechess/internal/uci"
)

func main() {
	cmd := flag.String("cmd", "", "engine command (required; extra args after --)")
	dir := flag.String("dir", "", "working directory for the engine")
	st := flag.Duration("st", 2*time.Second, "time budget for the probe move")
	depth := flag.Int("depth", 0, "optional search depth cap")
	variant := flag.String("variant", "", "also check support for this variant")
	debug := flag.Bool("debug", false, "print engine protocol traffic")
	flag.Parse()

	if strings.TrimSpace(*cmd) == "" {
		log.Fatal("-cmd is required")
	}
	if *debug {
		if err := obslog.Init("debug"); err != nil {
			log.Fatalf("logger: %v", err)
		}
		defer obslog.Sync()
	}

	lp := loop.New()
	eng, err := uci.Spawn(lp, uci.Config{
		Command:     *cmd,
		Args:        flag.Args(),
		Dir:         *dir,
		TimeControl: chess.FixedTimeControl(*st),
		Depth:       *depth,
	})
	if err != nil {
		log.Fatalf("handshake failed: %v", err)
	}
	log.Printf("handshake ok: name=%q", eng.Name())
	if opts := eng.DeclaredOptions(); len(opts) > 0 {
		log.Printf("options: %s", strings.Join(opts, ", "))
	}
	if *variant != "" {
		log.Printf("variant %q supported: %v", *variant, eng.SupportsVariant(*variant))
	}

	board, err := chess.NewBoard("standard", "")
	if err != nil {
		log.Fatalf("board: %v", err)
	}

	var (
		move    *nchess.Move
		forfeit chess.Result
	)
	lp.Post(func() {
		if *debug {
			eng.OnDebug(func(line string) { fmt.Println(line) })
		}
		eng.OnMoveMade(func(mv *nchess.Move) {
			move = mv
			lp.Stop()
		})
		eng.OnForfeit(func(r chess.Result) {
			forfeit = r
			lp.Stop()
		})
		eng.SetBoard(board)
		eng.NewGame(nchess.White, "ucicheck")
		eng.Go()
	})

	ctx, cancel := context.WithTimeout(context.Background(), *st+30*time.Second)
	lp.Run(ctx)
	cancel()

	qctx, qcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer qcancel()
	if err := eng.Quit(qctx); err != nil {
		log.Printf("quit error: %v", err)
	}

	switch {
	case move != nil:
		eval := eng.Evaluation()
		log.Printf("search ok: move=%s depth=%d score=%dcp elapsed=%s",
			move.String(), eval.Depth, eval.ScoreCP, eval.Elapsed.Round(time.Millisecond))
	case !forfeit.IsNone():
		log.Fatalf("search failed: %s", forfeit.String())
	default:
		log.Fatal("no move before the deadline")
	}
}
