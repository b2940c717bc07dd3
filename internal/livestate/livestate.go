// Package livestate mirrors the running game into Redis so spectators can
// poll the current position and clocks.
package livestate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/laldon/cutechess/internal/match"
)

// Keys expire on their own so an interrupted match leaves no stale state
// behind.
const stateTTL = 24 * time.Hour

type Publisher struct {
	rdb *redis.Client
}

var _ match.LiveSink = (*Publisher)(nil)

// New connects to Redis and verifies the connection.
func New(redisURL string) (*Publisher, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Publisher{rdb: rdb}, nil
}

func (p *Publisher) Close() error {
	if p == nil || p.rdb == nil {
		return nil
	}
	return p.rdb.Close()
}

// PushState overwrites the match's live key with the latest snapshot.
func (p *Publisher) PushState(ctx context.Context, s match.LiveState) error {
	if p == nil || p.rdb == nil {
		return nil
	}
	raw, err := json.Marshal(&s)
	if err != nil {
		return err
	}
	if err := p.rdb.Set(ctx, stateKey(s.MatchID), raw, stateTTL).Err(); err != nil {
		return fmt.Errorf("push live state: %w", err)
	}
	return nil
}

func stateKey(matchID string) string { return "match:live:" + strings.TrimSpace(matchID) }

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
