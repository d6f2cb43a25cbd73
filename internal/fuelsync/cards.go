package fuelsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fleetops/fleetops/internal/shared"
)

// CardDirectory resolves card assignments with a Redis read-through cache.
// Batch syncs hit the same handful of cards repeatedly.
type CardDirectory struct {
	repo   Repository
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCardDirectory constructs a CardDirectory. A nil client disables caching.
func NewCardDirectory(repo Repository, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CardDirectory {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CardDirectory{repo: repo, client: client, ttl: ttl, logger: logger}
}

func cardKey(lastFour string) string {
	return fmt.Sprintf("fuelsync:card:%s", lastFour)
}

// Resolve returns the active assignment for a card's last four digits.
func (d *CardDirectory) Resolve(ctx context.Context, lastFour string) (CardAssignment, error) {
	if lastFour == "" {
		return CardAssignment{}, shared.ErrNotFound
	}
	if d.client != nil {
		raw, err := d.client.Get(ctx, cardKey(lastFour)).Bytes()
		if err == nil {
			var cached CardAssignment
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			d.logger.Warn("card cache read", slog.Any("error", err))
		}
	}

	assignment, err := d.repo.FindActiveAssignment(ctx, lastFour)
	if err != nil {
		return CardAssignment{}, err
	}

	if d.client != nil {
		if raw, err := json.Marshal(assignment); err == nil {
			if err := d.client.Set(ctx, cardKey(lastFour), raw, d.ttl).Err(); err != nil {
				d.logger.Warn("card cache write", slog.Any("error", err))
			}
		}
	}
	return assignment, nil
}

// Invalidate drops a cached assignment, used when cards are reassigned.
func (d *CardDirectory) Invalidate(ctx context.Context, lastFour string) error {
	if d.client == nil {
		return nil
	}
	return d.client.Del(ctx, cardKey(lastFour)).Err()
}
