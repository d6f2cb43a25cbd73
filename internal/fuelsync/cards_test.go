package fuelsync

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/fleetops/fleetops/internal/shared"
	_ "github.com/fleetops/fleetops/testing"
)

// countingRepo counts store lookups so cache hits are observable.
type countingRepo struct {
	memRepo
	lookups int
}

func (r *countingRepo) FindActiveAssignment(ctx context.Context, cardLastFour string) (CardAssignment, error) {
	r.lookups++
	return r.memRepo.FindActiveAssignment(ctx, cardLastFour)
}

func TestCardDirectoryCachesAssignments(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	repo := &countingRepo{memRepo: memRepo{assignments: map[string]CardAssignment{
		"4821": {CardLastFour: "4821", DriverID: 2, CompanyID: 1, Active: true},
	}}}
	cards := NewCardDirectory(repo, client, time.Minute, slog.Default())

	first, err := cards.Resolve(context.Background(), "4821")
	require.NoError(t, err)
	require.Equal(t, int64(2), first.DriverID)

	second, err := cards.Resolve(context.Background(), "4821")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, repo.lookups)
}

func TestCardDirectoryExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	repo := &countingRepo{memRepo: memRepo{assignments: map[string]CardAssignment{
		"4821": {CardLastFour: "4821", DriverID: 2, CompanyID: 1, Active: true},
	}}}
	cards := NewCardDirectory(repo, client, time.Minute, slog.Default())

	_, err := cards.Resolve(context.Background(), "4821")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = cards.Resolve(context.Background(), "4821")
	require.NoError(t, err)
	require.Equal(t, 2, repo.lookups)
}

func TestCardDirectoryInvalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	repo := &countingRepo{memRepo: memRepo{assignments: map[string]CardAssignment{
		"4821": {CardLastFour: "4821", DriverID: 2, CompanyID: 1, Active: true},
	}}}
	cards := NewCardDirectory(repo, client, time.Minute, slog.Default())

	_, err := cards.Resolve(context.Background(), "4821")
	require.NoError(t, err)

	// Card moved to another driver; the stale entry must not survive.
	repo.assignments["4821"] = CardAssignment{CardLastFour: "4821", DriverID: 9, CompanyID: 1, Active: true}
	require.NoError(t, cards.Invalidate(context.Background(), "4821"))

	refreshed, err := cards.Resolve(context.Background(), "4821")
	require.NoError(t, err)
	require.Equal(t, int64(9), refreshed.DriverID)
}

func TestCardDirectoryUnknownCard(t *testing.T) {
	repo := &countingRepo{memRepo: memRepo{assignments: map[string]CardAssignment{}}}
	cards := NewCardDirectory(repo, nil, time.Minute, slog.Default())

	_, err := cards.Resolve(context.Background(), "0000")
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = cards.Resolve(context.Background(), "")
	require.ErrorIs(t, err, shared.ErrNotFound)
}
