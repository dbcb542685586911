package arbiter_test

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skovgaard/auctiond/internal/arbiter"
)

func newTestArbiter(t *testing.T) *arbiter.Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return arbiter.NewRedisWithClient(client, slog.Default())
}

func TestCheckAndSet(t *testing.T) {
	ctx := context.Background()
	a := newTestArbiter(t)
	require.NoError(t, a.SeedItem(ctx, "a1", "i1", 100, ""))

	tests := []struct {
		name        string
		amount      int64
		wantAccept  bool
		wantHighest int64
	}{
		{"below seed", 90, false, 100},
		{"equal to seed", 100, false, 100},
		{"above seed", 150, true, 150},
		{"below new highest", 120, false, 150},
		{"equal to new highest loses", 150, false, 150},
		{"above new highest", 175, true, 175},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := a.CheckAndSet(ctx, "a1", "i1", tt.amount, "bidder-"+tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAccept, d.Accepted)
			assert.Equal(t, tt.wantHighest, d.HighestBid)
		})
	}
}

func TestCheckAndSet_ConcurrentRace(t *testing.T) {
	ctx := context.Background()
	a := newTestArbiter(t)
	require.NoError(t, a.SeedItem(ctx, "a1", "i1", 100, ""))

	const bidders = 25
	decisions := make([]arbiter.Decision, bidders)
	var wg sync.WaitGroup
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := a.CheckAndSet(ctx, "a1", "i1", int64(101+i), fmt.Sprintf("u%d", i))
			require.NoError(t, err)
			decisions[i] = d
		}(i)
	}
	wg.Wait()

	// The top bid always survives; every accepted decision saw itself as the
	// highest at acceptance time.
	accepted := 0
	for i, d := range decisions {
		if d.Accepted {
			accepted++
			assert.Equal(t, int64(101+i), d.HighestBid)
		}
	}
	require.GreaterOrEqual(t, accepted, 1)

	final, err := a.CheckAndSet(ctx, "a1", "i1", 125, "probe")
	require.NoError(t, err)
	assert.False(t, final.Accepted)
	assert.Equal(t, int64(125), final.HighestBid)
}

func TestCheckAndSet_EqualAmountsSingleWinner(t *testing.T) {
	ctx := context.Background()
	a := newTestArbiter(t)
	require.NoError(t, a.SeedItem(ctx, "a1", "i1", 100, ""))

	const bidders = 30
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := a.CheckAndSet(ctx, "a1", "i1", 130, fmt.Sprintf("u%d", i))
			require.NoError(t, err)
			if d.Accepted {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners, "exactly one equal-amount bid may win")
}

func TestSeedResetsBidder(t *testing.T) {
	ctx := context.Background()
	a := newTestArbiter(t)
	require.NoError(t, a.SeedItem(ctx, "a1", "i1", 100, ""))

	d, err := a.CheckAndSet(ctx, "a1", "i1", 150, "u1")
	require.NoError(t, err)
	require.True(t, d.Accepted)

	// Re-seeding (next item live, or recovery) resets the floor.
	require.NoError(t, a.SeedItem(ctx, "a1", "i1", 50, ""))
	d, err = a.CheckAndSet(ctx, "a1", "i1", 60, "u2")
	require.NoError(t, err)
	assert.True(t, d.Accepted)
}

func TestClearItem(t *testing.T) {
	ctx := context.Background()
	a := newTestArbiter(t)
	require.NoError(t, a.SeedItem(ctx, "a1", "i1", 100, ""))
	require.NoError(t, a.ClearItem(ctx, "a1", "i1"))

	// With the keys gone, any amount is accepted against an absent value.
	d, err := a.CheckAndSet(ctx, "a1", "i1", 1, "u1")
	require.NoError(t, err)
	assert.True(t, d.Accepted)
}

func TestClearAuction(t *testing.T) {
	ctx := context.Background()
	a := newTestArbiter(t)
	require.NoError(t, a.SeedItem(ctx, "a1", "i1", 100, ""))
	require.NoError(t, a.SeedItem(ctx, "a1", "i2", 200, ""))
	require.NoError(t, a.ClearAuction(ctx, "a1", []string{"i1", "i2"}))

	for _, itemID := range []string{"i1", "i2"} {
		d, err := a.CheckAndSet(ctx, "a1", itemID, 1, "u1")
		require.NoError(t, err)
		assert.True(t, d.Accepted, "keys for %s not cleared", itemID)
	}
}

func TestIdempotency(t *testing.T) {
	ctx := context.Background()
	a := newTestArbiter(t)
	key := arbiter.BidKey{AuctionID: "a1", ItemID: "i1", BidderID: "u1", IdempotencyKey: "k1"}

	// No outcome recorded yet.
	out, err := a.LookupOutcome(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, out)

	// First claim wins, the rest lose until the outcome lands.
	owned, err := a.ClaimBid(ctx, key)
	require.NoError(t, err)
	assert.True(t, owned)

	owned, err = a.ClaimBid(ctx, key)
	require.NoError(t, err)
	assert.False(t, owned)

	require.NoError(t, a.StoreOutcome(ctx, key, arbiter.Outcome{Accepted: true}))

	out, err = a.LookupOutcome(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, out.Accepted)

	// StoreOutcome released the pending claim.
	owned, err = a.ClaimBid(ctx, key)
	require.NoError(t, err)
	assert.True(t, owned)

	// Distinct keys are independent attempts.
	other := key
	other.IdempotencyKey = "k2"
	out, err = a.LookupOutcome(ctx, other)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestIdempotency_ConcurrentClaims(t *testing.T) {
	ctx := context.Background()
	a := newTestArbiter(t)
	key := arbiter.BidKey{AuctionID: "a1", ItemID: "i1", BidderID: "u1", IdempotencyKey: "k1"}

	const attempts = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	owners := 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			owned, err := a.ClaimBid(ctx, key)
			require.NoError(t, err)
			if owned {
				mu.Lock()
				owners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, owners, "exactly one concurrent attempt may own the claim")
}
