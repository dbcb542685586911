package arbiter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// claimTTL bounds how long a crashed bid attempt can block retries.
	claimTTL = 30 * time.Second
	// outcomeTTL is how long a resolved outcome stays available to retries.
	outcomeTTL = 10 * time.Minute
)

// checkAndSetScript accepts a bid iff the key is absent or the new amount is
// strictly greater than the stored one. Running as a single script makes the
// read-compare-write atomic per item; equal amounts lose, so the first
// arrival wins a tie.
var checkAndSetScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current and tonumber(ARGV[1]) <= tonumber(current) then
	return {0, current}
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("SET", KEYS[2], ARGV[2])
return {1, ARGV[1]}
`)

// storeOutcomeScript records the bid outcome and releases the pending claim
// in one step, so a concurrent retry either sees the claim or the result,
// never neither.
var storeOutcomeScript = redis.NewScript(`
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
redis.call("DEL", KEYS[2])
return 1
`)

// Config holds Redis connection settings for the arbiter.
type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Redis implements Arbiter on a Redis instance.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg Config, logger *slog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	logger.InfoContext(ctx, "connected to arbiter", slog.String("addr", cfg.Addr), slog.Int("db", cfg.DB))
	return &Redis{client: client, logger: logger}, nil
}

// NewRedisWithClient wraps an existing client. Used by tests.
func NewRedisWithClient(client *redis.Client, logger *slog.Logger) *Redis {
	return &Redis{client: client, logger: logger}
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error { return r.client.Close() }

// Ping reports connection health.
func (r *Redis) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func bidKey(auctionID, itemID string) string {
	return fmt.Sprintf("auction:%s:item:%s:highest_bid", auctionID, itemID)
}

func bidderKey(auctionID, itemID string) string {
	return fmt.Sprintf("auction:%s:item:%s:highest_bidder", auctionID, itemID)
}

func idemKey(key BidKey, suffix string) string {
	return fmt.Sprintf("auction:%s:item:%s:idem:%s:%s:%s",
		key.AuctionID, key.ItemID, key.BidderID, key.IdempotencyKey, suffix)
}

func (r *Redis) SeedItem(ctx context.Context, auctionID, itemID string, highestBid int64, bidderID string) error {
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, bidKey(auctionID, itemID), highestBid, 0)
	if bidderID == "" {
		pipe.Del(ctx, bidderKey(auctionID, itemID))
	} else {
		pipe.Set(ctx, bidderKey(auctionID, itemID), bidderID, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("seeding item %s: %w", itemID, err)
	}
	return nil
}

func (r *Redis) CheckAndSet(ctx context.Context, auctionID, itemID string, amount int64, bidderID string) (Decision, error) {
	res, err := checkAndSetScript.Run(ctx, r.client,
		[]string{bidKey(auctionID, itemID), bidderKey(auctionID, itemID)},
		amount, bidderID,
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("bid check-and-set: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("bid check-and-set: unexpected reply %v", res)
	}

	accepted, ok := res[0].(int64)
	if !ok {
		return Decision{}, fmt.Errorf("bid check-and-set: unexpected accepted flag %T", res[0])
	}
	highest, err := toInt64(res[1])
	if err != nil {
		return Decision{}, fmt.Errorf("bid check-and-set: %w", err)
	}
	return Decision{Accepted: accepted == 1, HighestBid: highest}, nil
}

func (r *Redis) ClearItem(ctx context.Context, auctionID, itemID string) error {
	// Idempotency keys for the item are left to expire by TTL.
	if err := r.client.Del(ctx, bidKey(auctionID, itemID), bidderKey(auctionID, itemID)).Err(); err != nil {
		return fmt.Errorf("clearing item %s: %w", itemID, err)
	}
	return nil
}

func (r *Redis) ClearAuction(ctx context.Context, auctionID string, itemIDs []string) error {
	keys := make([]string, 0, 2*len(itemIDs))
	for _, itemID := range itemIDs {
		keys = append(keys, bidKey(auctionID, itemID), bidderKey(auctionID, itemID))
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("clearing auction %s: %w", auctionID, err)
	}
	return nil
}

func (r *Redis) ClaimBid(ctx context.Context, key BidKey) (bool, error) {
	owned, err := r.client.SetNX(ctx, idemKey(key, "pending"), 1, claimTTL).Result()
	if err != nil {
		return false, fmt.Errorf("claiming bid: %w", err)
	}
	return owned, nil
}

func (r *Redis) LookupOutcome(ctx context.Context, key BidKey) (*Outcome, error) {
	raw, err := r.client.Get(ctx, idemKey(key, "result")).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up bid outcome: %w", err)
	}
	var out Outcome
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decoding bid outcome: %w", err)
	}
	return &out, nil
}

func (r *Redis) StoreOutcome(ctx context.Context, key BidKey, out Outcome) error {
	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encoding bid outcome: %w", err)
	}
	err = storeOutcomeScript.Run(ctx, r.client,
		[]string{idemKey(key, "result"), idemKey(key, "pending")},
		raw, outcomeTTL.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("storing bid outcome: %w", err)
	}
	return nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		var out int64
		_, err := fmt.Sscan(n, &out)
		return out, err
	default:
		return 0, fmt.Errorf("unexpected numeric reply %T", v)
	}
}
