// Package auction binds the deterministic engine to the arbiter, the
// durable log, the expiry scheduler and the broadcast hub. The Coordinator
// owns the lifetime of every live auction on this instance; all mutations of
// one auction run under its per-auction lock, so the engine only ever sees a
// serial history.
package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/skovgaard/auctiond/internal/arbiter"
	"github.com/skovgaard/auctiond/internal/clock"
	"github.com/skovgaard/auctiond/internal/engine"
	"github.com/skovgaard/auctiond/internal/hub"
	"github.com/skovgaard/auctiond/internal/store"
)

const (
	defaultItemDurationSec  = 60
	defaultExtraDurationSec = 15
	maxItemNameLen          = 128
	maxIdempotencyKeyLen    = 128

	finalizeAttempts = 3
	finalizeBackoff  = 200 * time.Millisecond

	defaultPollAttempts = 40
	defaultPollInterval = 25 * time.Millisecond
)

// liveAuction is one registry entry. The mutex serializes every mutation of
// the auction, including the expiry callback.
type liveAuction struct {
	mu    sync.Mutex
	state *engine.State
	timer *itemTimer
}

// Coordinator drives auctions from creation to their terminal state.
type Coordinator struct {
	mu   sync.RWMutex
	live map[string]*liveAuction

	arbiter arbiter.Arbiter
	log     store.AuctionLog
	users   store.UserRepository
	hub     *hub.Hub
	logger  *slog.Logger
	tracer  trace.Tracer
	clock   clock.Clock

	pollAttempts int
	pollInterval time.Duration
}

// Option tweaks coordinator behavior.
type Option func(*Coordinator)

// WithIdempotencyPoll overrides the bounded wait used when another in-flight
// attempt owns the same idempotency claim.
func WithIdempotencyPoll(attempts int, interval time.Duration) Option {
	return func(c *Coordinator) {
		c.pollAttempts = attempts
		c.pollInterval = interval
	}
}

// New creates a Coordinator.
func New(arb arbiter.Arbiter, log store.AuctionLog, users store.UserRepository, h *hub.Hub, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock, opts ...Option) *Coordinator {
	c := &Coordinator{
		live:         make(map[string]*liveAuction),
		arbiter:      arb,
		log:          log,
		users:        users,
		hub:          h,
		logger:       logger,
		tracer:       tp.Tracer("github.com/skovgaard/auctiond/internal/auction"),
		clock:        clk,
		pollAttempts: defaultPollAttempts,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) get(auctionID string) *liveAuction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.live[auctionID]
}

func (c *Coordinator) remove(auctionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.live, auctionID)
}

// CreateAuction validates the seller and the items, persists the auction in
// its initial form and inserts it into the live registry.
func (c *Coordinator) CreateAuction(ctx context.Context, sellerID string, items []ItemInput) (*StateView, error) {
	ctx, span := c.tracer.Start(ctx, "Coordinator.CreateAuction",
		trace.WithAttributes(
			attribute.String("seller_id", sellerID),
			attribute.Int("items", len(items)),
		),
	)
	defer span.End()

	if len(items) == 0 {
		return nil, fmt.Errorf("%w: auction needs at least one item", ErrInvalidInput)
	}

	specs := make([]engine.ItemSpec, 0, len(items))
	for i, in := range items {
		if in.Name == "" || len(in.Name) > maxItemNameLen {
			return nil, fmt.Errorf("%w: item %d has an invalid name", ErrInvalidInput, i)
		}
		if in.StartingPrice < 0 {
			return nil, fmt.Errorf("%w: item %d has a negative starting price", ErrInvalidInput, i)
		}
		if in.DurationSec < 0 || in.ExtraDurationSec < 0 {
			return nil, fmt.Errorf("%w: item %d has a negative duration", ErrInvalidInput, i)
		}
		spec := engine.ItemSpec{
			ID:               uuid.NewString(),
			Name:             in.Name,
			StartingPrice:    in.StartingPrice,
			DurationSec:      in.DurationSec,
			ExtraDurationSec: in.ExtraDurationSec,
		}
		if spec.DurationSec == 0 {
			spec.DurationSec = defaultItemDurationSec
		}
		if spec.ExtraDurationSec == 0 {
			spec.ExtraDurationSec = defaultExtraDurationSec
		}
		specs = append(specs, spec)
	}

	if _, err := c.users.GetByID(ctx, sellerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("seller %s: %w", sellerID, ErrNotFound)
		}
		return nil, fmt.Errorf("looking up seller: %w", err)
	}

	now := c.clock.Now().UTC()
	st := engine.New(uuid.NewString(), sellerID, specs, now)

	record := &store.Auction{
		ID:               st.ID,
		SellerID:         sellerID,
		Status:           string(st.Status),
		CurrentItemIndex: 0,
		CreatedAt:        now,
	}
	rows := make([]store.AuctionItem, 0, len(st.Items))
	for _, item := range st.Items {
		record.MaxDurationSec += item.DurationSec + item.ExtraDurationSec
		rows = append(rows, store.AuctionItem{
			ID:               item.ID,
			AuctionID:        st.ID,
			ItemOrder:        item.Order,
			Name:             item.Name,
			StartingPrice:    item.StartingPrice,
			DurationSec:      item.DurationSec,
			ExtraDurationSec: item.ExtraDurationSec,
			Status:           string(item.Status),
			HighestBid:       item.HighestBid,
		})
	}
	if err := c.log.AppendAuction(ctx, record, rows); err != nil {
		return nil, fmt.Errorf("%w: persisting auction: %v", ErrUnavailable, err)
	}

	la := &liveAuction{state: st, timer: newItemTimer(c.clock)}
	c.mu.Lock()
	c.live[st.ID] = la
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "auction created",
		slog.String("auction_id", st.ID),
		slog.String("seller_id", sellerID),
		slog.Int("items", len(st.Items)),
	)
	return viewFromEngine(st, time.Time{}), nil
}

// StartAuction puts the first item on the block: engine transition, arbiter
// seed, log write-through, expiry timer, state broadcast.
func (c *Coordinator) StartAuction(ctx context.Context, auctionID string) (*StateView, error) {
	ctx, span := c.tracer.Start(ctx, "Coordinator.StartAuction",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	la := c.get(auctionID)
	if la == nil {
		return nil, fmt.Errorf("auction %s: %w", auctionID, ErrNotFound)
	}
	la.mu.Lock()
	defer la.mu.Unlock()

	now := c.clock.Now().UTC()
	if err := la.state.Start(now); err != nil {
		return nil, err
	}
	item := la.state.CurrentItem()

	if err := c.arbiter.SeedItem(ctx, auctionID, item.ID, item.StartingPrice, ""); err != nil {
		return nil, fmt.Errorf("%w: seeding arbiter: %v", ErrUnavailable, err)
	}

	idx := 0
	if err := c.log.SetAuctionStatus(ctx, auctionID, string(engine.AuctionLive), store.AuctionStatusUpdate{
		StartedAt:        &now,
		CurrentItemIndex: &idx,
	}); err != nil {
		return nil, fmt.Errorf("%w: persisting auction start: %v", ErrUnavailable, err)
	}
	if err := c.log.SetItemStatus(ctx, item.ID, string(engine.ItemLive), store.ItemStatusUpdate{StartedAt: &now}); err != nil {
		return nil, fmt.Errorf("%w: persisting item start: %v", ErrUnavailable, err)
	}

	la.timer.Schedule(time.Duration(item.DurationSec)*time.Second, c.expiryFunc(auctionID))

	c.logger.InfoContext(ctx, "auction started",
		slog.String("auction_id", auctionID),
		slog.String("item_id", item.ID),
		slog.Int("duration_sec", item.DurationSec),
	)
	return c.publishStateLocked(la), nil
}

// PlaceBid runs one bid attempt end to end. The outcome is always a
// BidResult value; infrastructure failures surface as reason "unavailable",
// never as an error, so the transport can hand the result to the bidder
// verbatim.
func (c *Coordinator) PlaceBid(ctx context.Context, auctionID, bidderID string, amount int64, idempotencyKey string) BidResult {
	ctx, span := c.tracer.Start(ctx, "Coordinator.PlaceBid",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.String("bidder_id", bidderID),
			attribute.Int64("amount", amount),
		),
	)
	defer span.End()

	if len(idempotencyKey) > maxIdempotencyKeyLen {
		idempotencyKey = idempotencyKey[:maxIdempotencyKeyLen]
	}

	la := c.get(auctionID)
	if la == nil {
		return BidResult{Reason: ReasonNotFound}
	}
	la.mu.Lock()
	defer la.mu.Unlock()

	item := la.state.CurrentItem()

	// A stored outcome answers the retry before anything else runs, so a
	// repeated submission observes the same result its original got.
	var key arbiter.BidKey
	haveKey := idempotencyKey != "" && item != nil
	if haveKey {
		key = arbiter.BidKey{
			AuctionID:      auctionID,
			ItemID:         item.ID,
			BidderID:       bidderID,
			IdempotencyKey: idempotencyKey,
		}
		out, err := c.arbiter.LookupOutcome(ctx, key)
		if err != nil {
			return c.unavailable(ctx, auctionID, "idempotency lookup", err)
		}
		if out != nil {
			return BidResult{Accepted: out.Accepted, Reason: out.Reason}
		}
	}

	// Deterministic rejections never reach the arbiter.
	if err := la.state.CheckBid(amount); err != nil {
		return BidResult{Reason: reasonFromEngine(err)}
	}

	claimed := false
	if haveKey {
		owned, err := c.arbiter.ClaimBid(ctx, key)
		if err != nil {
			return c.unavailable(ctx, auctionID, "idempotency claim", err)
		}
		if !owned {
			// Another instance owns the attempt; wait for its outcome.
			return c.awaitOutcome(ctx, key)
		}
		claimed = true
	}

	decision, err := c.arbiter.CheckAndSet(ctx, auctionID, item.ID, amount, bidderID)
	if err != nil {
		return c.unavailable(ctx, auctionID, "bid check-and-set", err)
	}

	res := BidResult{Accepted: decision.Accepted}
	if !decision.Accepted {
		res.Reason = ReasonOutpaced
	}

	if decision.Accepted {
		if err := la.state.PlaceBid(bidderID, amount); err != nil {
			// Cannot happen after CheckBid under the per-auction lock.
			c.logger.ErrorContext(ctx, "engine rejected arbiter-accepted bid",
				slog.String("auction_id", auctionID),
				slog.Any("error", err),
			)
		}
		bid := &store.Bid{
			AuctionID: auctionID,
			ItemID:    item.ID,
			BidderID:  bidderID,
			Amount:    amount,
		}
		// An accepted bid stays accepted even when the append fails; the
		// in-memory state is authoritative until the log catches up.
		if err := c.log.AppendBid(ctx, bid); err != nil {
			c.logger.ErrorContext(ctx, "failed to persist accepted bid",
				slog.String("auction_id", auctionID),
				slog.String("item_id", item.ID),
				slog.Int64("amount", amount),
				slog.Any("error", err),
			)
		}
	}

	if claimed {
		if err := c.arbiter.StoreOutcome(ctx, key, arbiter.Outcome{Accepted: res.Accepted, Reason: res.Reason}); err != nil {
			c.logger.ErrorContext(ctx, "failed to store bid outcome",
				slog.String("auction_id", auctionID),
				slog.Any("error", err),
			)
		}
	}

	if decision.Accepted {
		c.publishStateLocked(la)
	}
	return res
}

// awaitOutcome polls for the outcome of a bid attempt owned elsewhere. The
// wait is bounded; running out of attempts reports the duplicate as still in
// flight.
func (c *Coordinator) awaitOutcome(ctx context.Context, key arbiter.BidKey) BidResult {
	for i := 0; i < c.pollAttempts; i++ {
		select {
		case <-ctx.Done():
			return BidResult{Reason: ReasonDuplicateInFlight}
		case <-time.After(c.pollInterval):
		}
		out, err := c.arbiter.LookupOutcome(ctx, key)
		if err != nil {
			return c.unavailable(ctx, key.AuctionID, "idempotency poll", err)
		}
		if out != nil {
			return BidResult{Accepted: out.Accepted, Reason: out.Reason}
		}
	}
	return BidResult{Reason: ReasonDuplicateInFlight}
}

// ExtendItem grants the live item extra time on top of what remains. Seller
// only, at most once per item.
func (c *Coordinator) ExtendItem(ctx context.Context, auctionID, callerID string) (*StateView, error) {
	ctx, span := c.tracer.Start(ctx, "Coordinator.ExtendItem",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	la := c.get(auctionID)
	if la == nil {
		return nil, fmt.Errorf("auction %s: %w", auctionID, ErrNotFound)
	}
	la.mu.Lock()
	defer la.mu.Unlock()

	if la.state.SellerID != callerID {
		return nil, ErrPermissionDenied
	}
	if err := la.state.ExtendCurrentItem(); err != nil {
		return nil, err
	}
	item := la.state.CurrentItem()

	extended := true
	if err := c.log.SetItemStatus(ctx, item.ID, string(item.Status), store.ItemStatusUpdate{Extended: &extended}); err != nil {
		c.logger.ErrorContext(ctx, "failed to persist item extension",
			slog.String("auction_id", auctionID),
			slog.String("item_id", item.ID),
			slog.Any("error", err),
		)
	}

	endsAt := la.timer.Extend(time.Duration(item.ExtraDurationSec)*time.Second, c.expiryFunc(auctionID))

	c.logger.InfoContext(ctx, "item extended",
		slog.String("auction_id", auctionID),
		slog.String("item_id", item.ID),
		slog.Time("ends_at", endsAt),
	)
	return c.publishStateLocked(la), nil
}

func (c *Coordinator) expiryFunc(auctionID string) func() {
	return func() { c.handleExpiry(auctionID) }
}

// handleExpiry closes the item on the block when its timer fires, then
// either puts the next item up or ends the auction. It re-enters the
// per-auction lock, so it serializes with bids like any other mutation.
func (c *Coordinator) handleExpiry(auctionID string) {
	ctx, span := c.tracer.Start(context.Background(), "Coordinator.handleExpiry",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	la := c.get(auctionID)
	if la == nil {
		return
	}
	la.mu.Lock()
	defer la.mu.Unlock()

	now := c.clock.Now().UTC()
	closed, err := la.state.EndCurrentItem(now)
	if err != nil {
		// Stale fire: the item closed through another path.
		c.logger.WarnContext(ctx, "expiry fired for a non-live item",
			slog.String("auction_id", auctionID),
			slog.Any("error", err),
		)
		return
	}

	var winner *string
	if closed.HadBids {
		w := closed.WinnerID
		winner = &w
	}
	c.finalizeItem(ctx, auctionID, closed.ItemID, winner, closed.FinalPrice, now)

	if err := c.arbiter.ClearItem(ctx, auctionID, closed.ItemID); err != nil {
		c.logger.ErrorContext(ctx, "failed to clear arbiter item keys",
			slog.String("auction_id", auctionID),
			slog.String("item_id", closed.ItemID),
			slog.Any("error", err),
		)
	}

	c.hub.Publish(hub.Room(auctionID), hub.Event{
		Type:    hub.EventItemSold,
		Payload: ItemSold{ItemID: closed.ItemID, WinnerID: winner, FinalPrice: closed.FinalPrice},
	})
	c.logger.InfoContext(ctx, "item closed",
		slog.String("auction_id", auctionID),
		slog.String("item_id", closed.ItemID),
		slog.Bool("sold", closed.HadBids),
		slog.Int64("final_price", closed.FinalPrice),
	)

	next, err := la.state.AdvanceToNextItem(now)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to advance auction",
			slog.String("auction_id", auctionID),
			slog.Any("error", err),
		)
		return
	}
	if !next {
		c.endAuctionLocked(ctx, la, now)
		return
	}

	item := la.state.CurrentItem()
	if err := c.arbiter.SeedItem(ctx, auctionID, item.ID, item.StartingPrice, ""); err != nil {
		c.logger.ErrorContext(ctx, "failed to seed arbiter for next item",
			slog.String("auction_id", auctionID),
			slog.String("item_id", item.ID),
			slog.Any("error", err),
		)
	}
	if err := c.log.SetItemStatus(ctx, item.ID, string(engine.ItemLive), store.ItemStatusUpdate{StartedAt: &now}); err != nil {
		c.logger.ErrorContext(ctx, "failed to persist next item start",
			slog.String("auction_id", auctionID),
			slog.String("item_id", item.ID),
			slog.Any("error", err),
		)
	}
	idx := la.state.CurrentItemIndex
	if err := c.log.SetAuctionStatus(ctx, auctionID, string(engine.AuctionLive), store.AuctionStatusUpdate{CurrentItemIndex: &idx}); err != nil {
		c.logger.ErrorContext(ctx, "failed to persist current item index",
			slog.String("auction_id", auctionID),
			slog.Any("error", err),
		)
	}

	la.timer.Schedule(time.Duration(item.DurationSec)*time.Second, c.expiryFunc(auctionID))
	c.publishStateLocked(la)
}

// endAuctionLocked runs the terminal sequence: summary, durable finalize,
// arbiter teardown, broadcasts, registry removal. Caller holds la.mu.
func (c *Coordinator) endAuctionLocked(ctx context.Context, la *liveAuction, now time.Time) {
	summary := la.state.EndAuction(now)
	auctionID := summary.AuctionID

	var results []store.ItemResult
	outcomes := make([]ItemOutcome, 0, len(summary.Results))
	for _, r := range summary.Results {
		out := ItemOutcome{ItemID: r.ItemID, FinalPrice: r.FinalPrice}
		if r.WinnerID != "" {
			w := r.WinnerID
			out.WinnerID = &w
			results = append(results, store.ItemResult{
				ItemID:     r.ItemID,
				AuctionID:  auctionID,
				WinnerID:   r.WinnerID,
				FinalPrice: r.FinalPrice,
				SoldAt:     now,
			})
		}
		outcomes = append(outcomes, out)
	}

	c.finalizeAuction(ctx, auctionID, now, results)

	itemIDs := make([]string, 0, len(la.state.Items))
	for _, item := range la.state.Items {
		itemIDs = append(itemIDs, item.ID)
	}
	if err := c.arbiter.ClearAuction(ctx, auctionID, itemIDs); err != nil {
		c.logger.ErrorContext(ctx, "failed to clear arbiter auction keys",
			slog.String("auction_id", auctionID),
			slog.Any("error", err),
		)
	}

	la.timer.Cancel()

	c.hub.Publish(hub.Room(auctionID), hub.Event{
		Type:    hub.EventAuctionEnded,
		Payload: AuctionEnded{AuctionID: auctionID, Results: outcomes},
	})
	c.publishStateLocked(la)

	c.remove(auctionID)
	c.logger.InfoContext(ctx, "auction ended",
		slog.String("auction_id", auctionID),
		slog.Int("items", len(summary.Results)),
		slog.Int("sold", len(results)),
	)
}

// finalizeItem writes the item's terminal state. Terminal transitions must
// land eventually, so transient failures are retried a few times before
// giving up with an error log.
func (c *Coordinator) finalizeItem(ctx context.Context, auctionID, itemID string, winner *string, finalPrice int64, soldAt time.Time) {
	var err error
	for attempt := 1; attempt <= finalizeAttempts; attempt++ {
		if err = c.log.FinalizeItem(ctx, itemID, winner, finalPrice, soldAt); err == nil {
			return
		}
		time.Sleep(time.Duration(attempt) * finalizeBackoff)
	}
	c.logger.ErrorContext(ctx, "failed to finalize item",
		slog.String("auction_id", auctionID),
		slog.String("item_id", itemID),
		slog.Any("error", err),
	)
}

func (c *Coordinator) finalizeAuction(ctx context.Context, auctionID string, endedAt time.Time, results []store.ItemResult) {
	var err error
	for attempt := 1; attempt <= finalizeAttempts; attempt++ {
		if err = c.log.FinalizeAuction(ctx, auctionID, endedAt, results); err == nil {
			return
		}
		time.Sleep(time.Duration(attempt) * finalizeBackoff)
	}
	c.logger.ErrorContext(ctx, "failed to finalize auction",
		slog.String("auction_id", auctionID),
		slog.Any("error", err),
	)
}

// GetState returns the full auction view: live auctions from the registry,
// ended ones from the durable log.
func (c *Coordinator) GetState(ctx context.Context, auctionID string) (*StateView, error) {
	if la := c.get(auctionID); la != nil {
		la.mu.Lock()
		defer la.mu.Unlock()
		return viewFromEngine(la.state, la.timer.EndsAt()), nil
	}
	av, err := c.log.LoadOne(ctx, auctionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("auction %s: %w", auctionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading auction: %w", err)
	}
	return viewFromStore(av), nil
}

// ListSummaries returns the list-endpoint projection of every auction.
func (c *Coordinator) ListSummaries(ctx context.Context) ([]store.AuctionSummary, error) {
	return c.log.ListSummaries(ctx)
}

// Recover rebuilds the live registry from the durable log after a restart.
// Live auctions get their arbiter keys re-seeded with the persisted highest
// bid and bidder, and their timers re-armed with the time remaining since
// the item went live; an overdue item expires immediately.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	ctx, span := c.tracer.Start(ctx, "Coordinator.Recover")
	defer span.End()

	views, err := c.log.LoadActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading active auctions: %w", err)
	}

	recovered := 0
	for i := range views {
		av := &views[i]
		st := engineFromStore(av)
		la := &liveAuction{state: st, timer: newItemTimer(c.clock)}

		if st.Status == engine.AuctionLive {
			item := st.CurrentItem()
			if item == nil {
				c.logger.WarnContext(ctx, "skipping live auction without a current item",
					slog.String("auction_id", av.ID),
				)
				continue
			}
			if err := c.arbiter.SeedItem(ctx, av.ID, item.ID, item.HighestBid, item.HighestBidderID); err != nil {
				c.logger.WarnContext(ctx, "failed to re-seed arbiter during recovery",
					slog.String("auction_id", av.ID),
					slog.Any("error", err),
				)
				continue
			}
			la.timer.Schedule(c.remainingTime(av, item), c.expiryFunc(av.ID))
		}

		c.mu.Lock()
		c.live[av.ID] = la
		c.mu.Unlock()
		recovered++

		c.logger.InfoContext(ctx, "recovered auction",
			slog.String("auction_id", av.ID),
			slog.String("status", string(st.Status)),
		)
	}

	c.logger.InfoContext(ctx, "recovery complete",
		slog.Int("active", len(views)),
		slog.Int("recovered", recovered),
	)
	return recovered, nil
}

// remainingTime derives how long the live item has left from its persisted
// start. Items persisted before start tracking, or overdue items, fall back
// to the full window / immediate expiry respectively.
func (c *Coordinator) remainingTime(av *store.AuctionView, item *engine.Item) time.Duration {
	full := time.Duration(item.DurationSec) * time.Second
	if item.Extended {
		full += time.Duration(item.ExtraDurationSec) * time.Second
	}

	var startedAt *time.Time
	for i := range av.Items {
		if av.Items[i].ID == item.ID {
			startedAt = av.Items[i].StartedAt
			break
		}
	}
	if startedAt == nil {
		return full
	}
	remaining := startedAt.Add(full).Sub(c.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// publishStateLocked broadcasts the current state to the auction's room and
// returns the view. Caller holds la.mu.
func (c *Coordinator) publishStateLocked(la *liveAuction) *StateView {
	view := viewFromEngine(la.state, la.timer.EndsAt())
	c.hub.Publish(hub.Room(la.state.ID), hub.Event{Type: hub.EventAuctionState, Payload: view})
	return view
}

func (c *Coordinator) unavailable(ctx context.Context, auctionID, op string, err error) BidResult {
	c.logger.ErrorContext(ctx, "bid failed on backing service",
		slog.String("auction_id", auctionID),
		slog.String("op", op),
		slog.Any("error", err),
	)
	return BidResult{Reason: ReasonUnavailable}
}

func reasonFromEngine(err error) string {
	switch {
	case errors.Is(err, engine.ErrNotLive):
		return ReasonNotLive
	case errors.Is(err, engine.ErrNoLiveItem):
		return ReasonNoLiveItem
	case errors.Is(err, engine.ErrBidTooLow):
		return ReasonBidTooLow
	default:
		return ReasonIllegalTransition
	}
}

// engineFromStore rebuilds engine state from a persisted auction view.
func engineFromStore(av *store.AuctionView) *engine.State {
	st := &engine.State{
		ID:               av.ID,
		SellerID:         av.SellerID,
		Status:           engine.AuctionStatus(av.Status),
		CurrentItemIndex: av.CurrentItemIndex,
		CreatedAt:        av.CreatedAt,
		Items:            make([]engine.Item, 0, len(av.Items)),
	}
	if av.StartedAt != nil {
		st.StartedAt = *av.StartedAt
	}
	if av.EndedAt != nil {
		st.EndedAt = *av.EndedAt
	}
	for _, row := range av.Items {
		item := engine.Item{
			ID:               row.ID,
			Order:            row.ItemOrder,
			Name:             row.Name,
			StartingPrice:    row.StartingPrice,
			DurationSec:      row.DurationSec,
			ExtraDurationSec: row.ExtraDurationSec,
			Status:           engine.ItemStatus(row.Status),
			HighestBid:       row.HighestBid,
			Extended:         row.Extended,
		}
		if row.HighestBidderID != nil {
			item.HighestBidderID = *row.HighestBidderID
		}
		if row.SoldAt != nil {
			item.SoldAt = *row.SoldAt
		}
		st.Items = append(st.Items, item)
	}
	return st
}
