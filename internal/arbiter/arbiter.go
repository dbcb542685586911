// Package arbiter decides which of several concurrent bids on the same item
// wins. The decision primitive is an atomic compare-and-set on the item's
// highest bid, shared by every server instance, plus a small idempotency
// store that absorbs client retries of the same bid.
package arbiter

import "context"

// Decision is the result of the atomic check-and-set.
type Decision struct {
	// Accepted reports whether the bid became the new highest bid.
	Accepted bool
	// HighestBid is the item's highest bid after the call, whether or not
	// the bid was accepted.
	HighestBid int64
}

// Outcome is the stored result of a bid attempt, returned verbatim to
// retries carrying the same idempotency key.
type Outcome struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// BidKey identifies one logical bid attempt for idempotency purposes.
type BidKey struct {
	AuctionID      string
	ItemID         string
	BidderID       string
	IdempotencyKey string
}

// Arbiter is the single source of truth for bid races. All methods are safe
// for concurrent use.
type Arbiter interface {
	// SeedItem initializes the item's highest bid. bidderID is empty when an
	// item goes live (clearing any recorded bidder) and carries the restored
	// highest bidder during crash recovery.
	SeedItem(ctx context.Context, auctionID, itemID string, highestBid int64, bidderID string) error

	// CheckAndSet atomically accepts the bid iff amount exceeds the current
	// highest bid. Ties lose: the first arrival at the arbiter wins.
	CheckAndSet(ctx context.Context, auctionID, itemID string, amount int64, bidderID string) (Decision, error)

	// ClearItem deletes the item's bid keys. Called when an item closes.
	ClearItem(ctx context.Context, auctionID, itemID string) error

	// ClearAuction deletes the bid keys of every listed item. Called when an
	// auction ends.
	ClearAuction(ctx context.Context, auctionID string, itemIDs []string) error

	// ClaimBid marks the bid attempt as in flight iff no other attempt with
	// the same key is pending or resolved. It reports whether the caller
	// owns the claim.
	ClaimBid(ctx context.Context, key BidKey) (bool, error)

	// LookupOutcome returns the stored outcome for the key, or nil when no
	// outcome has been recorded yet.
	LookupOutcome(ctx context.Context, key BidKey) (*Outcome, error)

	// StoreOutcome records the outcome and releases the pending claim in a
	// single atomic step.
	StoreOutcome(ctx context.Context, key BidKey, out Outcome) error
}
