// Package store defines the durable write-through log for auctions. The
// relational schema is the source of truth; in-memory engine state is a
// cache of live auctions rebuilt from here on startup.
package store

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// User is a registered identity. Display names are unique.
type User struct {
	ID          string    `db:"id"`
	ExternalID  string    `db:"external_id"`
	DisplayName string    `db:"display_name"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Auction is the persisted auction header.
type Auction struct {
	ID               string     `db:"id"`
	SellerID         string     `db:"seller_id"`
	Status           string     `db:"status"` // "created", "live", "ended"
	CurrentItemIndex int        `db:"current_item_index"`
	MaxDurationSec   int        `db:"max_duration_sec"`
	CreatedAt        time.Time  `db:"created_at"`
	StartedAt        *time.Time `db:"started_at"`
	EndedAt          *time.Time `db:"ended_at"`
}

// AuctionItem is one lot within an auction, ordered by ItemOrder.
type AuctionItem struct {
	ID               string     `db:"id"`
	AuctionID        string     `db:"auction_id"`
	ItemOrder        int        `db:"item_order"`
	Name             string     `db:"name"`
	StartingPrice    int64      `db:"starting_price"`
	DurationSec      int        `db:"duration_sec"`
	ExtraDurationSec int        `db:"extra_duration_sec"`
	Status           string     `db:"status"` // "pending", "live", "sold", "unsold"
	HighestBid       int64      `db:"highest_bid"`
	HighestBidderID  *string    `db:"highest_bidder_id"`
	Extended         bool       `db:"extended"`
	StartedAt        *time.Time `db:"started_at"`
	SoldAt           *time.Time `db:"sold_at"`
}

// Bid is one accepted bid. Amounts on the same item are strictly increasing
// in persistence order.
type Bid struct {
	ID        int64     `db:"id"`
	AuctionID string    `db:"auction_id"`
	ItemID    string    `db:"item_id"`
	BidderID  string    `db:"bidder_id"`
	Amount    int64     `db:"amount"`
	CreatedAt time.Time `db:"created_at"`
}

// ItemResult records the winner of a sold item. Unsold items have no row.
type ItemResult struct {
	ItemID     string    `db:"item_id"`
	AuctionID  string    `db:"auction_id"`
	WinnerID   string    `db:"winner_id"`
	FinalPrice int64     `db:"final_price"`
	SoldAt     time.Time `db:"sold_at"`
}

// AuctionView is an auction with its items ordered by ItemOrder.
type AuctionView struct {
	Auction
	Items []AuctionItem
}

// AuctionSummary is the list-endpoint projection of an auction.
type AuctionSummary struct {
	ID            string    `db:"id"`
	SellerID      string    `db:"seller_id"`
	SellerName    string    `db:"seller_name"`
	Status        string    `db:"status"`
	FirstItemName string    `db:"first_item_name"`
	ItemCount     int       `db:"item_count"`
	CreatedAt     time.Time `db:"created_at"`
}

// AuctionStatusUpdate carries the optional columns of a status transition.
// Nil fields are left untouched.
type AuctionStatusUpdate struct {
	StartedAt        *time.Time
	EndedAt          *time.Time
	CurrentItemIndex *int
}

// ItemStatusUpdate carries the optional columns of an item transition.
type ItemStatusUpdate struct {
	HighestBid      *int64
	HighestBidderID *string
	Extended        *bool
	StartedAt       *time.Time
	SoldAt          *time.Time
}

// UserRepository defines user persistence operations.
type UserRepository interface {
	// Upsert creates the user on first sight of the external id, or returns
	// the existing row with the display name refreshed.
	Upsert(ctx context.Context, externalID, displayName string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
}

// AuctionLog defines the durable log operations the coordinator writes
// through. Multi-row mutations run in a single transaction.
type AuctionLog interface {
	// AppendAuction creates the auction and all its items atomically.
	AppendAuction(ctx context.Context, a *Auction, items []AuctionItem) error
	SetAuctionStatus(ctx context.Context, auctionID, status string, upd AuctionStatusUpdate) error
	SetItemStatus(ctx context.Context, itemID, status string, upd ItemStatusUpdate) error
	// AppendBid appends the bid row and updates the item's highest bid and
	// bidder as one atomic unit.
	AppendBid(ctx context.Context, b *Bid) error
	// FinalizeItem marks the item sold or unsold and creates the ItemResult
	// row iff there is a winner.
	FinalizeItem(ctx context.Context, itemID string, winnerID *string, finalPrice int64, soldAt time.Time) error
	// FinalizeAuction marks the auction ended and upserts a result row per
	// winning item.
	FinalizeAuction(ctx context.Context, auctionID string, endedAt time.Time, results []ItemResult) error
	// LoadActive returns every auction whose status is not ended, items
	// ordered by ItemOrder. Used for crash recovery.
	LoadActive(ctx context.Context) ([]AuctionView, error)
	LoadOne(ctx context.Context, auctionID string) (*AuctionView, error)
	ListSummaries(ctx context.Context) ([]AuctionSummary, error)
}

// Repositories groups the store implementations handed to the rest of the
// application.
type Repositories struct {
	Users    UserRepository
	Auctions AuctionLog
	// Closer releases the underlying connection.
	Closer io.Closer
	// Ping checks the underlying connection health.
	Ping func(ctx context.Context) error
}
