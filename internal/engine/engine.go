// Package engine holds the deterministic per-auction state machine.
//
// The engine performs no I/O, keeps no clock and emits no logs. Every
// operation is a plain state transition; timestamps are supplied by the
// caller. Given the same initial state and the same sequence of calls the
// engine produces identical state, which is what makes snapshot/restore
// recovery sound.
package engine

import (
	"errors"
	"time"
)

// Errors returned by engine operations. They are advisory: the coordinator
// may observe the same conditions authoritatively from the arbiter.
var (
	ErrIllegalTransition = errors.New("illegal auction state transition")
	ErrNotLive           = errors.New("auction is not live")
	ErrNoLiveItem        = errors.New("current item is not live")
	ErrBidTooLow         = errors.New("bid does not exceed the current highest bid")
	ErrAlreadyExtended   = errors.New("item has already been extended")
	ErrNoItems           = errors.New("auction has no items")
)

// AuctionStatus is the lifecycle state of an auction.
type AuctionStatus string

const (
	AuctionCreated AuctionStatus = "created"
	AuctionLive    AuctionStatus = "live"
	AuctionEnded   AuctionStatus = "ended"
)

// ItemStatus is the lifecycle state of a single item.
type ItemStatus string

const (
	ItemPending ItemStatus = "pending"
	ItemLive    ItemStatus = "live"
	ItemSold    ItemStatus = "sold"
	ItemUnsold  ItemStatus = "unsold"
)

// ItemSpec describes an item at auction creation time.
type ItemSpec struct {
	ID               string
	Name             string
	StartingPrice    int64
	DurationSec      int
	ExtraDurationSec int
}

// Item is the engine's view of a single auction item.
type Item struct {
	ID               string
	Order            int
	Name             string
	StartingPrice    int64
	DurationSec      int
	ExtraDurationSec int
	Status           ItemStatus
	HighestBid       int64
	HighestBidderID  string // empty when no bid has been accepted
	Extended         bool
	SoldAt           time.Time // zero unless sold
}

// State is the complete engine state for one auction.
type State struct {
	ID               string
	SellerID         string
	Status           AuctionStatus
	CurrentItemIndex int
	CreatedAt        time.Time
	StartedAt        time.Time // zero until the auction goes live
	EndedAt          time.Time // zero until the auction ends
	Items            []Item
}

// ItemClose is the outcome of closing a single item.
type ItemClose struct {
	ItemID     string
	WinnerID   string // empty when the item went unsold
	FinalPrice int64
	HadBids    bool
}

// ItemOutcome is one row of an auction summary.
type ItemOutcome struct {
	ItemID     string
	WinnerID   string
	FinalPrice int64
}

// Summary is the terminal result of an auction.
type Summary struct {
	AuctionID string
	Results   []ItemOutcome
}

// New creates the initial state for an auction: status created, every item
// pending with its highest bid seeded to the starting price, current index 0.
func New(id, sellerID string, items []ItemSpec, createdAt time.Time) *State {
	s := &State{
		ID:        id,
		SellerID:  sellerID,
		Status:    AuctionCreated,
		CreatedAt: createdAt,
		Items:     make([]Item, 0, len(items)),
	}
	for i, spec := range items {
		s.Items = append(s.Items, Item{
			ID:               spec.ID,
			Order:            i,
			Name:             spec.Name,
			StartingPrice:    spec.StartingPrice,
			DurationSec:      spec.DurationSec,
			ExtraDurationSec: spec.ExtraDurationSec,
			Status:           ItemPending,
			HighestBid:       spec.StartingPrice,
		})
	}
	return s
}

// CurrentItem returns the item at the current index, or nil when the index
// is out of range.
func (s *State) CurrentItem() *Item {
	if s.CurrentItemIndex < 0 || s.CurrentItemIndex >= len(s.Items) {
		return nil
	}
	return &s.Items[s.CurrentItemIndex]
}

// Start transitions a created auction with at least one item to live and
// puts the first item on the block.
func (s *State) Start(now time.Time) error {
	if s.Status != AuctionCreated {
		return ErrIllegalTransition
	}
	if len(s.Items) == 0 {
		return ErrNoItems
	}
	s.Status = AuctionLive
	s.StartedAt = now
	s.CurrentItemIndex = 0
	s.Items[0].Status = ItemLive
	return nil
}

// CheckBid reports whether a bid would currently be admissible, without
// committing anything.
func (s *State) CheckBid(amount int64) error {
	if s.Status != AuctionLive {
		return ErrNotLive
	}
	item := s.CurrentItem()
	if item == nil || item.Status != ItemLive {
		return ErrNoLiveItem
	}
	if amount <= item.HighestBid {
		return ErrBidTooLow
	}
	return nil
}

// PlaceBid applies an admissibility check and, when it passes, records the
// bid against the current item. This is advisory only: the arbiter decides
// races between concurrent bidders, and the coordinator calls PlaceBid again
// (serialized) to mirror the arbiter's accepted value.
func (s *State) PlaceBid(userID string, amount int64) error {
	if s.Status != AuctionLive {
		return ErrNotLive
	}
	item := s.CurrentItem()
	if item == nil || item.Status != ItemLive {
		return ErrNoLiveItem
	}
	if amount <= item.HighestBid {
		return ErrBidTooLow
	}
	item.HighestBid = amount
	item.HighestBidderID = userID
	return nil
}

// EndCurrentItem closes the item on the block. The item is sold when a
// bidder pushed the price above the starting price, unsold otherwise.
func (s *State) EndCurrentItem(now time.Time) (ItemClose, error) {
	if s.Status != AuctionLive {
		return ItemClose{}, ErrNotLive
	}
	item := s.CurrentItem()
	if item == nil || item.Status != ItemLive {
		return ItemClose{}, ErrNoLiveItem
	}

	hadBids := item.HighestBidderID != "" && item.HighestBid > item.StartingPrice
	if hadBids {
		item.Status = ItemSold
		item.SoldAt = now
		return ItemClose{
			ItemID:     item.ID,
			WinnerID:   item.HighestBidderID,
			FinalPrice: item.HighestBid,
			HadBids:    true,
		}, nil
	}

	item.Status = ItemUnsold
	return ItemClose{ItemID: item.ID, FinalPrice: item.HighestBid}, nil
}

// AdvanceToNextItem puts the next pending item on the block, or ends the
// auction when the closed item was the last one. It reports whether a next
// item went live.
func (s *State) AdvanceToNextItem(now time.Time) (bool, error) {
	if s.Status != AuctionLive {
		return false, ErrNotLive
	}
	next := s.CurrentItemIndex + 1
	if next >= len(s.Items) {
		s.Status = AuctionEnded
		s.EndedAt = now
		return false, nil
	}
	s.CurrentItemIndex = next
	s.Items[next].Status = ItemLive
	s.Items[next].HighestBid = s.Items[next].StartingPrice
	s.Items[next].HighestBidderID = ""
	return true, nil
}

// ExtendCurrentItem marks the live item as extended. Each item can be
// extended at most once.
func (s *State) ExtendCurrentItem() error {
	if s.Status != AuctionLive {
		return ErrNotLive
	}
	item := s.CurrentItem()
	if item == nil || item.Status != ItemLive {
		return ErrNoLiveItem
	}
	if item.Extended {
		return ErrAlreadyExtended
	}
	item.Extended = true
	return nil
}

// EndAuction forces the auction to its terminal state and returns the
// summary. Already-ended auctions return their summary unchanged, so the
// call is idempotent.
func (s *State) EndAuction(now time.Time) Summary {
	if s.Status != AuctionEnded {
		s.Status = AuctionEnded
		s.EndedAt = now
	}
	summary := Summary{AuctionID: s.ID, Results: make([]ItemOutcome, 0, len(s.Items))}
	for _, item := range s.Items {
		out := ItemOutcome{ItemID: item.ID, FinalPrice: item.HighestBid}
		if item.Status == ItemSold {
			out.WinnerID = item.HighestBidderID
		}
		summary.Results = append(summary.Results, out)
	}
	return summary
}

// Snapshot returns a deep copy of the state for persistence.
func (s *State) Snapshot() State {
	out := *s
	out.Items = make([]Item, len(s.Items))
	copy(out.Items, s.Items)
	return out
}

// Restore rebuilds an engine from a snapshot. The snapshot is copied, so the
// caller's value stays independent of later transitions.
func Restore(snapshot State) *State {
	s := snapshot
	s.Items = make([]Item, len(snapshot.Items))
	copy(s.Items, snapshot.Items)
	return &s
}
