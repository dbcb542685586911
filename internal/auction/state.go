package auction

import (
	"errors"
	"time"

	"github.com/skovgaard/auctiond/internal/engine"
	"github.com/skovgaard/auctiond/internal/store"
)

// Errors returned by coordinator control-plane operations. Bid outcomes are
// never errors; they travel as BidResult values.
var (
	ErrNotFound         = errors.New("auction not found")
	ErrPermissionDenied = errors.New("only the seller may perform this operation")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnavailable      = errors.New("backing service unavailable")
)

// Machine-readable reason codes carried by BidResult and HTTP error bodies.
const (
	ReasonNotFound          = "not_found"
	ReasonNotLive           = "not_live"
	ReasonNoLiveItem        = "no_live_item"
	ReasonBidTooLow         = "bid_too_low"
	ReasonOutpaced          = "outpaced_by_another"
	ReasonDuplicateInFlight = "duplicate_in_flight"
	ReasonUnavailable       = "unavailable"
	ReasonPermissionDenied  = "permission_denied"
	ReasonIllegalTransition = "illegal_transition"
)

// BidResult is the outcome of one bid attempt. Reason is set iff the bid was
// not accepted.
type BidResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// ItemInput describes one item of a new auction.
type ItemInput struct {
	Name             string `json:"name"`
	StartingPrice    int64  `json:"startingPrice"`
	DurationSec      int    `json:"durationSec"`
	ExtraDurationSec int    `json:"extraDurationSec"`
}

// ItemView is the client-facing projection of one auction item.
type ItemView struct {
	ID               string `json:"id"`
	Order            int    `json:"order"`
	Name             string `json:"name"`
	StartingPrice    int64  `json:"startingPrice"`
	DurationSec      int    `json:"durationSec"`
	ExtraDurationSec int    `json:"extraDurationSec"`
	Status           string `json:"status"`
	HighestBid       int64  `json:"highestBid"`
	HighestBidderID  string `json:"highestBidderId,omitempty"`
	Extended         bool   `json:"extended"`
}

// StateView is the client-facing projection of a full auction. ItemEndTime
// is the absolute end of the live item's countdown in epoch milliseconds,
// zero when no timer is armed.
type StateView struct {
	ID               string     `json:"id"`
	SellerID         string     `json:"sellerId"`
	Status           string     `json:"status"`
	CurrentItemIndex int        `json:"currentItemIndex"`
	CreatedAt        time.Time  `json:"createdAt"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	EndedAt          *time.Time `json:"endedAt,omitempty"`
	ItemEndTime      int64      `json:"itemEndTime,omitempty"`
	Items            []ItemView `json:"items"`
}

// ItemSold is the broadcast payload emitted once per item close.
type ItemSold struct {
	ItemID     string  `json:"itemId"`
	WinnerID   *string `json:"winnerId"`
	FinalPrice int64   `json:"finalPrice"`
}

// ItemOutcome is one row of an AuctionEnded summary.
type ItemOutcome struct {
	ItemID     string  `json:"itemId"`
	WinnerID   *string `json:"winnerId"`
	FinalPrice int64   `json:"finalPrice"`
}

// AuctionEnded is the broadcast payload emitted once per auction close.
type AuctionEnded struct {
	AuctionID string        `json:"auctionId"`
	Results   []ItemOutcome `json:"results"`
}

func viewFromEngine(s *engine.State, endsAt time.Time) *StateView {
	v := &StateView{
		ID:               s.ID,
		SellerID:         s.SellerID,
		Status:           string(s.Status),
		CurrentItemIndex: s.CurrentItemIndex,
		CreatedAt:        s.CreatedAt,
		Items:            make([]ItemView, 0, len(s.Items)),
	}
	if !s.StartedAt.IsZero() {
		t := s.StartedAt
		v.StartedAt = &t
	}
	if !s.EndedAt.IsZero() {
		t := s.EndedAt
		v.EndedAt = &t
	}
	if !endsAt.IsZero() {
		v.ItemEndTime = endsAt.UnixMilli()
	}
	for _, item := range s.Items {
		v.Items = append(v.Items, ItemView{
			ID:               item.ID,
			Order:            item.Order,
			Name:             item.Name,
			StartingPrice:    item.StartingPrice,
			DurationSec:      item.DurationSec,
			ExtraDurationSec: item.ExtraDurationSec,
			Status:           string(item.Status),
			HighestBid:       item.HighestBid,
			HighestBidderID:  item.HighestBidderID,
			Extended:         item.Extended,
		})
	}
	return v
}

func viewFromStore(av *store.AuctionView) *StateView {
	v := &StateView{
		ID:               av.ID,
		SellerID:         av.SellerID,
		Status:           av.Status,
		CurrentItemIndex: av.CurrentItemIndex,
		CreatedAt:        av.CreatedAt,
		StartedAt:        av.StartedAt,
		EndedAt:          av.EndedAt,
		Items:            make([]ItemView, 0, len(av.Items)),
	}
	for _, item := range av.Items {
		iv := ItemView{
			ID:               item.ID,
			Order:            item.ItemOrder,
			Name:             item.Name,
			StartingPrice:    item.StartingPrice,
			DurationSec:      item.DurationSec,
			ExtraDurationSec: item.ExtraDurationSec,
			Status:           item.Status,
			HighestBid:       item.HighestBid,
			Extended:         item.Extended,
		}
		if item.HighestBidderID != nil {
			iv.HighestBidderID = *item.HighestBidderID
		}
		v.Items = append(v.Items, iv)
	}
	return v
}
