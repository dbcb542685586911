package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/skovgaard/auctiond/internal/store"
	"github.com/skovgaard/auctiond/internal/store/postgres"
)

// seedAuction inserts a seller, an auction and two items, and returns the
// view as the coordinator would see it after AppendAuction.
func seedAuction(t *testing.T, db *sqlx.DB) (store.AuctionView, *store.User) {
	t.Helper()
	ctx := context.Background()

	users := postgres.NewUserRepo(db)
	seller, err := users.Upsert(ctx, "ext-seller", "seller")
	if err != nil {
		t.Fatalf("upserting seller: %v", err)
	}

	log := postgres.NewAuctionLog(db)
	a := store.Auction{
		ID:        uuid.NewString(),
		SellerID:  seller.ID,
		Status:    "created",
		CreatedAt: time.Now().UTC(),
	}
	items := []store.AuctionItem{
		{
			ID: uuid.NewString(), AuctionID: a.ID, ItemOrder: 0, Name: "Painting",
			StartingPrice: 100, DurationSec: 60, ExtraDurationSec: 15,
			Status: "pending", HighestBid: 100,
		},
		{
			ID: uuid.NewString(), AuctionID: a.ID, ItemOrder: 1, Name: "Vase",
			StartingPrice: 50, DurationSec: 60,
			Status: "pending", HighestBid: 50,
		},
	}
	if err := log.AppendAuction(ctx, &a, items); err != nil {
		t.Fatalf("appending auction: %v", err)
	}
	return store.AuctionView{Auction: a, Items: items}, seller
}

func TestAppendAndLoad(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	view, _ := seedAuction(t, db)
	log := postgres.NewAuctionLog(db)

	loaded, err := log.LoadOne(ctx, view.ID)
	if err != nil {
		t.Fatalf("LoadOne() error = %v", err)
	}
	if loaded.Status != "created" {
		t.Errorf("status = %q, want created", loaded.Status)
	}
	if len(loaded.Items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(loaded.Items))
	}
	if loaded.Items[0].ItemOrder != 0 || loaded.Items[1].ItemOrder != 1 {
		t.Error("items not ordered by item_order")
	}
	if loaded.Items[0].HighestBid != 100 {
		t.Errorf("item 0 highest bid = %d, want seeded starting price 100", loaded.Items[0].HighestBid)
	}

	if _, err := log.LoadOne(ctx, uuid.NewString()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("LoadOne(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestStatusTransitionsAndBids(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	view, _ := seedAuction(t, db)
	log := postgres.NewAuctionLog(db)
	users := postgres.NewUserRepo(db)

	bidder, err := users.Upsert(ctx, "ext-bidder", "bidder")
	if err != nil {
		t.Fatalf("upserting bidder: %v", err)
	}

	now := time.Now().UTC()
	if err := log.SetAuctionStatus(ctx, view.ID, "live", store.AuctionStatusUpdate{StartedAt: &now}); err != nil {
		t.Fatalf("SetAuctionStatus() error = %v", err)
	}
	if err := log.SetItemStatus(ctx, view.Items[0].ID, "live", store.ItemStatusUpdate{}); err != nil {
		t.Fatalf("SetItemStatus() error = %v", err)
	}

	// Two accepted bids, strictly increasing.
	for _, amount := range []int64{150, 175} {
		bid := store.Bid{AuctionID: view.ID, ItemID: view.Items[0].ID, BidderID: bidder.ID, Amount: amount}
		if err := log.AppendBid(ctx, &bid); err != nil {
			t.Fatalf("AppendBid(%d) error = %v", amount, err)
		}
		if bid.ID == 0 {
			t.Error("bid id not assigned")
		}
	}

	loaded, err := log.LoadOne(ctx, view.ID)
	if err != nil {
		t.Fatalf("LoadOne() error = %v", err)
	}
	if loaded.Items[0].HighestBid != 175 {
		t.Errorf("item highest bid = %d, want 175", loaded.Items[0].HighestBid)
	}
	if loaded.Items[0].HighestBidderID == nil || *loaded.Items[0].HighestBidderID != bidder.ID {
		t.Errorf("item highest bidder = %v, want %s", loaded.Items[0].HighestBidderID, bidder.ID)
	}

	// Persisted bid amounts are strictly increasing in creation order.
	var amounts []int64
	if err := db.SelectContext(ctx, &amounts,
		`SELECT amount FROM bids WHERE item_id = $1 ORDER BY created_at ASC, id ASC`,
		view.Items[0].ID); err != nil {
		t.Fatalf("selecting bids: %v", err)
	}
	for i := 1; i < len(amounts); i++ {
		if amounts[i] <= amounts[i-1] {
			t.Errorf("bid amounts not strictly increasing: %v", amounts)
		}
	}
}

func TestFinalizeItem(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	view, _ := seedAuction(t, db)
	log := postgres.NewAuctionLog(db)
	users := postgres.NewUserRepo(db)

	winner, err := users.Upsert(ctx, "ext-winner", "winner")
	if err != nil {
		t.Fatalf("upserting winner: %v", err)
	}

	soldAt := time.Now().UTC()
	if err := log.FinalizeItem(ctx, view.Items[0].ID, &winner.ID, 175, soldAt); err != nil {
		t.Fatalf("FinalizeItem(sold) error = %v", err)
	}
	if err := log.FinalizeItem(ctx, view.Items[1].ID, nil, 50, soldAt); err != nil {
		t.Fatalf("FinalizeItem(unsold) error = %v", err)
	}

	loaded, err := log.LoadOne(ctx, view.ID)
	if err != nil {
		t.Fatalf("LoadOne() error = %v", err)
	}
	if loaded.Items[0].Status != "sold" {
		t.Errorf("item 0 status = %q, want sold", loaded.Items[0].Status)
	}
	if loaded.Items[1].Status != "unsold" {
		t.Errorf("item 1 status = %q, want unsold", loaded.Items[1].Status)
	}

	// Exactly one result row, for the sold item only.
	var n int
	if err := db.GetContext(ctx, &n, `SELECT COUNT(*) FROM item_results WHERE auction_id = $1`, view.ID); err != nil {
		t.Fatalf("counting results: %v", err)
	}
	if n != 1 {
		t.Errorf("item_results rows = %d, want 1", n)
	}
}

func TestFinalizeAuctionAndLoadActive(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	view, _ := seedAuction(t, db)
	log := postgres.NewAuctionLog(db)
	users := postgres.NewUserRepo(db)

	active, err := log.LoadActive(ctx)
	if err != nil {
		t.Fatalf("LoadActive() error = %v", err)
	}
	if len(active) != 1 || active[0].ID != view.ID {
		t.Fatalf("LoadActive() = %d auctions, want the seeded one", len(active))
	}

	winner, err := users.Upsert(ctx, "ext-winner", "winner")
	if err != nil {
		t.Fatalf("upserting winner: %v", err)
	}
	soldAt := time.Now().UTC()
	if err := log.FinalizeItem(ctx, view.Items[0].ID, &winner.ID, 175, soldAt); err != nil {
		t.Fatalf("FinalizeItem() error = %v", err)
	}

	// FinalizeAuction upserts the same result without duplicating it.
	err = log.FinalizeAuction(ctx, view.ID, time.Now().UTC(), []store.ItemResult{
		{ItemID: view.Items[0].ID, AuctionID: view.ID, WinnerID: winner.ID, FinalPrice: 175, SoldAt: soldAt},
	})
	if err != nil {
		t.Fatalf("FinalizeAuction() error = %v", err)
	}

	active, err = log.LoadActive(ctx)
	if err != nil {
		t.Fatalf("LoadActive() error = %v", err)
	}
	if len(active) != 0 {
		t.Errorf("LoadActive() after finalize = %d auctions, want 0", len(active))
	}

	var n int
	if err := db.GetContext(ctx, &n, `SELECT COUNT(*) FROM item_results WHERE auction_id = $1`, view.ID); err != nil {
		t.Fatalf("counting results: %v", err)
	}
	if n != 1 {
		t.Errorf("item_results rows = %d, want 1 after upsert", n)
	}
}

func TestListSummaries(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	view, seller := seedAuction(t, db)
	log := postgres.NewAuctionLog(db)

	summaries, err := log.ListSummaries(ctx)
	if err != nil {
		t.Fatalf("ListSummaries() error = %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("len(summaries) = %d, want 1", len(summaries))
	}
	s := summaries[0]
	if s.ID != view.ID || s.SellerID != seller.ID {
		t.Errorf("summary ids = %+v", s)
	}
	if s.SellerName != "seller" {
		t.Errorf("seller name = %q, want seller", s.SellerName)
	}
	if s.FirstItemName != "Painting" {
		t.Errorf("first item name = %q, want Painting", s.FirstItemName)
	}
	if s.ItemCount != 2 {
		t.Errorf("item count = %d, want 2", s.ItemCount)
	}
}
