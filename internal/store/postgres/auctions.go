package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/skovgaard/auctiond/internal/store"
)

// AuctionLog implements store.AuctionLog with sqlx. Every multi-row mutation
// runs in a single transaction.
type AuctionLog struct {
	db *sqlx.DB
}

// NewAuctionLog returns a new AuctionLog.
func NewAuctionLog(db *sqlx.DB) *AuctionLog {
	return &AuctionLog{db: db}
}

func (l *AuctionLog) AppendAuction(ctx context.Context, a *store.Auction, items []store.AuctionItem) error {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO auctions (id, seller_id, status, current_item_index, max_duration_sec, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.SellerID, a.Status, a.CurrentItemIndex, a.MaxDurationSec, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting auction: %w", err)
	}

	stmt, err := tx.PreparexContext(ctx,
		`INSERT INTO auction_items
		   (id, auction_id, item_order, name, starting_price, duration_sec, extra_duration_sec, status, highest_bid, extended)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, item := range items {
		_, err := stmt.ExecContext(ctx,
			item.ID, item.AuctionID, item.ItemOrder, item.Name, item.StartingPrice,
			item.DurationSec, item.ExtraDurationSec, item.Status, item.HighestBid, item.Extended,
		)
		if err != nil {
			return fmt.Errorf("inserting item (auction=%s, order=%d): %w", item.AuctionID, item.ItemOrder, err)
		}
	}

	return tx.Commit()
}

func (l *AuctionLog) SetAuctionStatus(ctx context.Context, auctionID, status string, upd store.AuctionStatusUpdate) error {
	query := `UPDATE auctions SET status = $1`
	args := []any{status}
	if upd.StartedAt != nil {
		args = append(args, *upd.StartedAt)
		query += fmt.Sprintf(", started_at = $%d", len(args))
	}
	if upd.EndedAt != nil {
		args = append(args, *upd.EndedAt)
		query += fmt.Sprintf(", ended_at = $%d", len(args))
	}
	if upd.CurrentItemIndex != nil {
		args = append(args, *upd.CurrentItemIndex)
		query += fmt.Sprintf(", current_item_index = $%d", len(args))
	}
	args = append(args, auctionID)
	query += fmt.Sprintf(" WHERE id = $%d", len(args))

	result, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("setting auction status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (l *AuctionLog) SetItemStatus(ctx context.Context, itemID, status string, upd store.ItemStatusUpdate) error {
	query := `UPDATE auction_items SET status = $1`
	args := []any{status}
	if upd.HighestBid != nil {
		args = append(args, *upd.HighestBid)
		query += fmt.Sprintf(", highest_bid = $%d", len(args))
	}
	if upd.HighestBidderID != nil {
		args = append(args, *upd.HighestBidderID)
		query += fmt.Sprintf(", highest_bidder_id = $%d", len(args))
	}
	if upd.Extended != nil {
		args = append(args, *upd.Extended)
		query += fmt.Sprintf(", extended = $%d", len(args))
	}
	if upd.StartedAt != nil {
		args = append(args, *upd.StartedAt)
		query += fmt.Sprintf(", started_at = $%d", len(args))
	}
	if upd.SoldAt != nil {
		args = append(args, *upd.SoldAt)
		query += fmt.Sprintf(", sold_at = $%d", len(args))
	}
	args = append(args, itemID)
	query += fmt.Sprintf(" WHERE id = $%d", len(args))

	result, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("setting item status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (l *AuctionLog) AppendBid(ctx context.Context, b *store.Bid) error {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	b.CreatedAt = time.Now().UTC()
	err = tx.QueryRowContext(ctx,
		`INSERT INTO bids (auction_id, item_id, bidder_id, amount, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		b.AuctionID, b.ItemID, b.BidderID, b.Amount, b.CreatedAt,
	).Scan(&b.ID)
	if err != nil {
		return fmt.Errorf("inserting bid: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE auction_items SET highest_bid = $1, highest_bidder_id = $2 WHERE id = $3`,
		b.Amount, b.BidderID, b.ItemID,
	)
	if err != nil {
		return fmt.Errorf("updating item highest bid: %w", err)
	}

	return tx.Commit()
}

func (l *AuctionLog) FinalizeItem(ctx context.Context, itemID string, winnerID *string, finalPrice int64, soldAt time.Time) error {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if winnerID == nil {
		_, err = tx.ExecContext(ctx,
			`UPDATE auction_items SET status = 'unsold' WHERE id = $1`, itemID)
		if err != nil {
			return fmt.Errorf("marking item unsold: %w", err)
		}
		return tx.Commit()
	}

	var auctionID string
	err = tx.QueryRowContext(ctx,
		`UPDATE auction_items SET status = 'sold', highest_bid = $1, highest_bidder_id = $2, sold_at = $3
		 WHERE id = $4 RETURNING auction_id`,
		finalPrice, *winnerID, soldAt, itemID,
	).Scan(&auctionID)
	if err != nil {
		return fmt.Errorf("marking item sold: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO item_results (item_id, auction_id, winner_id, final_price, sold_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		itemID, auctionID, *winnerID, finalPrice, soldAt,
	)
	if err != nil {
		return fmt.Errorf("inserting item result: %w", err)
	}

	return tx.Commit()
}

func (l *AuctionLog) FinalizeAuction(ctx context.Context, auctionID string, endedAt time.Time, results []store.ItemResult) error {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`UPDATE auctions SET status = 'ended', ended_at = $1 WHERE id = $2`,
		endedAt, auctionID,
	)
	if err != nil {
		return fmt.Errorf("ending auction: %w", err)
	}

	for _, res := range results {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO item_results (item_id, auction_id, winner_id, final_price, sold_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (item_id)
			 DO UPDATE SET winner_id = EXCLUDED.winner_id, final_price = EXCLUDED.final_price, sold_at = EXCLUDED.sold_at`,
			res.ItemID, auctionID, res.WinnerID, res.FinalPrice, res.SoldAt,
		)
		if err != nil {
			return fmt.Errorf("upserting item result (item=%s): %w", res.ItemID, err)
		}
	}

	return tx.Commit()
}

func (l *AuctionLog) LoadActive(ctx context.Context) ([]store.AuctionView, error) {
	var auctions []store.Auction
	err := l.db.SelectContext(ctx, &auctions,
		`SELECT * FROM auctions WHERE status <> 'ended' ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("loading active auctions: %w", err)
	}

	views := make([]store.AuctionView, 0, len(auctions))
	for _, a := range auctions {
		items, err := l.loadItems(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, store.AuctionView{Auction: a, Items: items})
	}
	return views, nil
}

func (l *AuctionLog) LoadOne(ctx context.Context, auctionID string) (*store.AuctionView, error) {
	var a store.Auction
	err := l.db.GetContext(ctx, &a, `SELECT * FROM auctions WHERE id = $1`, auctionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading auction: %w", err)
	}
	items, err := l.loadItems(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	return &store.AuctionView{Auction: a, Items: items}, nil
}

func (l *AuctionLog) ListSummaries(ctx context.Context) ([]store.AuctionSummary, error) {
	var summaries []store.AuctionSummary
	err := l.db.SelectContext(ctx, &summaries,
		`SELECT a.id, a.seller_id, u.display_name AS seller_name, a.status, a.created_at,
		        COALESCE(first_item.name, '') AS first_item_name,
		        COALESCE(counts.n, 0) AS item_count
		 FROM auctions a
		 JOIN users u ON u.id = a.seller_id
		 LEFT JOIN LATERAL (
		     SELECT name FROM auction_items WHERE auction_id = a.id ORDER BY item_order ASC LIMIT 1
		 ) first_item ON TRUE
		 LEFT JOIN LATERAL (
		     SELECT COUNT(*) AS n FROM auction_items WHERE auction_id = a.id
		 ) counts ON TRUE
		 ORDER BY a.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing auction summaries: %w", err)
	}
	return summaries, nil
}

func (l *AuctionLog) loadItems(ctx context.Context, auctionID string) ([]store.AuctionItem, error) {
	var items []store.AuctionItem
	err := l.db.SelectContext(ctx, &items,
		`SELECT * FROM auction_items WHERE auction_id = $1 ORDER BY item_order ASC`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("loading items (auction=%s): %w", auctionID, err)
	}
	return items, nil
}
