package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/xtrntr/powermarket/internal/apperr"
	"github.com/xtrntr/powermarket/internal/models"
)

const tradeColumns = "id, buyer_id, seller_id, bid_id, offer_id, price, quantity, executed_at"

func scanTrade(row pgx.Row, trade *models.Trade) error {
	return row.Scan(
		&trade.ID,
		&trade.BuyerID,
		&trade.SellerID,
		&trade.BidID,
		&trade.OfferID,
		&trade.Price,
		&trade.Quantity,
		&trade.ExecutedAt,
	)
}

// CreateTrades inserts trades returned by the matching engine in one transaction
func (db *DB) CreateTrades(ctx context.Context, trades []models.Trade) ([]models.Trade, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Upstream("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	created := make([]models.Trade, 0, len(trades))
	for _, trade := range trades {
		var newTrade models.Trade
		err := scanTrade(tx.QueryRow(ctx,
			"INSERT INTO trades (id, buyer_id, seller_id, bid_id, offer_id, price, quantity, executed_at) "+
				"VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW())) RETURNING "+tradeColumns,
			trade.ID, trade.BuyerID, trade.SellerID, trade.BidID, trade.OfferID,
			trade.Price.String(), trade.Quantity.String(), nullTime(trade.ExecutedAt)), &newTrade)
		if err != nil {
			return nil, apperr.Upstream("failed to create trade", err)
		}
		created = append(created, newTrade)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Upstream("failed to commit transaction", err)
	}
	return created, nil
}

// ListTrades retrieves the trades in which counterpartyID took part. role
// restricts the match to the buyer or seller column.
func (db *DB) ListTrades(ctx context.Context, counterpartyID string, role models.TradeRole) ([]models.Trade, error) {
	var where string
	switch role {
	case models.RoleBuyer:
		where = "buyer_id = $1"
	case models.RoleSeller:
		where = "seller_id = $1"
	default:
		where = "buyer_id = $1 OR seller_id = $1"
	}

	rows, err := db.Pool.Query(ctx,
		"SELECT "+tradeColumns+" FROM trades WHERE "+where+" ORDER BY executed_at ASC", counterpartyID)
	if err != nil {
		return nil, apperr.Upstream("failed to get trades", err)
	}
	defer rows.Close()

	trades := []models.Trade{}
	for rows.Next() {
		var trade models.Trade
		if err := scanTrade(rows, &trade); err != nil {
			return nil, apperr.Upstream("failed to get trades", fmt.Errorf("failed to scan trade: %w", err))
		}
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Upstream("failed to get trades", err)
	}
	return trades, nil
}
