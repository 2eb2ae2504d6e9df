package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/xtrntr/powermarket/internal/apperr"
	"github.com/xtrntr/powermarket/internal/models"
)

const orderColumns = "id, side, owner_id, price, quantity, delivery_start, delivery_end, created_at, updated_at"

func scanOrder(row pgx.Row, order *models.Order) error {
	return row.Scan(
		&order.ID,
		&order.Side,
		&order.OwnerID,
		&order.Price,
		&order.Quantity,
		&order.DeliveryStart,
		&order.DeliveryEnd,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
}

func collectOrders(rows pgx.Rows) ([]models.Order, error) {
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		var order models.Order
		if err := scanOrder(rows, &order); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

// ListOrders retrieves all orders of one side owned by ownerID
func (db *DB) ListOrders(ctx context.Context, side models.Side, ownerID string) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE side = $1 AND owner_id = $2 ORDER BY created_at ASC",
		side, ownerID)
	if err != nil {
		return nil, apperr.Upstream("failed to get orders", err)
	}

	orders, err := collectOrders(rows)
	if err != nil {
		return nil, apperr.Upstream("failed to get orders", err)
	}
	return orders, nil
}

// ListAllOrders retrieves every order of both sides, oldest first
func (db *DB) ListAllOrders(ctx context.Context) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx, "SELECT "+orderColumns+" FROM orders ORDER BY created_at ASC")
	if err != nil {
		return nil, apperr.Upstream("failed to get orders", err)
	}

	orders, err := collectOrders(rows)
	if err != nil {
		return nil, apperr.Upstream("failed to get orders", err)
	}
	return orders, nil
}

// GetOrder retrieves a single order of the given side
func (db *DB) GetOrder(ctx context.Context, side models.Side, id uuid.UUID) (*models.Order, error) {
	order := &models.Order{}
	err := scanOrder(db.Pool.QueryRow(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1 AND side = $2", id, side), order)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(fmt.Sprintf("%s not found", sideNoun(side)))
		}
		return nil, apperr.Upstream("failed to get order", err)
	}
	return order, nil
}

// CreateOrders inserts a batch of orders in one transaction. Either every
// order is stored or none is.
func (db *DB) CreateOrders(ctx context.Context, orders []models.Order) ([]models.Order, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Upstream("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	created := make([]models.Order, 0, len(orders))
	for _, order := range orders {
		var newOrder models.Order
		err := scanOrder(tx.QueryRow(ctx,
			"INSERT INTO orders (id, side, owner_id, price, quantity, delivery_start, delivery_end) "+
				"VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING "+orderColumns,
			order.ID, order.Side, order.OwnerID, order.Price.String(), order.Quantity.String(),
			order.DeliveryStart, order.DeliveryEnd), &newOrder)
		if err != nil {
			return nil, apperr.Upstream("failed to create order", err)
		}
		created = append(created, newOrder)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Upstream("failed to commit transaction", err)
	}
	return created, nil
}

// UpdateOrder writes the mutable fields of order back to the store
func (db *DB) UpdateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	updated := &models.Order{}
	err := scanOrder(db.Pool.QueryRow(ctx,
		"UPDATE orders SET price = $1, quantity = $2, delivery_start = $3, delivery_end = $4, updated_at = NOW() "+
			"WHERE id = $5 AND side = $6 RETURNING "+orderColumns,
		order.Price.String(), order.Quantity.String(), order.DeliveryStart, order.DeliveryEnd,
		order.ID, order.Side), updated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(fmt.Sprintf("%s not found", sideNoun(order.Side)))
		}
		return nil, apperr.Upstream("failed to update order", err)
	}
	return updated, nil
}

// DeleteOrder removes an order only if ownerID owns it
func (db *DB) DeleteOrder(ctx context.Context, side models.Side, id uuid.UUID, ownerID string) error {
	tag, err := db.Pool.Exec(ctx,
		"DELETE FROM orders WHERE id = $1 AND side = $2 AND owner_id = $3", id, side, ownerID)
	if err != nil {
		return apperr.Upstream("failed to delete order", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(fmt.Sprintf("%s not found or not owned by user", sideNoun(side)))
	}
	return nil
}

func sideNoun(side models.Side) string {
	if side == models.SideOffer {
		return "offer"
	}
	return "bid"
}
