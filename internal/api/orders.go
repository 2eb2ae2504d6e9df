package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/powermarket/internal/apperr"
	"github.com/xtrntr/powermarket/internal/events"
	"github.com/xtrntr/powermarket/internal/models"
)

func sideNoun(side models.Side) string {
	if side == models.SideBid {
		return "bid"
	}
	return "offer"
}

// Prices and quantities are stored as NUMERIC(18, 4)
const amountScale = 4

var amountLimit = decimal.New(1, 18-amountScale)

// checkAmount rejects values the column would round or overflow
func checkAmount(noun, field string, d decimal.Decimal) error {
	if !d.Equal(d.Truncate(amountScale)) {
		return apperr.Validation(fmt.Sprintf("%s %s must have at most %d decimal places", noun, field, amountScale))
	}
	if d.Abs().GreaterThanOrEqual(amountLimit) {
		return apperr.Validation(fmt.Sprintf("%s %s must be less than %s", noun, field, amountLimit))
	}
	return nil
}

// validateOrder checks an order after the owner and any update are applied
func validateOrder(o models.Order) error {
	noun := sideNoun(o.Side)
	if !o.Quantity.IsPositive() {
		return apperr.Validation(fmt.Sprintf("%s quantity must be positive", noun))
	}
	if o.Price.IsNegative() {
		return apperr.Validation(fmt.Sprintf("%s price must not be negative", noun))
	}
	if err := checkAmount(noun, "price", o.Price); err != nil {
		return err
	}
	if err := checkAmount(noun, "quantity", o.Quantity); err != nil {
		return err
	}
	if o.DeliveryStart != nil && o.DeliveryEnd != nil && !o.DeliveryEnd.After(*o.DeliveryStart) {
		return apperr.Validation("delivery_end must be after delivery_start")
	}
	return nil
}

func orderID(r *http.Request, side models.Side) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		// An id that can never exist is reported the same way as a missing one
		return uuid.Nil, apperr.NotFound(sideNoun(side) + " not found")
	}
	return id, nil
}

// ListOrders returns the caller's orders of one side
func (h *Handler) ListOrders(side models.Side) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := UserID(r.Context())

		orders, err := h.Store.ListOrders(r.Context(), side, userID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, orders)
	}
}

// CreateOrders stores a batch of orders owned by the caller. Either every
// item is stored or none is.
func (h *Handler) CreateOrders(side models.Side) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := UserID(r.Context())

		var items []models.OrderInput
		if err := decodeJSON(r, &items); err != nil {
			h.writeError(w, r, err)
			return
		}
		if len(items) == 0 {
			h.writeError(w, r, apperr.Validation(fmt.Sprintf("at least one %s is required", sideNoun(side))))
			return
		}

		orders := make([]models.Order, 0, len(items))
		for i, item := range items {
			if item.Price == nil || item.Quantity == nil {
				h.writeError(w, r, apperr.Validation(fmt.Sprintf("item %d: price and quantity are required", i)))
				return
			}
			order := models.Order{
				ID:       uuid.New(),
				Side:     side,
				OwnerID:  userID,
				Price:    *item.Price,
				Quantity: *item.Quantity,
			}
			models.OrderUpdate{DeliveryStart: item.DeliveryStart, DeliveryEnd: item.DeliveryEnd}.Apply(&order)
			if err := validateOrder(order); err != nil {
				h.writeError(w, r, apperr.Validation(fmt.Sprintf("item %d: %s", i, apperr.Message(err))))
				return
			}
			orders = append(orders, order)
		}

		created, err := h.Store.CreateOrders(r.Context(), orders)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		evs := make([]events.Event, 0, len(created))
		for _, o := range created {
			evs = append(evs, events.New(events.OrderCreated, o.ID.String(), o.OwnerID, o))
		}
		h.publish(r.Context(), evs...)

		writeJSON(w, http.StatusCreated, created)
	}
}

// UpdateOrder merges the provided fields into one of the caller's orders
func (h *Handler) UpdateOrder(side models.Side) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := UserID(r.Context())

		id, err := orderID(r, side)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		var update models.OrderUpdate
		if err := decodeJSON(r, &update); err != nil {
			h.writeError(w, r, err)
			return
		}

		order, err := h.Store.GetOrder(r.Context(), side, id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if order.OwnerID != userID {
			h.writeError(w, r, apperr.Forbidden(fmt.Sprintf("not the owner of this %s", sideNoun(side))))
			return
		}

		update.Apply(order)
		if err := validateOrder(*order); err != nil {
			h.writeError(w, r, err)
			return
		}

		updated, err := h.Store.UpdateOrder(r.Context(), order)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.publish(r.Context(), events.New(events.OrderUpdated, updated.ID.String(), updated.OwnerID, updated))

		writeJSON(w, http.StatusOK, updated)
	}
}

// DeleteOrder removes one of the caller's orders
func (h *Handler) DeleteOrder(side models.Side) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := UserID(r.Context())

		id, err := orderID(r, side)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		order, err := h.Store.GetOrder(r.Context(), side, id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if order.OwnerID != userID {
			h.writeError(w, r, apperr.Forbidden(fmt.Sprintf("not the owner of this %s", sideNoun(side))))
			return
		}

		if err := h.Store.DeleteOrder(r.Context(), side, id, userID); err != nil {
			h.writeError(w, r, err)
			return
		}
		h.publish(r.Context(), events.New(events.OrderDeleted, id.String(), userID, nil))

		writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("%s deleted", sideNoun(side))})
	}
}
