package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xtrntr/powermarket/internal/apperr"
	"github.com/xtrntr/powermarket/internal/events"
	"github.com/xtrntr/powermarket/internal/matching"
	"github.com/xtrntr/powermarket/internal/models"
)

// ListTrades returns the trades a counterparty took part in. The optional
// role query parameter narrows the match to buyer or seller.
func (h *Handler) ListTrades(w http.ResponseWriter, r *http.Request) {
	counterpartyID := chi.URLParam(r, "counterpartyId")

	role := models.TradeRole(r.URL.Query().Get("role"))
	switch role {
	case models.RoleAny, models.RoleBuyer, models.RoleSeller:
	default:
		h.writeError(w, r, apperr.Validation("role must be buyer or seller"))
		return
	}

	trades, err := h.Store.ListTrades(r.Context(), counterpartyID, role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(trades) == 0 {
		h.writeError(w, r, apperr.NotFound("no trades found"))
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// Match submits the current order book to the matching engine and records
// the trades it returns
func (h *Handler) Match(w http.ResponseWriter, r *http.Request) {
	if h.Matcher == nil {
		h.writeError(w, r, apperr.Upstream("matching engine not configured", nil))
		return
	}

	orders, err := h.Store.ListAllOrders(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	book := matching.NewBook(orders)
	if book.Empty() {
		h.Logger.Infow("matching skipped, one side of the book is empty", "bids", len(book.Bids), "offers", len(book.Offers))
		writeJSON(w, http.StatusOK, []models.Trade{})
		return
	}

	trades, err := h.Matcher.Match(r.Context(), book)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(trades) == 0 {
		writeJSON(w, http.StatusOK, []models.Trade{})
		return
	}

	created, err := h.Store.CreateTrades(r.Context(), trades)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.Logger.Infow("matching completed", "bids", len(book.Bids), "offers", len(book.Offers), "trades", len(created))

	evs := make([]events.Event, 0, len(created))
	for _, t := range created {
		evs = append(evs, events.New(events.TradeCreated, t.ID.String(), "", t))
	}
	h.publish(r.Context(), evs...)
	h.notify(fmt.Sprintf("Matching completed: %d trades", len(created)))

	writeJSON(w, http.StatusOK, created)
}
