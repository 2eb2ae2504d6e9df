package matching

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/powermarket/internal/apperr"
	"github.com/xtrntr/powermarket/internal/models"
)

// Client calls the external matching engine
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		http:    &http.Client{Timeout: timeout},
	}
}

type matchedTrade struct {
	BuyerID  string          `json:"buyer_id"`
	SellerID string          `json:"seller_id"`
	BidID    *uuid.UUID      `json:"bid_id"`
	OfferID  *uuid.UUID      `json:"offer_id"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

type matchResponse struct {
	Trades []matchedTrade `json:"trades"`
}

// Match submits book and returns the trades the engine produced. Trades are
// assigned ids here; ExecutedAt is left zero for the store to stamp.
func (c *Client) Match(ctx context.Context, book Book) ([]models.Trade, error) {
	body, err := json.Marshal(book)
	if err != nil {
		return nil, fmt.Errorf("failed to encode order book: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/match", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build match request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Upstream("matching engine unavailable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperr.Upstream("matching engine rejected the order book",
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	var out matchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperr.Upstream("matching engine returned an invalid response", err)
	}

	trades := make([]models.Trade, 0, len(out.Trades))
	for i, t := range out.Trades {
		if t.BuyerID == "" || t.SellerID == "" || !t.Quantity.IsPositive() {
			return nil, apperr.Upstream("matching engine returned an invalid trade",
				fmt.Errorf("trade %d: buyer %q seller %q quantity %s", i, t.BuyerID, t.SellerID, t.Quantity))
		}
		trades = append(trades, models.Trade{
			ID:       uuid.New(),
			BuyerID:  t.BuyerID,
			SellerID: t.SellerID,
			BidID:    t.BidID,
			OfferID:  t.OfferID,
			Price:    t.Price,
			Quantity: t.Quantity,
		})
	}
	return trades, nil
}
