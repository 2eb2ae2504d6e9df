package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side distinguishes a Disco bid from a Genco offer
type Side string

const (
	SideBid   Side = "BID"
	SideOffer Side = "OFFER"
)

// Valid reports whether s is a known side
func (s Side) Valid() bool {
	return s == SideBid || s == SideOffer
}

// Order represents a bid (buy) or an offer (sell) for electricity
type Order struct {
	ID            uuid.UUID       `json:"id"`
	Side          Side            `json:"side"`
	OwnerID       string          `json:"owner_id"`
	Price         decimal.Decimal `json:"price"`    // per MWh
	Quantity      decimal.Decimal `json:"quantity"` // MWh
	DeliveryStart *time.Time      `json:"delivery_start,omitempty"`
	DeliveryEnd   *time.Time      `json:"delivery_end,omitempty"`
	CreatedAt     time.Time       `json:"created_at"` // Used for time priority
	UpdatedAt     time.Time       `json:"updated_at"`
}

// OrderInput is the client payload for creating an order
type OrderInput struct {
	Price         *decimal.Decimal `json:"price"`
	Quantity      *decimal.Decimal `json:"quantity"`
	DeliveryStart *time.Time       `json:"delivery_start,omitempty"`
	DeliveryEnd   *time.Time       `json:"delivery_end,omitempty"`
}

// OrderUpdate holds the fields a client may change. Nil fields are left as they are.
type OrderUpdate struct {
	Price         *decimal.Decimal `json:"price,omitempty"`
	Quantity      *decimal.Decimal `json:"quantity,omitempty"`
	DeliveryStart *time.Time       `json:"delivery_start,omitempty"`
	DeliveryEnd   *time.Time       `json:"delivery_end,omitempty"`
}

// Apply merges the provided fields into o
func (u OrderUpdate) Apply(o *Order) {
	if u.Price != nil {
		o.Price = *u.Price
	}
	if u.Quantity != nil {
		o.Quantity = *u.Quantity
	}
	if u.DeliveryStart != nil {
		t := u.DeliveryStart.UTC()
		o.DeliveryStart = &t
	}
	if u.DeliveryEnd != nil {
		t := u.DeliveryEnd.UTC()
		o.DeliveryEnd = &t
	}
}

// TradeRole narrows a trade lookup to one side of the trade
type TradeRole string

const (
	RoleAny    TradeRole = ""
	RoleBuyer  TradeRole = "buyer"
	RoleSeller TradeRole = "seller"
)

// Trade represents a match produced by the matching engine
type Trade struct {
	ID         uuid.UUID       `json:"id"`
	BuyerID    string          `json:"buyer_id"`
	SellerID   string          `json:"seller_id"`
	BidID      *uuid.UUID      `json:"bid_id,omitempty"`
	OfferID    *uuid.UUID      `json:"offer_id,omitempty"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	ExecutedAt time.Time       `json:"executed_at"`
}

// SubmissionWindowID is the fixed identity of the single window record
const SubmissionWindowID = 1

// SubmissionWindow is the interval during which bids and offers are accepted.
// Version increases with every committed write, including deletes.
type SubmissionWindow struct {
	ID        int       `json:"id"`
	OpenTime  time.Time `json:"open_time"`
	CloseTime time.Time `json:"close_time"`
	Version   int64     `json:"version"`
}

// Valid reports whether the window closes no earlier than it opens
func (w SubmissionWindow) Valid() bool {
	return !w.CloseTime.Before(w.OpenTime)
}
