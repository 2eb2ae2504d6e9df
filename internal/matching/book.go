package matching

import (
	"sort"

	"github.com/xtrntr/powermarket/internal/models"
)

// Book is the order book handed to the matching engine
type Book struct {
	Bids   []models.Order `json:"bids"`
	Offers []models.Order `json:"offers"`
}

// NewBook splits orders by side and sorts them into price-time priority
func NewBook(orders []models.Order) Book {
	book := Book{
		Bids:   []models.Order{},
		Offers: []models.Order{},
	}
	for _, o := range orders {
		book.Add(o)
	}
	return book
}

// Add inserts an order keeping both sides sorted
func (b *Book) Add(order models.Order) {
	if order.Side == models.SideBid {
		b.Bids = append(b.Bids, order)
		// Sort bids: highest price first, then earliest time
		sort.SliceStable(b.Bids, func(i, j int) bool {
			if b.Bids[i].Price.Equal(b.Bids[j].Price) {
				return b.Bids[i].CreatedAt.Before(b.Bids[j].CreatedAt)
			}
			return b.Bids[i].Price.GreaterThan(b.Bids[j].Price)
		})
	} else {
		b.Offers = append(b.Offers, order)
		// Sort offers: lowest price first, then earliest time
		sort.SliceStable(b.Offers, func(i, j int) bool {
			if b.Offers[i].Price.Equal(b.Offers[j].Price) {
				return b.Offers[i].CreatedAt.Before(b.Offers[j].CreatedAt)
			}
			return b.Offers[i].Price.LessThan(b.Offers[j].Price)
		})
	}
}

// Empty reports whether either side has nothing to match against
func (b Book) Empty() bool {
	return len(b.Bids) == 0 || len(b.Offers) == 0
}
