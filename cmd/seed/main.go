package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/powermarket/internal/auth"
	"github.com/xtrntr/powermarket/internal/config"
	"github.com/xtrntr/powermarket/internal/db"
	"github.com/xtrntr/powermarket/internal/models"
	"github.com/xtrntr/powermarket/internal/window"
	"go.uber.org/zap"
)

const (
	discoID = "user_disco_dev"
	gencoID = "user_genco_dev"
)

func order(side models.Side, owner string, price, quantity string, deliveryStart time.Time) models.Order {
	end := deliveryStart.Add(time.Hour)
	return models.Order{
		ID:            uuid.New(),
		Side:          side,
		OwnerID:       owner,
		Price:         decimal.RequireFromString(price),
		Quantity:      decimal.RequireFromString(quantity),
		DeliveryStart: &deliveryStart,
		DeliveryEnd:   &end,
	}
}

// adminKeyLine renders the ADMIN_KEY_HASH setting for key. An empty key
// renders nothing.
func adminKeyLine(key string) (string, error) {
	if key == "" {
		return "", nil
	}
	hash, err := auth.HashAdminKey(key)
	if err != nil {
		return "", err
	}
	return "ADMIN_KEY_HASH=" + hash, nil
}

// Seed the database with development data
func main() {
	ctx := context.Background()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	database, err := db.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}

	// First check if we already have trades
	trades, err := database.ListTrades(ctx, discoID, models.RoleAny)
	if err != nil {
		log.Fatalf("Failed to check trades: %v", err)
	}
	if len(trades) > 0 {
		fmt.Printf("Database already has %d development trades. No need to seed.\n", len(trades))
		os.Exit(0)
	}

	// Open a window that closes in an hour
	now := time.Now().UTC().Truncate(time.Minute)
	windows := window.NewService(database, nil, zap.NewNop().Sugar())
	w, err := windows.Set(ctx, now, now.Add(time.Hour))
	if err != nil {
		log.Fatalf("Failed to set submission window: %v", err)
	}

	delivery := now.Add(24 * time.Hour).Truncate(time.Hour)
	orders, err := database.CreateOrders(ctx, []models.Order{
		order(models.SideBid, discoID, "52.00", "40", delivery),
		order(models.SideBid, discoID, "48.50", "25", delivery.Add(time.Hour)),
		order(models.SideOffer, gencoID, "45.00", "30", delivery),
		order(models.SideOffer, gencoID, "50.00", "60", delivery.Add(time.Hour)),
	})
	if err != nil {
		log.Fatalf("Failed to create orders: %v", err)
	}

	// Create a trade between the first bid and offer (1 day ago)
	_, err = database.CreateTrades(ctx, []models.Trade{{
		ID:         uuid.New(),
		BuyerID:    discoID,
		SellerID:   gencoID,
		BidID:      &orders[0].ID,
		OfferID:    &orders[2].ID,
		Price:      decimal.RequireFromString("48.50"),
		Quantity:   decimal.RequireFromString("30"),
		ExecutedAt: now.Add(-24 * time.Hour),
	}})
	if err != nil {
		log.Fatalf("Failed to create trade: %v", err)
	}

	fmt.Printf("Seeded %d orders and 1 trade; submission window %s to %s\n",
		len(orders), w.OpenTime.Format(time.RFC3339), w.CloseTime.Format(time.RFC3339))

	// SEED_ADMIN_KEY is only hashed for the operator, never stored
	line, err := adminKeyLine(os.Getenv("SEED_ADMIN_KEY"))
	if err != nil {
		log.Fatalf("Failed to hash admin key: %v", err)
	}
	if line != "" {
		fmt.Println(line)
	}

	if cfg.Auth.HMACSecret == "" {
		return
	}
	var party string
	if len(cfg.Auth.AuthorizedParties) > 0 {
		party = cfg.Auth.AuthorizedParties[0]
	}
	for _, userID := range []string{discoID, gencoID} {
		token, err := auth.SignToken(cfg.Auth.HMACSecret, userID, party, 24*time.Hour)
		if err != nil {
			log.Fatalf("Failed to sign token: %v", err)
		}
		fmt.Printf("%s: %s\n", userID, token)
	}
}
