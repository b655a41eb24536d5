// Command seed-db loads a demo catalog, gift cards and an API key for one
// business.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/auth"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/giftcard"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/pricing"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/product"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/handler"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/storage/postgres"
)

type catalogJSON struct {
	Products []struct {
		ID       string          `json:"id"`
		Name     string          `json:"name"`
		Price    decimal.Decimal `json:"price"`
		Category string          `json:"category"`
	} `json:"products"`
	Taxes []struct {
		ID   string          `json:"id"`
		Name string          `json:"name"`
		Rate decimal.Decimal `json:"rate"`
	} `json:"taxes"`
	Discounts []struct {
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Type  string          `json:"type"`
		Value decimal.Decimal `json:"value"`
	} `json:"discounts"`
	GiftCards []struct {
		Code   string          `json:"code"`
		Amount decimal.Decimal `json:"amount"`
	} `json:"gift_cards"`
}

type options struct {
	databaseURL string
	catalogFile string
	businessID  string
	apiKey      string
	pepper      string
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.StringVar(&opts.businessID, "business-id", "demo", "business the catalog belongs to")
	flag.StringVar(&opts.apiKey, "api-key", "", "API key to seed (or POS_SEED_API_KEY env)")
	flag.StringVar(&opts.pepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or POS_API_KEY_PEPPER env)")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.apiKey == "" {
		opts.apiKey = os.Getenv("POS_SEED_API_KEY")
	}
	if opts.pepper == "" {
		opts.pepper = os.Getenv("POS_API_KEY_PEPPER")
	}
	switch {
	case opts.databaseURL == "":
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	case opts.apiKey == "" || opts.pepper == "":
		lg.Fatal("API key and pepper are required: set --api-key and --api-key-pepper")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed successfully")
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	data, err := os.ReadFile(opts.catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}
	var catalog catalogJSON
	if err := json.Unmarshal(data, &catalog); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.Migrate(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	store := postgres.NewStore(pool)

	bid := opts.businessID
	for _, p := range catalog.Products {
		if err := store.UpsertProduct(ctx, product.Product{
			ID: p.ID, BusinessID: bid, Name: p.Name, Price: p.Price, Category: p.Category, Available: true,
		}); err != nil {
			return err
		}
	}
	lg.Info("Upserted products", zap.Int("count", len(catalog.Products)))

	for _, t := range catalog.Taxes {
		if err := store.UpsertTax(ctx, pricing.Tax{
			ID: t.ID, BusinessID: bid, Name: t.Name, Rate: t.Rate, Active: true,
		}); err != nil {
			return err
		}
	}
	for _, d := range catalog.Discounts {
		if err := store.UpsertDiscount(ctx, pricing.Discount{
			ID: d.ID, BusinessID: bid, Name: d.Name, Type: pricing.DiscountType(d.Type), Value: d.Value, Active: true,
		}); err != nil {
			return err
		}
	}
	lg.Info("Upserted pricing rules", zap.Int("taxes", len(catalog.Taxes)), zap.Int("discounts", len(catalog.Discounts)))

	cards := giftcard.NewManager(store.GiftCards())
	for _, g := range catalog.GiftCards {
		_, err := cards.Issue(ctx, giftcard.IssueRequest{BusinessID: bid, Code: g.Code, Amount: g.Amount, Now: time.Now()})
		switch {
		case errors.Is(err, giftcard.ErrDuplicateCode):
			lg.Info("Gift card already issued", zap.String("code", g.Code))
		case err != nil:
			return errors.Wrapf(err, "issue gift card %s", g.Code)
		}
	}

	if err := store.UpsertAPIKey(ctx, auth.APIKeyInfo{
		ID:         bid + "-default",
		BusinessID: bid,
		KeyHash:    handler.HashKey([]byte(opts.pepper), opts.apiKey),
		Name:       "Default till key",
		Scopes:     []string{"*"},
	}); err != nil {
		return err
	}
	lg.Info("Upserted API key", zap.String("id", bid+"-default"))
	return nil
}
