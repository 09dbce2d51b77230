package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/promo"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
)

type productJSON struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	Price              int64             `json:"price"`
	MRP                int64             `json:"mrp"`
	DiscountPercentage int               `json:"discountPercentage"`
	SKU                string            `json:"sku"`
	Variants           []product.Variant `json:"variants"`
	Hidden             bool              `json:"hidden"`
}

type promocodeJSON struct {
	Code                 string          `json:"code"`
	Description          string          `json:"description"`
	DiscountPercent      decimal.Decimal `json:"discountPercent"`
	ValidFrom            *time.Time      `json:"validFrom"`
	Expiry               *time.Time      `json:"expiry"`
	UsageLimit           int             `json:"usageLimit"`
	MinimumOrderValue    int64           `json:"minimumOrderValue"`
	MaxDiscount          int64           `json:"maxDiscount"`
	ApplicableProductIDs []string        `json:"applicableProductIds"`
	FirstOrderOnly       bool            `json:"firstOrderOnly"`
	OnlyForSignedInUser  bool            `json:"onlyForSignedInUser"`
	Inactive             bool            `json:"inactive"`
}

func main() {
	var (
		databaseURL    string
		productsFile   string
		promocodesFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&promocodesFile, "promocodes-file", "db/seed/promocodes.json", "path to promocodes JSON file, empty to skip")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, productsFile, promocodesFile); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}

	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, productsFile, promocodesFile string) error {
	lg.Info("Connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL, 2)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, lg, postgres.NewProductRepository(pool), productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if promocodesFile == "" {
		return nil
	}
	if err := seedPromocodes(ctx, lg, postgres.NewPromoRepository(pool), promocodesFile); err != nil {
		return errors.Wrap(err, "seed promocodes")
	}

	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "parse %s", path)
	}
	return nil
}

func seedProducts(ctx context.Context, lg *zap.Logger, repo *postgres.ProductRepository, path string) error {
	var products []productJSON
	if err := readJSON(path, &products); err != nil {
		return err
	}

	lg.Info("Upserting products", zap.Int("count", len(products)), zap.String("path", path))

	for _, p := range products {
		if p.ID == "" || p.Price < 0 {
			return errors.Errorf("invalid product %q", p.ID)
		}
		mrp := p.MRP
		if mrp < p.Price {
			mrp = p.Price
		}
		if err := repo.Upsert(ctx, product.Product{
			ID:                 p.ID,
			Name:               p.Name,
			Price:              p.Price,
			MRP:                mrp,
			DiscountPercentage: p.DiscountPercentage,
			SKU:                p.SKU,
			Variants:           p.Variants,
			Visible:            !p.Hidden,
		}); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		lg.Debug("Upserted product", zap.String("id", p.ID), zap.String("name", p.Name))
	}

	return nil
}

func seedPromocodes(ctx context.Context, lg *zap.Logger, repo *postgres.PromoRepository, path string) error {
	var codes []promocodeJSON
	if err := readJSON(path, &codes); err != nil {
		return err
	}

	lg.Info("Upserting promocodes", zap.Int("count", len(codes)), zap.String("path", path))

	for _, c := range codes {
		code := strings.ToUpper(strings.TrimSpace(c.Code))
		if code == "" {
			return errors.New("promocode without code")
		}
		if err := repo.Upsert(ctx, promo.Promocode{
			Code:                 code,
			DiscountPercent:      c.DiscountPercent,
			ValidFrom:            c.ValidFrom,
			Expiry:               c.Expiry,
			UsageLimit:           c.UsageLimit,
			MinimumOrderValue:    c.MinimumOrderValue,
			MaxDiscount:          c.MaxDiscount,
			ApplicableProductIDs: c.ApplicableProductIDs,
			FirstOrderOnly:       c.FirstOrderOnly,
			OnlyForSignedInUser:  c.OnlyForSignedInUser,
			Active:               !c.Inactive,
		}, c.Description); err != nil {
			return errors.Wrapf(err, "upsert promocode %s", code)
		}

		lg.Debug("Upserted promocode", zap.String("code", code), zap.String("description", c.Description))
	}

	return nil
}
