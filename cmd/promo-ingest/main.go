// Command promo-ingest bulk-loads promocodes from plain or gzip-compressed
// files holding one code per line. Every code gets the same campaign
// template.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/promo"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
)

// templateFlags are the raw campaign flags shared by every ingested code.
type templateFlags struct {
	percent        string
	maxDiscount    int64
	minOrderValue  int64
	usageLimit     int
	validFrom      string
	expiry         string
	products       string
	firstOrderOnly bool
	signedInOnly   bool
	inactive       bool
}

func (f templateFlags) parse() (promo.Promocode, error) {
	percent, err := decimal.NewFromString(f.percent)
	if err != nil {
		return promo.Promocode{}, errors.Wrapf(err, "parse percent %q", f.percent)
	}
	if !percent.IsPositive() || percent.GreaterThan(decimal.NewFromInt(100)) {
		return promo.Promocode{}, errors.Errorf("percent must be in (0, 100], got %s", percent)
	}
	if f.maxDiscount < 0 || f.minOrderValue < 0 || f.usageLimit < 0 {
		return promo.Promocode{}, errors.New("limits must not be negative")
	}

	p := promo.Promocode{
		DiscountPercent:     percent,
		UsageLimit:          f.usageLimit,
		MinimumOrderValue:   f.minOrderValue,
		MaxDiscount:         f.maxDiscount,
		FirstOrderOnly:      f.firstOrderOnly,
		OnlyForSignedInUser: f.signedInOnly,
		Active:              !f.inactive,
	}
	if p.ValidFrom, err = parseTime(f.validFrom); err != nil {
		return promo.Promocode{}, errors.Wrap(err, "valid-from")
	}
	if p.Expiry, err = parseTime(f.expiry); err != nil {
		return promo.Promocode{}, errors.Wrap(err, "expiry")
	}
	if p.ValidFrom != nil && p.Expiry != nil && !p.Expiry.After(*p.ValidFrom) {
		return promo.Promocode{}, errors.New("expiry must be after valid-from")
	}
	for _, id := range strings.Split(f.products, ",") {
		if id = strings.TrimSpace(id); id != "" {
			p.ApplicableProductIDs = append(p.ApplicableProductIDs, id)
		}
	}
	return p, nil
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func main() {
	var (
		databaseURL string
		description string
		batchSize   int
		expected    uint
		minLen      int
		maxLen      int
		overwrite   bool
		verbose     bool
		tmpl        templateFlags
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&description, "description", "", "campaign description stored with every code")
	flag.IntVar(&batchSize, "batch", 1000, "codes per database round trip")
	flag.UintVar(&expected, "expected", 10_000_000, "expected number of input codes, sizes the duplicate filter")
	flag.IntVar(&minLen, "min-len", 4, "shortest accepted code")
	flag.IntVar(&maxLen, "max-len", checkout.MaxPromoCodeLength, "longest accepted code")
	flag.BoolVar(&overwrite, "overwrite", false, "replace the definition of codes that already exist")
	flag.BoolVar(&verbose, "v", false, "log every batch")
	flag.StringVar(&tmpl.percent, "percent", "", "discount percent of every code")
	flag.Int64Var(&tmpl.maxDiscount, "max-discount", 0, "discount cap in minor units, 0 for none")
	flag.Int64Var(&tmpl.minOrderValue, "min-order", 0, "minimum order value in minor units")
	flag.IntVar(&tmpl.usageLimit, "usage-limit", 0, "redemptions per code, 0 for unlimited")
	flag.StringVar(&tmpl.validFrom, "valid-from", "", "start of validity (RFC 3339)")
	flag.StringVar(&tmpl.expiry, "expiry", "", "end of validity (RFC 3339)")
	flag.StringVar(&tmpl.products, "products", "", "comma separated product ids the codes apply to")
	flag.BoolVar(&tmpl.firstOrderOnly, "first-order", false, "codes apply to a user's first paid order only")
	flag.BoolVar(&tmpl.signedInOnly, "signed-in", false, "codes require a signed-in user")
	flag.BoolVar(&tmpl.inactive, "inactive", false, "store codes deactivated")
	flag.Parse()

	zcfg := zap.NewProductionConfig()
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	lg, err := zcfg.Build()
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
	if flag.NArg() == 0 {
		lg.Fatal("No input files: pass one or more code files as arguments")
	}
	if batchSize < 1 || minLen < 1 || maxLen < minLen || maxLen > checkout.MaxPromoCodeLength {
		lg.Fatal("Invalid batch or length bounds")
	}
	template, err := tmpl.parse()
	if err != nil {
		lg.Fatal("Invalid campaign template", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	pool, err := postgres.NewPool(ctx, databaseURL, 4)
	if err != nil {
		lg.Fatal("Connect to database", zap.Error(err))
	}
	defer pool.Close()

	in := &ingester{
		lg:          lg,
		repo:        postgres.NewPromoRepository(pool),
		template:    template,
		description: description,
		batchSize:   batchSize,
		minLen:      minLen,
		maxLen:      maxLen,
		overwrite:   overwrite,
		seen:        bloom.NewWithEstimates(expected, 1e-7),
	}

	start := time.Now()
	st, err := in.Run(ctx, flag.Args())
	fields := []zap.Field{
		zap.Int64("read", st.Read.Load()),
		zap.Int64("invalid", st.Invalid),
		zap.Int64("duplicates", st.Duplicates),
		zap.Int64("existing", st.Existing),
		zap.Int64("written", st.Written),
		zap.Duration("took", time.Since(start)),
	}
	if err != nil {
		lg.Fatal("Promo ingest failed", append(fields, zap.Error(err))...)
	}
	lg.Info("Promo ingest completed", fields...)
}
