package postgres

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/promo"
)

const (
	getPromocodeSQL = `SELECT code, discount_percent, valid_from, expiry, usage_limit, times_used,
		minimum_order_value, max_discount, applicable_product_ids,
		first_order_only, only_for_signed_in_user, active
		FROM promocodes WHERE code = UPPER($1)`

	// The guard makes concurrent redemptions of the last slot race safely:
	// only one UPDATE can observe times_used < usage_limit.
	incrementPromocodeSQL = `UPDATE promocodes SET times_used = times_used + 1
		WHERE code = UPPER($1) AND (usage_limit = 0 OR times_used < usage_limit)`

	releasePromocodeSQL = `UPDATE promocodes SET times_used = times_used - 1
		WHERE code = UPPER($1) AND times_used > 0`

	listPromocodesSQL = `SELECT code FROM promocodes WHERE active = TRUE`

	existingPromocodesSQL = `SELECT code FROM promocodes WHERE code = ANY($1)`

	upsertPromocodeSQL = `INSERT INTO promocodes (code, description, discount_percent, valid_from, expiry,
			usage_limit, minimum_order_value, max_discount, applicable_product_ids,
			first_order_only, only_for_signed_in_user, active)
		VALUES (UPPER($1), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (code) DO UPDATE SET
			description = EXCLUDED.description,
			discount_percent = EXCLUDED.discount_percent,
			valid_from = EXCLUDED.valid_from,
			expiry = EXCLUDED.expiry,
			usage_limit = EXCLUDED.usage_limit,
			minimum_order_value = EXCLUDED.minimum_order_value,
			max_discount = EXCLUDED.max_discount,
			applicable_product_ids = EXCLUDED.applicable_product_ids,
			first_order_only = EXCLUDED.first_order_only,
			only_for_signed_in_user = EXCLUDED.only_for_signed_in_user,
			active = EXCLUDED.active`
)

// promocodeChannel is fed by the promocodes_changed trigger.
const promocodeChannel = "promocodes_changed"

var (
	_ promo.Source  = (*PromoRepository)(nil)
	_ promo.Watcher = (*PromoRepository)(nil)
)

// PromoRepository implements promo.Store and promo.Source backed by
// PostgreSQL.
type PromoRepository struct {
	pool *pgxpool.Pool
}

// NewPromoRepository returns a PromoRepository that uses the given pool.
func NewPromoRepository(pool *pgxpool.Pool) *PromoRepository {
	return &PromoRepository{pool: pool}
}

// FindByCode looks up a promocode case-insensitively.
func (r *PromoRepository) FindByCode(ctx context.Context, code string) (*promo.Promocode, error) {
	rows, err := r.pool.Query(ctx, getPromocodeSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find promocode %q", code)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPromocode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promo.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find promocode %q", code)
	}
	return &p, nil
}

// IncrementUsage consumes one usage slot. It returns promo.ErrLimitReached
// when no slot is left.
func (r *PromoRepository) IncrementUsage(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, incrementPromocodeSQL, code)
	if err != nil {
		return errors.Wrapf(err, "increment promocode %q", code)
	}
	if tag.RowsAffected() == 0 {
		return promo.ErrLimitReached
	}
	return nil
}

// ReleaseUsage returns one usage slot taken by IncrementUsage.
func (r *PromoRepository) ReleaseUsage(ctx context.Context, code string) error {
	if _, err := r.pool.Exec(ctx, releasePromocodeSQL, code); err != nil {
		return errors.Wrapf(err, "release promocode %q", code)
	}
	return nil
}

// ListCodes returns every active promocode.
func (r *PromoRepository) ListCodes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, listPromocodesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list promocodes")
	}
	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "scan promocodes")
	}
	return codes, nil
}

// WatchCodes listens on the promocode change channel on a dedicated pool
// connection. The connection is discarded afterwards.
func (r *PromoRepository) WatchCodes(ctx context.Context, ready func() error, fn func(code string)) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return errors.Wrap(err, "acquire listen connection")
	}
	defer func() {
		_ = conn.Conn().Close(context.Background())
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+promocodeChannel); err != nil {
		return errors.Wrap(err, "listen")
	}
	if err := ready(); err != nil {
		return err
	}
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return errors.Wrap(err, "wait for notification")
		}
		fn(n.Payload)
	}
}

// ExistingCodes returns the subset of codes already stored.
func (r *PromoRepository) ExistingCodes(ctx context.Context, codes []string) ([]string, error) {
	upper := make([]string, len(codes))
	for i, c := range codes {
		upper[i] = strings.ToUpper(c)
	}
	rows, err := r.pool.Query(ctx, existingPromocodesSQL, upper)
	if err != nil {
		return nil, errors.Wrap(err, "query existing promocodes")
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "scan existing promocodes")
	}
	return found, nil
}

// Upsert inserts or replaces a promocode definition. The usage counter of an
// existing code is left untouched.
func (r *PromoRepository) Upsert(ctx context.Context, p promo.Promocode, description string) error {
	products := p.ApplicableProductIDs
	if products == nil {
		products = []string{}
	}
	if _, err := r.pool.Exec(ctx, upsertPromocodeSQL,
		p.Code, description, p.DiscountPercent, p.ValidFrom, p.Expiry,
		p.UsageLimit, p.MinimumOrderValue, p.MaxDiscount, products,
		p.FirstOrderOnly, p.OnlyForSignedInUser, p.Active,
	); err != nil {
		return errors.Wrapf(err, "upsert promocode %q", p.Code)
	}
	return nil
}

// UpsertBatch upserts promocodes sharing one description in a single
// round trip.
func (r *PromoRepository) UpsertBatch(ctx context.Context, codes []promo.Promocode, description string) error {
	batch := &pgx.Batch{}
	for _, p := range codes {
		products := p.ApplicableProductIDs
		if products == nil {
			products = []string{}
		}
		batch.Queue(upsertPromocodeSQL,
			p.Code, description, p.DiscountPercent, p.ValidFrom, p.Expiry,
			p.UsageLimit, p.MinimumOrderValue, p.MaxDiscount, products,
			p.FirstOrderOnly, p.OnlyForSignedInUser, p.Active,
		)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrap(err, "upsert promocode batch")
	}
	return nil
}

func scanPromocode(row pgx.CollectableRow) (promo.Promocode, error) {
	var p promo.Promocode
	err := row.Scan(
		&p.Code, &p.DiscountPercent, &p.ValidFrom, &p.Expiry, &p.UsageLimit, &p.TimesUsed,
		&p.MinimumOrderValue, &p.MaxDiscount, &p.ApplicableProductIDs,
		&p.FirstOrderOnly, &p.OnlyForSignedInUser, &p.Active,
	)
	return p, err
}
