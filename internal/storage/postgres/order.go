package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

const (
	orderColumns = `id::text, gateway_order_id, user_id, items, amount, currency, promo_code, address,
		payment_status, status, payment_id, signature, history, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (id, gateway_order_id, user_id, items, amount, total, currency,
			promo_code, address, payment_status, status, payment_id, signature, history, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderByGatewayIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE gateway_order_id = $1`

	// A single conditional UPDATE is the transition: concurrent callers
	// expecting the same prior status cannot both match.
	transitionOrderSQL = `UPDATE orders SET
			payment_status = $3,
			status = $4,
			payment_id = COALESCE(NULLIF($5::text, ''), payment_id),
			signature = COALESCE(NULLIF($6::text, ''), signature),
			history = history || $7::jsonb,
			updated_at = $8
		WHERE gateway_order_id = $1 AND payment_status = $2
		RETURNING ` + orderColumns

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE gateway_order_id = $1)`

	appendHistorySQL = `UPDATE orders SET history = history || $2::jsonb, updated_at = $3
		WHERE gateway_order_id = $1`

	hasPaidOrderSQL = `SELECT EXISTS (SELECT 1 FROM orders
		WHERE user_id = $1 AND payment_status = 'paid')`

	hasPaidOrderWithPromoSQL = `SELECT EXISTS (SELECT 1 FROM orders
		WHERE user_id = $1 AND promo_code = UPPER($2) AND payment_status = 'paid')`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Line
// items, amounts, address and history are stored as JSONB snapshots.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order. It returns order.ErrDuplicate when the
// gateway order id or the order id is already stored.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	history := o.History
	if history == nil {
		history = []order.HistoryEntry{}
	}
	_, err := r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.GatewayOrderID, nullString(o.UserID), o.Items, o.Amount, o.Amount.Total, o.Currency,
		o.PromoCode, o.Address, string(o.PaymentStatus), string(o.Status), o.PaymentID, o.Signature,
		history, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return order.ErrDuplicate
		}
		return errors.Wrapf(err, "create order %q", o.ID)
	}
	return nil
}

// FindByID returns the order with the given id.
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*order.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, order.ErrNotFound
	}
	return r.findOne(ctx, getOrderByIDSQL, id)
}

// FindByGatewayOrderID returns the order created for the gateway order.
func (r *OrderRepository) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*order.Order, error) {
	return r.findOne(ctx, getOrderByGatewayIDSQL, gatewayOrderID)
}

func (r *OrderRepository) findOne(ctx context.Context, query, key string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, query, key)
	if err != nil {
		return nil, errors.Wrapf(err, "find order %q", key)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find order %q", key)
	}
	return o, nil
}

// Transition implements order.Repository.
func (r *OrderRepository) Transition(
	ctx context.Context,
	gatewayOrderID string,
	expected order.PaymentStatus,
	patch order.Patch,
) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, transitionOrderSQL,
		gatewayOrderID, string(expected), string(patch.PaymentStatus), string(patch.Status),
		patch.PaymentID, patch.Signature, []order.HistoryEntry{patch.History}, patch.History.Timestamp,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "transition order %q", gatewayOrderID)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(err, "transition order %q", gatewayOrderID)
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, gatewayOrderID).Scan(&exists); err != nil {
		return nil, errors.Wrapf(err, "check order %q", gatewayOrderID)
	}
	if !exists {
		return nil, order.ErrNotFound
	}
	return nil, order.ErrConflict
}

// AppendHistory appends entry to the order's history without changing its
// status.
func (r *OrderRepository) AppendHistory(ctx context.Context, gatewayOrderID string, entry order.HistoryEntry) error {
	tag, err := r.pool.Exec(ctx, appendHistorySQL, gatewayOrderID, []order.HistoryEntry{entry}, entry.Timestamp)
	if err != nil {
		return errors.Wrapf(err, "append history to order %q", gatewayOrderID)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// HasPaidOrder reports whether the user completed any order.
func (r *OrderRepository) HasPaidOrder(ctx context.Context, userID string) (bool, error) {
	var ok bool
	if err := r.pool.QueryRow(ctx, hasPaidOrderSQL, userID).Scan(&ok); err != nil {
		return false, errors.Wrap(err, "query paid orders")
	}
	return ok, nil
}

// HasPaidOrderWithPromo reports whether the user completed an order using
// the promocode.
func (r *OrderRepository) HasPaidOrderWithPromo(ctx context.Context, userID, code string) (bool, error) {
	var ok bool
	if err := r.pool.QueryRow(ctx, hasPaidOrderWithPromoSQL, userID, code).Scan(&ok); err != nil {
		return false, errors.Wrap(err, "query paid orders with promocode")
	}
	return ok, nil
}

func scanOrder(row pgx.CollectableRow) (*order.Order, error) {
	var (
		o             order.Order
		userID        *string
		paymentStatus string
		status        string
	)
	err := row.Scan(
		&o.ID, &o.GatewayOrderID, &userID, &o.Items, &o.Amount, &o.Currency, &o.PromoCode, &o.Address,
		&paymentStatus, &status, &o.PaymentID, &o.Signature, &o.History, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if userID != nil {
		o.UserID = *userID
	}
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	o.Status = order.Status(status)
	return &o, nil
}
