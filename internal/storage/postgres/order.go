package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/giftbox-api/internal/domain/order"
)

const (
	orderColumns = `order_id, user_id, items, total_amount, discount, delivery_fee, final_amount,
		payment_status, payment_id, gateway_order_id, address, coupon_code, status,
		created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (order_id, user_id, items, total_amount, discount,
		delivery_fee, final_amount, payment_status, payment_id, gateway_order_id, address,
		coupon_code, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE order_id = $1`

	getOrderByGatewayIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE gateway_order_id = $1`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1
		ORDER BY created_at DESC`

	updateOrderStatusSQL = `UPDATE orders SET status = $2, updated_at = now()
		WHERE order_id = $1 RETURNING ` + orderColumns

	updateOrderPaymentSQL = `UPDATE orders SET
			payment_status = $2,
			payment_id = COALESCE(NULLIF($3, ''), payment_id),
			status = COALESCE(NULLIF($4, ''), status),
			updated_at = now()
		WHERE order_id = $1 AND ($5 = '' OR payment_status = $5)`

	deleteOrderSQL = `DELETE FROM orders WHERE order_id = $1`

	gatewayOrderConstraint = "orders_gateway_order_id_key"
)

// orderIDKeys sort order ids numerically: ids widen past ORD9999.
var orderIDKeys = []string{"length(order_id)", "order_id"}

// sortKeys whitelists the expressions admin listings may order by.
var sortKeys = map[order.SortField][]string{
	order.SortCreatedAt:   {"created_at"},
	order.SortFinalAmount: {"final_amount"},
	order.SortOrderID:     orderIDKeys,
}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order. Items and address are stored as JSONB.
// It returns order.ErrDuplicateGatewayOrder when an order for the same
// gateway order already exists.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	addressJSON, err := json.Marshal(o.Address)
	if err != nil {
		return fmt.Errorf("marshaling order address: %w", err)
	}

	err = r.pool.QueryRow(ctx, createOrderSQL,
		o.OrderID, o.UserID, itemsJSON, o.TotalAmount, o.Discount, o.DeliveryFee, o.FinalAmount,
		string(o.PaymentStatus), o.PaymentID, o.GatewayOrderID, addressJSON, o.CouponCode,
		string(o.Status),
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, gatewayOrderConstraint) {
			return order.ErrDuplicateGatewayOrder
		}
		return fmt.Errorf("creating order %q: %w", o.OrderID, err)
	}
	return nil
}

// GetByID returns the order with the given id.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByIDSQL, id)
}

// GetByGatewayOrderID returns the order created for a gateway order.
func (r *OrderRepository) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByGatewayIDSQL, gatewayOrderID)
}

func (r *OrderRepository) getOne(ctx context.Context, query, arg string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}
	return &o, nil
}

// ListByUser returns a user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders for user %q: %w", userID, err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders for user %q: %w", userID, err)
	}
	return orders, nil
}

// List returns one page of orders matching f and the total match count.
// f is expected to be normalized by the caller.
func (r *OrderRepository) List(ctx context.Context, f order.ListFilter) ([]order.Order, int, error) {
	where, args := listWhere(f)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting orders: %w", err)
	}

	page := max(f.Page, 1)
	query := fmt.Sprintf(`SELECT %s FROM orders%s ORDER BY %s LIMIT $%d OFFSET $%d`,
		orderColumns, where, orderBy(f), len(args)+1, len(args)+2)
	args = append(args, f.Limit, (page-1)*f.Limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}
	return orders, total, nil
}

// orderBy renders the ORDER BY list for admin listings, ending with the
// order id as a tiebreaker.
func orderBy(f order.ListFilter) string {
	keys, ok := sortKeys[f.SortBy]
	if !ok {
		keys = sortKeys[order.SortCreatedAt]
	}
	if f.SortBy != order.SortOrderID {
		keys = append(slices.Clip(keys), orderIDKeys...)
	}
	direction := " ASC"
	if f.Descending {
		direction = " DESC"
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + direction
	}
	return strings.Join(parts, ", ")
}

// listWhere builds the WHERE clause for admin listings. Search matches the
// order id and the address name, phone, city and state case-insensitively.
func listWhere(f order.ListFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Search != "" {
		args = append(args, "%"+escapeLike(f.Search)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf(`(order_id ILIKE $%[1]d OR address->>'name' ILIKE $%[1]d
			OR address->>'phone' ILIKE $%[1]d OR address->>'city' ILIKE $%[1]d
			OR address->>'state' ILIKE $%[1]d)`, n))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.PaymentStatus != "" {
		args = append(args, string(f.PaymentStatus))
		conds = append(conds, fmt.Sprintf("payment_status = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// UpdateStatus sets the lifecycle status and returns the updated order.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status order.Status) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, updateOrderStatusSQL, id, string(status))
	if err != nil {
		return nil, fmt.Errorf("updating status of order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("updating status of order %q: %w", id, err)
	}
	return &o, nil
}

// UpdatePayment applies a payment transition and reports whether the row
// changed. When upd.OnlyFrom is set, rows in any other payment status are
// left alone.
func (r *OrderRepository) UpdatePayment(ctx context.Context, id string, upd order.PaymentUpdate) (bool, error) {
	tag, err := r.pool.Exec(ctx, updateOrderPaymentSQL,
		id, string(upd.PaymentStatus), upd.PaymentID, string(upd.Status), string(upd.OnlyFrom))
	if err != nil {
		return false, fmt.Errorf("updating payment of order %q: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Delete removes an order.
func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteOrderSQL, id)
	if err != nil {
		return fmt.Errorf("deleting order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		items         []byte
		address       []byte
		paymentStatus string
		status        string
	)
	if err := row.Scan(
		&o.OrderID, &o.UserID, &items, &o.TotalAmount, &o.Discount, &o.DeliveryFee, &o.FinalAmount,
		&paymentStatus, &o.PaymentID, &o.GatewayOrderID, &address, &o.CouponCode, &status,
		&o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return o, err
	}
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	o.Status = order.Status(status)
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling items of order %q: %w", o.OrderID, err)
	}
	if err := json.Unmarshal(address, &o.Address); err != nil {
		return o, fmt.Errorf("unmarshaling address of order %q: %w", o.OrderID, err)
	}
	return o, nil
}
