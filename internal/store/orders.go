package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rahil/meatmart/internal/database"
	"github.com/rahil/meatmart/internal/delivery"
	"github.com/rahil/meatmart/internal/metrics"
	"github.com/rahil/meatmart/internal/models"
	"github.com/rahil/meatmart/internal/notify"
	"github.com/rahil/meatmart/internal/order"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

type CreateOrderRequest struct {
	CustomerID     int64
	VendorID       int64
	DeliveryOption models.DeliveryOption
	Items          []OrderItemRequest
	Subtotal       decimal.Decimal
}

type OrderItemRequest struct {
	ProductID int64
	Quantity  int
}

const orderColumns = `id, customer_id, vendor_id, delivery_option, status,
	payment_status, COALESCE(cancel_reason, ''), subtotal, delivery_fee,
	total, created_at, updated_at, version`

// CreateOrder snapshots the current final price of every requested product
// into immutable order items, recomputes the subtotal server-side and
// rejects the order when it disagrees with the client-submitted value. The
// delivery fee comes from the policy collaborator and is added unmodified.
func CreateOrder(ctx context.Context, db *sql.DB, policy delivery.Policy, req CreateOrderRequest) (*models.Order, error) {
	deliveryFee, err := policy.Fee(req.DeliveryOption)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", order.ErrValidation, err)
	}

	orderID := uuid.NewString()

	err = database.WithRetry(ctx, db, database.TxOptions{
		IsolationLevel: sql.LevelSerializable,
		MaxRetries:     3,
	}, func(tx *sql.Tx) error {
		var customerExists bool
		err := tx.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM users WHERE id = $1 AND role = $2)",
			req.CustomerID, models.RoleCustomer).Scan(&customerExists)
		if err != nil {
			return fmt.Errorf("check customer exists: %w", err)
		}
		if !customerExists {
			return database.ErrUserNotFound
		}

		items := make([]models.OrderItem, 0, len(req.Items))
		for _, item := range req.Items {
			var (
				productID  int64
				name       string
				finalPrice decimal.Decimal
				active     bool
				vendorID   int64
			)
			err := tx.QueryRowContext(ctx,
				`SELECT id, name, final_price, active, vendor_id
				 FROM vendor_products
				 WHERE id = $1`,
				item.ProductID).Scan(&productID, &name, &finalPrice, &active, &vendorID)
			if err != nil {
				if err == sql.ErrNoRows {
					return database.ErrProductNotFound
				}
				return fmt.Errorf("load product %d: %w", item.ProductID, err)
			}
			if !active {
				return database.ErrProductInactive
			}
			if vendorID != req.VendorID {
				return fmt.Errorf("%w: product %d belongs to another vendor", order.ErrValidation, productID)
			}

			items = append(items, models.OrderItem{
				OrderID:   orderID,
				ProductID: productID,
				Name:      name,
				UnitPrice: finalPrice,
				Quantity:  item.Quantity,
				LineTotal: finalPrice.Mul(decimal.NewFromInt(int64(item.Quantity))),
			})
		}

		if err := order.ValidateItems(items); err != nil {
			return err
		}

		subtotal := order.Subtotal(items)
		if err := order.CheckSubtotal(subtotal, req.Subtotal); err != nil {
			return err
		}
		total := order.Total(subtotal, deliveryFee)

		_, err = tx.ExecContext(ctx,
			`INSERT INTO orders (id, customer_id, vendor_id, delivery_option,
				status, payment_status, subtotal, delivery_fee, total,
				created_at, updated_at, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW(), 1)`,
			orderID, req.CustomerID, req.VendorID, req.DeliveryOption,
			models.OrderStatusPending, models.PaymentStatusPending,
			subtotal, deliveryFee, total)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		for _, item := range items {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO order_items (order_id, product_id, name, unit_price, quantity, line_total)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				item.OrderID, item.ProductID, item.Name, item.UnitPrice, item.Quantity, item.LineTotal)
			if err != nil {
				return fmt.Errorf("create order item: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return GetOrder(ctx, db, orderID)
}

func GetOrder(ctx context.Context, db *sql.DB, id string) (*models.Order, error) {
	o := &models.Order{}

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	err := db.QueryRowContext(ctx, query, id).Scan(
		&o.ID,
		&o.CustomerID,
		&o.VendorID,
		&o.DeliveryOption,
		&o.Status,
		&o.PaymentStatus,
		&o.CancelReason,
		&o.Subtotal,
		&o.DeliveryFee,
		&o.Total,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.Version,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, order_id, product_id, name, unit_price, quantity, line_total
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`,
		id)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Name,
			&item.UnitPrice,
			&item.Quantity,
			&item.LineTotal,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	o.Items = items

	return o, nil
}

// TransitionOrder applies a status transition with a compare-and-swap on
// the order's version. A request whose precondition no longer holds after
// a concurrent write fails with database.ErrConflict instead of silently
// overwriting. Accepted transitions emit an event to the notifier; the
// notifier may be nil, and its failures never roll back the transition.
func TransitionOrder(ctx context.Context, db *sql.DB, notifier notify.Notifier, id string, to models.OrderStatus, actor models.Actor, reason string) (*models.Order, error) {
	current, err := GetOrder(ctx, db, id)
	if err != nil {
		return nil, err
	}

	if err := order.ValidateTransition(current, to, actor, reason); err != nil {
		return nil, err
	}

	var updatedAt time.Time
	err = db.QueryRowContext(ctx,
		`UPDATE orders
		 SET status = $2,
		     cancel_reason = CASE WHEN $2 = 'cancelled' THEN $4 ELSE cancel_reason END,
		     updated_at = NOW(),
		     version = version + 1
		 WHERE id = $1 AND version = $3
		 RETURNING updated_at`,
		id, to, current.Version, reason).Scan(&updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrConflict
		}
		return nil, fmt.Errorf("transition order: %w", err)
	}

	metrics.OrderTransitionsTotal.WithLabelValues(string(current.Status), string(to)).Inc()

	if notifier != nil {
		event := order.Event{
			OrderID:    id,
			FromStatus: current.Status,
			ToStatus:   to,
			Timestamp:  updatedAt,
		}
		if err := notifier.OrderTransition(ctx, event); err != nil {
			log.WithError(err).WithField("order_id", id).Warn("transition notification failed")
		}
	}

	return GetOrder(ctx, db, id)
}

// SetPaymentStatus applies a payment-status transition reported by the
// payment collaborator, with the same version CAS as order transitions.
func SetPaymentStatus(ctx context.Context, db *sql.DB, id string, to models.PaymentStatus) (*models.Order, error) {
	current, err := GetOrder(ctx, db, id)
	if err != nil {
		return nil, err
	}

	if err := order.ValidatePaymentTransition(current, to); err != nil {
		return nil, err
	}

	result, err := db.ExecContext(ctx,
		`UPDATE orders
		 SET payment_status = $2, updated_at = NOW(), version = version + 1
		 WHERE id = $1 AND version = $3`,
		id, to, current.Version)
	if err != nil {
		return nil, fmt.Errorf("set payment status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, database.ErrConflict
	}

	metrics.PaymentCallbacksTotal.WithLabelValues(string(to)).Inc()

	return GetOrder(ctx, db, id)
}

// ListOrdersCursor pages orders newest-first, scoped to what the actor may
// see: customers their own orders, vendors their shop's, admins all.
func ListOrdersCursor(ctx context.Context, db *sql.DB, actor models.Actor, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE (created_at, id) < ($1, $2::uuid)`
	args := []interface{}{cursorData.CreatedAt, cursorData.ID}

	switch actor.Role {
	case models.RoleCustomer:
		query += ` AND customer_id = $3`
		args = append(args, actor.ID)
	case models.RoleVendor:
		query += ` AND vendor_id = $3`
		args = append(args, actor.ID)
	}

	query += fmt.Sprintf(`
		ORDER BY created_at DESC, id DESC
		LIMIT $%d`, len(args)+1)
	args = append(args, limit+1)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var o models.Order
		err := rows.Scan(
			&o.ID,
			&o.CustomerID,
			&o.VendorID,
			&o.DeliveryOption,
			&o.Status,
			&o.PaymentStatus,
			&o.CancelReason,
			&o.Subtotal,
			&o.DeliveryFee,
			&o.Total,
			&o.CreatedAt,
			&o.UpdatedAt,
			&o.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}
