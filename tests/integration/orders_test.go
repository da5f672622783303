package integration

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/rahil/meatmart/internal/database"
	"github.com/rahil/meatmart/internal/delivery"
	"github.com/rahil/meatmart/internal/models"
	"github.com/rahil/meatmart/internal/order"
	"github.com/rahil/meatmart/internal/store"
	"github.com/shopspring/decimal"
)

type orderFixture struct {
	customer *models.User
	vendor   *models.User
	product1 *models.VendorProduct
	product2 *models.VendorProduct
	policy   delivery.Policy
}

func (f *orderFixture) customerActor() models.Actor {
	return models.Actor{ID: f.customer.ID, Role: models.RoleCustomer}
}

func (f *orderFixture) vendorActor() models.Actor {
	return models.Actor{ID: f.vendor.ID, Role: models.RoleVendor}
}

// setupOrderFixture seeds a vendor with two chicken products whose final
// prices land at 98 and 108 (25% margin over 78.40 and 86.40).
func setupOrderFixture(t *testing.T, db *sql.DB) *orderFixture {
	t.Helper()
	ctx := context.Background()

	customer, err := store.CreateUser(ctx, db, "+911111111111", "Test Customer", models.RoleCustomer)
	if err != nil {
		t.Fatalf("Create customer: %v", err)
	}
	vendor := createVendor(t, db, "+912222222222")

	if _, err := store.SetCategoryMargin(ctx, db, "Chicken", decimal.NewFromInt(25), true); err != nil {
		t.Fatalf("Set margin: %v", err)
	}

	engine := newEngine(db)
	product1, err := store.UpsertVendorProduct(ctx, db, engine, store.UpsertVendorProductRequest{
		VendorID:    vendor.ID,
		ProductCode: "CHK-BREAST-500G",
		Name:        "Breast 500g",
		Category:    "Chicken",
		VendorPrice: decimal.NewFromFloat(78.40),
		Active:      true,
	})
	if err != nil {
		t.Fatalf("Upsert product 1: %v", err)
	}
	product2, err := store.UpsertVendorProduct(ctx, db, engine, store.UpsertVendorProductRequest{
		VendorID:    vendor.ID,
		ProductCode: "CHK-WINGS-1KG",
		Name:        "Wings 1kg",
		Category:    "Chicken",
		VendorPrice: decimal.NewFromFloat(86.40),
		Active:      true,
	})
	if err != nil {
		t.Fatalf("Upsert product 2: %v", err)
	}

	return &orderFixture{
		customer: customer,
		vendor:   vendor,
		product1: product1,
		product2: product2,
		policy:   delivery.NewFlatPolicy(decimal.NewFromInt(49), decimal.NewFromInt(99)),
	}
}

func (f *orderFixture) createOrder(t *testing.T, db *sql.DB, submittedSubtotal decimal.Decimal) *models.Order {
	t.Helper()
	o, err := store.CreateOrder(context.Background(), db, f.policy, store.CreateOrderRequest{
		CustomerID:     f.customer.ID,
		VendorID:       f.vendor.ID,
		DeliveryOption: models.DeliveryOptionDelivery,
		Items: []store.OrderItemRequest{
			{ProductID: f.product1.ID, Quantity: 2},
			{ProductID: f.product2.ID, Quantity: 1},
		},
		Subtotal: submittedSubtotal,
	})
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}
	return o
}

type captureNotifier struct {
	mu     sync.Mutex
	events []order.Event
}

func (n *captureNotifier) OrderTransition(ctx context.Context, event order.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func TestCreateOrder(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	f := setupOrderFixture(t, db)
	o := f.createOrder(t, db, decimal.NewFromInt(304))

	if o.Status != models.OrderStatusPending {
		t.Errorf("Expected status pending, got %s", o.Status)
	}
	if o.PaymentStatus != models.PaymentStatusPending {
		t.Errorf("Expected payment status pending, got %s", o.PaymentStatus)
	}
	if !o.Subtotal.Equal(decimal.NewFromInt(304)) {
		t.Errorf("Expected subtotal 304, got %s", o.Subtotal)
	}
	if !o.DeliveryFee.Equal(decimal.NewFromInt(49)) {
		t.Errorf("Expected delivery fee 49, got %s", o.DeliveryFee)
	}
	if !o.Total.Equal(o.Subtotal.Add(o.DeliveryFee)) {
		t.Errorf("Total %s != subtotal %s + fee %s", o.Total, o.Subtotal, o.DeliveryFee)
	}
	if len(o.Items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(o.Items))
	}
	if !o.Items[0].UnitPrice.Equal(decimal.NewFromInt(98)) {
		t.Errorf("Expected snapshot price 98, got %s", o.Items[0].UnitPrice)
	}
	if !o.Items[1].UnitPrice.Equal(decimal.NewFromInt(108)) {
		t.Errorf("Expected snapshot price 108, got %s", o.Items[1].UnitPrice)
	}
}

func TestCreateOrderTotalsMismatch(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	f := setupOrderFixture(t, db)
	ctx := context.Background()

	_, err := store.CreateOrder(ctx, db, f.policy, store.CreateOrderRequest{
		CustomerID:     f.customer.ID,
		VendorID:       f.vendor.ID,
		DeliveryOption: models.DeliveryOptionDelivery,
		Items: []store.OrderItemRequest{
			{ProductID: f.product1.ID, Quantity: 2},
			{ProductID: f.product2.ID, Quantity: 1},
		},
		Subtotal: decimal.NewFromInt(300),
	})
	if !errors.Is(err, order.ErrTotalsMismatch) {
		t.Fatalf("Expected ErrTotalsMismatch, got %v", err)
	}

	// the rejected order must leave nothing behind
	admin := models.Actor{ID: 0, Role: models.RoleAdmin}
	page, err := store.ListOrdersCursor(ctx, db, admin, "", 10)
	if err != nil {
		t.Fatalf("List orders: %v", err)
	}
	if orders := page.Items.([]models.Order); len(orders) != 0 {
		t.Errorf("Expected no persisted orders, got %d", len(orders))
	}
}

func TestOrderPricesAreSnapshots(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	f := setupOrderFixture(t, db)
	ctx := context.Background()

	o := f.createOrder(t, db, decimal.NewFromInt(304))

	// margin change reprices the catalog but never existing orders
	if _, err := store.SetCategoryMargin(ctx, db, "Chicken", decimal.NewFromInt(50), true); err != nil {
		t.Fatalf("Update margin: %v", err)
	}

	product, err := store.GetVendorProduct(ctx, db, f.product1.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if !product.FinalPrice.Equal(decimal.NewFromFloat(117.60)) {
		t.Errorf("Expected repriced product at 117.60, got %s", product.FinalPrice)
	}

	reloaded, err := store.GetOrder(ctx, db, o.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if !reloaded.Items[0].UnitPrice.Equal(decimal.NewFromInt(98)) {
		t.Errorf("Snapshot price changed to %s", reloaded.Items[0].UnitPrice)
	}
	if !reloaded.Subtotal.Equal(decimal.NewFromInt(304)) {
		t.Errorf("Order subtotal changed to %s", reloaded.Subtotal)
	}
}

func TestTransitionChainAndEvents(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	f := setupOrderFixture(t, db)
	ctx := context.Background()
	notifier := &captureNotifier{}

	o := f.createOrder(t, db, decimal.NewFromInt(304))

	chain := []models.OrderStatus{
		models.OrderStatusConfirmed,
		models.OrderStatusPreparing,
		models.OrderStatusOutForDelivery,
		models.OrderStatusDelivered,
	}

	prev := o
	for _, next := range chain {
		updated, err := store.TransitionOrder(ctx, db, notifier, o.ID, next, f.vendorActor(), "")
		if err != nil {
			t.Fatalf("Transition to %s: %v", next, err)
		}
		if updated.Status != next {
			t.Errorf("Expected status %s, got %s", next, updated.Status)
		}
		if updated.UpdatedAt.Before(prev.UpdatedAt) {
			t.Errorf("updated_at went backwards: %s before %s", updated.UpdatedAt, prev.UpdatedAt)
		}
		if updated.Version != prev.Version+1 {
			t.Errorf("Expected version %d, got %d", prev.Version+1, updated.Version)
		}
		if !updated.Total.Equal(updated.Subtotal.Add(updated.DeliveryFee)) {
			t.Errorf("Total invariant broken after %s", next)
		}
		prev = updated
	}

	if len(notifier.events) != len(chain) {
		t.Fatalf("Expected %d events, got %d", len(chain), len(notifier.events))
	}
	if notifier.events[0].FromStatus != models.OrderStatusPending ||
		notifier.events[0].ToStatus != models.OrderStatusConfirmed {
		t.Errorf("Unexpected first event: %+v", notifier.events[0])
	}

	_, err := store.TransitionOrder(ctx, db, notifier, o.ID, models.OrderStatusCancelled, f.vendorActor(), "too late")
	if !errors.Is(err, order.ErrInvalidTransition) {
		t.Errorf("Cancel after delivery: expected ErrInvalidTransition, got %v", err)
	}
}

func TestTransitionSkipRejected(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	f := setupOrderFixture(t, db)
	o := f.createOrder(t, db, decimal.NewFromInt(304))

	_, err := store.TransitionOrder(context.Background(), db, nil, o.ID, models.OrderStatusDelivered, f.vendorActor(), "")
	if !errors.Is(err, order.ErrInvalidTransition) {
		t.Fatalf("Expected ErrInvalidTransition, got %v", err)
	}

	reloaded, err := store.GetOrder(context.Background(), db, o.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if reloaded.Status != models.OrderStatusPending {
		t.Errorf("Rejected transition mutated status to %s", reloaded.Status)
	}
}

func TestCustomerCancellation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	f := setupOrderFixture(t, db)
	ctx := context.Background()

	o := f.createOrder(t, db, decimal.NewFromInt(304))

	cancelled, err := store.TransitionOrder(ctx, db, nil, o.ID, models.OrderStatusCancelled, f.customerActor(), "changed my mind")
	if err != nil {
		t.Fatalf("Customer cancel pending: %v", err)
	}
	if cancelled.Status != models.OrderStatusCancelled {
		t.Errorf("Expected cancelled, got %s", cancelled.Status)
	}
	if cancelled.CancelReason != "changed my mind" {
		t.Errorf("Expected cancel reason, got %q", cancelled.CancelReason)
	}
}

func TestConcurrentConfirm(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	f := setupOrderFixture(t, db)
	ctx := context.Background()

	o := f.createOrder(t, db, decimal.NewFromInt(304))

	concurrency := 2
	var wg sync.WaitGroup
	results := make(chan error, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.TransitionOrder(ctx, db, nil, o.ID, models.OrderStatusConfirmed, f.vendorActor(), "")
			results <- err
		}()
	}

	wg.Wait()
	close(results)

	successCount := 0
	for err := range results {
		switch {
		case err == nil:
			successCount++
		case errors.Is(err, database.ErrConflict):
		case errors.Is(err, order.ErrInvalidTransition):
			// the loser read after the winner's commit and saw the
			// already-confirmed order; either way it mutated nothing
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}

	if successCount != 1 {
		t.Errorf("Expected exactly 1 successful confirm, got %d", successCount)
	}

	reloaded, err := store.GetOrder(ctx, db, o.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if reloaded.Status != models.OrderStatusConfirmed {
		t.Errorf("Expected confirmed, got %s", reloaded.Status)
	}
	if reloaded.Version != 2 {
		t.Errorf("Expected exactly one version bump, got version %d", reloaded.Version)
	}
}

func TestPaymentStatusFlow(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	f := setupOrderFixture(t, db)
	ctx := context.Background()

	o := f.createOrder(t, db, decimal.NewFromInt(304))

	paid, err := store.SetPaymentStatus(ctx, db, o.ID, models.PaymentStatusPaid)
	if err != nil {
		t.Fatalf("Mark paid: %v", err)
	}
	if paid.PaymentStatus != models.PaymentStatusPaid {
		t.Errorf("Expected paid, got %s", paid.PaymentStatus)
	}

	// refund requires a cancelled order
	_, err = store.SetPaymentStatus(ctx, db, o.ID, models.PaymentStatusRefunded)
	if !errors.Is(err, order.ErrInvalidPaymentTransition) {
		t.Errorf("Refund on live order: expected ErrInvalidPaymentTransition, got %v", err)
	}

	if _, err := store.TransitionOrder(ctx, db, nil, o.ID, models.OrderStatusCancelled, f.vendorActor(), "out of stock"); err != nil {
		t.Fatalf("Vendor cancel: %v", err)
	}

	refunded, err := store.SetPaymentStatus(ctx, db, o.ID, models.PaymentStatusRefunded)
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if refunded.PaymentStatus != models.PaymentStatusRefunded {
		t.Errorf("Expected refunded, got %s", refunded.PaymentStatus)
	}
}

func TestListOrdersScopedByActor(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	f := setupOrderFixture(t, db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.createOrder(t, db, decimal.NewFromInt(304))
	}

	page, err := store.ListOrdersCursor(ctx, db, f.customerActor(), "", 10)
	if err != nil {
		t.Fatalf("List as customer: %v", err)
	}
	if orders := page.Items.([]models.Order); len(orders) != 3 {
		t.Errorf("Customer should see 3 orders, got %d", len(orders))
	}

	stranger := models.Actor{ID: 9999, Role: models.RoleVendor}
	page, err = store.ListOrdersCursor(ctx, db, stranger, "", 10)
	if err != nil {
		t.Fatalf("List as stranger: %v", err)
	}
	if orders := page.Items.([]models.Order); len(orders) != 0 {
		t.Errorf("Foreign vendor should see no orders, got %d", len(orders))
	}
}
