package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleCustomer   Role = "customer"
	RoleVendor     Role = "vendor"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Actor is the resolved identity of the caller, produced once per request
// from a verified session token and passed explicitly into core operations.
type Actor struct {
	ID   int64 `json:"id"`
	Role Role  `json:"role"`
}

// Admin reports whether the actor holds an administrative role.
func (a Actor) Admin() bool {
	return a.Role == RoleAdmin || a.Role == RoleSuperAdmin
}

type User struct {
	ID        int64     `json:"id"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// CategoryMargin is the admin-controlled markup applied on top of vendor
// prices for one product category. Inactive margins must not be applied.
type CategoryMargin struct {
	Category         string          `json:"category"`
	MarginPercentage decimal.Decimal `json:"margin_percentage"`
	Active           bool            `json:"active"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// VendorProduct is a vendor's listing. FinalPrice is always derived from
// VendorPrice and the category margin, never edited directly.
type VendorProduct struct {
	ID          int64           `json:"id"`
	VendorID    int64           `json:"vendor_id"`
	ProductCode string          `json:"product_code"`
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	VendorPrice decimal.Decimal `json:"vendor_price"`
	FinalPrice  decimal.Decimal `json:"final_price"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Version     int             `json:"version"`
}

type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusConfirmed      OrderStatus = "confirmed"
	OrderStatusPreparing      OrderStatus = "preparing"
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

type DeliveryOption string

const (
	DeliveryOptionDelivery DeliveryOption = "delivery"
	DeliveryOptionExpress  DeliveryOption = "express"
	DeliveryOptionPickup   DeliveryOption = "pickup"
)

// Order is created once at checkout with snapshotted item prices and is
// never physically deleted. Total == Subtotal + DeliveryFee at all times.
type Order struct {
	ID             string          `json:"id"`
	CustomerID     int64           `json:"customer_id"`
	VendorID       int64           `json:"vendor_id"`
	DeliveryOption DeliveryOption  `json:"delivery_option"`
	Status         OrderStatus     `json:"status"`
	PaymentStatus  PaymentStatus   `json:"payment_status"`
	CancelReason   string          `json:"cancel_reason,omitempty"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DeliveryFee    decimal.Decimal `json:"delivery_fee"`
	Total          decimal.Decimal `json:"total"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Version        int             `json:"version"`
	Items          []OrderItem     `json:"items,omitempty"`
}

// OrderItem carries the name and unit price snapshotted at order creation;
// later product or margin changes never touch it.
type OrderItem struct {
	ID        int64           `json:"id"`
	OrderID   string          `json:"order_id"`
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}
