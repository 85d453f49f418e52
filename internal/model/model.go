package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type User struct {
	ID        uuid.UUID
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

const (
	RoleAdmin    = "admin"
	RoleCustomer = "customer"
)

func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Email
	}
}

type Product struct {
	ID        uuid.UUID
	Name      string
	Price     decimal.Decimal
	Variants  []Variant
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Variant is a size/color combination of a product with its own stock.
// Quantity never goes below zero.
type Variant struct {
	ID       uuid.UUID
	Color    string
	Size     string
	SKU      string
	Quantity int
}

func (p *Product) Variant(id uuid.UUID) (*Variant, bool) {
	for i := range p.Variants {
		if p.Variants[i].ID == id {
			return &p.Variants[i], true
		}
	}
	return nil, false
}

type OrderState string

const (
	OrderStatePending    OrderState = "Pending"
	OrderStateProcessing OrderState = "Processing"
	OrderStateShipped    OrderState = "Shipped"
	OrderStateDelivered  OrderState = "Delivered"
	OrderStateCancelled  OrderState = "Cancelled"
)

func (s OrderState) Valid() bool {
	switch s {
	case OrderStatePending, OrderStateProcessing, OrderStateShipped, OrderStateDelivered, OrderStateCancelled:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
	PaymentMethodPaymob         PaymentMethod = "paymob"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodCashOnDelivery || m == PaymentMethodPaymob
}

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// Address is the inline shipping address snapshot stored on guest orders.
type Address struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state,omitempty"`
}

type Order struct {
	ID                  uuid.UUID
	UserID              *uuid.UUID
	AddressID           *uuid.UUID
	Address             *Address
	Items               []OrderItem
	TotalPrice          decimal.Decimal
	ShippingFee         decimal.Decimal
	PromoCode           string
	DiscountAmount      decimal.Decimal
	DiscountPercentage  decimal.Decimal
	State               OrderState
	PaymentMethod       PaymentMethod
	PaymentStatus       PaymentStatus
	PaymobOrderID       string
	PaymobTransactionID string
	TrackingNumber      string
	ShippedAt           *time.Time
	DeliveredAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// OrderItem captures the line as charged: Price is a snapshot taken at order
// time, not a reference to the live product price.
type OrderItem struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	ProductID uuid.UUID
	VariantID *uuid.UUID
	Size      string
	Color     string
	SKU       string
	Quantity  int
	Price     decimal.Decimal
}

var (
	ErrOrderWithoutItems   = errors.New("order must contain at least one item")
	ErrAddressNotExclusive = errors.New("exactly one of addressId or address must be set")
	ErrInvalidItemQuantity = errors.New("item quantity must be at least 1")
	ErrInvalidItemPrice    = errors.New("item price must not be negative")
)

// Validate checks the structural invariants of an order before it is persisted.
func (o *Order) Validate() error {
	if len(o.Items) == 0 {
		return ErrOrderWithoutItems
	}
	if (o.AddressID == nil) == (o.Address == nil) {
		return ErrAddressNotExclusive
	}
	for _, item := range o.Items {
		if item.Quantity < 1 {
			return ErrInvalidItemQuantity
		}
		if item.Price.IsNegative() {
			return ErrInvalidItemPrice
		}
	}
	return nil
}

type PurchaseStatus string

const (
	PurchaseStatusPending PurchaseStatus = "pending"
	PurchaseStatusActive  PurchaseStatus = "active"
)

// Purchase records ownership of a digital template. PaymentStatus moves from
// pending to paid or failed; it is finalized only by payment reconciliation.
type Purchase struct {
	ID                  uuid.UUID
	UserID              uuid.UUID
	TemplateID          uuid.UUID
	Price               decimal.Decimal
	PaymentStatus       PaymentStatus
	Status              PurchaseStatus
	PaymobOrderID       string
	PaymobTransactionID string
	DownloadCount       int
	LastDownloadedAt    *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type Template struct {
	ID            uuid.UUID
	Title         string
	Price         decimal.Decimal
	PurchaseCount int
	CreatedAt     time.Time
}

// NewOrderEvent is the payload broadcast after an order commits.
type NewOrderEvent struct {
	OrderID       uuid.UUID       `json:"orderId"`
	CustomerName  string          `json:"customerName"`
	CustomerEmail string          `json:"customerEmail,omitempty"`
	CustomerPhone string          `json:"customerPhone,omitempty"`
	TotalPrice    decimal.Decimal `json:"totalPrice"`
	OrderState    OrderState      `json:"orderState"`
	PaymentStatus PaymentStatus   `json:"paymentStatus"`
	CreatedAt     time.Time       `json:"createdAt"`
}
