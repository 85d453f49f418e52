package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flicky/template-storefront/internal/model"
)

// --- Auth ---

type RegisterRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name" binding:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type AuthResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      UserResponse `json:"user"`
}

type UserResponse struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Role      string    `json:"role"`
}

// --- Order ---

type AddressRequest struct {
	Name    string `json:"name" binding:"required"`
	Phone   string `json:"phone" binding:"required"`
	Address string `json:"address" binding:"required"`
	City    string `json:"city" binding:"required"`
	State   string `json:"state"`
}

// OrderItemInput accepts the several shapes storefront clients send for a
// cart line. Normalization picks the first usable value of each field.
type OrderItemInput struct {
	Product        FlexID      `json:"product"`
	ProductID      FlexID      `json:"productId"`
	ID             FlexID      `json:"_id"`
	Variant        FlexID      `json:"variant"`
	VariantID      FlexID      `json:"variantId"`
	Size           FlexString  `json:"size"`
	SelectedSize   FlexString  `json:"selectedSize"`
	Color          FlexString  `json:"color"`
	SelectedColor  FlexString  `json:"selectedColor"`
	SKU            FlexString  `json:"sku"`
	Quantity       FlexInt     `json:"quantity"`
	QuantityInCart FlexInt     `json:"quantityInCart"`
	Price          FlexDecimal `json:"price"`
}

type CreateOrderRequest struct {
	UserID              *uuid.UUID       `json:"userId"`
	AddressID           *uuid.UUID       `json:"addressId"`
	Address             *AddressRequest  `json:"address"`
	Products            []OrderItemInput `json:"products" binding:"required"`
	TotalPrice          FlexDecimal      `json:"totalPrice"`
	ShippingFee         FlexDecimal      `json:"shippingFee"`
	PromoCode           string           `json:"promoCode"`
	DiscountAmount      FlexDecimal      `json:"discountAmount"`
	DiscountPercentage  FlexDecimal      `json:"discountPercentage"`
	PaymentMethod       string           `json:"paymentMethod"`
	PaymobOrderID       FlexString       `json:"paymobOrderId"`
	PaymobTransactionID FlexString       `json:"paymobTransactionId"`
}

type UpdateOrderStateRequest struct {
	State string `json:"orderState" binding:"required"`
}

type UpdatePaymentStatusRequest struct {
	PaymentStatus string `json:"paymentStatus" binding:"required"`
}

type OrderResponse struct {
	ID                  uuid.UUID           `json:"id"`
	UserID              *uuid.UUID          `json:"userId,omitempty"`
	AddressID           *uuid.UUID          `json:"addressId,omitempty"`
	Address             *model.Address      `json:"address,omitempty"`
	Items               []OrderItemResponse `json:"products"`
	TotalPrice          decimal.Decimal     `json:"totalPrice"`
	ShippingFee         decimal.Decimal     `json:"shippingFee"`
	PromoCode           string              `json:"promoCode,omitempty"`
	DiscountAmount      decimal.Decimal     `json:"discountAmount"`
	DiscountPercentage  decimal.Decimal     `json:"discountPercentage"`
	OrderState          model.OrderState    `json:"orderState"`
	PaymentMethod       model.PaymentMethod `json:"paymentMethod"`
	PaymentStatus       model.PaymentStatus `json:"paymentStatus"`
	PaymobOrderID       string              `json:"paymobOrderId,omitempty"`
	PaymobTransactionID string              `json:"paymobTransactionId,omitempty"`
	TrackingNumber      string              `json:"trackingNumber,omitempty"`
	ShippedAt           *time.Time          `json:"shippedAt,omitempty"`
	DeliveredAt         *time.Time          `json:"deliveredAt,omitempty"`
	CreatedAt           time.Time           `json:"createdAt"`
	UpdatedAt           time.Time           `json:"updatedAt"`
}

type OrderItemResponse struct {
	ProductID uuid.UUID       `json:"product"`
	VariantID *uuid.UUID      `json:"variantId,omitempty"`
	Size      string          `json:"size,omitempty"`
	Color     string          `json:"color,omitempty"`
	SKU       string          `json:"sku,omitempty"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

func ToOrderResponse(o *model.Order) OrderResponse {
	items := make([]OrderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemResponse{
			ProductID: it.ProductID, VariantID: it.VariantID,
			Size: it.Size, Color: it.Color, SKU: it.SKU,
			Quantity: it.Quantity, Price: it.Price,
		})
	}
	return OrderResponse{
		ID: o.ID, UserID: o.UserID, AddressID: o.AddressID, Address: o.Address,
		Items: items, TotalPrice: o.TotalPrice, ShippingFee: o.ShippingFee,
		PromoCode: o.PromoCode, DiscountAmount: o.DiscountAmount, DiscountPercentage: o.DiscountPercentage,
		OrderState: o.State, PaymentMethod: o.PaymentMethod, PaymentStatus: o.PaymentStatus,
		PaymobOrderID: o.PaymobOrderID, PaymobTransactionID: o.PaymobTransactionID,
		TrackingNumber: o.TrackingNumber, ShippedAt: o.ShippedAt, DeliveredAt: o.DeliveredAt,
		CreatedAt: o.CreatedAt, UpdatedAt: o.UpdatedAt,
	}
}

// --- Templates ---

type StartPurchaseResponse struct {
	PurchaseID      uuid.UUID       `json:"purchaseId"`
	MerchantOrderID string          `json:"merchantOrderId"`
	Price           decimal.Decimal `json:"price"`
	PaymentStatus   string          `json:"paymentStatus"`
}

type AttachPaymobOrderRequest struct {
	PaymobOrderID FlexString `json:"paymobOrderId" binding:"required"`
}

type PurchaseResponse struct {
	ID               uuid.UUID            `json:"id"`
	TemplateID       uuid.UUID            `json:"templateId"`
	Price            decimal.Decimal      `json:"price"`
	PaymentStatus    model.PaymentStatus  `json:"paymentStatus"`
	Status           model.PurchaseStatus `json:"status"`
	PaymobOrderID    string               `json:"paymobOrderId,omitempty"`
	DownloadCount    int                  `json:"downloadCount"`
	LastDownloadedAt *time.Time           `json:"lastDownloadedAt,omitempty"`
	CreatedAt        time.Time            `json:"createdAt"`
}

func ToPurchaseResponse(p *model.Purchase) PurchaseResponse {
	return PurchaseResponse{
		ID: p.ID, TemplateID: p.TemplateID, Price: p.Price,
		PaymentStatus: p.PaymentStatus, Status: p.Status, PaymobOrderID: p.PaymobOrderID,
		DownloadCount: p.DownloadCount, LastDownloadedAt: p.LastDownloadedAt,
		CreatedAt: p.CreatedAt,
	}
}

// --- Errors ---

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}
