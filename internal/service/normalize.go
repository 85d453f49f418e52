package service

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flicky/template-storefront/internal/dto"
	"github.com/flicky/template-storefront/internal/model"
)

// NormalizeItems turns raw client cart lines into order items. Lines without
// a usable product id are dropped; quantity defaults to 1 and price to 0.
// It fails when a quantity is too large to store or when nothing usable is
// left.
func NormalizeItems(raw []dto.OrderItemInput) ([]model.OrderItem, error) {
	items := make([]model.OrderItem, 0, len(raw))
	for i, in := range raw {
		if in.Quantity.OutOfRange || (!in.Quantity.Valid && in.QuantityInCart.OutOfRange) {
			return nil, NewValidationError(ErrQuantityOutOfRange, FieldError{
				Path:    fmt.Sprintf("products[%d].quantity", i),
				Message: ErrQuantityOutOfRange.Error(),
				Code:    "too_big",
			})
		}

		productID, ok := firstUUID(in.ProductID, in.Product, in.ID)
		if !ok {
			continue
		}

		item := model.OrderItem{
			ProductID: productID,
			Size:      firstString(in.Size, in.SelectedSize),
			Color:     firstString(in.Color, in.SelectedColor),
			SKU:       string(in.SKU),
			Quantity:  1,
			Price:     decimal.Zero,
		}
		if variantID, ok := firstUUID(in.VariantID, in.Variant); ok {
			item.VariantID = &variantID
		}
		switch {
		case in.Quantity.Valid:
			item.Quantity = in.Quantity.Value
		case in.QuantityInCart.Valid:
			item.Quantity = in.QuantityInCart.Value
		}
		if item.Quantity < 1 {
			item.Quantity = 1
		}
		if in.Price.Valid && !in.Price.Value.IsNegative() {
			item.Price = in.Price.Value
		}
		items = append(items, item)
	}

	if len(items) == 0 {
		return nil, NewValidationError(ErrNoValidProducts, FieldError{
			Path:    "products",
			Message: fmt.Sprintf("none of the %d submitted items references a valid product", len(raw)),
			Code:    "invalid_products",
		})
	}
	return items, nil
}

func firstUUID(candidates ...dto.FlexID) (uuid.UUID, bool) {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if id, err := uuid.Parse(string(c)); err == nil && id != uuid.Nil {
			return id, true
		}
	}
	return uuid.Nil, false
}

func firstString(candidates ...dto.FlexString) string {
	for _, c := range candidates {
		if c != "" {
			return string(c)
		}
	}
	return ""
}
