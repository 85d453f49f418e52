package paymob

import (
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Transaction is the subset of a Paymob transaction notification that drives
// purchase reconciliation.
type Transaction struct {
	ID              string
	Success         bool
	Pending         bool
	OrderID         string
	MerchantOrderID string
	AmountCents     string
}

// ParseTransaction extracts a Transaction from a webhook "obj" payload.
func ParseTransaction(obj map[string]any) Transaction {
	get := func(path string) string {
		v, _ := Lookup(obj, path)
		return Stringify(v)
	}
	return Transaction{
		ID:              get("id"),
		Success:         get("success") == "true",
		Pending:         get("pending") == "true",
		OrderID:         get("order.id"),
		MerchantOrderID: get("order.merchant_order_id"),
		AmountCents:     get("amount_cents"),
	}
}

// ParseCallback extracts a Transaction from the browser redirect query.
func ParseCallback(q url.Values) Transaction {
	return Transaction{
		ID:              q.Get("id"),
		Success:         q.Get("success") == "true",
		Pending:         q.Get("pending") == "true",
		OrderID:         q.Get("order"),
		MerchantOrderID: q.Get("merchant_order_id"),
		AmountCents:     q.Get("amount_cents"),
	}
}

// PurchaseID parses the purchase id out of a merchant order id of the form
// "{purchaseId}_{timestamp}". Purchase ids are UUIDs and never contain '_'.
func (t Transaction) PurchaseID() (uuid.UUID, bool) {
	if t.MerchantOrderID == "" {
		return uuid.Nil, false
	}
	prefix, _, _ := strings.Cut(t.MerchantOrderID, "_")
	id, err := uuid.Parse(prefix)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
