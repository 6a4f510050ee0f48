package domain

import "time"

// All monetary values are integer cents. Arithmetic on derived balances must
// reconcile exactly with the sum of assigned items, so floats are out.

// Tab is a bill-in-progress for a customer, composed of line items.
// Every tab belongs to one merchant.
type Tab struct {
	ID           string    `json:"id"`
	MerchantID   string    `json:"merchant_id"`
	CustomerName string    `json:"customer_name,omitempty"`
	Currency     string    `json:"currency"`
	Status       string    `json:"status"` // open, closed
	CreatedAt    time.Time `json:"created_at"`
}

// LineItem is one chargeable entry on a tab. BillingGroupID is nil while the
// item is unassigned. Metadata may carry a "category" key and arbitrary
// custom keys consulted by rule conditions.
type LineItem struct {
	ID             string            `json:"id"`
	TabID          string            `json:"tab_id"`
	Description    string            `json:"description"`
	Quantity       int64             `json:"quantity"`
	UnitPriceCents int64             `json:"unit_price_cents"`
	TotalCents     int64             `json:"total_cents"`
	BillingGroupID *string           `json:"billing_group_id,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Category returns the item's category metadata, or "" when absent.
func (li *LineItem) Category() string {
	return li.Metadata["category"]
}

// Merchant is an account that owns tabs and collects payments.
type Merchant struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// APIKey is a server-to-server credential for a merchant. Only the SHA-256
// hash is stored; the plaintext key is returned once at creation.
type APIKey struct {
	ID         string    `json:"id"`
	MerchantID string    `json:"merchant_id"`
	KeyHash    string    `json:"-"`
	Label      string    `json:"label,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
