package domain

import "time"

// Product is the denormalized catalog snapshot kept on a cart line.
type Product struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Price    Money    `json:"price"`
	Currency string   `json:"currency,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
	Features Features `json:"features"`
}

type Features struct {
	Color   string `json:"color,omitempty"`
	Storage string `json:"storage,omitempty"`
	RAM     string `json:"ram,omitempty"`
}

type LineItem struct {
	Product   Product   `json:"product"`
	Quantity  int       `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (i LineItem) Subtotal() Money {
	return i.Product.Price.Mul(i.Quantity)
}

// RemoteRecord is one server-persisted cart row linking a customer to a product.
type RemoteRecord struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	ProductID  string    `json:"product_id"`
	Quantity   int       `json:"quantity"`
	Product    *Product  `json:"product,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Matches reports whether the record is the (customer, product) row. Both ids must be
// equal; an empty customer never matches.
func (r RemoteRecord) Matches(customerID, productID string) bool {
	return customerID != "" && r.CustomerID == customerID && r.ProductID == productID
}

// FindRecord returns the first record owned by customerID for productID.
func FindRecord(records []RemoteRecord, customerID, productID string) (RemoteRecord, bool) {
	for _, r := range records {
		if r.Matches(customerID, productID) {
			return r, true
		}
	}
	return RemoteRecord{}, false
}

// OwnedBy filters records down to the ones whose customer reference equals customerID.
func OwnedBy(records []RemoteRecord, customerID string) []RemoteRecord {
	out := make([]RemoteRecord, 0, len(records))
	for _, r := range records {
		if customerID != "" && r.CustomerID == customerID {
			out = append(out, r)
		}
	}
	return out
}
