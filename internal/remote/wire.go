package remote

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/fjod/go_cart/cartsync/internal/domain"
)

// ID accepts both numeric and string identifiers on the wire.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

type Envelope[T any] struct {
	Data T `json:"data"`
}

type CartEntry struct {
	ID         ID             `json:"id"`
	Attributes CartAttributes `json:"attributes"`
}

type CartAttributes struct {
	Quantity  int          `json:"quantity"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
	Product   *ProductRef  `json:"product,omitempty"`
	Customer  *CustomerRef `json:"customer,omitempty"`
}

type ProductRef struct {
	Data *ProductEntry `json:"data"`
}

type ProductEntry struct {
	ID         ID                 `json:"id"`
	Attributes *ProductAttributes `json:"attributes,omitempty"`
}

// ProductAttributes carries the catalog fields as the content API returns them; the price
// is a formatted display string.
type ProductAttributes struct {
	Name     string          `json:"name" yaml:"name"`
	Price    string          `json:"price" yaml:"price"`
	Currency string          `json:"currency,omitempty" yaml:"currency"`
	Image    *Media          `json:"image,omitempty" yaml:"-"`
	Features domain.Features `json:"features" yaml:"features"`
}

type Media struct {
	Data []MediaEntry `json:"data"`
}

type MediaEntry struct {
	Attributes struct {
		URL string `json:"url"`
	} `json:"attributes"`
}

type CustomerRef struct {
	Data *CustomerEntry `json:"data"`
}

type CustomerEntry struct {
	ID         ID                 `json:"id"`
	Attributes CustomerAttributes `json:"attributes"`
}

// CustomerAttributes.Slug holds the authentication provider's user id.
type CustomerAttributes struct {
	Slug string `json:"slug"`
}

type CreateCartBody struct {
	Customer string `json:"customer"`
	Product  string `json:"product"`
	Quantity int    `json:"quantity"`
}

type UpdateCartBody struct {
	Quantity int `json:"quantity"`
}

// Record maps a wire entry to the domain record. Unparseable prices become zero.
func (e CartEntry) Record() domain.RemoteRecord {
	rec := domain.RemoteRecord{
		ID:        string(e.ID),
		Quantity:  e.Attributes.Quantity,
		CreatedAt: e.Attributes.CreatedAt,
		UpdatedAt: e.Attributes.UpdatedAt,
	}
	if c := e.Attributes.Customer; c != nil && c.Data != nil {
		rec.CustomerID = c.Data.Attributes.Slug
	}
	if p := e.Attributes.Product; p != nil && p.Data != nil {
		rec.ProductID = string(p.Data.ID)
		if p.Data.Attributes != nil {
			product := p.Data.Attributes.Product(rec.ProductID)
			rec.Product = &product
		}
	}
	return rec
}

func (a ProductAttributes) Product(id string) domain.Product {
	price, _ := domain.ParsePrice(a.Price)
	p := domain.Product{
		ID:       id,
		Name:     a.Name,
		Price:    price,
		Currency: a.Currency,
		Features: a.Features,
	}
	if a.Image != nil && len(a.Image.Data) > 0 {
		p.ImageURL = a.Image.Data[0].Attributes.URL
	}
	return p
}

// EntryFromRecord builds the wire form of a record. Relations are only embedded when
// requested, mirroring populate semantics.
func EntryFromRecord(rec domain.RemoteRecord, product *ProductAttributes, withProduct, withCustomer bool) CartEntry {
	e := CartEntry{
		ID: ID(rec.ID),
		Attributes: CartAttributes{
			Quantity:  rec.Quantity,
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
		},
	}
	if withProduct {
		e.Attributes.Product = &ProductRef{Data: &ProductEntry{ID: ID(rec.ProductID), Attributes: product}}
	}
	if withCustomer {
		e.Attributes.Customer = &CustomerRef{Data: &CustomerEntry{
			ID:         ID(rec.CustomerID),
			Attributes: CustomerAttributes{Slug: rec.CustomerID},
		}}
	}
	return e
}

// FormatPrice renders minor units the way the content API does.
func FormatPrice(m domain.Money, currency string) string {
	if currency == "" {
		return m.String()
	}
	return m.String() + " " + currency
}
