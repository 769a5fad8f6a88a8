// Package catalog loads the product data the reference cart server embeds when a client
// asks for populate=product.
package catalog

import (
	"fmt"
	"os"

	"github.com/fjod/go_cart/cartsync/internal/domain"
	"github.com/fjod/go_cart/cartsync/internal/remote"
	"gopkg.in/yaml.v3"
)

type entry struct {
	remote.ProductAttributes `yaml:",inline"`
	ImageURL                 string `yaml:"image_url"`
}

type file struct {
	Products map[string]entry `yaml:"products"`
}

type Catalog struct {
	products map[string]remote.ProductAttributes
}

// Empty returns a catalog without products; populated relations then carry only ids.
func Empty() *Catalog {
	return &Catalog{products: map[string]remote.ProductAttributes{}}
}

func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse reads a YAML document of the form products: {<id>: {name, price, ...}}. Prices
// must be parseable display strings.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{products: make(map[string]remote.ProductAttributes, len(f.Products))}
	for id, e := range f.Products {
		if _, err := domain.ParsePrice(e.Price); err != nil {
			return nil, fmt.Errorf("product %s: %w", id, err)
		}
		attrs := e.ProductAttributes
		if e.ImageURL != "" {
			media := &remote.Media{Data: make([]remote.MediaEntry, 1)}
			media.Data[0].Attributes.URL = e.ImageURL
			attrs.Image = media
		}
		c.products[id] = attrs
	}
	return c, nil
}

// Lookup returns a copy of the product attributes for id.
func (c *Catalog) Lookup(id string) (*remote.ProductAttributes, bool) {
	attrs, ok := c.products[id]
	if !ok {
		return nil, false
	}
	return &attrs, true
}

func (c *Catalog) Len() int {
	return len(c.products)
}
