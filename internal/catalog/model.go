// Package catalog holds the entity graph produced from a supplier feed,
// the run-scoped identity maps shared by the transform and load phases,
// and the error taxonomy used across the ingestion pipeline.
package catalog

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SyncType selects how the loader treats rows that already exist.
type SyncType string

const (
	// SyncFull rewrites every existing row.
	SyncFull SyncType = "full"
	// SyncIncremental skips rows whose content hash is unchanged.
	SyncIncremental SyncType = "incremental"
)

// Category is one node of the category tree. IDs are derived from the
// category path so the same path always maps to the same row.
type Category struct {
	ID       uuid.UUID
	Name     string
	Path     string
	ParentID uuid.NullUUID
	Depth    int
}

// Producer is keyed by name.
type Producer struct {
	Name string
}

// Unit is a unit of sale keyed by its supplier code.
type Unit struct {
	Code string
	Name string
	MOQ  int
}

// Product references its producer, unit and category by natural key;
// the loader resolves surrogate ids at write time.
type Product struct {
	Code             string
	Name             string
	DescriptionShort string
	DescriptionLong  string
	EAN              string // empty when absent or invalid
	Producer         string
	Unit             string
	CategoryID       uuid.NullUUID
	VAT              decimal.Decimal
	URL              string // empty when absent or invalid
}

// Variant is a sellable variation of a product (size, colour, pack).
type Variant struct {
	Code        string
	ProductCode string
	Weight      decimal.NullDecimal
	GrossWeight decimal.NullDecimal
	EAN         string
}

// Stock is the availability of one variant.
type Stock struct {
	VariantCode      string
	Quantity         int64
	Available        bool
	MinOrderQuantity int64 // 0 means unset
	MaxOrderQuantity int64 // 0 means unset
}

// Price is the unified price record of one variant.
type Price struct {
	VariantCode string
	Gross       decimal.Decimal
	Net         decimal.Decimal
	SRPGross    decimal.NullDecimal
	SRPNet      decimal.NullDecimal
	Currency    string
	VAT         decimal.Decimal
}

// Image is a product image URL with its position in the feed.
type Image struct {
	ProductCode string
	URL         string
	Position    int
}

// Graph is the full in-memory result of transforming one feed.
type Graph struct {
	Categories []Category
	Producers  []Producer
	Units      []Unit
	Products   []Product
	Variants   []Variant
	Stock      []Stock
	Prices     []Price
	Images     []Image
}

// MaxCategoryDepth returns the deepest category level in the graph.
func (g *Graph) MaxCategoryDepth() int {
	depth := 0
	for _, c := range g.Categories {
		if c.Depth > depth {
			depth = c.Depth
		}
	}
	return depth
}

// CategoriesAt returns the categories at the given depth, in insertion order.
func (g *Graph) CategoriesAt(depth int) []Category {
	var out []Category
	for _, c := range g.Categories {
		if c.Depth == depth {
			out = append(out, c)
		}
	}
	return out
}

// RemoveProduct drops a product and everything hanging off it.
// Used when a later feed record replaces an earlier one with the same code.
func (g *Graph) RemoveProduct(code string) {
	products := g.Products[:0]
	for _, p := range g.Products {
		if p.Code != code {
			products = append(products, p)
		}
	}
	g.Products = products

	dropped := make(map[string]struct{})
	variants := g.Variants[:0]
	for _, v := range g.Variants {
		if v.ProductCode == code {
			dropped[v.Code] = struct{}{}
			continue
		}
		variants = append(variants, v)
	}
	g.Variants = variants

	stock := g.Stock[:0]
	for _, s := range g.Stock {
		if _, ok := dropped[s.VariantCode]; !ok {
			stock = append(stock, s)
		}
	}
	g.Stock = stock

	prices := g.Prices[:0]
	for _, p := range g.Prices {
		if _, ok := dropped[p.VariantCode]; !ok {
			prices = append(prices, p)
		}
	}
	g.Prices = prices

	images := g.Images[:0]
	for _, img := range g.Images {
		if img.ProductCode != code {
			images = append(images, img)
		}
	}
	g.Images = images
}

// Counts returns the number of entities per table name.
func (g *Graph) Counts() map[string]int {
	return map[string]int{
		"category": len(g.Categories),
		"producer": len(g.Producers),
		"unit":     len(g.Units),
		"product":  len(g.Products),
		"variant":  len(g.Variants),
		"stock":    len(g.Stock),
		"price":    len(g.Prices),
		"image":    len(g.Images),
	}
}
