package loader

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/catalogsync/internal/catalog"
)

// keySep joins the parts of a composite natural key.
const keySep = "\x1f"

// Row is one entity ready to be written. Values holds key values followed
// by value columns, in Table.AllColumns order minus the hash column.
// A nil value is written as NULL.
type Row struct {
	Key    []string
	Values []any
	Hash   string
}

// KeyString returns the natural key as a single string.
func (r Row) KeyString() string {
	return JoinKey(r.Key)
}

// JoinKey joins the parts of a natural key.
func JoinKey(parts []string) string {
	return strings.Join(parts, keySep)
}

// newRow builds a row for t. The hash covers the value columns only, so
// an unchanged entity hashes the same on every run.
func newRow(t *Table, values ...any) Row {
	nk := len(t.Key)
	if len(values) != nk+len(t.Columns) {
		panic(fmt.Sprintf("%s: got %d values, want %d", t.Name, len(values), nk+len(t.Columns)))
	}

	key := make([]string, nk)
	for i := 0; i < nk; i++ {
		key[i] = keyText(values[i])
	}

	h := sha256.New()
	for _, v := range values[nk:] {
		h.Write([]byte(hashText(v)))
		h.Write([]byte{0})
	}
	return Row{Key: key, Values: values, Hash: hex.EncodeToString(h.Sum(nil))}
}

// keyText renders a key value the way Postgres renders it as text.
func keyText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case uuid.UUID:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func hashText(v any) string {
	switch x := v.(type) {
	case nil:
		return "\x00null"
	case decimal.Decimal:
		return x.String()
	default:
		return keyText(v)
	}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullUUID(u uuid.NullUUID) any {
	if !u.Valid {
		return nil
	}
	return u.UUID
}

func nullDecimal(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal
}

func nullInt(i int64) any {
	if i == 0 {
		return nil
	}
	return i
}

// stage is one write step. Rows are built lazily because they reference
// surrogate ids resolved by earlier stages.
type stage struct {
	table *Table
	label string
	rows  func(rc *catalog.RunContext) ([]Row, error)
}

// stages returns the write plan for g: category levels from the root down,
// then producers, units, products, variants, stock, prices and images.
func stages(g *catalog.Graph) []stage {
	var out []stage

	category := mustGet(TableCategory)
	for depth := 0; depth <= g.MaxCategoryDepth(); depth++ {
		level := g.CategoriesAt(depth)
		if len(level) == 0 {
			continue
		}
		out = append(out, stage{
			table: category,
			label: fmt.Sprintf("%s[%d]", TableCategory, depth),
			rows: func(*catalog.RunContext) ([]Row, error) {
				rows := make([]Row, 0, len(level))
				for _, c := range level {
					rows = append(rows, newRow(category, c.ID, c.Name, c.Path, nullUUID(c.ParentID)))
				}
				return rows, nil
			},
		})
	}

	producer := mustGet(TableProducer)
	out = append(out, stage{table: producer, label: TableProducer,
		rows: func(*catalog.RunContext) ([]Row, error) {
			rows := make([]Row, 0, len(g.Producers))
			for _, p := range g.Producers {
				rows = append(rows, newRow(producer, p.Name))
			}
			return rows, nil
		},
	})

	unit := mustGet(TableUnit)
	out = append(out, stage{table: unit, label: TableUnit,
		rows: func(*catalog.RunContext) ([]Row, error) {
			rows := make([]Row, 0, len(g.Units))
			for _, u := range g.Units {
				rows = append(rows, newRow(unit, u.Code, u.Name, int64(u.MOQ)))
			}
			return rows, nil
		},
	})

	product := mustGet(TableProduct)
	out = append(out, stage{table: product, label: TableProduct,
		rows: func(rc *catalog.RunContext) ([]Row, error) {
			rows := make([]Row, 0, len(g.Products))
			for _, p := range g.Products {
				var producerID any
				if p.Producer != "" {
					id, ok := rc.ID(TableProducer, p.Producer)
					if !ok {
						return nil, fmt.Errorf("product %s: producer %q was not written", p.Code, p.Producer)
					}
					producerID = id
				}
				rows = append(rows, newRow(product,
					p.Code, p.Name,
					nullString(p.DescriptionShort), nullString(p.DescriptionLong),
					nullString(p.EAN), producerID, nullUUID(p.CategoryID),
					nullString(p.Unit), p.VAT, nullString(p.URL),
				))
			}
			return rows, nil
		},
	})

	variant := mustGet(TableVariant)
	out = append(out, stage{table: variant, label: TableVariant,
		rows: func(rc *catalog.RunContext) ([]Row, error) {
			rows := make([]Row, 0, len(g.Variants))
			for _, v := range g.Variants {
				productID, ok := rc.ID(TableProduct, v.ProductCode)
				if !ok {
					return nil, fmt.Errorf("variant %s: product %s was not written", v.Code, v.ProductCode)
				}
				rows = append(rows, newRow(variant,
					v.Code, productID, nullDecimal(v.Weight), nullDecimal(v.GrossWeight), nullString(v.EAN),
				))
			}
			return rows, nil
		},
	})

	stock := mustGet(TableStock)
	out = append(out, stage{table: stock, label: TableStock,
		rows: func(rc *catalog.RunContext) ([]Row, error) {
			rows := make([]Row, 0, len(g.Stock))
			for _, s := range g.Stock {
				variantID, ok := rc.ID(TableVariant, s.VariantCode)
				if !ok {
					return nil, fmt.Errorf("stock: variant %s was not written", s.VariantCode)
				}
				rows = append(rows, newRow(stock,
					variantID, s.Quantity, s.Available, nullInt(s.MinOrderQuantity), nullInt(s.MaxOrderQuantity),
				))
			}
			return rows, nil
		},
	})

	price := mustGet(TablePrice)
	out = append(out, stage{table: price, label: TablePrice,
		rows: func(rc *catalog.RunContext) ([]Row, error) {
			rows := make([]Row, 0, len(g.Prices))
			for _, p := range g.Prices {
				variantID, ok := rc.ID(TableVariant, p.VariantCode)
				if !ok {
					return nil, fmt.Errorf("price: variant %s was not written", p.VariantCode)
				}
				rows = append(rows, newRow(price,
					variantID, p.Gross, p.Net, nullDecimal(p.SRPGross), nullDecimal(p.SRPNet), p.Currency, p.VAT,
				))
			}
			return rows, nil
		},
	})

	image := mustGet(TableImage)
	out = append(out, stage{table: image, label: TableImage,
		rows: func(rc *catalog.RunContext) ([]Row, error) {
			rows := make([]Row, 0, len(g.Images))
			for _, img := range g.Images {
				productID, ok := rc.ID(TableProduct, img.ProductCode)
				if !ok {
					return nil, fmt.Errorf("image: product %s was not written", img.ProductCode)
				}
				rows = append(rows, newRow(image, productID, img.URL, int64(img.Position)))
			}
			return rows, nil
		},
	})

	return out
}
