package loader

import (
	"fmt"
	"sort"
	"sync"
)

// Column is a destination column and its Postgres type.
type Column struct {
	Name string
	Type string
}

// Table describes how entities of one kind are written.
//
// Rows are matched against existing data by Key. Tables with an IDColumn
// hand out surrogate ids that later stages reference through the
// RunContext.
type Table struct {
	Name     string
	Key      []Column // natural key, written first
	Columns  []Column // value columns, compared through sync_hash
	IDColumn string   // surrogate id returned on insert, empty when the key is the id
	Order    int      // write order; purge runs in reverse
}

// HashColumn holds the content hash of the value columns.
const HashColumn = "sync_hash"

// AllColumns returns key columns, value columns and the hash column.
func (t *Table) AllColumns() []string {
	cols := make([]string, 0, len(t.Key)+len(t.Columns)+1)
	for _, c := range t.Key {
		cols = append(cols, c.Name)
	}
	for _, c := range t.Columns {
		cols = append(cols, c.Name)
	}
	return append(cols, HashColumn)
}

var (
	registry   = make(map[string]*Table)
	registryMu sync.RWMutex
)

// Register adds a table to the registry.
// Panics if a table with the same name is already registered.
func Register(t *Table) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[t.Name]; exists {
		panic(fmt.Sprintf("table already registered: %s", t.Name))
	}
	registry[t.Name] = t
}

// Get returns a table by name.
func Get(name string) (*Table, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	t, ok := registry[name]
	return t, ok
}

// Tables returns all registered tables in write order.
func Tables() []*Table {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]*Table, 0, len(registry))
	for _, t := range registry {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Order < result[j].Order
	})
	return result
}

func mustGet(name string) *Table {
	t, ok := Get(name)
	if !ok {
		panic("table not registered: " + name)
	}
	return t
}

// Table names.
const (
	TableCategory = "category"
	TableProducer = "producer"
	TableUnit     = "unit"
	TableProduct  = "product"
	TableVariant  = "variant"
	TableStock    = "stock"
	TablePrice    = "price"
	TableImage    = "image"
)

func init() {
	Register(&Table{
		Name:    TableCategory,
		Order:   0,
		Key:     []Column{{"id", "uuid"}},
		Columns: []Column{{"name", "text"}, {"path", "text"}, {"parent_id", "uuid"}},
	})
	Register(&Table{
		Name:     TableProducer,
		Order:    1,
		Key:      []Column{{"name", "text"}},
		IDColumn: "id",
	})
	Register(&Table{
		Name:    TableUnit,
		Order:   2,
		Key:     []Column{{"id", "text"}},
		Columns: []Column{{"name", "text"}, {"moq", "integer"}},
	})
	Register(&Table{
		Name:  TableProduct,
		Order: 3,
		Key:   []Column{{"code", "text"}},
		Columns: []Column{
			{"name", "text"},
			{"description_short", "text"},
			{"description_long", "text"},
			{"ean", "text"},
			{"producer_id", "bigint"},
			{"category_id", "uuid"},
			{"unit_id", "text"},
			{"vat", "numeric"},
			{"url", "text"},
		},
		IDColumn: "id",
	})
	Register(&Table{
		Name:  TableVariant,
		Order: 4,
		Key:   []Column{{"code", "text"}},
		Columns: []Column{
			{"product_id", "bigint"},
			{"weight", "numeric"},
			{"gross_weight", "numeric"},
			{"ean", "text"},
		},
		IDColumn: "id",
	})
	Register(&Table{
		Name:  TableStock,
		Order: 5,
		Key:   []Column{{"variant_id", "bigint"}},
		Columns: []Column{
			{"quantity", "bigint"},
			{"available", "boolean"},
			{"min_order_quantity", "bigint"},
			{"max_order_quantity", "bigint"},
		},
	})
	Register(&Table{
		Name:  TablePrice,
		Order: 6,
		Key:   []Column{{"variant_id", "bigint"}},
		Columns: []Column{
			{"gross_price", "numeric"},
			{"net_price", "numeric"},
			{"srp_gross", "numeric"},
			{"srp_net", "numeric"},
			{"currency", "text"},
			{"vat", "numeric"},
		},
	})
	Register(&Table{
		Name:    TableImage,
		Order:   7,
		Key:     []Column{{"product_id", "bigint"}, {"url", "text"}},
		Columns: []Column{{"position", "integer"}},
	})
}
