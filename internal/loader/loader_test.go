package loader

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/catalogsync/internal/catalog"
	"github.com/JonMunkholm/catalogsync/internal/retry"
)

// memStore is an in-memory Store. Transactions work on a copy of the
// tables that replaces the store state on commit.
type memStore struct {
	mu      sync.Mutex
	tables  map[string]map[string]memRow
	nextID  int64
	commits int

	beginErrs []error
	// fail is consulted before every write.
	fail func(op, table string) error
}

type memRow struct {
	id     int64
	hash   string
	values []any
}

func newMemStore() *memStore {
	return &memStore{tables: make(map[string]map[string]memRow)}
}

func cloneTables(in map[string]map[string]memRow) map[string]map[string]memRow {
	out := make(map[string]map[string]memRow, len(in))
	for name, rows := range in {
		out[name] = maps.Clone(rows)
	}
	return out
}

func (s *memStore) Begin(context.Context) (Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.beginErrs) > 0 {
		err := s.beginErrs[0]
		s.beginErrs = s.beginErrs[1:]
		return nil, err
	}
	return &memTx{store: s, tables: cloneTables(s.tables), nextID: s.nextID}, nil
}

func (s *memStore) count(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tables[table])
}

func (s *memStore) row(table string, key ...string) (memRow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.tables[table][JoinKey(key)]
	return r, ok
}

type memTx struct {
	store  *memStore
	tables map[string]map[string]memRow
	nextID int64
	closed bool
}

func (tx *memTx) check(op, table string) error {
	if tx.store.fail != nil {
		return tx.store.fail(op, table)
	}
	return nil
}

func (tx *memTx) Existing(_ context.Context, t *Table, keys [][]string) (map[string]Existing, error) {
	out := make(map[string]Existing)
	for _, k := range keys {
		if r, ok := tx.tables[t.Name][JoinKey(k)]; ok {
			out[JoinKey(k)] = Existing{ID: r.id, Hash: r.hash}
		}
	}
	return out, nil
}

func (tx *memTx) Insert(_ context.Context, t *Table, rows []Row) (map[string]int64, error) {
	if err := tx.check("insert", t.Name); err != nil {
		return nil, err
	}
	if tx.tables[t.Name] == nil {
		tx.tables[t.Name] = make(map[string]memRow)
	}
	var ids map[string]int64
	if t.IDColumn != "" {
		ids = make(map[string]int64, len(rows))
	}
	for _, r := range rows {
		if _, dup := tx.tables[t.Name][r.KeyString()]; dup {
			return nil, fmt.Errorf("duplicate key value violates unique constraint on %s", t.Name)
		}
		mr := memRow{hash: r.Hash, values: r.Values}
		if t.IDColumn != "" {
			tx.nextID++
			mr.id = tx.nextID
			ids[r.KeyString()] = mr.id
		}
		tx.tables[t.Name][r.KeyString()] = mr
	}
	return ids, nil
}

func (tx *memTx) Update(_ context.Context, t *Table, rows []Row) error {
	if err := tx.check("update", t.Name); err != nil {
		return err
	}
	for _, r := range rows {
		mr := tx.tables[t.Name][r.KeyString()]
		mr.hash, mr.values = r.Hash, r.Values
		tx.tables[t.Name][r.KeyString()] = mr
	}
	return nil
}

func (tx *memTx) Savepoint(ctx context.Context, fn func(Tx) error) error {
	snapshot, nextID := cloneTables(tx.tables), tx.nextID
	if err := fn(tx); err != nil {
		tx.tables, tx.nextID = snapshot, nextID
		return err
	}
	return nil
}

func (tx *memTx) Purge(_ context.Context, tables []*Table) (int64, error) {
	var n int64
	for _, t := range tables {
		n += int64(len(tx.tables[t.Name]))
		delete(tx.tables, t.Name)
	}
	return n, nil
}

func (tx *memTx) Commit(context.Context) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	tx.store.tables, tx.store.nextID = tx.tables, tx.nextID
	tx.store.commits++
	tx.closed = true
	return nil
}

func (tx *memTx) Rollback(context.Context) error {
	tx.closed = true
	return nil
}

type batchCall struct {
	op   string
	size int
}

type fakeBatchRecorder struct {
	mu    sync.Mutex
	calls []batchCall
}

func (r *fakeBatchRecorder) RecordBatch(op string, size int, start, end time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, batchCall{op, size})
}

func testGraph() *catalog.Graph {
	root := catalog.Category{ID: uuid.New(), Name: "Tools", Path: "Tools"}
	leaf := catalog.Category{
		ID: uuid.New(), Name: "Hammers", Path: "Tools/Hammers", Depth: 1,
		ParentID: uuid.NullUUID{UUID: root.ID, Valid: true},
	}
	vat := decimal.NewFromInt(23)
	return &catalog.Graph{
		Categories: []catalog.Category{root, leaf},
		Producers:  []catalog.Producer{{Name: "Acme"}},
		Units:      []catalog.Unit{{Code: "0", Name: "szt.", MOQ: 1}},
		Products: []catalog.Product{
			{Code: "HAM-1", Name: "Hammer", Producer: "Acme", Unit: "0", VAT: vat,
				CategoryID: uuid.NullUUID{UUID: leaf.ID, Valid: true}},
			{Code: "SAW-1", Name: "Saw", VAT: vat},
		},
		Variants: []catalog.Variant{
			{Code: "HAM-1-S", ProductCode: "HAM-1"},
			{Code: "HAM-1-L", ProductCode: "HAM-1"},
			{Code: "SAW-1", ProductCode: "SAW-1"},
		},
		Stock: []catalog.Stock{
			{VariantCode: "HAM-1-S", Quantity: 5, Available: true},
			{VariantCode: "HAM-1-L"},
			{VariantCode: "SAW-1", Quantity: 1, Available: true},
		},
		Prices: []catalog.Price{
			{VariantCode: "HAM-1-S", Gross: decimal.RequireFromString("24.60"), Net: decimal.RequireFromString("20.00"), Currency: "PLN", VAT: vat},
			{VariantCode: "SAW-1", Gross: decimal.RequireFromString("121.00"), Net: decimal.RequireFromString("100.00"), Currency: "PLN", VAT: vat},
		},
		Images: []catalog.Image{
			{ProductCode: "HAM-1", URL: "https://img.example.com/1.jpg"},
			{ProductCode: "HAM-1", URL: "https://img.example.com/2.jpg", Position: 1},
		},
	}
}

func noRetry() retry.Policy { return retry.Policy{MaxAttempts: 1} }

func testLoader(store Store, rec BatchRecorder, opts Options) *Loader {
	if opts.BatchRetry.MaxAttempts == 0 {
		opts.BatchRetry = retry.Policy{MaxAttempts: 3, Sleep: retry.NoSleep}
	}
	if opts.TxRetry.MaxAttempts == 0 {
		opts.TxRetry = noRetry()
	}
	return New(store, rec, opts)
}

func load(t *testing.T, l *Loader, g *catalog.Graph) (Stats, *catalog.RunContext) {
	t.Helper()
	rc := catalog.NewRunContext(uuid.New())
	stats, err := l.Load(context.Background(), g, rc)
	require.NoError(t, err)
	return stats, rc
}

func TestLoad_WritesGraph(t *testing.T) {
	store := newMemStore()
	rec := &fakeBatchRecorder{}
	g := testGraph()

	stats, rc := load(t, testLoader(store, rec, Options{}), g)

	assert.Equal(t, 1, store.commits)
	for table, want := range g.Counts() {
		assert.Equal(t, want, store.count(table), table)
		assert.Equal(t, want, stats.Inserted[table], table)
	}
	assert.Equal(t, 2, stats.Persisted(TableProduct))

	hamID, ok := rc.ID(TableProduct, "HAM-1")
	require.True(t, ok)
	stored, ok := store.row(TableProduct, "HAM-1")
	require.True(t, ok)
	assert.Equal(t, stored.id, hamID)

	variantID, _ := rc.ID(TableVariant, "HAM-1-S")
	_, ok = store.row(TableStock, fmt.Sprint(variantID))
	assert.True(t, ok, "stock keyed by variant id")

	_, ok = store.row(TableImage, fmt.Sprint(hamID), "https://img.example.com/2.jpg")
	assert.True(t, ok)

	// categories go one level at a time, root first
	require.NotEmpty(t, rec.calls)
	assert.Equal(t, batchCall{"write_category", 1}, rec.calls[0])
	assert.Equal(t, batchCall{"write_category", 1}, rec.calls[1])
	assert.Equal(t, "write_producer", rec.calls[2].op)
	assert.Equal(t, stats.Batches, len(rec.calls))
}

func TestLoad_IncrementalRerunChangesNothing(t *testing.T) {
	store := newMemStore()
	g := testGraph()
	l := testLoader(store, nil, Options{Mode: catalog.SyncIncremental})

	load(t, l, g)
	before := cloneTables(store.tables)

	stats, rc := load(t, l, g)

	assert.Equal(t, before, store.tables)
	for table, want := range g.Counts() {
		assert.Zero(t, stats.Inserted[table], table)
		assert.Zero(t, stats.Updated[table], table)
		assert.Equal(t, want, stats.Unchanged[table], table)
	}
	_, ok := rc.ID(TableVariant, "SAW-1")
	assert.True(t, ok, "ids resolved for unchanged rows")
}

func TestLoad_IncrementalUpdatesChangedRows(t *testing.T) {
	store := newMemStore()
	g := testGraph()
	l := testLoader(store, nil, Options{Mode: catalog.SyncIncremental})
	load(t, l, g)

	g.Products[1].Name = "Panel saw"
	g.Stock[0].Quantity = 9
	stats, _ := load(t, l, g)

	assert.Equal(t, 1, stats.Updated[TableProduct])
	assert.Equal(t, 1, stats.Unchanged[TableProduct])
	assert.Equal(t, 1, stats.Updated[TableStock])
	row, _ := store.row(TableProduct, "SAW-1")
	assert.Equal(t, "Panel saw", row.values[1])
}

func TestLoad_FullModeRewritesExistingRows(t *testing.T) {
	store := newMemStore()
	g := testGraph()
	load(t, testLoader(store, nil, Options{}), g)

	stats, _ := load(t, testLoader(store, nil, Options{Mode: catalog.SyncFull}), g)

	for table, want := range g.Counts() {
		assert.Equal(t, want, stats.Updated[table], table)
		assert.Zero(t, stats.Unchanged[table], table)
	}
}

func TestLoad_PersistentBatchErrorRollsBack(t *testing.T) {
	store := newMemStore()
	attempts := 0
	store.fail = func(op, table string) error {
		if op == "insert" && table == TablePrice {
			attempts++
			return errors.New("violates check constraint \"price_gross_check\"")
		}
		return nil
	}

	rc := catalog.NewRunContext(uuid.New())
	_, err := testLoader(store, nil, Options{}).Load(context.Background(), testGraph(), rc)
	require.Error(t, err)

	var txErr *catalog.TransactionError
	require.ErrorAs(t, err, &txErr)
	var batchErr *catalog.BatchPersistError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, TablePrice, batchErr.Table)
	assert.Equal(t, 3, batchErr.Attempts)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, catalog.KindTransaction, catalog.KindOf(err))

	assert.Zero(t, store.commits)
	for table := range testGraph().Counts() {
		assert.Zero(t, store.count(table), "nothing committed to %s", table)
	}
}

func TestLoad_TransientBatchErrorRetried(t *testing.T) {
	store := newMemStore()
	failed := false
	store.fail = func(op, table string) error {
		if op == "insert" && table == TableVariant && !failed {
			failed = true
			return errors.New("connection reset by peer")
		}
		return nil
	}

	stats, rc := load(t, testLoader(store, nil, Options{}), testGraph())

	assert.True(t, failed)
	assert.Equal(t, 3, stats.Inserted[TableVariant])
	assert.Equal(t, 3, store.count(TableVariant))
	id, _ := rc.ID(TableVariant, "HAM-1-S")
	row, _ := store.row(TableVariant, "HAM-1-S")
	assert.Equal(t, row.id, id, "ids from the rolled back attempt are discarded")
}

func TestLoad_RetriesTransactionOnRetryableBegin(t *testing.T) {
	store := newMemStore()
	serialization := errors.New("could not serialize access")
	store.beginErrs = []error{serialization}

	l := testLoader(store, nil, Options{
		TxRetry: retry.Policy{
			MaxAttempts: 2,
			Sleep:       retry.NoSleep,
			Retryable:   func(err error) bool { return errors.Is(err, serialization) },
		},
	})
	stats, _ := load(t, l, testGraph())

	assert.Equal(t, 2, stats.Attempts)
	assert.Equal(t, 1, store.commits)
}

func TestLoad_NonRetryableBeginFails(t *testing.T) {
	store := newMemStore()
	store.beginErrs = []error{errors.New("connection refused")}

	l := testLoader(store, nil, Options{
		TxRetry: retry.Policy{MaxAttempts: 3, Sleep: retry.NoSleep, Retryable: func(error) bool { return false }},
	})
	_, err := l.Load(context.Background(), testGraph(), catalog.NewRunContext(uuid.New()))

	var txErr *catalog.TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, 1, txErr.Attempts)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestLoad_Purge(t *testing.T) {
	store := newMemStore()
	old := testGraph()
	load(t, testLoader(store, nil, Options{}), old)

	g := &catalog.Graph{
		Products: []catalog.Product{{Code: "NEW-1", Name: "New", VAT: decimal.NewFromInt(23)}},
		Variants: []catalog.Variant{{Code: "NEW-1", ProductCode: "NEW-1"}},
		Stock:    []catalog.Stock{{VariantCode: "NEW-1"}},
	}
	stats, _ := load(t, testLoader(store, nil, Options{Purge: true}), g)

	assert.Positive(t, stats.Purged)
	assert.Equal(t, 1, store.count(TableProduct))
	assert.Zero(t, store.count(TableCategory))
	assert.Zero(t, store.count(TableImage))
	_, ok := store.row(TableProduct, "NEW-1")
	assert.True(t, ok)
}

func TestLoad_BatchSize(t *testing.T) {
	store := newMemStore()
	rec := &fakeBatchRecorder{}
	g := &catalog.Graph{}
	for i := range 5 {
		code := fmt.Sprintf("P-%d", i)
		g.Products = append(g.Products, catalog.Product{Code: code, Name: code})
	}

	stats, _ := load(t, testLoader(store, rec, Options{BatchSize: 2}), g)

	var sizes []int
	for _, c := range rec.calls {
		if c.op == "write_product" {
			sizes = append(sizes, c.size)
		}
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, 5, stats.Inserted[TableProduct])
}

func TestLoad_MissingParentIDFails(t *testing.T) {
	store := newMemStore()
	g := &catalog.Graph{
		Variants: []catalog.Variant{{Code: "ORPHAN", ProductCode: "NOPE"}},
	}

	_, err := testLoader(store, nil, Options{}).Load(context.Background(), g, catalog.NewRunContext(uuid.New()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "product NOPE was not written")
	assert.Zero(t, store.commits)
}

func TestNewRow_HashIgnoresKey(t *testing.T) {
	tbl := mustGet(TableUnit)
	a := newRow(tbl, "A", "szt.", int64(1))
	b := newRow(tbl, "B", "szt.", int64(1))
	c := newRow(tbl, "A", "kg", int64(1))

	assert.Equal(t, a.Hash, b.Hash)
	assert.NotEqual(t, a.Hash, c.Hash)
	assert.Equal(t, []string{"A"}, a.Key)
}

func TestNewRow_DecimalScaleDoesNotChangeHash(t *testing.T) {
	tbl := mustGet(TablePrice)
	vat := decimal.NewFromInt(23)
	a := newRow(tbl, int64(1), decimal.RequireFromString("24.60"), decimal.RequireFromString("20"), nil, nil, "PLN", vat)
	b := newRow(tbl, int64(1), decimal.RequireFromString("24.6"), decimal.RequireFromString("20.00"), nil, nil, "PLN", vat)
	assert.Equal(t, a.Hash, b.Hash)
}

func TestTables_Order(t *testing.T) {
	var names []string
	for _, tbl := range Tables() {
		names = append(names, tbl.Name)
	}
	assert.Equal(t, []string{
		TableCategory, TableProducer, TableUnit, TableProduct,
		TableVariant, TableStock, TablePrice, TableImage,
	}, names)
	assert.Equal(t, []string{"product_id", "url", "position", HashColumn}, mustGet(TableImage).AllColumns())
}
