// Package transform maps parsed feed records onto the catalog entity graph.
//
// Records are mapped one at a time. A record that fails validation of its
// natural key, or that fails unexpectedly, is skipped and reported; the
// rest of the feed is still transformed.
package transform

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/catalogsync/internal/catalog"
	"github.com/JonMunkholm/catalogsync/internal/feed"
	"github.com/JonMunkholm/catalogsync/internal/hierarchy"
	"github.com/JonMunkholm/catalogsync/internal/logging"
)

// ContextCheckInterval is how many records are mapped between checks for
// cancellation.
var ContextCheckInterval = 100

// Recorder receives record-level problems. health.Tracking implements it.
type Recorder interface {
	RecordError(kind catalog.ErrorKind, message string, context map[string]any)
	RecordWarning(kind catalog.ErrorKind, message string, context map[string]any)
}

// Options configures defaults applied to records.
type Options struct {
	// Language is the preferred xml:lang of text fields.
	Language string

	// DefaultVAT applies when a product carries no vat attribute.
	DefaultVAT decimal.Decimal

	// DefaultCurrency applies when neither price, product nor feed name one.
	DefaultCurrency string

	// GCEvery forces a garbage collection every n records; 0 disables it.
	GCEvery int
}

// Result is the outcome of a transform.
type Result struct {
	Graph     *catalog.Graph
	Processed int     // records in the graph
	Skipped   int     // records dropped for validation errors
	Failed    int     // records dropped for unexpected errors
	Replaced  int     // records superseded by a later record with the same code
	Warnings  int
	Errors    []error // every recorded error, in feed order
}

// Transformer maps records for one run.
type Transformer struct {
	opts     Options
	rc       *catalog.RunContext
	rec      Recorder
	graph    *catalog.Graph
	resolver *hierarchy.Resolver
	result   *Result
	logger   *slog.Logger

	feedCurrency string

	// beforeRecord runs ahead of each record; tests use it to inject failures.
	beforeRecord func(index int)
}

// New returns a transformer writing into a fresh graph. rec may be nil.
func New(rc *catalog.RunContext, rec Recorder, opts Options) *Transformer {
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "PLN"
	}
	g := &catalog.Graph{}
	return &Transformer{
		opts:     opts,
		rc:       rc,
		rec:      rec,
		graph:    g,
		resolver: hierarchy.New(rc, g),
		result:   &Result{Graph: g},
		logger:   slog.Default(),
	}
}

// Transform maps every record of f. It only returns an error when ctx is
// cancelled; record failures are reported through the Recorder and Result.
func (t *Transformer) Transform(ctx context.Context, f *feed.Feed) (*Result, error) {
	t.logger = logging.FromContext(ctx)
	t.feedCurrency = feedCurrency(f)
	start := time.Now()

	for i, rec := range f.Records {
		if i%ContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return t.result, fmt.Errorf("transform cancelled at record %d: %w", i, err)
			}
		}

		t.transformOne(i, rec)

		if t.opts.GCEvery > 0 && (i+1)%t.opts.GCEvery == 0 {
			t.checkpoint(i + 1)
		}
	}

	t.result.Processed = len(t.graph.Products)
	t.logger.Info("feed transformed",
		"records", len(f.Records),
		"products", t.result.Processed,
		"skipped", t.result.Skipped,
		"failed", t.result.Failed,
		"replaced", t.result.Replaced,
		"warnings", t.result.Warnings,
		"categories", len(t.graph.Categories),
		"variants", len(t.graph.Variants),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return t.result, nil
}

// transformOne maps one record and merges it into the graph. Panics are
// recovered into a TransformError so one bad record cannot stop the run.
func (t *Transformer) transformOne(index int, node *feed.Node) {
	code := productCode(node)

	defer func() {
		if r := recover(); r != nil {
			err := &catalog.TransformError{Record: code, Index: index, Err: fmt.Errorf("panic: %v", r)}
			t.fail(err, debug.Stack())
		}
	}()

	if t.beforeRecord != nil {
		t.beforeRecord(index)
	}

	out, err := t.mapRecord(index, code, node)
	if err != nil {
		if _, ok := err.(*catalog.ValidationError); ok {
			t.result.Skipped++
			t.recordError(err)
			return
		}
		t.fail(&catalog.TransformError{Record: code, Index: index, Err: err}, nil)
		return
	}

	t.merge(out)
}

func (t *Transformer) fail(err *catalog.TransformError, stack []byte) {
	t.result.Failed++
	args := []any{"record", err.Index, "code", err.Record, "error", err.Err}
	if stack != nil {
		args = append(args, "stack", string(stack))
	}
	t.logger.Warn("record transform failed", args...)
	t.recordError(err)
}

// invalid records a field-level validation error on a record that is kept.
func (t *Transformer) invalid(code, field, value, message string) {
	t.recordError(&catalog.ValidationError{Record: code, Field: field, Value: value, Message: message})
}

func (t *Transformer) recordError(err error) {
	t.result.Errors = append(t.result.Errors, err)
	if t.rec == nil {
		return
	}

	ctx := map[string]any{}
	switch e := err.(type) {
	case *catalog.ValidationError:
		ctx["record"] = e.Record
		ctx["field"] = e.Field
		if e.Value != "" {
			ctx["value"] = e.Value
		}
	case *catalog.TransformError:
		ctx["record"] = e.Record
		ctx["index"] = e.Index
	}
	t.rec.RecordError(catalog.KindOf(err), err.Error(), ctx)
}

func (t *Transformer) warn(code, field, message string) {
	t.result.Warnings++
	if t.rec != nil {
		t.rec.RecordWarning(catalog.KindValidation, message, map[string]any{"record": code, "field": field})
	}
}

// checkpoint releases memory held by decoding garbage on large feeds.
func (t *Transformer) checkpoint(records int) {
	debug.FreeOSMemory()
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	t.logger.Debug("gc checkpoint",
		"records", records,
		"heap_alloc_mb", m.HeapAlloc/(1024*1024),
	)
}

// merge adds one mapped record to the graph. A repeated product code
// replaces the earlier record.
func (t *Transformer) merge(out *record) {
	code := out.product.Code
	if !t.rc.Mark(catalog.KindProduct, code) {
		for _, v := range t.graph.Variants {
			if v.ProductCode == code {
				t.rc.Forget(catalog.KindVariant, v.Code)
			}
		}
		t.graph.RemoveProduct(code)
		t.result.Replaced++
		t.invalid(code, "code", code, "duplicate product code, later record replaces earlier one")
	}

	if out.producer != nil && t.rc.Mark(catalog.KindProducer, out.producer.Name) {
		t.graph.Producers = append(t.graph.Producers, *out.producer)
	}
	if out.unit != nil && t.rc.Mark(catalog.KindUnit, out.unit.Code) {
		t.graph.Units = append(t.graph.Units, *out.unit)
	}

	t.graph.Products = append(t.graph.Products, out.product)
	for i, v := range out.variants {
		if !t.rc.Mark(catalog.KindVariant, v.Code) {
			t.invalid(code, "variant", v.Code, "duplicate variant code, variant skipped")
			continue
		}
		t.graph.Variants = append(t.graph.Variants, v)
		t.graph.Stock = append(t.graph.Stock, out.stock[i])
		if out.prices[i] != nil {
			t.graph.Prices = append(t.graph.Prices, *out.prices[i])
		}
	}
	t.graph.Images = append(t.graph.Images, out.images...)
}

func feedCurrency(f *feed.Feed) string {
	if f.Root == nil {
		return ""
	}
	if c := f.Root.Attr("currency"); c != "" {
		return c
	}
	for _, p := range f.Root.All("products") {
		if c := p.Attr("currency"); c != "" {
			return c
		}
	}
	return ""
}
