// Package feed reads a supplier XML catalog into a generic element tree and
// locates the product records inside one of the supported envelopes.
package feed

import (
	"bufio"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/text/encoding/ianaindex"

	"github.com/JonMunkholm/catalogsync/internal/catalog"
	"github.com/JonMunkholm/catalogsync/internal/logging"
	"github.com/JonMunkholm/catalogsync/internal/retry"
)

// Shape identifies the envelope a feed uses.
type Shape string

const (
	// ShapeOffer is <offer><products><product/>...</products></offer>.
	ShapeOffer Shape = "offer"
	// ShapeProducts is <products><product/>...</products>.
	ShapeProducts Shape = "products"
)

// DefaultMaxFileSize is used when Options.MaxFileSize is zero (1GB).
const DefaultMaxFileSize int64 = 1 << 30

var (
	errUnsupportedRoot = errors.New("unsupported feed root")
	errFileTooLarge    = errors.New("file too large")
)

// Options controls a parse.
type Options struct {
	// Limit keeps only the first Limit records when > 0.
	Limit int

	// MaxFileSize rejects larger files before reading them.
	MaxFileSize int64

	// Retry is applied to read and decode failures. Unsupported envelopes,
	// missing files and oversized files are not retried.
	Retry retry.Policy
}

// Feed is a parsed catalog document.
type Feed struct {
	Path      string
	Shape     Shape
	Size      int64
	BytesRead int64
	Encoding  string
	Root      *Node
	Records   []*Node
	Total     int // records in the document before Limit was applied
	Attempts  int
	Duration  time.Duration
}

// Truncated reports whether Limit dropped records.
func (f *Feed) Truncated() bool {
	return len(f.Records) < f.Total
}

// Parse reads path and returns its product records. Failures are returned
// as *catalog.ParseError.
func Parse(ctx context.Context, path string, opts Options) (*Feed, error) {
	logger := logging.WithFields(ctx, "path", path)
	start := time.Now()

	policy := opts.Retry
	userOnRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn("feed parse failed, retrying",
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
		if userOnRetry != nil {
			userOnRetry(attempt, err, wait)
		}
	}

	var feed *Feed
	attempts, err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		f, err := parseOnce(path, opts)
		if err != nil {
			return err
		}
		feed = f
		return nil
	})
	if err != nil {
		return nil, &catalog.ParseError{Path: path, Attempts: attempts, Err: err}
	}

	feed.Attempts = attempts
	feed.Duration = time.Since(start)
	if opts.Limit > 0 && len(feed.Records) > opts.Limit {
		feed.Records = feed.Records[:opts.Limit]
	}

	logger.Info("feed parsed",
		"shape", feed.Shape,
		"encoding", feed.Encoding,
		"size_bytes", feed.Size,
		"records", len(feed.Records),
		"total_records", feed.Total,
		"attempts", attempts,
		"duration_ms", feed.Duration.Milliseconds(),
	)
	return feed, nil
}

func parseOnce(path string, opts Options) (*Feed, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, retry.Permanent(fmt.Errorf("%s is a directory", path))
	}

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	if info.Size() > maxSize {
		return nil, retry.Permanent(fmt.Errorf("%w: %d bytes exceeds %d", errFileTooLarge, info.Size(), maxSize))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	feed, err := Decode(f)
	if err != nil {
		return nil, err
	}
	feed.Path = path
	feed.Size = info.Size()
	return feed, nil
}

// Decode reads a feed document from r and locates its records.
func Decode(r io.Reader) (*Feed, error) {
	counter := &countingReader{reader: newBOMSkippingReader(r)}
	br := bufio.NewReaderSize(counter, 64*1024)

	head, _ := br.Peek(512)
	enc := declaredEncoding(head)

	var src io.Reader = br
	if isUTF8Label(enc) {
		src = newUTF8Sanitizer(br)
	}

	d := xml.NewDecoder(src)
	d.Entity = xml.HTMLEntity
	d.CharsetReader = charsetReader

	root, err := decodeTree(d)
	if err != nil {
		return nil, err
	}

	feed := &Feed{Root: root, Encoding: enc, BytesRead: counter.bytesRead}
	if err := locateRecords(feed); err != nil {
		return nil, err
	}
	return feed, nil
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	if isUTF8Label(label) {
		return input, nil
	}
	e, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("unknown feed encoding %q: %w", label, err))
	}
	if e == nil {
		return nil, retry.Permanent(fmt.Errorf("unsupported feed encoding %q", label))
	}
	return e.NewDecoder().Reader(input), nil
}

const xmlNamespace = "http://www.w3.org/XML/1998/namespace"

// decodeTree builds the element tree of the whole document.
func decodeTree(d *xml.Decoder) (*Node, error) {
	var (
		root  *Node
		stack []*Node
		texts []*strings.Builder
	)

	for {
		tok, err := d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := &Node{Name: t.Name.Local}
			for _, a := range t.Attr {
				if a.Name.Local == "lang" && (a.Name.Space == "xml" || a.Name.Space == xmlNamespace) {
					n.Lang = a.Value
					continue
				}
				if n.Attrs == nil {
					n.Attrs = make(map[string]string, len(t.Attr))
				}
				n.Attrs[a.Name.Local] = a.Value
			}

			if len(stack) == 0 {
				if root != nil {
					return nil, errors.New("xml syntax error: multiple root elements")
				}
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			}
			stack = append(stack, n)
			texts = append(texts, &strings.Builder{})

		case xml.CharData:
			if len(texts) > 0 {
				texts[len(texts)-1].Write(t)
			}

		case xml.EndElement:
			top := stack[len(stack)-1]
			top.Text = strings.TrimSpace(texts[len(texts)-1].String())
			stack = stack[:len(stack)-1]
			texts = texts[:len(texts)-1]
		}
	}

	if root == nil {
		return nil, errors.New("xml syntax error: document has no root element")
	}
	return root, nil
}

// locateRecords recognizes the envelope and collects product elements.
func locateRecords(f *Feed) error {
	switch f.Root.Name {
	case "offer":
		products := f.Root.All("products")
		if len(products) == 0 {
			return retry.Permanent(fmt.Errorf("%w <offer> without <products>", errUnsupportedRoot))
		}
		f.Shape = ShapeOffer
		for _, p := range products {
			f.Records = append(f.Records, p.All("product")...)
		}
	case "products":
		f.Shape = ShapeProducts
		f.Records = f.Root.All("product")
	default:
		return retry.Permanent(fmt.Errorf("%w <%s>", errUnsupportedRoot, f.Root.Name))
	}
	f.Total = len(f.Records)
	return nil
}
