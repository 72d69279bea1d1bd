package transform

import (
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/catalogsync/internal/catalog"
	"github.com/JonMunkholm/catalogsync/internal/feed"
	"github.com/JonMunkholm/catalogsync/internal/validate"
)

// record is one mapped feed record before it is merged into the graph.
// variants, stock and prices are index-aligned; a nil price means the
// variant carried no usable price.
type record struct {
	product  catalog.Product
	producer *catalog.Producer
	unit     *catalog.Unit
	variants []catalog.Variant
	stock    []catalog.Stock
	prices   []*catalog.Price
	images   []catalog.Image
}

// productCode reads the natural key: the code attribute, a <code> child,
// or the id attribute.
func productCode(n *feed.Node) string {
	if c := n.Value("code"); c != "" {
		return c
	}
	return n.Attr("id")
}

var hundred = decimal.NewFromInt(100)

// Column bounds of the catalog tables.
const (
	priceDigits, priceScale   = 12, 2
	weightDigits, weightScale = 12, 3
)

func (t *Transformer) mapRecord(index int, code string, n *feed.Node) (*record, error) {
	if code == "" {
		return nil, &catalog.ValidationError{
			Field:   "code",
			Message: "product code is required, record " + strconv.Itoa(index) + " skipped",
		}
	}

	out := &record{}
	p := catalog.Product{Code: code}

	p.Name, p.DescriptionShort, p.DescriptionLong = t.descriptions(n)
	if p.Name == "" {
		p.Name = code
		t.warn(code, "name", "product has no name, using code")
	}

	p.VAT = t.opts.DefaultVAT
	if raw := n.Attr("vat"); raw != "" {
		if vat, ok := validate.Number(raw); ok && !vat.IsNegative() && vat.LessThanOrEqual(hundred) {
			p.VAT = vat
		} else {
			t.invalid(code, "vat", raw, "invalid vat rate, default applied")
		}
	}

	if prod := n.Child("producer"); prod != nil {
		if name := firstNonEmpty(prod.Attr("name"), prod.Text); name != "" {
			out.producer = &catalog.Producer{Name: name}
			p.Producer = name
		}
	}

	if u := n.Child("unit"); u != nil {
		out.unit = t.mapUnit(code, u)
		if out.unit != nil {
			p.Unit = out.unit.Code
		}
	}

	if c := n.Child("category"); c != nil {
		path := firstNonEmpty(c.Attr("path"), c.Attr("name"), c.Text)
		if id, ok := t.resolver.Resolve(path, c.Attr("id"), c.Attr("name")); ok {
			p.CategoryID.UUID, p.CategoryID.Valid = id, true
		}
	}

	if raw := productURL(n); raw != "" {
		res := validate.URL(raw)
		switch {
		case !res.Valid:
			t.invalid(code, "url", raw, res.Warning)
		case !res.Secure:
			p.URL = res.Normalized
			t.warn(code, "url", res.Warning)
		default:
			p.URL = res.Normalized
		}
	}

	if raw := n.Value("ean"); raw != "" {
		p.EAN = t.ean(code, "ean", raw)
	}

	out.product = p
	if err := t.mapVariants(out, n); err != nil {
		return nil, err
	}
	out.images = t.mapImages(code, n)
	return out, nil
}

// descriptions returns name, short and long description in the preferred
// language. Feeds put them under <description> or directly on the product.
func (t *Transformer) descriptions(n *feed.Node) (name, short, long string) {
	lang := t.opts.Language
	desc := n.Child("description")

	name = validate.PickText(texts(desc.All("name")), lang)
	if name == "" {
		name = validate.PickText(texts(n.All("name")), lang)
	}

	short = validate.PickText(texts(desc.All("short_desc")), lang)
	if short == "" {
		short = validate.PickText(texts(n.All("short_desc")), lang)
	}

	long = validate.PickText(texts(desc.All("long_desc")), lang)
	if long == "" {
		long = validate.PickText(texts(n.All("long_desc")), lang)
	}
	if long == "" && desc != nil && len(desc.Children) == 0 {
		long = desc.Text
	}
	return name, short, long
}

func texts(nodes []*feed.Node) []validate.Text {
	out := make([]validate.Text, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, validate.TextOf(n.Text, n.Lang, n.Attrs))
	}
	return out
}

func (t *Transformer) mapUnit(code string, u *feed.Node) *catalog.Unit {
	name := firstNonEmpty(u.Attr("name"), u.Text)
	unitCode := firstNonEmpty(u.Attr("id"), u.Attr("code"), name)
	if unitCode == "" {
		return nil
	}
	if name == "" {
		name = unitCode
	}

	moq := 1
	if raw := u.Attr("moq"); raw != "" {
		d, ok := validate.Number(raw)
		switch {
		case !ok:
			t.invalid(code, "unit.moq", raw, "invalid minimum order quantity, using 1")
		case d.LessThan(decimal.NewFromInt(1)):
			t.warn(code, "unit.moq", "minimum order quantity below 1, using 1")
		default:
			if v, fits := validate.IntIn(d.Ceil(), 1, math.MaxInt32); fits {
				moq = int(v)
			} else {
				t.invalid(code, "unit.moq", raw, "minimum order quantity out of range, using 1")
			}
		}
	}
	return &catalog.Unit{Code: unitCode, Name: name, MOQ: moq}
}

func productURL(n *feed.Node) string {
	if card := n.Child("card"); card != nil {
		if u := firstNonEmpty(card.Attr("url"), card.Text); u != "" {
			return u
		}
	}
	return n.Value("url")
}

// ean validates raw and returns the normalized code, or "" when invalid.
func (t *Transformer) ean(code, field, raw string) string {
	res := validate.EAN(raw)
	if !res.Valid {
		t.invalid(code, field, raw, "invalid EAN")
		return ""
	}
	return res.Normalized
}

// variantNodes returns explicit variants from either the <variants> or the
// <sizes> wrapper, accepting unwrapped elements too.
func variantNodes(n *feed.Node) []*feed.Node {
	for _, shape := range [][2]string{{"variants", "variant"}, {"sizes", "size"}} {
		nodes := n.Path(shape[0], shape[1])
		nodes = append(nodes, n.All(shape[1])...)
		if len(nodes) > 0 {
			return nodes
		}
	}
	return nil
}

func (t *Transformer) mapVariants(out *record, n *feed.Node) error {
	p := &out.product
	nodes := variantNodes(n)

	if len(nodes) == 0 {
		// Product without variants: one default variant carrying the
		// product-level stock and price.
		v := catalog.Variant{
			Code:        p.Code,
			ProductCode: p.Code,
			Weight:      t.weight(p.Code, "weight", n.Attr("weight")),
			GrossWeight: t.weight(p.Code, "gross_weight", firstNonEmpty(n.Attr("gross_weight"), n.Attr("weight_gross"))),
			EAN:         p.EAN,
		}
		out.variants = append(out.variants, v)
		out.stock = append(out.stock, t.mapStock(p.Code, v.Code, n))
		out.prices = append(out.prices, t.mapPrice(p, v.Code, n, nil))
		return nil
	}

	for i, vn := range nodes {
		vcode := vn.Value("code")
		if vcode == "" {
			suffix := vn.Attr("id")
			if suffix == "" {
				suffix = strconv.Itoa(i + 1)
			}
			vcode = p.Code + "-" + suffix
		}

		v := catalog.Variant{
			Code:        vcode,
			ProductCode: p.Code,
			Weight:      t.weight(p.Code, "variant.weight", vn.Attr("weight")),
			GrossWeight: t.weight(p.Code, "variant.gross_weight", firstNonEmpty(vn.Attr("gross_weight"), vn.Attr("weight_gross"))),
		}
		if raw := vn.Value("ean"); raw != "" {
			v.EAN = t.ean(p.Code, "variant.ean", raw)
		}
		if !v.Weight.Valid {
			v.Weight = t.weight(p.Code, "weight", n.Attr("weight"))
		}

		out.variants = append(out.variants, v)
		out.stock = append(out.stock, t.mapStock(p.Code, vcode, vn))
		out.prices = append(out.prices, t.mapPrice(p, vcode, vn, n))
	}

	if p.EAN == "" && len(out.variants) == 1 {
		p.EAN = out.variants[0].EAN
	}
	return nil
}

// weight parses a weight attribute. Negative weights and weights beyond
// the column range are recorded and nulled.
func (t *Transformer) weight(code, field, raw string) decimal.NullDecimal {
	w := validate.NullNumber(raw)
	if w.Valid && (w.Decimal.IsNegative() || !validate.FitsNumeric(w.Decimal, weightDigits, weightScale)) {
		t.invalid(code, field, raw, "weight out of range, ignored")
		return decimal.NullDecimal{}
	}
	return w
}

func (t *Transformer) mapImages(code string, n *feed.Node) []catalog.Image {
	var nodes []*feed.Node
	if imgs := n.Child("images"); imgs != nil {
		nodes = imgs.Descendants("image")
	}
	nodes = append(nodes, n.All("image")...)

	seen := make(map[string]bool)
	var out []catalog.Image
	for _, img := range nodes {
		raw := firstNonEmpty(img.Attr("url"), img.Attr("src"), img.Text)
		if raw == "" {
			continue
		}
		res := validate.URL(raw)
		if !res.Valid {
			t.invalid(code, "image", raw, res.Warning)
			continue
		}
		if seen[res.Normalized] {
			continue
		}
		seen[res.Normalized] = true
		out = append(out, catalog.Image{ProductCode: code, URL: res.Normalized, Position: len(out)})
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

