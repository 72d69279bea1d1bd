package transform

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/catalogsync/internal/catalog"
	"github.com/JonMunkholm/catalogsync/internal/feed"
	"github.com/JonMunkholm/catalogsync/internal/validate"
)

// priceFields is a price element read from any of its shapes.
type priceFields struct {
	gross    decimal.NullDecimal
	net      decimal.NullDecimal
	currency string
}

func readPrice(n *feed.Node) (priceFields, bool) {
	pf := priceFields{
		gross:    validate.NullNumber(firstNonEmpty(n.Attr("gross"), n.Attr("price_gross"), n.Attr("value"))),
		net:      validate.NullNumber(firstNonEmpty(n.Attr("net"), n.Attr("price_net"))),
		currency: n.Attr("currency"),
	}
	if !pf.gross.Valid && !pf.net.Valid {
		pf.gross = validate.NullNumber(n.Text)
	}
	return pf, pf.gross.Valid || pf.net.Valid
}

// regularPrice looks for a nested <prices><price/></prices> list first and
// a direct <price/> element second.
func regularPrice(n *feed.Node) (priceFields, bool) {
	for _, pn := range n.Path("prices", "price") {
		if pf, ok := readPrice(pn); ok {
			return pf, true
		}
	}
	if pn := n.Child("price"); pn != nil {
		return readPrice(pn)
	}
	return priceFields{}, false
}

// retailPrice reads the suggested retail price element.
func retailPrice(n *feed.Node) (priceFields, bool) {
	for _, sn := range append(n.All("srp"), n.Path("prices", "srp")...) {
		if pf, ok := readPrice(sn); ok {
			return pf, true
		}
	}
	return priceFields{}, false
}

// completePrice fills in the missing side of a gross/net pair:
// net = gross / (1 + vat/100), rounded to cents.
func completePrice(gross, net decimal.NullDecimal, vat decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	factor := decimal.NewFromInt(1).Add(vat.Div(hundred))
	switch {
	case gross.Valid && net.Valid:
		return gross.Decimal, net.Decimal
	case gross.Valid:
		return gross.Decimal, gross.Decimal.Div(factor).Round(2)
	default:
		return net.Decimal.Mul(factor).Round(2), net.Decimal
	}
}

// NetPrice derives the net price from a gross price and a VAT rate in percent.
func NetPrice(gross, vat decimal.Decimal) decimal.Decimal {
	_, net := completePrice(decimal.NullDecimal{Decimal: gross, Valid: true}, decimal.NullDecimal{}, vat)
	return net
}

// mapPrice unifies the price shapes of a variant into one Price. Variant
// level prices win over product level ones. A variant carrying only a
// suggested retail price uses it as its price too. Returns nil when no
// usable price is present.
func (t *Transformer) mapPrice(p *catalog.Product, variantCode string, vn, product *feed.Node) *catalog.Price {
	regular, ok := regularPrice(vn)
	if !ok && product != nil {
		regular, ok = regularPrice(product)
	}
	srp, srpOK := retailPrice(vn)
	if !srpOK && product != nil {
		srp, srpOK = retailPrice(product)
	}

	if !ok && !srpOK {
		t.warn(p.Code, "price", "variant "+variantCode+" has no price")
		return nil
	}
	if !ok {
		regular = srp
	}

	gross, net := completePrice(regular.gross, regular.net, p.VAT)
	if gross.IsNegative() || net.IsNegative() {
		t.invalid(p.Code, "price", gross.String(), "negative price, price skipped")
		return nil
	}
	if !fitsPrice(gross) || !fitsPrice(net) {
		t.invalid(p.Code, "price", gross.String(), "price out of range, price skipped")
		return nil
	}

	price := &catalog.Price{
		VariantCode: variantCode,
		Gross:       gross,
		Net:         net,
		VAT:         p.VAT,
		Currency: strings.ToUpper(firstNonEmpty(
			regular.currency,
			srp.currency,
			productAttr(product, vn, "currency"),
			t.feedCurrency,
			t.opts.DefaultCurrency,
		)),
	}
	if srpOK {
		sg, sn := completePrice(srp.gross, srp.net, p.VAT)
		switch {
		case sg.IsNegative() || sn.IsNegative() || !fitsPrice(sg) || !fitsPrice(sn):
			t.invalid(p.Code, "srp", sg.String(), "retail price out of range, ignored")
		default:
			price.SRPGross = decimal.NullDecimal{Decimal: sg, Valid: true}
			price.SRPNet = decimal.NullDecimal{Decimal: sn, Valid: true}
		}
	}
	return price
}

func fitsPrice(d decimal.Decimal) bool {
	return validate.FitsNumeric(d, priceDigits, priceScale)
}

// productAttr reads an attribute from the product node; for default
// variants the variant node is the product node itself.
func productAttr(product, vn *feed.Node, name string) string {
	if product != nil {
		return product.Attr(name)
	}
	return vn.Attr(name)
}

// mapStock sums the <stock> elements of a variant, falling back to
// quantity attributes on the variant element itself.
func (t *Transformer) mapStock(code, variantCode string, vn *feed.Node) catalog.Stock {
	s := catalog.Stock{VariantCode: variantCode}

	sources := vn.All("stock")
	if len(sources) == 0 {
		sources = []*feed.Node{vn}
	}

	var (
		quantity  decimal.Decimal
		available *bool
	)
	for _, sn := range sources {
		raw := firstNonEmpty(sn.Attr("quantity"), sn.Attr("stock"), sn.Attr("qty"))
		if raw == "" && sn != vn {
			raw = sn.Text
		}
		if raw != "" {
			if q, ok := validate.Number(raw); ok {
				quantity = quantity.Add(q)
			} else {
				t.invalid(code, "stock.quantity", raw, "invalid stock quantity")
			}
		}
		if raw := sn.Attr("available"); raw != "" {
			b := parseBool(raw)
			if available == nil || b {
				available = &b
			}
		}
		if s.MinOrderQuantity == 0 {
			s.MinOrderQuantity = t.orderQuantity(code, "stock.min_order", sn, "min_order", "min_order_quantity")
		}
		if s.MaxOrderQuantity == 0 {
			s.MaxOrderQuantity = t.orderQuantity(code, "stock.max_order", sn, "max_order", "max_order_quantity")
		}
	}

	if quantity.IsNegative() {
		t.invalid(code, "stock.quantity", quantity.String(), "negative stock quantity, using 0")
		quantity = decimal.Zero
	}
	if q, ok := validate.IntIn(quantity.Floor(), 0, math.MaxInt64); ok {
		s.Quantity = q
	} else {
		t.invalid(code, "stock.quantity", quantity.String(), "stock quantity out of range, using 0")
	}

	if available != nil {
		s.Available = *available
	} else {
		s.Available = s.Quantity > 0
	}
	if s.MaxOrderQuantity > 0 && s.MinOrderQuantity > s.MaxOrderQuantity {
		t.warn(code, "stock.max_order", "max order quantity below min order quantity, ignored")
		s.MaxOrderQuantity = 0
	}
	return s
}

// orderQuantity reads the first positive quantity among names, rounded
// up. 0 means unset.
func (t *Transformer) orderQuantity(code, field string, n *feed.Node, names ...string) int64 {
	for _, name := range names {
		raw := n.Attr(name)
		d, ok := validate.Number(raw)
		if !ok || !d.IsPositive() {
			continue
		}
		v, fits := validate.IntIn(d.Ceil(), 1, math.MaxInt64)
		if !fits {
			t.invalid(code, field, raw, "order quantity out of range, ignored")
			return 0
		}
		return v
	}
	return 0
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "t", "yes", "y", "tak":
		return true
	}
	return false
}
