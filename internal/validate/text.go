package validate

import "strings"

// Text is a feed text field in one of its three shapes: Plain, Localized
// or Attributes.
type Text interface {
	isText()
}

// Plain is bare character data.
type Plain string

// Localized is character data tagged with a language.
type Localized struct {
	Text string
	Lang string
}

// Attributes is an element that carries its value only in attributes.
type Attributes map[string]string

func (Plain) isText()      {}
func (Localized) isText()  {}
func (Attributes) isText() {}

// attributeTextKeys are tried in order when a field has no character data.
var attributeTextKeys = []string{"value", "text", "name", "title", "label"}

// TextOf classifies an element by its content.
func TextOf(chardata, lang string, attrs map[string]string) Text {
	chardata = strings.TrimSpace(chardata)
	switch {
	case chardata != "" && lang != "":
		return Localized{Text: chardata, Lang: lang}
	case chardata != "":
		return Plain(chardata)
	case len(attrs) > 0:
		return Attributes(attrs)
	default:
		return Plain("")
	}
}

// ExtractText returns the best-effort text of t, or "".
func ExtractText(t Text) string {
	switch v := t.(type) {
	case Plain:
		return strings.TrimSpace(string(v))
	case Localized:
		return strings.TrimSpace(v.Text)
	case Attributes:
		for _, k := range attributeTextKeys {
			if s := strings.TrimSpace(v[k]); s != "" {
				return s
			}
		}
	}
	return ""
}

// PickText returns the text in the preferred language, falling back to the
// first non-empty value.
func PickText(texts []Text, lang string) string {
	if lang != "" {
		for _, t := range texts {
			if l, ok := t.(Localized); ok && strings.EqualFold(l.Lang, lang) {
				if s := ExtractText(l); s != "" {
					return s
				}
			}
		}
	}
	for _, t := range texts {
		if s := ExtractText(t); s != "" {
			return s
		}
	}
	return ""
}
