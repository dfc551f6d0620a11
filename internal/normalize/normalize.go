// Package normalize reduces the free-text fields acquirers send (brand, modality,
// acquirer names, transaction references) to comparable keys.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Text lowercases s, strips accents and drops every character that is not a letter
// or digit: "Pré-Pago Débito" becomes "prepagodebito".
func Text(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}

	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range strings.ToLower(stripped) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// BrandAlias maps a normalized brand prefix to its canonical network name.
type BrandAlias struct {
	Prefix    string
	Canonical string
}

// brandAliases is checked in order; the first matching prefix wins. Prefixes are in
// Text form.
var brandAliases = []BrandAlias{
	{Prefix: "master", Canonical: "MASTER"},
	{Prefix: "visa", Canonical: "VISA"},
	{Prefix: "elo", Canonical: "ELO"},
	{Prefix: "hiper", Canonical: "HIPER"},
	{Prefix: "amex", Canonical: "AMEX"},
	{Prefix: "americanexpress", Canonical: "AMEX"},
}

// RegisterBrandAlias adds an alias ahead of the built-in table so acquirer-specific
// spellings can be mapped without code changes. Call during start-up only.
func RegisterBrandAlias(prefix, canonical string) {
	alias := BrandAlias{Prefix: Text(prefix), Canonical: strings.ToUpper(Text(canonical))}
	brandAliases = append([]BrandAlias{alias}, brandAliases...)
}

// Brand returns the canonical card network for a free-text brand: "Mastercard
// Débito" and "MASTER" both become "MASTER". Unknown brands come back in upper-cased
// Text form and an empty input stays empty.
func Brand(s string) string {
	n := Text(s)
	if n == "" {
		return ""
	}
	for _, alias := range brandAliases {
		if strings.HasPrefix(n, alias.Prefix) {
			return alias.Canonical
		}
	}
	return strings.ToUpper(n)
}

// BrandsCompatible reports whether two brands denote the same network. An empty
// brand on either side is compatible with anything.
func BrandsCompatible(a, b string) bool {
	ca, cb := Brand(a), Brand(b)
	return ca == "" || cb == "" || ca == cb
}

// Ref keeps only the digits of a transaction reference and drops leading zeros, so
// "NSU 000045" and "45" compare equal. A reference of only zeros becomes "".
func Ref(ref string) string {
	var b strings.Builder
	b.Grow(len(ref))
	for _, r := range ref {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return strings.TrimLeft(b.String(), "0")
}
