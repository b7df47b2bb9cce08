package catalog

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeHeader canonicalizes a spreadsheet header for matching: Unicode
// NFKC, surrounding and repeated whitespace collapsed, case folded.
func NormalizeHeader(s string) string {
	s = norm.NFKC.String(s)
	s = strings.Join(strings.Fields(s), " ")
	return cases.Fold().String(s)
}

// SplitUnit separates a trailing parenthesised unit from a header, so
// "Total Irrigation Water (million ML)" yields ("Total Irrigation Water",
// "million ML"). Headers without a trailing group return an empty unit.
func SplitUnit(header string) (name, unit string) {
	h := strings.TrimSpace(header)
	if !strings.HasSuffix(h, ")") {
		return h, ""
	}
	open := strings.LastIndex(h, "(")
	if open <= 0 {
		return h, ""
	}
	return strings.TrimSpace(h[:open]), strings.TrimSpace(h[open+1 : len(h)-1])
}
