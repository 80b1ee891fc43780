package geo

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// NormalizeZip returns the 5-digit form of zip. ZIP+4 suffixes are dropped
// and 3- or 4-digit values that lost leading zeros in a spreadsheet are
// padded back.
func NormalizeZip(zip string) (string, bool) {
	z := strings.TrimSpace(zip)
	if i := strings.IndexByte(z, '-'); i >= 0 {
		z = z[:i]
	}
	if len(z) < 3 || len(z) > 5 {
		return "", false
	}
	for _, r := range z {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return strings.Repeat("0", 5-len(z)) + z, true
}

// NormalizeCounty canonicalises a county name: whitespace collapsed, a
// trailing "County" dropped, and single-case input title-cased. Mixed-case
// input keeps its casing so names like "McLean" survive.
func NormalizeCounty(name string) string {
	n := strings.Join(strings.Fields(name), " ")
	if lower := strings.ToLower(n); strings.HasSuffix(lower, " county") {
		n = n[:len(n)-len(" county")]
	}
	if n == strings.ToUpper(n) || n == strings.ToLower(n) {
		n = cases.Title(language.AmericanEnglish).String(n)
	}
	return n
}

// NormalizeState upper-cases a two-letter state code.
func NormalizeState(code string) (string, bool) {
	s := strings.ToUpper(strings.TrimSpace(code))
	if len(s) != 2 {
		return "", false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return "", false
		}
	}
	return s, true
}
