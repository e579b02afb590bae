package model

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ProfileSlug builds the profile id "name_role_year" with accents folded,
// lower-cased and every run of non-alphanumerics collapsed to a single '_'.
func ProfileSlug(name, role string, year int) string {
	raw := name + " " + role + " " + strconv.Itoa(year)

	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, raw)
	if err != nil {
		folded = raw
	}

	var sb strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && sb.Len() > 0 {
				sb.WriteByte('_')
			}
			pendingSep = false
			sb.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return sb.String()
}
