// Package tags derives the canonical tag group of a multilingual tag label.
//
// A tag group id is carried inside the label text itself: "tag_42", "태그_42"
// and "タグ_42" all name tag group 42. The digits of the basis label (Korean
// when present) are the id; every language's text becomes a translation of
// that group.
package tags

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/width"

	"github.com/companydir/companydir/internal/shared"
)

// BasisLanguage is preferred when choosing which label text carries the id.
const BasisLanguage = "ko"

// ErrMalformedLabel reports a basis label without a usable numeric identity.
var ErrMalformedLabel = fmt.Errorf("%w: tag label carries no numeric identity", shared.ErrBadRequest)

// LabelBundle maps a language code to the tag text in that language.
type LabelBundle map[string]string

// Languages returns the bundle's language codes in lexical order.
func (b LabelBundle) Languages() []string {
	codes := make([]string, 0, len(b))
	for code := range b {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// BasisLabel selects the text whose digits identify the tag group: Korean when
// present, else the first language of priority present in the bundle, else the
// lexically smallest language code.
func BasisLabel(bundle LabelBundle, priority []string) (string, string, bool) {
	if len(bundle) == 0 {
		return "", "", false
	}
	if text, ok := bundle[BasisLanguage]; ok {
		return BasisLanguage, text, true
	}
	for _, code := range priority {
		if text, ok := bundle[code]; ok {
			return code, text, true
		}
	}
	code := bundle.Languages()[0]
	return code, bundle[code], true
}

// ExtractID strips every non-digit from text and parses the rest as a base-10
// id. Decimal digits of any script count, so "tag_４２" and "tag_٤٢" are both 42.
func ExtractID(text string) (int64, error) {
	var digits strings.Builder
	for _, r := range width.Narrow.String(text) {
		if v, ok := digitValue(r); ok {
			digits.WriteByte(byte('0' + v))
		}
	}
	if digits.Len() == 0 {
		return 0, fmt.Errorf("%w: %q has no digits", ErrMalformedLabel, text)
	}
	id, err := strconv.ParseInt(digits.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrMalformedLabel, text, err)
	}
	return id, nil
}

// digitValue returns the value of a decimal digit (category Nd). Unicode
// encodes those in unbroken runs of ten starting at zero, so a digit's value
// is its offset from the start of its run modulo ten.
func digitValue(r rune) (int, bool) {
	if r >= '0' && r <= '9' {
		return int(r - '0'), true
	}
	if !unicode.IsDigit(r) {
		return 0, false
	}
	start := r
	for unicode.IsDigit(start - 1) {
		start--
	}
	return int(r-start) % 10, true
}

// BundleID resolves the tag group id of bundle without touching storage.
func BundleID(bundle LabelBundle, priority []string) (int64, error) {
	_, text, ok := BasisLabel(bundle, priority)
	if !ok {
		return 0, fmt.Errorf("%w: empty tag label", ErrMalformedLabel)
	}
	return ExtractID(text)
}
