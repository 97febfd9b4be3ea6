// Package i18n normalises language codes and picks the translation shown for a
// requested display language.
package i18n

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"github.com/companydir/companydir/internal/shared"
)

// MaxCodeLength matches the width of the language_code columns.
const MaxCodeLength = 10

// DefaultLanguage is used when a request names no display language.
const DefaultLanguage = "ko"

// Normalize trims code and fixes the case of its subtags ("KO" becomes "ko",
// "zh-tw" becomes "zh-TW"). Codes are stored as written otherwise: deprecated
// codes such as "iw" are not mapped, and well-formed but unregistered codes
// such as "jp" are accepted. Only malformed or over-long codes are rejected.
func Normalize(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", fmt.Errorf("%w: language code is empty", shared.ErrBadRequest)
	}
	if len(code) > MaxCodeLength {
		return "", fmt.Errorf("%w: language code %q longer than %d", shared.ErrBadRequest, code, MaxCodeLength)
	}
	tag, err := language.Raw.Parse(code)
	var unknown language.ValueError
	switch {
	case err == nil:
		return tag.String(), nil
	case errors.As(err, &unknown):
		return caseSubtags(code), nil
	default:
		return "", fmt.Errorf("%w: language code %q: %v", shared.ErrBadRequest, code, err)
	}
}

// caseSubtags applies BCP 47 casing without consulting the registry.
func caseSubtags(code string) string {
	parts := strings.FieldsFunc(code, func(r rune) bool { return r == '-' || r == '_' })
	for i, part := range parts {
		switch {
		case i == 0:
			parts[i] = strings.ToLower(part)
		case len(part) == 2:
			parts[i] = strings.ToUpper(part)
		case len(part) == 4:
			parts[i] = strings.ToUpper(part[:1]) + strings.ToLower(part[1:])
		default:
			parts[i] = strings.ToLower(part)
		}
	}
	return strings.Join(parts, "-")
}

// NormalizeAll normalises every code and drops duplicates, keeping first occurrences.
func NormalizeAll(codes []string) ([]string, error) {
	out := make([]string, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		if strings.TrimSpace(code) == "" {
			continue
		}
		normalized, err := Normalize(code)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out, nil
}

// NormalizeBundle normalises the language keys of a label bundle and trims its
// texts. Empty texts and keys that collide after normalisation are rejected.
func NormalizeBundle(bundle map[string]string) (map[string]string, error) {
	if len(bundle) == 0 {
		return nil, fmt.Errorf("%w: label bundle is empty", shared.ErrBadRequest)
	}
	out := make(map[string]string, len(bundle))
	for code, text := range bundle {
		normalized, err := Normalize(code)
		if err != nil {
			return nil, err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, fmt.Errorf("%w: empty text for language %q", shared.ErrBadRequest, normalized)
		}
		if _, dup := out[normalized]; dup {
			return nil, fmt.Errorf("%w: language %q given twice", shared.ErrBadRequest, normalized)
		}
		out[normalized] = text
	}
	return out, nil
}
