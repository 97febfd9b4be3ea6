// Package directory implements the multilingual company directory: company
// search, detail lookup, creation and tag management.
package directory

import (
	"fmt"

	"github.com/companydir/companydir/internal/shared"
	"github.com/companydir/companydir/internal/tags"
)

var (
	// ErrCompanyNotFound is returned when no company carries the requested name.
	ErrCompanyNotFound = fmt.Errorf("company %w", shared.ErrNotFound)
	// ErrTagNotFound is returned when no tag translation matches the requested name.
	ErrTagNotFound = fmt.Errorf("tag %w", shared.ErrNotFound)
	// ErrCompanyNameTaken is returned when another company already uses the
	// name in any language. A company may repeat its own name across languages.
	ErrCompanyNameTaken = fmt.Errorf("company name %w", shared.ErrDuplicate)
)

// CompanyItem is one row of a company name listing.
type CompanyItem struct {
	CompanyName string `json:"company_name"`
}

// CompanyDetail is a company rendered in one display language.
type CompanyDetail struct {
	CompanyName string   `json:"company_name"`
	Tags        []string `json:"tags"`
}

// CompanyView is returned by write operations. CompanyName is nil when the
// company has no name in the display language and no fallback applies.
type CompanyView struct {
	CompanyName *string  `json:"company_name"`
	Tags        []string `json:"tags"`
}

// NewCompany describes a company to create.
type NewCompany struct {
	Names map[string]string
	Tags  []tags.LabelBundle
}
