package directory

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/companydir/companydir/internal/i18n"
	"github.com/companydir/companydir/internal/tags"
)

// Column prefixes understood by ReadCompaniesCSV.
const (
	csvCompanyPrefix = "company_"
	csvTagPrefix     = "tag_"
	csvTagSeparator  = "|"
)

// ReadCompaniesCSV parses a company sheet. The header names one column per
// language, company_<code> for names and tag_<code> for tags. Tag cells hold
// "|" separated labels, aligned by position across languages.
func ReadCompaniesCSV(r io.Reader) ([]NewCompany, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	type column struct {
		lang  string
		isTag bool
	}
	columns := make([]column, len(header))
	for i, name := range header {
		name = strings.TrimPrefix(strings.TrimSpace(name), "\ufeff")
		var prefix string
		switch {
		case strings.HasPrefix(name, csvCompanyPrefix):
			prefix = csvCompanyPrefix
		case strings.HasPrefix(name, csvTagPrefix):
			prefix = csvTagPrefix
		default:
			continue
		}
		lang, err := i18n.Normalize(strings.TrimPrefix(name, prefix))
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		columns[i] = column{lang: lang, isTag: prefix == csvTagPrefix}
	}

	var out []NewCompany
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		company := NewCompany{Names: map[string]string{}}
		for i, cell := range record {
			if i >= len(columns) || columns[i].lang == "" {
				continue
			}
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			if !columns[i].isTag {
				company.Names[columns[i].lang] = cell
				continue
			}
			for pos, label := range strings.Split(cell, csvTagSeparator) {
				label = strings.TrimSpace(label)
				if label == "" {
					continue
				}
				for len(company.Tags) <= pos {
					company.Tags = append(company.Tags, tags.LabelBundle{})
				}
				company.Tags[pos][columns[i].lang] = label
			}
		}
		if len(company.Names) == 0 {
			continue
		}
		company.Tags = compactBundles(company.Tags)
		out = append(out, company)
	}
}

func compactBundles(bundles []tags.LabelBundle) []tags.LabelBundle {
	out := bundles[:0]
	for _, b := range bundles {
		if len(b) > 0 {
			out = append(out, b)
		}
	}
	return out
}

// ImportResult counts what an import did.
type ImportResult struct {
	Created int
	Skipped int
}

// Creator creates companies. *Service satisfies it.
type Creator interface {
	Create(ctx context.Context, company NewCompany, language string) (CompanyView, error)
}

// ImportCompanies creates each company through svc. Companies whose name is
// already taken are skipped so an import can be re-run.
func ImportCompanies(ctx context.Context, svc Creator, companies []NewCompany, language string, logger *slog.Logger) (ImportResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var result ImportResult
	for i, company := range companies {
		if _, err := svc.Create(ctx, company, language); err != nil {
			if errors.Is(err, ErrCompanyNameTaken) {
				result.Skipped++
				continue
			}
			return result, fmt.Errorf("company %d: %w", i+1, err)
		}
		result.Created++
	}
	logger.Info("company import complete", slog.Int("created", result.Created), slog.Int("skipped", result.Skipped))
	return result, nil
}
