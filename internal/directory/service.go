package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/companydir/companydir/internal/i18n"
	"github.com/companydir/companydir/internal/shared"
	"github.com/companydir/companydir/internal/tags"
)

// Recorder observes domain events. Implementations must be safe for concurrent use.
type Recorder interface {
	CacheRecorder
	TagGroupCreated()
	TagLinksChanged(op string, n int)
}

type noopRecorder struct{}

func (noopRecorder) CacheLookup(string, bool)    {}
func (noopRecorder) TagGroupCreated()            {}
func (noopRecorder) TagLinksChanged(string, int) {}

// ServiceConfig tunes language handling.
type ServiceConfig struct {
	// FallbackLanguages orders the languages tried when a display language is
	// missing. Entries must be normalised.
	FallbackLanguages []string
}

// Service provides the directory operations. Each operation is one unit of
// work against the repository.
type Service struct {
	repo     Repository
	cache    *Cache
	langs    *i18n.Resolver
	tags     *tags.Resolver
	logger   *slog.Logger
	recorder Recorder
}

// NewService constructs a directory service. cache, logger and recorder may be nil.
func NewService(repo Repository, cache *Cache, cfg ServiceConfig, logger *slog.Logger, recorder Recorder) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Service{
		repo:     repo,
		cache:    cache,
		langs:    i18n.NewResolver(cfg.FallbackLanguages),
		tags:     tags.NewResolver(cfg.FallbackLanguages),
		logger:   logger,
		recorder: recorder,
	}
}

// Search returns company names in language containing query, case-insensitively.
// Names in other languages are never returned.
func (s *Service) Search(ctx context.Context, query, language string) ([]CompanyItem, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", shared.ErrBadRequest)
	}
	lang, err := i18n.Normalize(language)
	if err != nil {
		return nil, err
	}

	var names []string
	err = s.cache.Fetch(ctx, "search", &names, func(ctx context.Context) (any, error) {
		var found []string
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			found, err = tx.SearchCompanyNames(ctx, query, lang)
			return err
		})
		return found, err
	}, lang, query)
	if err != nil {
		return nil, fmt.Errorf("search companies: %w", err)
	}

	items := make([]CompanyItem, 0, len(names))
	for _, name := range names {
		items = append(items, CompanyItem{CompanyName: name})
	}
	return items, nil
}

// Detail returns the company whose name in language is exactly companyName,
// with its tags rendered in language or the best fallback.
func (s *Service) Detail(ctx context.Context, companyName, language string) (CompanyDetail, error) {
	lang, err := i18n.Normalize(language)
	if err != nil {
		return CompanyDetail{}, err
	}

	var detail CompanyDetail
	err = s.cache.Fetch(ctx, "detail", &detail, func(ctx context.Context) (any, error) {
		var out CompanyDetail
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			out = CompanyDetail{CompanyName: companyName, Tags: []string{}}
			companyID, err := tx.CompanyByName(ctx, companyName, lang)
			if err != nil {
				return err
			}
			groupIDs, err := tx.CompanyTagGroupIDs(ctx, companyID)
			if err != nil {
				return err
			}
			translations, err := tx.TagGroupTranslations(ctx, groupIDs)
			if err != nil {
				return err
			}
			for _, id := range groupIDs {
				if t, ok := s.langs.Pick(translations[id], lang); ok {
					out.Tags = append(out.Tags, t.Name)
				}
			}
			return nil
		})
		return out, err
	}, lang, companyName)
	if err != nil {
		return CompanyDetail{}, fmt.Errorf("company detail: %w", err)
	}
	return detail, nil
}

// Create stores a company with its names and tags, then renders it in language.
// The rendered name and tags use language only; no fallback applies.
func (s *Service) Create(ctx context.Context, company NewCompany, language string) (CompanyView, error) {
	lang, err := i18n.Normalize(language)
	if err != nil {
		return CompanyView{}, err
	}
	names, err := i18n.NormalizeBundle(company.Names)
	if err != nil {
		return CompanyView{}, err
	}
	bundles, err := normalizeBundles(company.Tags)
	if err != nil {
		return CompanyView{}, err
	}

	var (
		companyID int64
		created   int
		linked    int
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created, linked = 0, 0
		for _, name := range names {
			if _, err := tx.CompanyByAnyName(ctx, name); err == nil {
				return fmt.Errorf("%w: %q", ErrCompanyNameTaken, name)
			} else if !isNotFound(err) {
				return err
			}
		}

		var err error
		companyID, err = tx.CreateCompany(ctx)
		if err != nil {
			return err
		}
		for _, code := range sortedKeys(names) {
			if err := tx.AddCompanyTranslation(ctx, companyID, code, names[code]); err != nil {
				return err
			}
		}
		created, linked, err = s.attach(ctx, tx, companyID, bundles)
		return err
	})
	if err != nil {
		return CompanyView{}, fmt.Errorf("create company: %w", err)
	}
	s.afterWrite(ctx, "create", created, linked)

	return s.view(ctx, companyID, lang, false, false)
}

// SearchByTag lists the companies tagged with any tag group that has a
// translation exactly equal to query, in any language. Names are rendered in
// language or the best fallback.
func (s *Service) SearchByTag(ctx context.Context, query, language string) ([]CompanyItem, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", shared.ErrBadRequest)
	}
	lang, err := i18n.Normalize(language)
	if err != nil {
		return nil, err
	}

	items := []CompanyItem{}
	err = s.cache.Fetch(ctx, "tag_search", &items, func(ctx context.Context) (any, error) {
		out := []CompanyItem{}
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			out = out[:0]
			groupIDs, err := tx.TagGroupIDsByName(ctx, query)
			if err != nil || len(groupIDs) == 0 {
				return err
			}
			companyIDs, err := tx.CompanyIDsByTagGroups(ctx, groupIDs)
			if err != nil || len(companyIDs) == 0 {
				return err
			}
			translations, err := tx.CompanyTranslations(ctx, companyIDs)
			if err != nil {
				return err
			}
			for _, id := range companyIDs {
				if t, ok := s.langs.Pick(translations[id], lang); ok {
					out = append(out, CompanyItem{CompanyName: t.Name})
				}
			}
			return nil
		})
		return out, err
	}, lang, query)
	if err != nil {
		return nil, fmt.Errorf("search companies by tag: %w", err)
	}
	return items, nil
}

// AddTags attaches tag bundles to the company named companyName in any
// language. Attaching a tag the company already has is a no-op.
func (s *Service) AddTags(ctx context.Context, companyName string, labels []tags.LabelBundle, language string) (CompanyView, error) {
	lang, err := i18n.Normalize(language)
	if err != nil {
		return CompanyView{}, err
	}
	bundles, err := normalizeBundles(labels)
	if err != nil {
		return CompanyView{}, err
	}

	var (
		companyID int64
		created   int
		linked    int
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		companyID, err = tx.CompanyByAnyName(ctx, companyName)
		if err != nil {
			return err
		}
		created, linked, err = s.attach(ctx, tx, companyID, bundles)
		if err != nil {
			return err
		}
		if linked > 0 {
			return tx.TouchCompany(ctx, companyID)
		}
		return nil
	})
	if err != nil {
		return CompanyView{}, fmt.Errorf("add company tags: %w", err)
	}
	s.afterWrite(ctx, "attach", created, linked)

	return s.view(ctx, companyID, lang, true, true)
}

// RemoveTag detaches the tag group whose translation is exactly tagName from
// the company named companyName. Removing a tag the company does not carry is
// a no-op.
func (s *Service) RemoveTag(ctx context.Context, companyName, tagName, language string) (CompanyView, error) {
	lang, err := i18n.Normalize(language)
	if err != nil {
		return CompanyView{}, err
	}

	var (
		companyID int64
		removed   bool
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		companyID, err = tx.CompanyByAnyName(ctx, companyName)
		if err != nil {
			return err
		}
		groupIDs, err := tx.TagGroupIDsByName(ctx, tagName)
		if err != nil {
			return err
		}
		if len(groupIDs) == 0 {
			return fmt.Errorf("%w: %q", ErrTagNotFound, tagName)
		}
		removed, err = tx.UnlinkTag(ctx, companyID, groupIDs[0])
		if err != nil {
			return err
		}
		if removed {
			return tx.TouchCompany(ctx, companyID)
		}
		return nil
	})
	if err != nil {
		return CompanyView{}, fmt.Errorf("remove company tag: %w", err)
	}
	if removed {
		s.afterWrite(ctx, "detach", 0, 1)
	}

	return s.view(ctx, companyID, lang, true, true)
}

// attach resolves every bundle and links its tag group to the company. It
// returns how many tag groups were created and how many links were added.
func (s *Service) attach(ctx context.Context, tx TxRepository, companyID int64, bundles []tags.LabelBundle) (int, int, error) {
	created, linked := 0, 0
	for _, bundle := range bundles {
		res, err := s.tags.Resolve(ctx, tx, bundle)
		if err != nil {
			return 0, 0, err
		}
		if res.Created {
			created++
		}
		added, err := tx.LinkTag(ctx, companyID, res.TagGroupID)
		if err != nil {
			return 0, 0, err
		}
		if added {
			linked++
		}
	}
	return created, linked, nil
}

// view renders a company after a write. nameFallback allows the name to come
// from another language; sortByLabel orders tags by the number embedded in the
// displayed text instead of by tag group id. Tags are always shown in language
// only.
func (s *Service) view(ctx context.Context, companyID int64, language string, nameFallback, sortByLabel bool) (CompanyView, error) {
	out := CompanyView{Tags: []string{}}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		out = CompanyView{Tags: []string{}}
		names, err := tx.CompanyTranslations(ctx, []int64{companyID})
		if err != nil {
			return err
		}
		var (
			name i18n.Translation
			ok   bool
		)
		if nameFallback {
			name, ok = s.langs.Pick(names[companyID], language)
		} else {
			name, ok = i18n.Exact(names[companyID], language)
		}
		if ok {
			out.CompanyName = &name.Name
		}

		groupIDs, err := tx.CompanyTagGroupIDs(ctx, companyID)
		if err != nil {
			return err
		}
		translations, err := tx.TagGroupTranslations(ctx, groupIDs)
		if err != nil {
			return err
		}
		var shown []displayedTag
		for _, id := range groupIDs {
			if t, ok := i18n.Exact(translations[id], language); ok {
				shown = append(shown, displayedTag{groupID: id, name: t.Name})
			}
		}
		if sortByLabel {
			sortByEmbeddedID(shown)
		}
		for _, tag := range shown {
			out.Tags = append(out.Tags, tag.name)
		}
		return nil
	})
	if err != nil {
		return CompanyView{}, fmt.Errorf("render company %d: %w", companyID, err)
	}
	return out, nil
}

func (s *Service) afterWrite(ctx context.Context, op string, created, linked int) {
	for i := 0; i < created; i++ {
		s.recorder.TagGroupCreated()
	}
	s.recorder.TagLinksChanged(op, linked)
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("bump directory cache", slog.String("op", op), slog.Any("error", err))
	}
}

type displayedTag struct {
	groupID int64
	name    string
}

// sortByEmbeddedID orders tags by the number in their displayed text. Texts
// without a number sort by their tag group id; ties keep tag group id order.
func sortByEmbeddedID(shown []displayedTag) {
	key := func(t displayedTag) int64 {
		if id, err := tags.ExtractID(t.name); err == nil {
			return id
		}
		return t.groupID
	}
	sort.SliceStable(shown, func(i, j int) bool {
		ki, kj := key(shown[i]), key(shown[j])
		if ki != kj {
			return ki < kj
		}
		return shown[i].groupID < shown[j].groupID
	})
}

func isNotFound(err error) bool {
	return errors.Is(err, shared.ErrNotFound)
}

func normalizeBundles(labels []tags.LabelBundle) ([]tags.LabelBundle, error) {
	out := make([]tags.LabelBundle, 0, len(labels))
	for i, label := range labels {
		bundle, err := i18n.NormalizeBundle(label)
		if err != nil {
			return nil, fmt.Errorf("tag %d: %w", i, err)
		}
		out = append(out, tags.LabelBundle(bundle))
	}
	return out, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
