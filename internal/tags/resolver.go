package tags

import (
	"context"
	"fmt"
)

// Store is the transactional storage the resolver writes through.
type Store interface {
	// EnsureTagGroup creates tag group id unless it exists and reports whether it did.
	EnsureTagGroup(ctx context.Context, id int64) (bool, error)
	// AddTagGroupTranslation stores name for (tagGroupID, language) unless a
	// translation for that pair exists; existing text is never replaced.
	AddTagGroupTranslation(ctx context.Context, tagGroupID int64, language, name string) (bool, error)
}

// Resolution is the outcome of resolving one label bundle.
type Resolution struct {
	TagGroupID        int64
	Created           bool
	TranslationsAdded int
}

// Resolver maps label bundles onto tag groups.
type Resolver struct {
	priority []string
}

// NewResolver constructs a resolver; priority orders the non-Korean basis candidates.
func NewResolver(priority []string) *Resolver {
	return &Resolver{priority: append([]string(nil), priority...)}
}

// Resolve derives the bundle's tag group, creating it on first sight, and
// records any language of the bundle the group has no translation for yet.
// bundle keys must already be normalised.
func (r *Resolver) Resolve(ctx context.Context, store Store, bundle LabelBundle) (Resolution, error) {
	var priority []string
	if r != nil {
		priority = r.priority
	}
	id, err := BundleID(bundle, priority)
	if err != nil {
		return Resolution{}, err
	}

	created, err := store.EnsureTagGroup(ctx, id)
	if err != nil {
		return Resolution{}, fmt.Errorf("tags: ensure tag group %d: %w", id, err)
	}

	res := Resolution{TagGroupID: id, Created: created}
	for _, code := range bundle.Languages() {
		added, err := store.AddTagGroupTranslation(ctx, id, code, bundle[code])
		if err != nil {
			return Resolution{}, fmt.Errorf("tags: translation %s for tag group %d: %w", code, id, err)
		}
		if added {
			res.TranslationsAdded++
		}
	}
	return res, nil
}
