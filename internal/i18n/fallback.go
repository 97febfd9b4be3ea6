package i18n

// Translation is one (language, name) rendering of an entity.
type Translation struct {
	ID       int64
	Language string
	Name     string
}

// Resolver picks display translations. Priority lists the languages tried, in
// order, when the requested language is missing.
type Resolver struct {
	priority []string
}

// NewResolver builds a resolver over an already normalised priority list.
func NewResolver(priority []string) *Resolver {
	return &Resolver{priority: append([]string(nil), priority...)}
}

// Priority returns a copy of the configured fallback order.
func (r *Resolver) Priority() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.priority...)
}

// Pick returns the translation for requested, else the first priority
// language present, else the translation with the lowest id.
// ok is false only when translations is empty.
func (r *Resolver) Pick(translations []Translation, requested string) (Translation, bool) {
	if len(translations) == 0 {
		return Translation{}, false
	}
	if t, ok := Exact(translations, requested); ok {
		return t, true
	}
	if r != nil {
		for _, code := range r.priority {
			if t, ok := Exact(translations, code); ok {
				return t, true
			}
		}
	}
	lowest := translations[0]
	for _, t := range translations[1:] {
		if t.ID < lowest.ID {
			lowest = t
		}
	}
	return lowest, true
}

// Exact returns the translation written in requested, without fallback.
func Exact(translations []Translation, requested string) (Translation, bool) {
	for _, t := range translations {
		if t.Language == requested {
			return t, true
		}
	}
	return Translation{}, false
}
