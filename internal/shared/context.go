package shared

import "context"

type languageContextKey struct{}

// ContextWithLanguage stores the requested display language in context.
func ContextWithLanguage(ctx context.Context, code string) context.Context {
	return context.WithValue(ctx, languageContextKey{}, code)
}

// LanguageFromContext extracts the requested display language, or "" when unset.
func LanguageFromContext(ctx context.Context) string {
	code, _ := ctx.Value(languageContextKey{}).(string)
	return code
}
