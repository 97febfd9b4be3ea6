package directory

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/companydir/companydir/internal/i18n"
	"github.com/companydir/companydir/internal/platform/httpx"
	"github.com/companydir/companydir/internal/shared"
	"github.com/companydir/companydir/internal/tags"
)

// LanguageHeader names the requested display language.
const LanguageHeader = "X-Wanted-Language"

// DirectoryService is the behaviour the HTTP layer needs.
type DirectoryService interface {
	Search(ctx context.Context, query, language string) ([]CompanyItem, error)
	Detail(ctx context.Context, companyName, language string) (CompanyDetail, error)
	Create(ctx context.Context, company NewCompany, language string) (CompanyView, error)
	SearchByTag(ctx context.Context, query, language string) ([]CompanyItem, error)
	AddTags(ctx context.Context, companyName string, labels []tags.LabelBundle, language string) (CompanyView, error)
	RemoveTag(ctx context.Context, companyName, tagName, language string) (CompanyView, error)
}

// Handler exposes the directory over JSON.
type Handler struct {
	logger          *slog.Logger
	service         DirectoryService
	validator       *requestValidator
	defaultLanguage string
}

// NewHandler builds the directory handler. An empty defaultLanguage means "ko".
func NewHandler(logger *slog.Logger, service DirectoryService, defaultLanguage string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultLanguage == "" {
		defaultLanguage = i18n.DefaultLanguage
	}
	return &Handler{
		logger:          logger,
		service:         service,
		validator:       newRequestValidator(),
		defaultLanguage: defaultLanguage,
	}
}

// MountRoutes registers directory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/search", h.search)
	r.Get("/tags", h.searchByTag)
	r.Post("/companies", h.create)
	r.Route("/companies/{companyName}", func(r chi.Router) {
		r.Get("/", h.detail)
		r.Put("/tags", h.addTags)
		r.Delete("/tags/{tagName}", h.removeTag)
	})
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if err := h.validator.Query("query", query); err != nil {
		h.fail(w, r, err)
		return
	}
	items, err := h.service.Search(r.Context(), query, h.language(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse[CompanyItem]{Data: nonNil(items)})
}

func (h *Handler) detail(w http.ResponseWriter, r *http.Request) {
	name, err := pathParam(r, "companyName")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	detail, err := h.service.Detail(r.Context(), name, h.language(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detailResponse{Data: detail})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateCompanyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, fmt.Errorf("%w: decode body: %v", shared.ErrBadRequest, err))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		h.fail(w, r, err)
		return
	}
	view, err := h.service.Create(r.Context(), req.ToNewCompany(), h.language(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) searchByTag(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if err := h.validator.Query("query", query); err != nil {
		h.fail(w, r, err)
		return
	}
	items, err := h.service.SearchByTag(r.Context(), query, h.language(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse[CompanyItem]{Data: nonNil(items)})
}

func (h *Handler) addTags(w http.ResponseWriter, r *http.Request) {
	name, err := pathParam(r, "companyName")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var reqs []TagRequest
	if err := httpx.DecodeJSON(r, &reqs); err != nil {
		h.fail(w, r, fmt.Errorf("%w: decode body: %v", shared.ErrBadRequest, err))
		return
	}
	for _, req := range reqs {
		if err := h.validator.Struct(req); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	view, err := h.service.AddTags(r.Context(), name, bundles(reqs), h.language(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) removeTag(w http.ResponseWriter, r *http.Request) {
	name, err := pathParam(r, "companyName")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	tagName, err := pathParam(r, "tagName")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	view, err := h.service.RemoveTag(r.Context(), name, tagName, h.language(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

// language prefers the value placed in context by the language middleware,
// then the raw header, then the configured default.
func (h *Handler) language(r *http.Request) string {
	if code := shared.LanguageFromContext(r.Context()); code != "" {
		return code
	}
	if code := strings.TrimSpace(r.Header.Get(LanguageHeader)); code != "" {
		return code
	}
	return h.defaultLanguage
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	spec := httpx.RespondError(w, err)
	attrs := []any{
		slog.String("code", spec.Code),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.Any("error", err),
	}
	if spec.Status >= http.StatusInternalServerError {
		h.logger.Error("directory request failed", attrs...)
		return
	}
	h.logger.Warn("directory request rejected", attrs...)
}

// pathParam returns the decoded route parameter. chi matches on the escaped
// path when one is present, so parameters may still carry percent escapes.
func pathParam(r *http.Request, name string) (string, error) {
	value := chi.URLParam(r, name)
	if r.URL.RawPath != "" {
		decoded, err := url.PathUnescape(value)
		if err != nil {
			return "", fmt.Errorf("%w: path parameter %s: %v", shared.ErrBadRequest, name, err)
		}
		value = decoded
	}
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%w: path parameter %s is required", shared.ErrBadRequest, name)
	}
	return value, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
