package app

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/companydir/companydir/internal/directory"
	"github.com/companydir/companydir/internal/observability"
	"github.com/companydir/companydir/internal/platform/httpx"
	"github.com/companydir/companydir/internal/shared"
)

// Paths probed by infrastructure. They bypass host checks and access logs.
var infraPaths = map[string]struct{}{
	"/healthz": {},
	"/metrics": {},
}

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack installs the companydir middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	secureMiddleware := secure.New(secure.Options{
		AllowedHosts:          trustedHosts(cfg.Config),
		HostsProxyHeaders:     []string{"X-Forwarded-Host"},
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})
	secureMiddleware.SetBadHostHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Warn("untrusted host rejected", slog.String("host", r.Host), slog.String("request_id", middleware.GetReqID(r.Context())))
		httpx.RespondError(w, errors.Join(shared.ErrBadRequest, errors.New("invalid host header")))
	}))

	timeout := 30 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		accessLog(logger),
		recoverer(logger),
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if _, ok := infraPaths[r.URL.Path]; ok {
					next.ServeHTTP(w, r)
					return
				}
				// Process has already answered the request when it fails.
				if err := secureMiddleware.Process(w, r); err != nil {
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		middleware.Compress(5),
	}
	if limit := rateLimit(cfg.Config); limit > 0 {
		middlewares = append(middlewares, httprate.Limit(limit, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				spec := httpx.Spec(httpx.CodeTooManyRequests)
				httpx.JSON(w, spec.Status, httpx.ErrorBody{Msg: spec.Msg, Code: spec.Code})
			}),
		))
	}
	middlewares = append(middlewares, wantedLanguage)
	if cfg.Metrics != nil {
		middlewares = append(middlewares, func(next http.Handler) http.Handler {
			return cfg.Metrics.Middleware(next)
		})
	}
	return middlewares
}

// wantedLanguage copies the requested display language into the context.
func wantedLanguage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if code := strings.TrimSpace(r.Header.Get(directory.LanguageHeader)); code != "" {
			r = r.WithContext(shared.ContextWithLanguage(r.Context(), code))
		}
		next.ServeHTTP(w, r)
	})
}

func accessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := infraPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote_ip", r.RemoteAddr),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// recoverer turns panics into the internal error envelope.
func recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic recovered",
					slog.Any("panic", rec),
					slog.String("path", r.URL.Path),
					slog.String("request_id", middleware.GetReqID(r.Context())),
				)
				httpx.RespondError(w, errors.New("panic"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func trustedHosts(cfg *Config) []string {
	if cfg == nil {
		return nil
	}
	hosts := make([]string, 0, len(cfg.TrustedHosts))
	for _, h := range cfg.TrustedHosts {
		h = strings.TrimSpace(h)
		if h == "*" {
			return nil
		}
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

func rateLimit(cfg *Config) int {
	if cfg == nil {
		return 60
	}
	return cfg.RateLimitPerMinute
}
