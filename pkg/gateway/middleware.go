package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/sluiceio/sluice/pkg/admission"
	"github.com/sluiceio/sluice/pkg/config"
	"github.com/sluiceio/sluice/pkg/log"
	"github.com/sluiceio/sluice/pkg/types"
)

type contextKey string

const threadIDKey contextKey = "thread_id"

// ThreadID returns the request's thread identifier from its context.
func ThreadID(ctx context.Context) string {
	id, _ := ctx.Value(threadIDKey).(string)
	return id
}

// recoverer is the outermost middleware. Panics become 500 responses with
// the thread identifier in the log line.
func recoverer(next http.Handler) http.Handler {
	logger := log.WithComponent("gateway")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error().
					Interface("panic", rec).
					Str("thread_id", ThreadID(r.Context())).
					Str("path", r.URL.Path).
					Msg("handler panic")
				writeErrorJSON(w, types.NewError(types.ErrInternal, "internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware builds the CORS layer from the environment policy: an
// explicit whitelist when configured, a wildcard without credentials in
// development.
func corsMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	origins := cfg.CORS.Origins
	credentials := true
	if len(origins) == 0 {
		if cfg.Environment == config.EnvDevelopment {
			origins = []string{"*"}
			credentials = false
		} else {
			origins = []string{}
		}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Thread-ID"},
		ExposedHeaders:   []string{"X-Thread-ID"},
		AllowCredentials: credentials,
		MaxAge:           300,
	})
}

// securityHeaders sets the browser hardening headers on every response.
// HSTS is omitted in development where TLS is usually absent.
func securityHeaders(env config.Environment) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-XSS-Protection", "1; mode=block")
			h.Set("Content-Security-Policy", "default-src 'self'; connect-src 'self'; style-src 'self' 'unsafe-inline'")
			if env != config.EnvDevelopment {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// admissionGate sheds load before any per-request work happens. It runs
// outside thread extraction, so it reads the client-supplied header
// directly to keep retried admissions idempotent.
func admissionGate(shedder *admission.Shedder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !shedder.Accept(r.Header.Get("X-Thread-ID")) {
				writeErrorJSON(w, types.NewError(types.ErrShedding, "server overloaded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// threadExtractor resolves the thread identifier from the X-Thread-ID
// header or mints one, and echoes it on the response.
func threadExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		threadID := r.Header.Get("X-Thread-ID")
		if threadID == "" {
			threadID = uuid.NewString()
		}
		w.Header().Set("X-Thread-ID", threadID)
		ctx := context.WithValue(r.Context(), threadIDKey, threadID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger records one structured line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger := log.WithThreadID(ThreadID(r.Context()))
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
