package observability

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RecoverMiddleware turns a handler panic into a 500. The panic is logged,
// counted as a "panic" delivery and marked on the active span.
func RecoverMiddleware(component string, metrics *Metrics, next http.Handler) http.Handler {
	log := Component(component)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			msg := fmt.Sprintf("%v", rec)
			log.Error(r.Context(), "panic recovered",
				"panic", msg,
				"method", r.Method,
				"path", r.URL.Path,
				"traceback", compactStack(string(debug.Stack()), 16),
			)
			span := trace.SpanFromContext(r.Context())
			span.SetStatus(codes.Error, "panic: "+msg)
			metrics.Delivery("panic")
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

func compactStack(stack string, maxLines int) string {
	lines := strings.Split(stack, "\n")
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
