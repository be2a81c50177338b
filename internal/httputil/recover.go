package httputil

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Recoverer converts handler panics into JSON 500 responses. The stock
// chi recoverer writes text/plain, which clients of this API cannot
// parse; every error leaving the gateway is a {"detail": ...} document.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			slog.Error("panic recovered",
				"panic", rec,
				"path", r.URL.Path,
				"stack", string(debug.Stack()),
			)
			WriteInternalError(w, w.Header().Get("X-Request-ID"), "Internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}
