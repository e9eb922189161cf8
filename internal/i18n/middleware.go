package i18n

import "net/http"

// Middleware injects a localizer into every request context. A "lang"
// query parameter overrides the server language for that request.
func Middleware(lang string) func(http.Handler) http.Handler {
	fallback := NewLocalizer(lang)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loc := fallback
			if q := r.URL.Query().Get("lang"); q != "" {
				loc = NewLocalizer(q, lang)
			}
			next.ServeHTTP(w, r.WithContext(WithLocalizer(r.Context(), loc)))
		})
	}
}
