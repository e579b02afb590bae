package i18n

import "net/http"

// Middleware picks the request language from the lang query parameter, then
// Accept-Language, then the default, and stores the localizer in the context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		loc := NewLocalizer(r.URL.Query().Get("lang"), r.Header.Get("Accept-Language"))
		next.ServeHTTP(w, r.WithContext(WithLocalizer(r.Context(), loc)))
	})
}
