package middleware

import (
	"net/http"
	"strings"
)

// BodyLimitOverride raises or lowers the body limit for paths under PathPrefix.
// Prefixes are matched with and without the /api mount point.
type BodyLimitOverride struct {
	PathPrefix string
	MaxBytes   int64
}

func LimitBodyBytesWithOverrides(defaultMax int64, overrides []BodyLimitOverride) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			maxBytes := limitFor(r.URL.Path, defaultMax, overrides)
			if maxBytes > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// limitFor picks the override with the longest matching prefix.
func limitFor(path string, defaultMax int64, overrides []BodyLimitOverride) int64 {
	apiPath := strings.TrimPrefix(path, "/api")
	maxBytes, matched := defaultMax, 0
	for _, o := range overrides {
		if o.PathPrefix == "" || o.MaxBytes <= 0 || len(o.PathPrefix) <= matched {
			continue
		}
		if strings.HasPrefix(path, o.PathPrefix) || strings.HasPrefix(apiPath, o.PathPrefix) {
			maxBytes, matched = o.MaxBytes, len(o.PathPrefix)
		}
	}
	return maxBytes
}
