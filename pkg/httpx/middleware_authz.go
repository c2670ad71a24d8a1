package httpx

import (
	"net/http"
	"slices"
	"strings"
)

// WildcardPermission grants every permission.
const WildcardPermission = "*"

// HasPermission reports whether have grants want.
func HasPermission(have []string, want string) bool {
	return slices.Contains(have, want) || slices.Contains(have, WildcardPermission)
}

// RequireAnyPermission the caller must hold at least one of the listed
// permissions.
func RequireAnyPermission(required ...string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			have := permissionsFromCtx(r.Context())
			for _, p := range required {
				if HasPermission(have, p) {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeInsufficientPermission(w, required...)
		})
	}
}

// RequirePermissions the caller must hold every listed permission.
func RequirePermissions(required ...string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			have := permissionsFromCtx(r.Context())
			for _, p := range required {
				if !HasPermission(have, p) {
					writeInsufficientPermission(w, required...)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeInsufficientPermission(w http.ResponseWriter, required ...string) {
	w.Header().
		Set("WWW-Authenticate", `Bearer error="insufficient_scope", scope="`+strings.Join(required, " ")+`"`)
	WriteError(w, http.StatusForbidden, "insufficient_scope", "missing required permission")
}
