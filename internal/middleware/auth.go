package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/templui/mediapipe/internal/ctxkeys"
	"github.com/templui/mediapipe/internal/service"
)

// AuthCookie is the cookie the site's login flow stores the JWT in.
const AuthCookie = "auth_token"

// AuthMiddleware checks for a JWT (Bearer header or auth cookie) and adds the
// uploader id to the context if it is valid. Requests without a valid token
// continue anonymously.
func AuthMiddleware(authService *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				cookie, err := r.Cookie(AuthCookie)
				if err != nil {
					next.ServeHTTP(w, r)
					return
				}
				token = cookie.Value
			}

			uploaderID, err := authService.UploaderID(token)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := ctxkeys.WithUploaderID(r.Context(), uploaderID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth rejects anonymous requests with 401.
func RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ctxkeys.UploaderID(r.Context()) == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{
				"code":  "unauthorized",
				"error": "authentication required",
			})
			return
		}
		next.ServeHTTP(w, r)
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
