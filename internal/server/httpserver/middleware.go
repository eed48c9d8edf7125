package httpserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/legacyvault/internal/common"
	"github.com/dmitrijs2005/legacyvault/internal/server/auth"
	"github.com/go-chi/chi/v5"
)

type ctxKey string

const principalKey ctxKey = "principal"

// SessionHeader carries a vault session id.
const SessionHeader = common.SessionHeaderName

func principalFrom(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey).(auth.Principal)
	return p, ok
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get(common.AuthorizationHeaderName)
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func (h *Handler) authenticate(role auth.Role, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeErrorMessage(w, http.StatusUnauthorized, "missing token")
			return
		}
		p, err := h.tokens.Parse(token)
		if err != nil {
			writeErrorMessage(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if p.Role != role {
			writeErrorMessage(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
	})
}

func (h *Handler) requireOwner(next http.Handler) http.Handler {
	return h.authenticate(auth.RoleOwner, next)
}

// requireContact also checks that the token belongs to the contact named in
// the path.
func (h *Handler) requireContact(next http.Handler) http.Handler {
	return h.authenticate(auth.RoleContact, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := principalFrom(r.Context())
		if id := chi.URLParam(r, "id"); id != "" && id != p.Subject {
			writeErrorMessage(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	}))
}
