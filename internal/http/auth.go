package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/sabayta-booking/internal/apperrors"
	"github.com/example/sabayta-booking/internal/models"
)

const identityKey contextKey = "identity"

// Identity is the caller named by a verified bearer token.
type Identity struct {
	ID   string
	Role models.Actor
}

// Claims is what the identity service puts in its access tokens.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type authenticator struct {
	secret []byte
}

func newAuthenticator(secret string) *authenticator {
	if secret == "" {
		return nil
	}
	return &authenticator{secret: []byte(secret)}
}

func (a *authenticator) parse(raw string) (Identity, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, err
	}
	if !tok.Valid || claims.Subject == "" {
		return Identity{}, errors.New("token has no subject")
	}
	role := models.Actor(strings.ToLower(claims.Role))
	if role != models.ActorRider && role != models.ActorDriver {
		return Identity{}, errors.New("token role must be rider or driver")
	}
	return Identity{ID: claims.Subject, Role: role}, nil
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	// browsers cannot set headers on a websocket handshake
	if strings.HasPrefix(r.URL.Path, "/ws/") {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

func isPublicRoute(route string) bool {
	return route == "/healthz" || route == "/metrics"
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil || isPublicRoute(routeTemplate(r)) {
			next.ServeHTTP(w, r)
			return
		}
		raw := bearerToken(r)
		if raw == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing bearer token"})
			return
		}
		id, err := s.auth.parse(raw)
		if err != nil {
			s.logger.Debug("bearer token rejected", "error", err)
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid token"})
			return
		}
		ctx := context.WithValue(r.Context(), identityKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// actor resolves who is acting: the token's subject when authentication is
// on, otherwise the id the client sent. role is checked against the token.
func actor(ctx context.Context, role models.Actor, claimed string) (string, error) {
	id, ok := identityFromContext(ctx)
	if !ok {
		return claimed, nil
	}
	if id.Role != role {
		return "", apperrors.Forbidden("only a %s may do this", role)
	}
	if claimed != "" && claimed != id.ID {
		return "", apperrors.Forbidden("%s id does not match token", role)
	}
	return id.ID, nil
}
