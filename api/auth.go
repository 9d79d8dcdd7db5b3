/*
auth.go - Bearer token session

PURPOSE:
  Every /api request carries an HS256 JWT with the staff member's name and
  role. The middleware verifies it and puts a stock.Actor into the request
  context. Handlers read the actor from there; there is no process-wide
  "current user".

  Issuing tokens (PIN login, staff storage) belongs to the terminal-side
  login service. Issue exists here for tests and the -token flag.

CLAIMS:
  {"name": "Peter", "role": "Manager", "exp": ...}

  role is one of Manager, Supervisor, Barstaff.
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/safebar/stockledger/stock"
)

type Claims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type TokenVerifier struct {
	secret []byte
	issuer string
}

func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), issuer: issuer}
}

// Issue signs a token for actor that expires after ttl.
func (v *TokenVerifier) Issue(actor stock.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Name: actor.Name,
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   actor.Name,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify parses a token and returns the actor it names.
func (v *TokenVerifier) Verify(tokenString string) (stock.Actor, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return stock.Actor{}, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return stock.Actor{}, jwt.ErrSignatureInvalid
	}
	return actorFromClaims(claims)
}

func actorFromClaims(c *Claims) (stock.Actor, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return stock.Actor{}, errors.New("token has no staff name")
	}
	switch role := stock.Role(c.Role); role {
	case stock.RoleManager, stock.RoleSupervisor, stock.RoleBarstaff:
		return stock.Actor{Name: name, Role: role}, nil
	default:
		return stock.Actor{}, fmt.Errorf("unknown role %q", c.Role)
	}
}

// =============================================================================
// CONTEXT
// =============================================================================

type actorKey struct{}

func WithActor(ctx context.Context, a stock.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func ActorFrom(ctx context.Context) (stock.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(stock.Actor)
	return a, ok
}

// Authenticate rejects requests without a valid bearer token.
func (v *TokenVerifier) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing bearer token", Kind: "unauthenticated"})
			return
		}
		actor, err := v.Verify(strings.TrimSpace(token))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid token: " + err.Error(), Kind: "unauthenticated"})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}
