// Package auth guards internal endpoints with HMAC-signed JWTs that carry a
// caller role.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// RoleBookingService is held by booking writers that must advance capacity
// versions.
const RoleBookingService = "booking-service"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrForbidden    = errors.New("role not allowed")
)

// Claims extends standard registered claims with role information.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier checks bearer tokens and the role they carry.
type Verifier struct {
	secret []byte
	roles  map[string]struct{}
	parser *jwt.Parser
	logger *zap.Logger
}

// NewVerifier constructs a Verifier accepting HS256 tokens signed with secret.
// An empty role list accepts any valid token.
func NewVerifier(secret string, logger *zap.Logger, roles ...string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return &Verifier{
		secret: []byte(secret),
		roles:  allowed,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()),
		logger: logger,
	}, nil
}

// Verify parses the token and checks its role.
func (v *Verifier) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	if _, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if len(v.roles) > 0 {
		if _, ok := v.roles[claims.Role]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrForbidden, claims.Role)
		}
	}
	return claims, nil
}

// Middleware rejects requests without a valid token and injects the claims
// into the request context.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := tokenFromHeader(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, ErrMissingToken.Error())
			return
		}
		claims, err := v.Verify(token)
		if errors.Is(err, ErrForbidden) {
			v.logger.Warn("rejected token role", zap.String("path", r.URL.Path), zap.Error(err))
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		if err != nil {
			v.logger.Debug("rejected token", zap.String("path", r.URL.Path), zap.Error(err))
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

// Issue signs a token for subject with role, valid for ttl from now.
func Issue(secret, subject, role string, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ClaimsFromContext retrieves claims from context.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok
}

type claimsKey struct{}

func tokenFromHeader(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"errors": map[string]string{"authorization": msg}})
}
