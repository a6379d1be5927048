package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/meterline/billing-engine/api/responses"
	"github.com/meterline/billing-engine/pkg/config"
	pkgerrors "github.com/meterline/billing-engine/pkg/errors"
	"github.com/meterline/billing-engine/pkg/logger"
)

// TenantClaims is the token payload the engine accepts. The tenant id is
// the only authorization boundary; every query below the middleware is
// scoped by it.
type TenantClaims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// Auth validates a bearer token and seeds the request context with the
// tenant id.
func Auth(cfg config.AuthConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := ParseToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}

			tenantID, err := uuid.Parse(claims.TenantID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid tenant claim"))
				return
			}

			ctx := WithTenantID(r.Context(), tenantID)
			ctx = context.WithValue(ctx, ctxSubject, claims.Subject)
			if logg != nil {
				ctx = logg.WithTenantID(ctx, tenantID.String())
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ParseToken verifies signature, issuer, and expiry, and returns the
// claims.
func ParseToken(cfg config.AuthConfig, token string) (*TenantClaims, error) {
	if cfg.JWTSecret == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "jwt secret not configured")
	}

	claims := &TenantClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, pkgerrors.Newf(pkgerrors.CodeUnauthorized, "unexpected signing method %s", t.Method.Alg())
		}
		return []byte(cfg.JWTSecret), nil
	}, jwt.WithIssuer(cfg.JWTIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token")
	}
	if !parsed.Valid {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid token")
	}
	if claims.TenantID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing tenant claim")
	}
	return claims, nil
}

// SignToken mints a tenant token. Exposed for tooling and tests.
func SignToken(cfg config.AuthConfig, claims TenantClaims) (string, error) {
	if claims.Issuer == "" {
		claims.Issuer = cfg.JWTIssuer
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sign token")
	}
	return signed, nil
}
