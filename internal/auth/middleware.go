package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const userIDKey contextKey = "authUserID"

// Config holds the token verification settings.
type Config struct {
	Secret   string
	Audience string
	Issuer   string
	// Leeway tolerates clock skew on exp/nbf.
	Leeway time.Duration
}

// GetUserID retrieves the authenticated subject from context.
func GetUserID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(userIDKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// WithUserID stores an authenticated subject in ctx.
func WithUserID(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, userIDKey, subject)
}

// JWTMiddleware validates HMAC-signed bearer tokens and injects the subject
// as the caller identity.
func JWTMiddleware(cfg Config) gin.HandlerFunc {
	secret := []byte(strings.TrimSpace(cfg.Secret))
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if aud := strings.TrimSpace(cfg.Audience); aud != "" {
		opts = append(opts, jwt.WithAudience(aud))
	}
	if iss := strings.TrimSpace(cfg.Issuer); iss != "" {
		opts = append(opts, jwt.WithIssuer(iss))
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}
	parser := jwt.NewParser(opts...)

	return func(c *gin.Context) {
		tokenString, err := extractBearerToken(c.Request.Header.Get("Authorization"))
		if err != nil {
			unauthorized(c, err.Error())
			return
		}
		if len(secret) == 0 {
			unauthorized(c, "missing JWT secret")
			return
		}

		claims := &jwt.RegisteredClaims{}
		token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return secret, nil
		})
		switch {
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			unauthorized(c, "invalid audience")
			return
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			unauthorized(c, "invalid issuer")
			return
		case err != nil || !token.Valid:
			unauthorized(c, "invalid token")
			return
		}

		if claims.Subject == "" {
			unauthorized(c, "missing subject")
			return
		}

		c.Request = c.Request.WithContext(WithUserID(c.Request.Context(), claims.Subject))
		c.Set(string(userIDKey), claims.Subject)

		c.Next()
	}
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header required")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("token missing")
	}
	return token, nil
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}
