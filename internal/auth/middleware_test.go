package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const secret = "test-secret"

func sign(t *testing.T, claims jwt.RegisteredClaims, key string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func serve(t *testing.T, cfg Config, header string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	var subject string
	router := gin.New()
	router.GET("/private", JWTMiddleware(cfg), func(c *gin.Context) {
		subject, _ = GetUserID(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp, subject
}

func errorMessage(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid error body: %v", err)
	}
	return body["error"]
}

func TestJWTMiddlewareAcceptsValidToken(t *testing.T) {
	token := sign(t, jwt.RegisteredClaims{
		Subject:   "user-1",
		Audience:  jwt.ClaimStrings{"idcheck"},
		Issuer:    "campus-portal",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}, secret)

	resp, subject := serve(t, Config{Secret: secret, Audience: "idcheck", Issuer: "campus-portal"}, "Bearer "+token)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if subject != "user-1" {
		t.Fatalf("expected subject user-1, got %q", subject)
	}
}

func TestJWTMiddlewareRejections(t *testing.T) {
	valid := jwt.RegisteredClaims{Subject: "user-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	expired := jwt.RegisteredClaims{Subject: "user-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))}
	noSubject := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	foreign := jwt.RegisteredClaims{
		Subject:   "user-1",
		Audience:  jwt.ClaimStrings{"billing"},
		Issuer:    "other-portal",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}

	cases := []struct {
		name   string
		cfg    Config
		header string
		want   string
	}{
		{"missing header", Config{Secret: secret}, "", "authorization header required"},
		{"wrong scheme", Config{Secret: secret}, "Basic abc", "invalid authorization header"},
		{"empty token", Config{Secret: secret}, "Bearer  ", "token missing"},
		{"wrong key", Config{Secret: secret}, "Bearer " + sign(t, valid, "other"), "invalid token"},
		{"expired", Config{Secret: secret}, "Bearer " + sign(t, expired, secret), "invalid token"},
		{"audience", Config{Secret: secret, Audience: "idcheck"}, "Bearer " + sign(t, foreign, secret), "invalid audience"},
		{"issuer", Config{Secret: secret, Issuer: "portal"}, "Bearer " + sign(t, foreign, secret), "invalid issuer"},
		{"missing audience", Config{Secret: secret, Audience: "idcheck"}, "Bearer " + sign(t, valid, secret), "invalid token"},
		{"no subject", Config{Secret: secret}, "Bearer " + sign(t, noSubject, secret), "missing subject"},
		{"no secret", Config{}, "Bearer " + sign(t, valid, secret), "missing JWT secret"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, _ := serve(t, tc.cfg, tc.header)
			if resp.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", resp.Code)
			}
			if got := errorMessage(t, resp); got != tc.want {
				t.Fatalf("expected error %q, got %q", tc.want, got)
			}
		})
	}
}
