package auth

import (
	"testing"
	"time"

	"github.com/TripFlow/TripFlow/internal/common/config"
)

func TestGenerateAndParseAccessToken(t *testing.T) {
	cfg := config.AuthConfig{
		JWTSecret: "test-secret",
		Issuer:    "tripflow",
		Audience:  "trip-service",
	}

	token, exp, err := GenerateAccessToken(cfg, "user-001", []string{"approver"}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	if token == "" {
		t.Fatalf("expected non-empty token")
	}
	if !exp.After(time.Now()) {
		t.Fatalf("expected expiry in the future, got %v", exp)
	}

	claims, err := ParseAccessToken(cfg, token)
	if err != nil {
		t.Fatalf("ParseAccessToken: %v", err)
	}
	if claims.Subject != "user-001" {
		t.Fatalf("expected subject user-001, got %s", claims.Subject)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "approver" {
		t.Fatalf("unexpected roles: %v", claims.Roles)
	}
}

func TestParseAccessTokenWrongSecret(t *testing.T) {
	cfg := config.AuthConfig{JWTSecret: "right-secret"}
	token, _, err := GenerateAccessToken(cfg, "user-002", nil, time.Hour)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	bad := config.AuthConfig{JWTSecret: "wrong-secret"}
	if _, err := ParseAccessToken(bad, token); err == nil {
		t.Fatalf("expected parse failure with wrong secret")
	}
}

func TestParseAccessTokenIssuerMismatch(t *testing.T) {
	cfg := config.AuthConfig{JWTSecret: "s", Issuer: "tripflow"}
	token, _, err := GenerateAccessToken(cfg, "user-003", nil, time.Hour)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	other := config.AuthConfig{JWTSecret: "s", Issuer: "someone-else"}
	if _, err := ParseAccessToken(other, token); err == nil {
		t.Fatalf("expected issuer mismatch to fail")
	}
}
