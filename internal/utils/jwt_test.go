package utils

import (
	"errors"
	"testing"
	"time"

	"crmchat/server/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

var secret = []byte("test-secret")

func TestGenerateAndValidate(t *testing.T) {
	id := models.Identity{UID: "u1", Email: "ana@sol.com", Name: "Ana"}
	tok, err := GenerateToken(secret, id, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ValidateToken(secret, tok)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Identity() != id {
		t.Errorf("Identity = %+v, want %+v", claims.Identity(), id)
	}
}

func TestValidateToken_Rejects(t *testing.T) {
	id := models.Identity{UID: "u1"}

	expired, _ := GenerateToken(secret, id, -time.Minute)
	if _, err := ValidateToken(secret, expired); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("expired: err = %v", err)
	}

	other, _ := GenerateToken([]byte("other"), id, time.Hour)
	if _, err := ValidateToken(secret, other); err == nil {
		t.Error("token signed with another secret accepted")
	}

	anon, _ := GenerateToken(secret, models.Identity{}, time.Hour)
	if _, err := ValidateToken(secret, anon); err == nil {
		t.Error("token without identity accepted")
	}

	if _, err := ValidateToken(secret, "not-a-jwt"); err == nil {
		t.Error("garbage accepted")
	}

	if _, err := GenerateToken(nil, id, time.Hour); err == nil {
		t.Error("empty secret accepted")
	}
}
