package utils

import (
	"errors"
	"time"

	"crmchat/server/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// Claims represents JWT claims for an agent session
type Claims struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the agent the token was issued to
func (c *Claims) Identity() models.Identity {
	return models.Identity{UID: c.UID, Email: c.Email, Name: c.Name}
}

// GenerateToken signs a session token for id valid for ttl
func GenerateToken(secret []byte, id models.Identity, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt: empty secret")
	}
	now := time.Now()
	claims := &Claims{
		UID:   id.UID,
		Email: id.Email,
		Name:  id.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ValidateToken validates and parses a JWT token
func ValidateToken(secret []byte, tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}

	if claims.UID == "" && claims.Email == "" {
		return nil, errors.New("jwt: token carries no identity")
	}

	return claims, nil
}
