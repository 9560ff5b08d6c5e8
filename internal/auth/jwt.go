package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identify the client (tenant) a token was issued to. Operator
// tokens may also call the operator endpoints.
type Claims struct {
	Client   string `json:"client"`
	Operator bool   `json:"operator,omitempty"`
	jwt.RegisteredClaims
}

func SignJWT(client string, operator bool, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Client:   client,
		Operator: operator,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   client,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseJWT(tokenStr string, secret string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Client == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
