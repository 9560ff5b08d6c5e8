package auth

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashKey returns the bcrypt hash stored in CLIENT_KEYS for an API key.
func HashKey(key string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CheckKey reports whether key matches the hash registered for client.
func CheckKey(hashes map[string]string, client, key string) bool {
	hash, ok := hashes[strings.ToLower(strings.TrimSpace(client))]
	if !ok || hash == "" || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}
