package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const saltLength = 16

// HashRefreshToken returns "salt$sha256hex(salt:token)" with a fresh random salt
func HashRefreshToken(token string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	saltHex := hex.EncodeToString(salt)
	return saltHex + "$" + saltedHashHex(saltHex, token), nil
}

// RefreshTokenMatches recomputes the salted hash of token and compares it to stored in constant time
func RefreshTokenMatches(token, stored string) bool {
	saltHex, hashHex, ok := strings.Cut(stored, "$")
	if !ok || saltHex == "" || hashHex == "" {
		return false
	}
	provided := saltedHashHex(saltHex, token)
	return subtle.ConstantTimeCompare([]byte(provided), []byte(hashHex)) == 1
}

func saltedHashHex(salt, token string) string {
	hash := sha256.Sum256([]byte(salt + ":" + token))
	return hex.EncodeToString(hash[:])
}

// GenerateOneTimeToken returns a random Base64URL token (32 bytes) and its SHA256 hash as hex.
// Used for email verification and password reset links, which are looked up by hash.
func GenerateOneTimeToken() (token string, hashHex string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	token = base64.RawURLEncoding.EncodeToString(b)
	return token, HashOneTimeToken(token), nil
}

// HashOneTimeToken returns SHA256 hex of the token
func HashOneTimeToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
