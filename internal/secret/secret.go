// Package secret hashes and verifies API secrets. Stored hashes are either
// argon2id PHC strings or bcrypt. Because bcrypt truncates passwords beyond
// 72 bytes, secrets are pre-hashed with sha256 and base64-encoded before
// bcrypt; verification also accepts plain bcrypt over the raw secret for
// hashes imported from older installs.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// KeyPrefix is the prefix of all generated API key tokens.
const KeyPrefix = "rk_"

// Hash hashes a plaintext secret for storage.
func Hash(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(prehash(secret)), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}

// Verify checks a plaintext secret against a stored hash. Comparison is
// constant-time with respect to the secret content.
func Verify(secret, stored string) bool {
	switch {
	case strings.HasPrefix(stored, "$argon2id$"):
		return verifyArgon2id(secret, stored)
	case strings.HasPrefix(stored, "$2"):
		if bcrypt.CompareHashAndPassword([]byte(stored), []byte(secret)) == nil {
			return true
		}
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(prehash(secret))) == nil
	default:
		return false
	}
}

// GenerateKey returns a new API key token, a prefixed random UUID.
func GenerateKey() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(u[:]), nil
}

// GenerateSecret returns a new random plaintext secret.
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func prehash(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// verifyArgon2id parses a PHC-format argon2id hash
// ($argon2id$v=19$m=...,t=...,p=...$salt$digest), recomputes the digest for
// the candidate secret and compares in constant time.
func verifyArgon2id(secret, stored string) bool {
	parts := strings.Split(stored, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}

	var memory, iterations uint32
	var parallelism uint8
	for _, param := range strings.Split(parts[3], ",") {
		kv := strings.SplitN(param, "=", 2)
		if len(kv) != 2 {
			return false
		}
		n, err := strconv.ParseUint(kv[1], 10, 32)
		if err != nil {
			return false
		}
		switch kv[0] {
		case "m":
			memory = uint32(n)
		case "t":
			iterations = uint32(n)
		case "p":
			parallelism = uint8(n)
		default:
			return false
		}
	}
	if memory == 0 || iterations == 0 || parallelism == 0 {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	digest, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(digest) == 0 {
		return false
	}

	computed := argon2.IDKey([]byte(secret), salt, iterations, memory, parallelism, uint32(len(digest)))
	return subtle.ConstantTimeCompare(computed, digest) == 1
}
