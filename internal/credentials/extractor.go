// Package credentials extracts API credentials from request headers.
package credentials

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingKey    = errors.New("API key is required")
	ErrMissingSecret = errors.New("API secret is required")
)

// Credentials is an extracted key/secret pair.
type Credentials struct {
	Key    string
	Secret string
}

// Extract reads credentials from the X-API-Key/X-API-Secret headers, falling
// back to an Authorization Bearer token carrying base64(key:secret). The
// header pair always wins when both forms are present.
func Extract(h http.Header) (Credentials, error) {
	creds := Credentials{
		Key:    h.Get("X-API-Key"),
		Secret: h.Get("X-API-Secret"),
	}

	if creds.Key == "" || creds.Secret == "" {
		if key, sec, ok := fromBearer(h.Get("Authorization")); ok {
			if creds.Key == "" {
				creds.Key = key
			}
			if creds.Secret == "" {
				creds.Secret = sec
			}
		}
	}

	if creds.Key == "" {
		return Credentials{}, ErrMissingKey
	}
	if creds.Secret == "" {
		return Credentials{}, ErrMissingSecret
	}
	return creds, nil
}

func fromBearer(auth string) (key, secret string, ok bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", "", false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, prefix))
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(strings.TrimPrefix(auth, prefix))
		if err != nil {
			return "", "", false
		}
	}

	// Split on the FIRST colon; secrets may contain colons themselves
	key, secret, found := strings.Cut(string(decoded), ":")
	if !found {
		return "", "", false
	}
	return key, secret, true
}
