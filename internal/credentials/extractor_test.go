package credentials

import (
	"encoding/base64"
	"errors"
	"net/http"
	"testing"
)

func headers(pairs ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(pairs); i += 2 {
		h.Set(pairs[i], pairs[i+1])
	}
	return h
}

func bearer(token string) string {
	return "Bearer " + base64.StdEncoding.EncodeToString([]byte(token))
}

func TestExtractFromHeaders(t *testing.T) {
	creds, err := Extract(headers("X-API-Key", "rk_abc", "X-API-Secret", "s3cret"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds.Key != "rk_abc" || creds.Secret != "s3cret" {
		t.Errorf("unexpected credentials: %+v", creds)
	}
}

func TestExtractFromBearer(t *testing.T) {
	creds, err := Extract(headers("Authorization", bearer("rk_abc:s3cret")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds.Key != "rk_abc" || creds.Secret != "s3cret" {
		t.Errorf("unexpected credentials: %+v", creds)
	}
}

func TestExtractBearerSplitsOnFirstColon(t *testing.T) {
	creds, err := Extract(headers("Authorization", bearer("rk_abc:sec:ret:with:colons")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds.Key != "rk_abc" || creds.Secret != "sec:ret:with:colons" {
		t.Errorf("unexpected credentials: %+v", creds)
	}
}

func TestExtractHeadersWinOverBearer(t *testing.T) {
	h := headers(
		"X-API-Key", "rk_header", "X-API-Secret", "header-secret",
		"Authorization", bearer("rk_bearer:bearer-secret"),
	)
	creds, err := Extract(h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds.Key != "rk_header" || creds.Secret != "header-secret" {
		t.Errorf("expected header credentials to win, got %+v", creds)
	}
}

func TestExtractBearerFillsMissingHeader(t *testing.T) {
	// Only the key header set; the secret comes from the Bearer token.
	h := headers("X-API-Key", "rk_header", "Authorization", bearer("rk_bearer:bearer-secret"))
	creds, err := Extract(h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds.Key != "rk_header" || creds.Secret != "bearer-secret" {
		t.Errorf("unexpected credentials: %+v", creds)
	}
}

func TestExtractMissingKey(t *testing.T) {
	_, err := Extract(headers())
	if !errors.Is(err, ErrMissingKey) {
		t.Errorf("expected ErrMissingKey, got %v", err)
	}
}

func TestExtractMissingSecret(t *testing.T) {
	_, err := Extract(headers("X-API-Key", "rk_abc"))
	if !errors.Is(err, ErrMissingSecret) {
		t.Errorf("expected ErrMissingSecret, got %v", err)
	}
}

func TestExtractBadBearer(t *testing.T) {
	for _, auth := range []string{
		"Bearer !!!not-base64!!!",
		"Bearer " + base64.StdEncoding.EncodeToString([]byte("no-colon-here")),
		"Basic dXNlcjpwYXNz",
	} {
		_, err := Extract(headers("Authorization", auth))
		if !errors.Is(err, ErrMissingKey) {
			t.Errorf("auth %q: expected ErrMissingKey, got %v", auth, err)
		}
	}
}

func TestExtractBearerRawBase64(t *testing.T) {
	// Some clients strip padding; raw decoding is accepted as a fallback
	token := base64.RawStdEncoding.EncodeToString([]byte("rk_abc:s3cret"))
	creds, err := Extract(headers("Authorization", "Bearer "+token))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds.Key != "rk_abc" {
		t.Errorf("unexpected credentials: %+v", creds)
	}
}
