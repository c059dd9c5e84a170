package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/credstore"
)

type fakeCache struct {
	cred  *credstore.Credential
	saved []string
}

func (f *fakeCache) Load(ctx context.Context) (*credstore.Credential, error) {
	if f.cred == nil {
		return nil, credstore.ErrNoCredential
	}
	return f.cred, nil
}

func (f *fakeCache) Save(ctx context.Context, token string) error {
	f.saved = append(f.saved, token)
	return nil
}

func testResolver(cfg config.AuthConfig, cache *fakeCache) (*Resolver, *bytes.Buffer) {
	r := NewResolver(cfg, cache, slog.New(slog.NewTextHandler(io.Discard, nil)))
	var out bytes.Buffer
	r.out = &out
	return r, &out
}

// authServer serves the device-authorization and token endpoints. The
// token endpoint behavior is scripted per test.
func authServer(t *testing.T, tokenHandler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/device", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"device_code":      "dev-code-1",
			"user_code":        "ABCD-1234",
			"verification_uri": "https://example.com/activate",
			"expires_in":       600,
			"interval":         1,
		})
	})
	// the oauth2 client only parses token responses declared as JSON
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		tokenHandler(w, r)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func flowConfig(ts *httptest.Server) config.AuthConfig {
	return config.AuthConfig{
		ClientID:      "relaybot-client",
		DeviceAuthURL: ts.URL + "/device",
		TokenURL:      ts.URL + "/token",
	}
}

func TestConfiguredTokenWins(t *testing.T) {
	cache := &fakeCache{cred: &credstore.Credential{Token: "cached"}}
	r, _ := testResolver(config.AuthConfig{Token: "configured"}, cache)

	tok, err := r.EnsureAuthenticated(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tok != "configured" {
		t.Errorf("configured token must win, got %q", tok)
	}
}

func TestEnvToken(t *testing.T) {
	t.Setenv("RELAYBOT_TEST_TOKEN", "from-env")
	cache := &fakeCache{cred: &credstore.Credential{Token: "cached"}}
	r, _ := testResolver(config.AuthConfig{TokenEnv: "RELAYBOT_TEST_TOKEN"}, cache)

	tok, err := r.EnsureAuthenticated(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tok != "from-env" {
		t.Errorf("env token must beat the cache, got %q", tok)
	}
}

func TestCachedToken(t *testing.T) {
	cache := &fakeCache{cred: &credstore.Credential{Token: "cached", ObtainedAt: time.Now()}}
	r, _ := testResolver(config.AuthConfig{}, cache)

	tok, err := r.EnsureAuthenticated(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tok != "cached" {
		t.Errorf("expected the cached token, got %q", tok)
	}
}

func TestMissingCredential(t *testing.T) {
	r, _ := testResolver(config.AuthConfig{}, &fakeCache{})

	_, err := r.EnsureAuthenticated(context.Background())
	var authErr *Error
	if !errors.As(err, &authErr) {
		t.Fatalf("expected auth.Error, got %v", err)
	}
	if authErr.Kind != KindMissing {
		t.Errorf("expected kind missing, got %s", authErr.Kind)
	}
}

func TestDeviceFlowSuccess(t *testing.T) {
	ts := authServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "granted-token",
			"token_type":   "bearer",
		})
	})
	cache := &fakeCache{}
	r, out := testResolver(flowConfig(ts), cache)

	tok, err := r.EnsureAuthenticated(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tok != "granted-token" {
		t.Errorf("expected the granted token, got %q", tok)
	}

	prompt := out.String()
	if !strings.Contains(prompt, "ABCD-1234") || !strings.Contains(prompt, "https://example.com/activate") {
		t.Errorf("prompt must show the user code and verification URL: %q", prompt)
	}

	if len(cache.saved) != 1 || cache.saved[0] != "granted-token" {
		t.Errorf("granted token must be cached, got %v", cache.saved)
	}
}

func TestDeviceFlowDenied(t *testing.T) {
	ts := authServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "access_denied"})
	})
	r, _ := testResolver(flowConfig(ts), &fakeCache{})

	_, err := r.EnsureAuthenticated(context.Background())
	var authErr *Error
	if !errors.As(err, &authErr) {
		t.Fatalf("expected auth.Error, got %v", err)
	}
	if authErr.Kind != KindDenied {
		t.Errorf("expected kind denied, got %s", authErr.Kind)
	}
}

func TestDeviceFlowExpired(t *testing.T) {
	ts := authServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "expired_token"})
	})
	r, _ := testResolver(flowConfig(ts), &fakeCache{})

	_, err := r.EnsureAuthenticated(context.Background())
	var authErr *Error
	if !errors.As(err, &authErr) {
		t.Fatalf("expected auth.Error, got %v", err)
	}
	if authErr.Kind != KindExpired {
		t.Errorf("expected kind expired, got %s", authErr.Kind)
	}
}
