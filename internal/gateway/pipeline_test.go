package gateway

import (
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/risecrm/apigate/internal/auditlog"
	"github.com/risecrm/apigate/internal/db"
	"github.com/risecrm/apigate/internal/envelope"
	"github.com/risecrm/apigate/internal/metrics"
	"github.com/risecrm/apigate/internal/models"
	"github.com/risecrm/apigate/internal/permission"
	"github.com/risecrm/apigate/internal/ratelimit"
	"github.com/risecrm/apigate/internal/repository"
)

type testEnv struct {
	handler  http.Handler
	keys     *repository.APIKeyRepository
	groups   *repository.GroupRepository
	settings *repository.SettingsRepository
	logs     *repository.APILogRepository
	metrics  *metrics.Metrics
	sqldb    *sql.DB
}

func setupPipeline(t *testing.T) *testEnv {
	t.Helper()

	sqldb, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { sqldb.Close() })
	sqldb.SetMaxOpenConns(1)
	if err := db.Migrate(sqldb); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	boltdb, err := ratelimit.Open(filepath.Join(t.TempDir(), "counters.db"))
	if err != nil {
		t.Fatalf("failed to open counter store: %v", err)
	}
	t.Cleanup(func() { boltdb.Close() })
	limiter, err := ratelimit.NewLimiter(boltdb)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}

	env := &testEnv{
		keys:     repository.NewAPIKeyRepository(sqldb),
		groups:   repository.NewGroupRepository(sqldb),
		settings: repository.NewSettingsRepository(sqldb),
		logs:     repository.NewAPILogRepository(sqldb),
		sqldb:    sqldb,
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	routes := permission.NewRouteTable("/api/v1", []string{"clients", "invoices"})
	env.metrics = metrics.New()
	pipeline := NewPipeline(Deps{
		Keys:     env.keys,
		Groups:   env.groups,
		Settings: env.settings,
		Limiter:  limiter,
		Routes:   routes,
		Engine:   permission.NewEngine(routes),
		Recorder: auditlog.NewRecorder(env.logs, env.settings, logger),
		Envelope: &envelope.Builder{},
		Metrics:  env.metrics,
		Logger:   logger,
	})

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"success":true,"data":{"ok":true}}`))
	})
	env.handler = pipeline.Handler(next)
	return env
}

func (env *testEnv) createKey(t *testing.T, opts repository.APIKeyCreateOptions) *models.APIKeyCreateResult {
	t.Helper()
	if opts.Name == "" {
		opts.Name = "test key"
	}
	created, err := env.keys.Create(opts)
	if err != nil {
		t.Fatalf("failed to create api key: %v", err)
	}
	return created
}

func (env *testEnv) do(t *testing.T, method, path string, key *models.APIKeyCreateResult, mod func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if key != nil {
		req.Header.Set("X-API-Key", key.Key)
		req.Header.Set("X-API-Secret", key.PlainSecret)
	}
	if mod != nil {
		mod(req)
	}
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func errMessage(t *testing.T, body string) string {
	t.Helper()
	var resp struct {
		Success bool `json:"success"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("unmarshal error envelope %q: %v", body, err)
	}
	return resp.Error.Message
}

func TestAuthenticatedRequestSucceeds(t *testing.T) {
	env := setupPipeline(t)
	key := env.createKey(t, repository.APIKeyCreateOptions{})

	rec := env.do(t, http.MethodGet, "/api/v1/clients", key, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	reloaded, err := env.keys.GetByID(key.ID)
	if err != nil {
		t.Fatalf("reload key: %v", err)
	}
	if reloaded.TotalCalls != 1 {
		t.Fatalf("total_calls = %d, want 1", reloaded.TotalCalls)
	}
	if reloaded.LastUsedAt == nil {
		t.Fatal("last_used_at not stamped")
	}
}

func TestOneAuditRowPerRequest(t *testing.T) {
	env := setupPipeline(t)
	key := env.createKey(t, repository.APIKeyCreateOptions{})

	env.do(t, http.MethodGet, "/api/v1/clients", key, nil)
	env.do(t, http.MethodGet, "/api/v1/clients", nil, nil) // 401

	entries, total, err := env.logs.List(models.APILogFilter{})
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 audit rows, got %d", total)
	}
	// newest first
	if entries[0].ResponseCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated row code = %d", entries[0].ResponseCode)
	}
	if entries[0].APIKeyID != 0 {
		t.Fatalf("unauthenticated row api_key_id = %d, want 0", entries[0].APIKeyID)
	}
	if entries[1].ResponseCode != http.StatusOK || entries[1].APIKeyID != key.ID {
		t.Fatalf("authenticated row = %+v", entries[1])
	}
}

func TestMissingCredentials(t *testing.T) {
	env := setupPipeline(t)

	rec := env.do(t, http.MethodGet, "/api/v1/clients", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg := errMessage(t, rec.Body.String()); msg != "API key is required" {
		t.Fatalf("message = %q", msg)
	}
}

func TestUnknownKey(t *testing.T) {
	env := setupPipeline(t)

	rec := env.do(t, http.MethodGet, "/api/v1/clients", nil, func(r *http.Request) {
		r.Header.Set("X-API-Key", "rk_nonexistent")
		r.Header.Set("X-API-Secret", "whatever")
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg := errMessage(t, rec.Body.String()); msg != "Invalid API key/secret" {
		t.Fatalf("message = %q", msg)
	}
}

func TestWrongSecretSameMessageAsUnknownKey(t *testing.T) {
	env := setupPipeline(t)
	key := env.createKey(t, repository.APIKeyCreateOptions{})

	rec := env.do(t, http.MethodGet, "/api/v1/clients", nil, func(r *http.Request) {
		r.Header.Set("X-API-Key", key.Key)
		r.Header.Set("X-API-Secret", "not-the-secret")
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg := errMessage(t, rec.Body.String()); msg != "Invalid API key/secret" {
		t.Fatalf("message = %q", msg)
	}
}

func TestInactiveKey(t *testing.T) {
	env := setupPipeline(t)
	key := env.createKey(t, repository.APIKeyCreateOptions{})
	if err := env.keys.SetStatus(key.ID, models.StatusRevoked); err != nil {
		t.Fatalf("set status: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/clients", key, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg := errMessage(t, rec.Body.String()); !strings.Contains(msg, models.StatusRevoked) {
		t.Fatalf("message %q should name the status", msg)
	}
}

func TestExpiredKey(t *testing.T) {
	env := setupPipeline(t)
	past := time.Now().UTC().Add(-time.Hour)
	key := env.createKey(t, repository.APIKeyCreateOptions{ExpiresAt: &past})

	rec := env.do(t, http.MethodGet, "/api/v1/clients", key, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg := errMessage(t, rec.Body.String()); !strings.Contains(msg, "expired") {
		t.Fatalf("message = %q, want expiry named", msg)
	}

	entries, _, err := env.logs.List(models.APILogFilter{})
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if !strings.Contains(entries[0].ResponseBody, "expired") {
		t.Fatalf("audit row should record the expiry reason, got %q", entries[0].ResponseBody)
	}
}

func TestAPIDisabled(t *testing.T) {
	env := setupPipeline(t)
	key := env.createKey(t, repository.APIKeyCreateOptions{})
	if err := env.settings.Set("api_enabled", "0"); err != nil {
		t.Fatalf("set: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/clients", key, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestPreflightBypassesAuth(t *testing.T) {
	env := setupPipeline(t)
	if err := env.settings.Set("cors_enabled", "1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := env.settings.Set("cors_allowed_origins", "*"); err != nil {
		t.Fatalf("set: %v", err)
	}

	rec := env.do(t, http.MethodOptions, "/api/v1/clients", nil, func(r *http.Request) {
		r.Header.Set("Origin", "https://app.example.com")
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("preflight body = %q, want empty", rec.Body.String())
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("Allow-Origin = %q", got)
	}
}

func (env *testEnv) setKeyCORS(t *testing.T, id int64, enabled, origins any) {
	t.Helper()
	if _, err := env.sqldb.Exec(
		"UPDATE api_keys SET cors_enabled = ?, cors_allowed_origins = ? WHERE id = ?",
		enabled, origins, id,
	); err != nil {
		t.Fatalf("set key cors columns: %v", err)
	}
}

func TestPerKeyCORSOverrideForcesOn(t *testing.T) {
	env := setupPipeline(t)
	key := env.createKey(t, repository.APIKeyCreateOptions{})
	// global cors_enabled stays at the seeded '0'
	env.setKeyCORS(t, key.ID, "1", "https://app.example.com")

	rec := env.do(t, http.MethodGet, "/api/v1/clients", key, func(r *http.Request) {
		r.Header.Set("Origin", "https://app.example.com")
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("Allow-Origin = %q, want per-key override to emit it", got)
	}
}

func TestPerKeyCORSOverrideForcesOff(t *testing.T) {
	env := setupPipeline(t)
	key := env.createKey(t, repository.APIKeyCreateOptions{})
	if err := env.settings.Set("cors_enabled", "1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := env.settings.Set("cors_allowed_origins", "*"); err != nil {
		t.Fatalf("set: %v", err)
	}
	env.setKeyCORS(t, key.ID, "0", nil)

	rec := env.do(t, http.MethodGet, "/api/v1/clients", key, func(r *http.Request) {
		r.Header.Set("Origin", "https://app.example.com")
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("Allow-Origin = %q, want per-key force-off to clear it", got)
	}
}

func TestCORSDisabledEmitsNoHeaders(t *testing.T) {
	env := setupPipeline(t)
	key := env.createKey(t, repository.APIKeyCreateOptions{})
	if err := env.settings.Set("cors_allowed_origins", "https://app.example.com"); err != nil {
		t.Fatalf("set: %v", err)
	}
	// cors_enabled stays at the seeded '0'

	rec := env.do(t, http.MethodGet, "/api/v1/clients", key, func(r *http.Request) {
		r.Header.Set("Origin", "https://app.example.com")
	})
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("Allow-Origin = %q, want none with cors disabled", got)
	}
}

func TestRateLimitThirdRequestDenied(t *testing.T) {
	env := setupPipeline(t)
	key := env.createKey(t, repository.APIKeyCreateOptions{RateLimitMinute: 2})

	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodGet, "/api/v1/clients", key, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, rec.Code)
		}
	}

	rec := env.do(t, http.MethodGet, "/api/v1/clients", key, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("Retry-After = %q", got)
	}

	var resp struct {
		Error struct {
			Details struct {
				RetryAfter int `json:"retry_after"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error.Details.RetryAfter != 60 {
		t.Fatalf("retry_after = %d, want 60", resp.Error.Details.RetryAfter)
	}
}

func TestPermissionMatrix(t *testing.T) {
	env := setupPipeline(t)
	group, err := env.groups.Create("readers", `{"clients":{"read":true}}`, false)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	key := env.createKey(t, repository.APIKeyCreateOptions{PermissionGroupID: &group.ID})

	if rec := env.do(t, http.MethodGet, "/api/v1/clients", key, nil); rec.Code != http.StatusOK {
		t.Fatalf("GET clients status = %d", rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/clients", key, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("POST clients status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/invoices", key, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("GET invoices status = %d", rec.Code)
	}
	if msg := errMessage(t, rec.Body.String()); msg != "Endpoint INVOICES is not allowed" {
		t.Fatalf("message = %q", msg)
	}
}

func TestNoGroupIsUnrestricted(t *testing.T) {
	env := setupPipeline(t)
	key := env.createKey(t, repository.APIKeyCreateOptions{})

	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete} {
		rec := env.do(t, method, "/api/v1/invoices", key, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d, want unrestricted access", method, rec.Code)
		}
	}
}

func TestDeletedGroupDeniesAll(t *testing.T) {
	env := setupPipeline(t)
	group, err := env.groups.Create("doomed", `{"clients":{"read":true}}`, false)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	key := env.createKey(t, repository.APIKeyCreateOptions{PermissionGroupID: &group.ID})
	if err := env.groups.Delete(group.ID); err != nil {
		t.Fatalf("delete group: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/clients", key, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want deny-all after group deletion", rec.Code)
	}
}

func TestPerKeyIPWhitelist(t *testing.T) {
	env := setupPipeline(t)
	key := env.createKey(t, repository.APIKeyCreateOptions{IPWhitelist: "10.0.0.0/8"})

	// httptest requests originate from 192.0.2.1
	rec := env.do(t, http.MethodGet, "/api/v1/clients", key, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for non-whitelisted IP", rec.Code)
	}

	allowed := env.createKey(t, repository.APIKeyCreateOptions{Name: "allowed", IPWhitelist: "192.0.2.0/24"})
	if rec := env.do(t, http.MethodGet, "/api/v1/clients", allowed, nil); rec.Code != http.StatusOK {
		t.Fatalf("whitelisted status = %d", rec.Code)
	}
}

func TestHTTPSRequired(t *testing.T) {
	env := setupPipeline(t)
	key := env.createKey(t, repository.APIKeyCreateOptions{})
	if err := env.settings.Set("require_https", "1"); err != nil {
		t.Fatalf("set: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/clients", key, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("plain request status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/clients", key, func(r *http.Request) {
		r.Header.Set("X-Forwarded-Proto", "https")
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("forwarded https status = %d", rec.Code)
	}
}

func TestMalformedJSONBodyRejected(t *testing.T) {
	env := setupPipeline(t)
	key := env.createKey(t, repository.APIKeyCreateOptions{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/clients", strings.NewReader("{not json"))
	req.Header.Set("X-API-Key", key.Key)
	req.Header.Set("X-API-Secret", key.PlainSecret)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRequestMetricsEndpointLabel(t *testing.T) {
	env := setupPipeline(t)
	key := env.createKey(t, repository.APIKeyCreateOptions{})

	env.do(t, http.MethodGet, "/api/v1/clients", key, nil)
	// Unregistered resource names collapse into one label value
	env.do(t, http.MethodGet, "/api/v1/widgets", key, nil)

	if got := testutil.ToFloat64(env.metrics.RequestsTotal.WithLabelValues("GET", "clients", "200")); got != 1 {
		t.Fatalf("clients counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(env.metrics.RequestsTotal.WithLabelValues("GET", "other", "200")); got != 1 {
		t.Fatalf("other counter = %v, want 1", got)
	}
}

func TestRequestBodyReachesHandlerAndAuditLog(t *testing.T) {
	env := setupPipeline(t)
	key := env.createKey(t, repository.APIKeyCreateOptions{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/clients", strings.NewReader(`{"name":"Acme","password":"hunter2"}`))
	req.Header.Set("X-API-Key", key.Key)
	req.Header.Set("X-API-Secret", key.PlainSecret)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	entries, _, err := env.logs.List(models.APILogFilter{})
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if !strings.Contains(entries[0].RequestBody, "Acme") {
		t.Fatalf("request body not logged: %q", entries[0].RequestBody)
	}
	if strings.Contains(entries[0].RequestBody, "hunter2") {
		t.Fatalf("password leaked into audit log: %q", entries[0].RequestBody)
	}
}
