// Package gateway runs every API request through the ordered admission
// pipeline: API availability, CORS, authentication, permissions, HTTPS
// enforcement, rate limiting and body parsing. Each stage can terminate the
// request with an error envelope; only requests that pass all stages reach
// the resource handlers.
package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/risecrm/apigate/internal/auditlog"
	"github.com/risecrm/apigate/internal/cors"
	"github.com/risecrm/apigate/internal/credentials"
	"github.com/risecrm/apigate/internal/envelope"
	"github.com/risecrm/apigate/internal/metrics"
	"github.com/risecrm/apigate/internal/models"
	"github.com/risecrm/apigate/internal/permission"
	"github.com/risecrm/apigate/internal/ratelimit"
	"github.com/risecrm/apigate/internal/repository"
	"github.com/risecrm/apigate/internal/secret"
	"github.com/risecrm/apigate/internal/settings"
)

// Deps bundles everything the pipeline needs.
type Deps struct {
	Keys     *repository.APIKeyRepository
	Groups   *repository.GroupRepository
	Settings *repository.SettingsRepository
	Limiter  *ratelimit.Limiter
	Routes   *permission.RouteTable
	Engine   *permission.Engine
	Recorder *auditlog.Recorder
	Envelope *envelope.Builder
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

type Pipeline struct {
	keys     *repository.APIKeyRepository
	groups   *repository.GroupRepository
	settings *repository.SettingsRepository
	limiter  *ratelimit.Limiter
	routes   *permission.RouteTable
	engine   *permission.Engine
	recorder *auditlog.Recorder
	envelope *envelope.Builder
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewPipeline(deps Deps) *Pipeline {
	return &Pipeline{
		keys:     deps.Keys,
		groups:   deps.Groups,
		settings: deps.Settings,
		limiter:  deps.Limiter,
		routes:   deps.Routes,
		engine:   deps.Engine,
		recorder: deps.Recorder,
		envelope: deps.Envelope,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}
}

// requestState accumulates what the deferred audit row needs.
type requestState struct {
	start       time.Time
	keyID       int64
	requestBody []byte
}

// Handler wraps the resource routes with the full admission pipeline.
// Exactly one audit row is written per request, after the response is
// complete, with the status actually sent.
func (p *Pipeline) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := &requestState{start: time.Now()}

		p.metrics.RequestsInFlight.Inc()
		defer p.metrics.RequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		var respBody bytes.Buffer
		ww.Tee(&respBody)

		defer func() {
			elapsed := time.Since(st.start)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			p.metrics.RequestsTotal.WithLabelValues(r.Method, p.endpointLabel(r.URL.Path), strconv.Itoa(status)).Inc()
			p.metrics.RequestDurationSeconds.WithLabelValues(r.Method).Observe(elapsed.Seconds())

			p.recorder.Record(models.APILogEntry{
				APIKeyID:       st.keyID,
				Endpoint:       r.URL.Path,
				Method:         r.Method,
				IPAddress:      clientIP(r),
				UserAgent:      r.UserAgent(),
				ResponseCode:   status,
				ResponseTimeMs: elapsed.Milliseconds(),
			}, st.requestBody, respBody.Bytes())
		}()

		p.run(ww, r, st, next)
	})
}

func (p *Pipeline) run(w http.ResponseWriter, r *http.Request, st *requestState, next http.Handler) {
	// CheckApiEnabled
	enabled, err := p.settings.Get(settings.APIEnabled)
	if err != nil {
		p.serverError(w, st, "read api_enabled", err)
		return
	}
	if enabled != "1" {
		p.fail(w, st, http.StatusServiceUnavailable, "API access is currently disabled")
		return
	}

	// SetCorsHeaders. No key is known yet, so only the global flag and
	// origin list apply; preflight requests carry no credentials.
	resolver := settings.NewResolver(p.settings, nil)
	corsOn, err := resolver.Bool(settings.CORSEnabled)
	if err != nil {
		p.serverError(w, st, "resolve cors_enabled", err)
		return
	}
	origins, err := resolver.String(settings.CORSAllowedOrigins)
	if err != nil {
		p.serverError(w, st, "resolve cors_allowed_origins", err)
		return
	}
	cors.Negotiate(r.Header.Get("Origin"), corsOn, origins).Apply(w.Header())

	// RespondPreflight
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Authenticate
	key, ok := p.authenticate(w, r, st)
	if !ok {
		return
	}

	// Re-run CORS now that the key's overrides are known. The per-key
	// outcome replaces the global one in either direction.
	keyResolver := resolver.WithKey(key)
	corsOn, err = keyResolver.Bool(settings.CORSEnabled)
	if err != nil {
		p.serverError(w, st, "resolve cors_enabled", err)
		return
	}
	origins, err = keyResolver.String(settings.CORSAllowedOrigins)
	if err != nil {
		p.serverError(w, st, "resolve cors_allowed_origins", err)
		return
	}
	cors.Negotiate(r.Header.Get("Origin"), corsOn, origins).Apply(w.Header())

	// LoadPermissionGroup
	group, err := p.groups.LoadForKey(key.PermissionGroupID)
	if err != nil {
		p.serverError(w, st, "load permission group", err)
		return
	}

	// CheckEndpointPermission
	if denial := p.engine.Authorize(r.URL.Path, r.Method, group); denial != nil {
		p.metrics.PermissionDeniedTotal.Inc()
		p.fail(w, st, http.StatusForbidden, denial.Message)
		return
	}

	// CheckHttps. Needs the key, overrides resolve per key.
	requireTLS, err := keyResolver.Bool(settings.RequireHTTPS)
	if err != nil {
		p.serverError(w, st, "resolve require_https", err)
		return
	}
	if requireTLS && !isSecure(r) {
		p.fail(w, st, http.StatusForbidden, "HTTPS is required for API access")
		return
	}

	// CheckRateLimit. A counter store failure denies rather than
	// admitting unmetered traffic.
	res, err := p.limiter.Allow(key.ID, key.Limits())
	if err != nil {
		p.serverError(w, st, "rate limit check", err)
		return
	}
	if !res.Allowed {
		p.metrics.RateLimitExceededTotal.WithLabelValues(res.DeniedWindow).Inc()
		w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfter))
		body, err := p.envelope.FromPayload(http.StatusTooManyRequests, map[string]any{
			"message": "Rate limit exceeded. Try again later.",
			"errors": map[string]any{
				"retry_after": res.RetryAfter,
				"limits":      res.Limits,
			},
		}, st.start)
		envelope.Write(w, http.StatusTooManyRequests, body, err)
		return
	}

	// ParseBody. Earlier stages only need headers and query.
	if !p.parseBody(w, r, st) {
		return
	}

	// AutoCleanupLogs. Best-effort, never blocks the request.
	p.recorder.MaybeCleanup(time.Now())

	// Dispatch
	ctx := WithAPIKey(r.Context(), key)
	ctx = WithStart(ctx, st.start)
	next.ServeHTTP(w, r.WithContext(ctx))
}

// authenticate runs credential extraction, key-state checks, secret
// verification and the IP whitelists. On failure the response has already
// been written.
func (p *Pipeline) authenticate(w http.ResponseWriter, r *http.Request, st *requestState) (*models.APIKey, bool) {
	creds, err := credentials.Extract(r.Header)
	if err != nil {
		p.metrics.AuthFailuresTotal.WithLabelValues("missing_credentials").Inc()
		p.fail(w, st, http.StatusUnauthorized, err.Error())
		return nil, false
	}

	key, err := p.keys.GetByKey(creds.Key)
	if err != nil {
		p.serverError(w, st, "look up api key", err)
		return nil, false
	}
	if key == nil {
		// Same message as a bad secret, resists key enumeration
		p.metrics.AuthFailuresTotal.WithLabelValues("invalid_key").Inc()
		p.fail(w, st, http.StatusUnauthorized, "Invalid API key/secret")
		return nil, false
	}
	st.keyID = key.ID

	if key.Status != models.StatusActive {
		p.metrics.AuthFailuresTotal.WithLabelValues(key.Status).Inc()
		p.fail(w, st, http.StatusUnauthorized, "Invalid API key: "+key.Status)
		return nil, false
	}

	if key.IsExpired(time.Now()) {
		p.metrics.AuthFailuresTotal.WithLabelValues("expired").Inc()
		p.fail(w, st, http.StatusUnauthorized, "Invalid API key: expired")
		return nil, false
	}

	if !secret.Verify(creds.Secret, key.Secret) {
		p.metrics.AuthFailuresTotal.WithLabelValues("invalid_secret").Inc()
		p.fail(w, st, http.StatusUnauthorized, "Invalid API key/secret")
		return nil, false
	}

	// Both whitelists must pass when configured
	globalList, err := p.settings.Get(settings.DefaultIPWhitelist)
	if err != nil {
		p.serverError(w, st, "read default_ip_whitelist", err)
		return nil, false
	}
	ip := clientIP(r)
	if !ipAllowed(globalList, ip) || !ipAllowed(key.IPWhitelist, ip) {
		p.metrics.AuthFailuresTotal.WithLabelValues("ip_blocked").Inc()
		p.fail(w, st, http.StatusForbidden, "IP address not authorized")
		return nil, false
	}

	if err := p.keys.RecordUsage(key.ID, time.Now()); err != nil {
		p.serverError(w, st, "record key usage", err)
		return nil, false
	}

	return key, true
}

// parseBody reads and restores the request body so both the handler and
// the audit log see it. Malformed JSON is rejected before dispatch.
func (p *Pipeline) parseBody(w http.ResponseWriter, r *http.Request, st *requestState) bool {
	if r.Body == nil {
		return true
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		p.fail(w, st, http.StatusBadRequest, "Unable to read request body")
		return false
	}
	r.Body.Close()
	st.requestBody = body
	r.Body = io.NopCloser(bytes.NewReader(body))

	if len(body) > 0 && strings.Contains(r.Header.Get("Content-Type"), "application/json") && !json.Valid(body) {
		p.fail(w, st, http.StatusBadRequest, "Invalid JSON in request body")
		return false
	}
	return true
}

// endpointLabel keeps metric cardinality bounded: only resource names
// registered at startup become label values, everything else is "other".
func (p *Pipeline) endpointLabel(path string) string {
	if endpoint, ok := p.routes.Resolve(path); ok && p.routes.Known(endpoint) {
		return endpoint
	}
	return "other"
}

func (p *Pipeline) fail(w http.ResponseWriter, st *requestState, status int, message string) {
	body, err := p.envelope.Error(status, message, st.start)
	envelope.Write(w, status, body, err)
}

func (p *Pipeline) serverError(w http.ResponseWriter, st *requestState, op string, err error) {
	p.logger.Error(op, "error", err)
	p.fail(w, st, http.StatusInternalServerError, "Internal server error")
}

func isSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
