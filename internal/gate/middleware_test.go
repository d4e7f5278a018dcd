package gate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"trustcore/internal/auth"
	"trustcore/internal/session"

	"github.com/gin-gonic/gin"
)

type fakeValidator struct {
	result  session.ValidationResult
	err     error
	touched int
}

func (f *fakeValidator) Validate(ctx context.Context, token string) (session.ValidationResult, error) {
	if f.err != nil {
		return session.ValidationResult{}, f.err
	}
	return f.result, nil
}

func (f *fakeValidator) Touch(ctx context.Context, token string) error {
	f.touched++
	return nil
}

func newGateRouter(t *testing.T, v Validator, opts Options) (*gin.Engine, *int) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	hits := 0
	m, err := auth.NewManager("secret", "trustcore", "", 30*time.Minute)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	r.Use(Middleware(v, m, opts))
	r.GET("/v1/data", func(c *gin.Context) {
		hits++
		c.Status(200)
	})
	r.GET("/healthz", func(c *gin.Context) {
		hits++
		c.Status(200)
	})
	return r, &hits
}

func bearerWithSession(t *testing.T, sid string) string {
	t.Helper()
	m, _ := auth.NewManager("secret", "trustcore", "", 30*time.Minute)
	now := time.Now().UTC()
	tok, err := m.Issue(now, auth.Identity{UserID: "u1"}, sid, now.Add(8*time.Hour))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return "Bearer " + tok
}

func TestGateSkipsAllowListedPaths(t *testing.T) {
	v := &fakeValidator{err: errors.New("down")}
	r, hits := newGateRouter(t, v, Options{SkipPaths: []string{"/healthz"}})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != 200 || *hits != 1 {
		t.Fatalf("allow-listed path must bypass the gate: code=%d hits=%d", w.Code, *hits)
	}
}

func TestGatePassesThroughWithoutSessionClaim(t *testing.T) {
	v := &fakeValidator{err: errors.New("down")}
	r, hits := newGateRouter(t, v, Options{})

	// No Authorization header at all.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/data", nil))
	if w.Code != 200 {
		t.Fatalf("missing token must pass through, got %d", w.Code)
	}

	// A parseable token that predates session tracking (no sid claim).
	m, _ := auth.NewManager("secret", "trustcore", "", 30*time.Minute)
	now := time.Now().UTC()
	legacy, _ := m.Issue(now, auth.Identity{UserID: "u1"}, "", now.Add(8*time.Hour))
	req := httptest.NewRequest(http.MethodGet, "/v1/data", nil)
	req.Header.Set("Authorization", "Bearer "+legacy)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("sid-less token must pass through, got %d", w.Code)
	}

	// Unparseable bearer content also passes through to downstream identity
	// verification.
	req = httptest.NewRequest(http.MethodGet, "/v1/data", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("unparseable token must pass through, got %d", w.Code)
	}

	if *hits != 3 {
		t.Fatalf("expected 3 handler hits, got %d", *hits)
	}
}

func TestGateFailsClosedWhenValidatorDown(t *testing.T) {
	v := &fakeValidator{err: errors.New("connection refused")}
	r, hits := newGateRouter(t, v, Options{})

	req := httptest.NewRequest(http.MethodGet, "/v1/data", nil)
	req.Header.Set("Authorization", bearerWithSession(t, "sess-1"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if w.Header().Get(HeaderSessionCheck) != "unavailable" {
		t.Fatalf("503 must carry the availability header")
	}
	if w.Header().Get(HeaderSessionExpired) != "" {
		t.Fatalf("outage must not masquerade as expiry")
	}
	if *hits != 0 {
		t.Fatalf("request must never reach the handler on validator outage")
	}
}

func TestGateRejectsInvalidSession(t *testing.T) {
	v := &fakeValidator{result: session.ValidationResult{IsValid: false, ExpiryReason: session.ExpiryIdle}}
	r, hits := newGateRouter(t, v, Options{})

	req := httptest.NewRequest(http.MethodGet, "/v1/data", nil)
	req.Header.Set("Authorization", bearerWithSession(t, "sess-1"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if w.Header().Get(HeaderSessionExpired) != session.ExpiryIdle {
		t.Fatalf("401 must carry the expiry reason, got %q", w.Header().Get(HeaderSessionExpired))
	}
	if *hits != 0 {
		t.Fatalf("expired session must not reach the handler")
	}
}

func TestGateForwardsValidSessionAndWarns(t *testing.T) {
	v := &fakeValidator{result: session.ValidationResult{
		IsValid:          true,
		SecondsRemaining: 240,
		ShowWarning:      true,
		UserID:           "u1",
		TenantID:         "t1",
	}}
	r, hits := newGateRouter(t, v, Options{})

	req := httptest.NewRequest(http.MethodGet, "/v1/data", nil)
	req.Header.Set("Authorization", bearerWithSession(t, "sess-1"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != 200 || *hits != 1 {
		t.Fatalf("valid session must forward: code=%d hits=%d", w.Code, *hits)
	}
	if w.Header().Get(HeaderSessionWarning) != "240" {
		t.Fatalf("expected warning header 240, got %q", w.Header().Get(HeaderSessionWarning))
	}
	if v.touched != 1 {
		t.Fatalf("expected one activity refresh, got %d", v.touched)
	}
}

func TestGateNoWarningAboveThreshold(t *testing.T) {
	v := &fakeValidator{result: session.ValidationResult{
		IsValid:          true,
		SecondsRemaining: 300,
		ShowWarning:      false,
		UserID:           "u1",
	}}
	r, _ := newGateRouter(t, v, Options{})

	req := httptest.NewRequest(http.MethodGet, "/v1/data", nil)
	req.Header.Set("Authorization", bearerWithSession(t, "sess-1"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Header().Get(HeaderSessionWarning) != "" {
		t.Fatalf("no warning expected at the threshold")
	}
}

func TestGateInjectsIdentity(t *testing.T) {
	v := &fakeValidator{result: session.ValidationResult{IsValid: true, SecondsRemaining: 1000, UserID: "u1", TenantID: "t1"}}
	gin.SetMode(gin.TestMode)
	r := gin.New()
	m, _ := auth.NewManager("secret", "trustcore", "", 30*time.Minute)
	r.Use(Middleware(v, m, Options{}))

	var gotUser, gotTenant string
	r.GET("/v1/data", func(c *gin.Context) {
		gotUser, _ = auth.UserID(c.Request.Context())
		gotTenant, _ = auth.TenantID(c.Request.Context())
		c.Status(200)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/data", nil)
	req.Header.Set("Authorization", bearerWithSession(t, "sess-1"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if gotUser != "u1" || gotTenant != "t1" {
		t.Fatalf("identity not injected: user=%q tenant=%q", gotUser, gotTenant)
	}
}
