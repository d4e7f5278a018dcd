package capability

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine("secret", "trustcore", time.Hour)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return e
}

func TestMatchResource(t *testing.T) {
	cases := []struct {
		pattern  string
		resource string
		want     bool
	}{
		{"llm:*", "llm:groq", true},
		{"llm:*", "llm:anything", true},
		{"llm:*", "llm:groq:chat", true},
		{"llm:*", "llmx:groq", false},
		{"llm:*", "llm", false},
		{"llm:*", "llm:", false},
		{"rag:semantic_search", "rag:semantic_search", true},
		{"rag:semantic_search", "rag:semantic_search2", false},
		{"rag:semantic_search", "rag:*", false},
	}
	for _, c := range cases {
		if got := MatchResource(c.pattern, c.resource); got != c.want {
			t.Errorf("MatchResource(%q,%q) = %v, want %v", c.pattern, c.resource, got, c.want)
		}
	}
}

func TestCheckResourceAccess(t *testing.T) {
	e := newTestEngine(t)
	now := time.Unix(1700000000, 0).UTC()

	tok, err := e.Issue(now, "u1", "t1", []Grant{
		{ResourcePattern: "rag:*", Actions: []string{"search"}},
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := e.Verify(context.Background(), tok, now)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	rc := ReqContext{Now: now}
	if !e.CheckResourceAccess(claims, "rag:semantic_search", "search", rc) {
		t.Fatalf("expected search on rag:semantic_search to be allowed")
	}
	if e.CheckResourceAccess(claims, "rag:semantic_search", "upload", rc) {
		t.Fatalf("expected upload to be denied")
	}
	if e.CheckResourceAccess(claims, "llm:groq", "search", rc) {
		t.Fatalf("expected unrelated resource to be denied")
	}
}

func TestFirstMatchWinsNoMerging(t *testing.T) {
	e := newTestEngine(t)
	now := time.Unix(1700000000, 0).UTC()

	// The narrow grant comes first; the broad wildcard grant after it must
	// not be consulted once the first grant matches the resource and action
	// but fails a constraint.
	until := now.Add(-time.Minute)
	tok, _ := e.Issue(now, "u1", "t1", []Grant{
		{
			ResourcePattern: "llm:groq",
			Actions:         []string{"invoke"},
			Constraints:     &Constraints{ValidUntil: &until},
		},
		{ResourcePattern: "llm:*", Actions: []string{ActionWildcard}},
	})
	claims, err := e.Verify(context.Background(), tok, now)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	if e.CheckResourceAccess(claims, "llm:groq", "invoke", ReqContext{Now: now}) {
		t.Fatalf("first matching grant failed its constraint; later grants must not rescue the request")
	}
	// A resource only the second grant covers still works.
	if !e.CheckResourceAccess(claims, "llm:openai", "invoke", ReqContext{Now: now}) {
		t.Fatalf("wildcard grant should cover other llm resources")
	}
}

func TestConstraints(t *testing.T) {
	e := newTestEngine(t)
	now := time.Unix(1700000000, 0).UTC()
	until := now.Add(time.Hour)

	grants := []Grant{{
		ResourcePattern: "rag:*",
		Actions:         []string{"search"},
		Constraints: &Constraints{
			ValidUntil:     &until,
			IPRestrictions: []string{"10.0.0.1"},
			AllowedTenants: []string{"t1"},
		},
	}}
	tok, _ := e.Issue(now, "u1", "t1", grants)
	claims, _ := e.Verify(context.Background(), tok, now)

	cases := []struct {
		name string
		rc   ReqContext
		want bool
	}{
		{"all satisfied", ReqContext{IP: "10.0.0.1", Tenant: "t1", Now: now}, true},
		{"wrong ip", ReqContext{IP: "10.0.0.2", Tenant: "t1", Now: now}, false},
		{"wrong tenant", ReqContext{IP: "10.0.0.1", Tenant: "t2", Now: now}, false},
		{"past valid_until", ReqContext{IP: "10.0.0.1", Tenant: "t1", Now: until}, false},
	}
	for _, c := range cases {
		if got := e.CheckResourceAccess(claims, "rag:semantic_search", "search", c.rc); got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, got, c.want)
		}
	}
}

func TestActionWildcard(t *testing.T) {
	e := newTestEngine(t)
	now := time.Unix(1700000000, 0).UTC()

	tok, _ := e.Issue(now, "u1", "", []Grant{
		{ResourcePattern: "docs:*", Actions: []string{ActionWildcard}},
	})
	claims, _ := e.Verify(context.Background(), tok, now)

	for _, action := range []string{"read", "write", "delete"} {
		if !e.CheckResourceAccess(claims, "docs:chunks", action, ReqContext{Now: now}) {
			t.Fatalf("wildcard action set must allow %q", action)
		}
	}
}

func TestGetResourceLimits(t *testing.T) {
	e := newTestEngine(t)
	now := time.Unix(1700000000, 0).UTC()

	tok, _ := e.Issue(now, "u1", "", []Grant{
		{ResourcePattern: "llm:groq", Actions: []string{"invoke"}, Limits: map[string]float64{"tokens_per_day": 10000}},
		{ResourcePattern: "llm:*", Actions: []string{"invoke"}, Limits: map[string]float64{"tokens_per_day": 500}},
	})
	claims, _ := e.Verify(context.Background(), tok, now)

	limits, ok := e.GetResourceLimits(claims, "llm:groq")
	if !ok || limits["tokens_per_day"] != 10000 {
		t.Fatalf("expected first-match limits, got %v ok=%v", limits, ok)
	}
	limits, ok = e.GetResourceLimits(claims, "llm:openai")
	if !ok || limits["tokens_per_day"] != 500 {
		t.Fatalf("expected wildcard limits, got %v ok=%v", limits, ok)
	}
	if _, ok := e.GetResourceLimits(claims, "rag:search"); ok {
		t.Fatalf("expected no limits for uncovered resource")
	}
}

type recordingReporter struct {
	kinds []string
}

func (r *recordingReporter) SecurityAlert(ctx context.Context, kind, subject, detail string) {
	r.kinds = append(r.kinds, kind)
}

func TestTamperedGrantsFailHashCheck(t *testing.T) {
	rep := &recordingReporter{}
	e := newTestEngine(t).WithReporter(rep)
	now := time.Unix(1700000000, 0).UTC()

	tok, _ := e.Issue(now, "u1", "t1", []Grant{
		{ResourcePattern: "rag:*", Actions: []string{"search"}},
	})

	// Widen the embedded grants without re-signing. Even when the signature
	// is re-faked with the same secret-less trick the hash check refuses it;
	// here we re-sign with the real secret to isolate the hash defense.
	parts := strings.Split(tok, ".")
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	body["grants"] = []map[string]any{
		{"resource_pattern": "rag:*", "actions": []string{"search", "upload", "delete"}},
	}
	mutated, _ := json.Marshal(body)

	var claims Claims
	if err := json.Unmarshal(mutated, &claims); err != nil {
		t.Fatalf("unmarshal claims: %v", err)
	}
	// Re-sign the mutated payload with the correct key, simulating a
	// hypothetically bypassed signature check.
	resigned, err := e.signClaimsForTest(claims)
	if err != nil {
		t.Fatalf("resign: %v", err)
	}

	if _, err := e.Verify(context.Background(), resigned, now); err == nil {
		t.Fatalf("expected hash mismatch for mutated grants")
	} else if err != ErrHashMismatch {
		t.Fatalf("expected ErrHashMismatch, got %v", err)
	}
	if len(rep.kinds) != 1 || rep.kinds[0] != "capability_hash_mismatch" {
		t.Fatalf("expected a security alert, got %v", rep.kinds)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	e := newTestEngine(t)
	now := time.Unix(1700000000, 0).UTC()

	tok, _ := e.Issue(now, "u1", "", []Grant{
		{ResourcePattern: "rag:*", Actions: []string{"search"}},
	})
	if _, err := e.Verify(context.Background(), tok, now.Add(2*time.Hour)); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	rep := &recordingReporter{}
	e := newTestEngine(t).WithReporter(rep)
	other, _ := NewEngine("other-secret", "trustcore", time.Hour)
	now := time.Unix(1700000000, 0).UTC()

	tok, _ := other.Issue(now, "u1", "", []Grant{
		{ResourcePattern: "rag:*", Actions: []string{"search"}},
	})
	if _, err := e.Verify(context.Background(), tok, now); err == nil {
		t.Fatalf("expected foreign-signed token to fail")
	}
}

func TestHashIsOrderInsensitive(t *testing.T) {
	a := []Grant{
		{ResourcePattern: "a:*", Actions: []string{"x", "y"}},
		{ResourcePattern: "b:*", Actions: []string{"z"}},
	}
	b := []Grant{
		{ResourcePattern: "b:*", Actions: []string{"z"}},
		{ResourcePattern: "a:*", Actions: []string{"y", "x"}},
	}
	ha, err := HashGrants(a)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	hb, err := HashGrants(b)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if ha != hb {
		t.Fatalf("canonical hash must not depend on grant order")
	}
}
