package auth

import (
	"strings"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager("secret", "trustcore", "platform", 30*time.Minute)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return m
}

func TestIssueAndVerify(t *testing.T) {
	m := newTestManager(t)

	now := time.Unix(1700000000, 0).UTC()
	abs := now.Add(8 * time.Hour)

	tok, err := m.Issue(now, Identity{UserID: "u1", TenantID: "t1"}, "sess-token", abs)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := m.Verify(tok, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "u1" || claims.TenantID != "t1" || claims.SessionID != "sess-token" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.AbsoluteExp != abs.Unix() {
		t.Fatalf("absolute_exp not preserved: %d != %d", claims.AbsoluteExp, abs.Unix())
	}
}

func TestVerifyRejectsIdleExpired(t *testing.T) {
	m := newTestManager(t)

	now := time.Unix(1700000000, 0).UTC()
	tok, _ := m.Issue(now, Identity{UserID: "u1"}, "s", now.Add(8*time.Hour))

	if _, err := m.Verify(tok, now.Add(31*time.Minute)); err == nil {
		t.Fatalf("expected idle-expired token to fail verification")
	}
}

func TestRefreshPreservesAbsoluteExpAndIssuedAt(t *testing.T) {
	m := newTestManager(t)

	now := time.Unix(1700000000, 0).UTC()
	abs := now.Add(8 * time.Hour)
	tok, _ := m.Issue(now, Identity{UserID: "u1"}, "s", abs)

	later := now.Add(20 * time.Minute)
	refreshed, err := m.Refresh(tok, later)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	claims, err := m.Verify(refreshed, later)
	if err != nil {
		t.Fatalf("verify refreshed: %v", err)
	}
	if claims.AbsoluteExp != abs.Unix() {
		t.Fatalf("refresh changed absolute_exp")
	}
	if !claims.IssuedAt.Time.Equal(now) {
		t.Fatalf("refresh changed iat: %v != %v", claims.IssuedAt.Time, now)
	}
	wantExp := later.Add(30 * time.Minute)
	if !claims.ExpiresAt.Time.Equal(wantExp) {
		t.Fatalf("refresh did not advance idle expiry: %v != %v", claims.ExpiresAt.Time, wantExp)
	}
}

func TestRefreshClampsToAbsoluteDeadline(t *testing.T) {
	m := newTestManager(t)

	now := time.Unix(1700000000, 0).UTC()
	abs := now.Add(40 * time.Minute)
	tok, _ := m.Issue(now, Identity{UserID: "u1"}, "s", abs)

	later := now.Add(20 * time.Minute)
	refreshed, err := m.Refresh(tok, later)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	claims, _ := m.Verify(refreshed, later)
	if !claims.ExpiresAt.Time.Equal(abs) {
		t.Fatalf("idle expiry must clamp to absolute deadline: %v != %v", claims.ExpiresAt.Time, abs)
	}

	// Past the absolute deadline no refresh is possible.
	if _, err := m.Refresh(refreshed, abs.Add(time.Second)); err == nil {
		t.Fatalf("expected refresh past absolute deadline to fail")
	}
}

func TestSessionIDProbeIgnoresSignature(t *testing.T) {
	m := newTestManager(t)

	now := time.Unix(1700000000, 0).UTC()
	tok, _ := m.Issue(now, Identity{UserID: "u1"}, "sess-token", now.Add(8*time.Hour))

	// Corrupt the signature; the probe must still read sid.
	parts := strings.Split(tok, ".")
	tampered := parts[0] + "." + parts[1] + ".AAAA"

	sid, err := m.SessionID(tampered)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if sid != "sess-token" {
		t.Fatalf("unexpected sid %q", sid)
	}

	// But the trusted read must reject it.
	if _, err := m.Verify(tampered, now); err == nil {
		t.Fatalf("expected tampered token to fail verification")
	}
}

func TestSessionIDProbeOnGarbage(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.SessionID("not-a-jwt"); err == nil {
		t.Fatalf("expected probe of garbage to fail")
	}
}
