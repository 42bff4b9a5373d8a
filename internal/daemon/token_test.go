package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"flowops/internal/types"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("s3cret")
	principal := types.Principal{ID: "u-1", Email: "ops@example.com", Role: types.RoleOperator}
	token, err := IssueToken(secret, "flowops", principal, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	got, err := ParseToken(secret, "flowops", token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != principal {
		t.Fatalf("expected %#v, got %#v", principal, got)
	}
	if _, err := ParseToken([]byte("other"), "flowops", token); err == nil {
		t.Fatalf("expected signature failure with the wrong secret")
	}
	if _, err := ParseToken(secret, "someone-else", token); err == nil {
		t.Fatalf("expected issuer mismatch")
	}
}

func TestIssueTokenRejectsUnknownRole(t *testing.T) {
	if _, err := IssueToken([]byte("s"), "flowops", types.Principal{ID: "u", Role: "ROOT"}, 0); err == nil {
		t.Fatalf("expected error for unknown role")
	}
	if _, err := IssueToken(nil, "flowops", types.Principal{ID: "u", Role: types.RoleAdmin}, 0); err == nil {
		t.Fatalf("expected error without a secret")
	}
}

func TestExpiredTokenIsRejected(t *testing.T) {
	secret := []byte("s3cret")
	token, err := IssueToken(secret, "flowops", types.Principal{ID: "u", Role: types.RoleAdmin}, time.Nanosecond)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	time.Sleep(1100 * time.Millisecond)
	if _, err := ParseToken(secret, "flowops", token); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestLoadOrCreateSecretPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "jwt.secret")
	first, err := LoadOrCreateSecret(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := LoadOrCreateSecret(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if first == "" || first != second {
		t.Fatalf("expected a stable secret, got %q then %q", first, second)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 permissions, got %v", info.Mode().Perm())
	}
}
