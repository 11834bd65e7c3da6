package auth

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func TestIssueAndParse(t *testing.T) {
	iss, err := NewIssuer("test-secret", WithIssuerName("test-issuer"))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	token, expiresAt, err := iss.Issue("alice", []string{"Admin", "member", "admin"}, 30*time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expected future expiration, got %v", expiresAt)
	}

	claims, err := iss.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "alice" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Issuer != "test-issuer" {
		t.Fatalf("unexpected issuer: %s", claims.Issuer)
	}
	if claims.ID == "" {
		t.Fatalf("expected token id")
	}
	if len(claims.Roles) != 2 || !slices.Contains(claims.Roles, "admin") || !slices.Contains(claims.Roles, "member") {
		t.Fatalf("roles were not normalised: %v", claims.Roles)
	}
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	if _, err := NewIssuer("   "); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}

func TestParseRejectsForeignAndExpiredTokens(t *testing.T) {
	iss, _ := NewIssuer("secret-a")
	other, _ := NewIssuer("secret-b")

	token, _, err := other.Issue("alice", nil, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := iss.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign signature, got %v", err)
	}

	past := time.Now().Add(-2 * time.Hour)
	stale, _ := NewIssuer("secret-a", WithClock(func() time.Time { return past }))
	token, _, err = stale.Issue("alice", nil, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := iss.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}

	if _, err := iss.Parse(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}
}

func TestIssueValidatesInput(t *testing.T) {
	iss, _ := NewIssuer("secret")
	if _, _, err := iss.Issue(" ", nil, time.Minute); err == nil {
		t.Fatalf("expected error for empty subject")
	}
	if _, _, err := iss.Issue("alice", nil, 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = ContextWithUser(ctx, "user-7", []string{"Admin", "Admin", "member"})
	id, ok := UserIDFromContext(ctx)
	if !ok || id != "user-7" {
		t.Fatalf("unexpected user id: %s, ok=%v", id, ok)
	}
	roles := RolesFromContext(ctx)
	if len(roles) != 2 {
		t.Fatalf("expected deduplicated roles, got %v", roles)
	}
	if !HasRole(ctx, "member") || !HasRole(ctx, "admin") {
		t.Fatalf("HasRole missing expected roles: %v", roles)
	}
	if HasRole(ctx, "operator") {
		t.Fatalf("unexpected role found")
	}

	ctx = ContextWithToken(ctx, "tok")
	if tok, ok := TokenFromContext(ctx); !ok || tok != "tok" {
		t.Fatalf("unexpected token: %q", tok)
	}
}

func TestAuthorize(t *testing.T) {
	if err := Authorize(context.Background(), PermGroupRead); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	member := ContextWithUser(context.Background(), "bob", []string{RoleMember})
	if err := Authorize(member, PermGroupWrite); err != nil {
		t.Fatalf("member should write groups: %v", err)
	}
	if err := Authorize(member, PermLedgerCreateAccount); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	admin := ContextWithUser(context.Background(), "root", []string{"ADMIN"})
	if err := Authorize(admin, PermLedgerCreateAccount); err != nil {
		t.Fatalf("admin should open accounts: %v", err)
	}
}
