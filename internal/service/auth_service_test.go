package service

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndValidateToken(t *testing.T) {
	svc := NewAuthService("secret", "trivia")

	tok, err := svc.IssueToken("user-1", "Ann", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := svc.ValidateToken(tok)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID() != "user-1" || claims.Name != "Ann" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestValidateTokenRejects(t *testing.T) {
	svc := NewAuthService("secret", "trivia")

	expired, _ := svc.IssueToken("user-1", "Ann", -time.Minute)
	if _, err := svc.ValidateToken(expired); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expired token err = %v", err)
	}

	other, _ := NewAuthService("other", "trivia").IssueToken("user-1", "Ann", time.Hour)
	if _, err := svc.ValidateToken(other); err == nil {
		t.Fatal("token signed with another secret accepted")
	}

	wrongIssuer, _ := NewAuthService("secret", "someone-else").IssueToken("user-1", "Ann", time.Hour)
	if _, err := svc.ValidateToken(wrongIssuer); err == nil {
		t.Fatal("token from another issuer accepted")
	}

	noSubject, _ := svc.IssueToken("", "Ann", time.Hour)
	if _, err := svc.ValidateToken(noSubject); err == nil {
		t.Fatal("token without subject accepted")
	}
}

func TestNameDefaultsToSubject(t *testing.T) {
	svc := NewAuthService("secret", "")
	tok, _ := svc.IssueToken("user-2", "", time.Hour)
	claims, err := svc.ValidateToken(tok)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Name != "user-2" {
		t.Fatalf("name = %q", claims.Name)
	}
}
