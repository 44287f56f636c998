package auth

import (
	"testing"
	"time"
)

func TestIssueAndValidateToken(t *testing.T) {
	s := NewService("test-secret-at-least-32-bytes-long!!", time.Hour)

	token, err := s.IssueToken("operator-1", "admin")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	claims, err := s.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Subject != "operator-1" || claims.Role != "admin" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	a := NewService("secret-a-at-least-32-bytes-long!!!!", time.Hour)
	b := NewService("secret-b-at-least-32-bytes-long!!!!", time.Hour)

	token, err := a.IssueToken("operator-1", "admin")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	if _, err := b.ValidateToken(token); err != ErrUnauthorized {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	s := NewService("test-secret-at-least-32-bytes-long!!", -time.Minute)

	token, err := s.IssueToken("operator-1", "admin")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	if _, err := s.ValidateToken(token); err != ErrUnauthorized {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}
