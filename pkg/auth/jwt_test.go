package auth

import (
	"testing"
	"time"
)

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"valid bearer", "Bearer abc123", "abc123", false},
		{"lowercase bearer", "bearer abc123", "abc123", false},
		{"empty header", "", "", true},
		{"missing scheme", "abc123", "", true},
		{"wrong scheme", "Basic abc123", "", true},
		{"empty token", "Bearer ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractToken(tt.header)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Got err %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Got token %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewJWTAuth_RequiresSecret(t *testing.T) {
	if _, err := NewJWTAuth("", 0); err == nil {
		t.Error("NewJWTAuth with empty secret should fail")
	}
}

func TestVerifyAccessToken_RoundTrip(t *testing.T) {
	jwtAuth, err := NewJWTAuth("test-secret", 0)
	if err != nil {
		t.Fatalf("NewJWTAuth failed: %v", err)
	}

	token, err := jwtAuth.GenerateAccessToken("u1", "ada@example.com", "user")
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	user, err := jwtAuth.VerifyAccessToken(token)
	if err != nil {
		t.Fatalf("VerifyAccessToken failed: %v", err)
	}
	if user.ID != "u1" || user.Email != "ada@example.com" || user.Role != "user" {
		t.Errorf("Got user %+v, want u1/ada@example.com/user", user)
	}
}

func TestVerifyAccessToken_WrongSecret(t *testing.T) {
	issuer, _ := NewJWTAuth("secret-a", 0)
	verifier, _ := NewJWTAuth("secret-b", 0)

	token, err := issuer.GenerateAccessToken("u1", "a@b.c", "user")
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}
	if _, err := verifier.VerifyAccessToken(token); err == nil {
		t.Error("Token signed with another secret verified")
	}
}

func TestVerifyAccessToken_Expired(t *testing.T) {
	jwtAuth, _ := NewJWTAuth("test-secret", time.Nanosecond)

	token, err := jwtAuth.GenerateAccessToken("u1", "a@b.c", "user")
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	if _, err := jwtAuth.VerifyAccessToken(token); err == nil {
		t.Error("Expired token verified")
	}
}

func TestVerifyAccessToken_Garbage(t *testing.T) {
	jwtAuth, _ := NewJWTAuth("test-secret", 0)
	if _, err := jwtAuth.VerifyAccessToken("not-a-token"); err == nil {
		t.Error("Garbage token verified")
	}
}
