package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestJWT_GenerateAndValidate(t *testing.T) {
	j := NewJWT("my-secret-key")

	token, err := j.Generate("Alice@Example.com")
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	if token == "" {
		t.Fatal("Generate() returned empty token")
	}

	claims, err := j.Validate(token)
	if err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	if claims.Email != "alice@example.com" {
		t.Errorf("Validate() got Email %s, want alice@example.com", claims.Email)
	}

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + ".invalid-signature"
	if _, err := j.Validate(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Validate() tampered signature error = %v, want ErrInvalidToken", err)
	}

	if _, err := j.Validate("invalid.token"); err == nil {
		t.Error("Validate() accepted invalid format")
	}
}

func TestJWT_WrongSecret(t *testing.T) {
	token, err := NewJWT("secret-a").Generate("bob@example.com")
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}

	if _, err := NewJWT("secret-b").Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Validate() error = %v, want ErrInvalidToken", err)
	}
}

func TestJWT_ExpiredToken(t *testing.T) {
	j := NewJWT("my-secret-key")
	j.now = func() time.Time { return time.Now().Add(-25 * time.Hour) }

	token, err := j.Generate("expired@example.com")
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}

	j.now = time.Now
	if _, err := j.Validate(token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Validate() error = %v, want ErrTokenExpired", err)
	}
}
