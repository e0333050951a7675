package auth

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestKeyRegistryVerify(t *testing.T) {
	r := NewKeyRegistry(bcrypt.MinCost)
	if r.Enabled() {
		t.Fatal("empty registry reports enabled")
	}
	if err := r.Add("ci", "secret-one"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte("secret-two"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.AddHash("ops", string(hash)); err != nil {
		t.Fatalf("AddHash() error = %v", err)
	}

	tests := []struct {
		key      string
		wantName string
		wantErr  error
	}{
		{"secret-one", "ci", nil},
		{"secret-one", "ci", nil}, // served from the digest cache
		{"secret-two", "ops", nil},
		{"wrong", "", ErrInvalidKey},
		{"", "", ErrMissingKey},
	}
	for _, tt := range tests {
		name, err := r.Verify(tt.key)
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("Verify(%q) error = %v, want %v", tt.key, err, tt.wantErr)
		}
		if name != tt.wantName {
			t.Errorf("Verify(%q) = %q, want %q", tt.key, name, tt.wantName)
		}
	}
}

func TestAddRejectsBadInput(t *testing.T) {
	r := NewKeyRegistry(bcrypt.MinCost)
	if err := r.Add("blank", "   "); !errors.Is(err, ErrMissingKey) {
		t.Errorf("Add(blank) error = %v", err)
	}
	if err := r.AddHash("bad", "not-a-hash"); err == nil {
		t.Error("AddHash() accepted an invalid hash")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr error
	}{
		{"Bearer abc", "abc", nil},
		{"bearer abc ", "abc", nil},
		{"", "", ErrMissingKey},
		{"Bearer ", "", ErrMissingKey},
		{"Basic abc", "", ErrInvalidKey},
		{"abc", "", ErrInvalidKey},
	}
	for _, tt := range tests {
		got, err := BearerToken(tt.header)
		if got != tt.want || !errors.Is(err, tt.wantErr) {
			t.Errorf("BearerToken(%q) = %q, %v; want %q, %v", tt.header, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestGenerateAndHashAPIKey(t *testing.T) {
	key, err := GenerateAPIKey()
	if err != nil {
		t.Fatal(err)
	}
	if len(key) < 40 || strings.ContainsAny(key, "+/=") {
		t.Errorf("unexpected key format %q", key)
	}
	hash, err := HashAPIKey(key)
	if err != nil {
		t.Fatal(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) != nil {
		t.Error("hash does not match key")
	}
}

func TestSecureCompare(t *testing.T) {
	if !SecureCompare("same", "same") || SecureCompare("same", "diff") {
		t.Error("SecureCompare mismatch")
	}
}
