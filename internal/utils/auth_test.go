package utils

import (
	"testing"
	"time"

	"github.com/xelth-com/invtrack/internal/authctx"
	"github.com/xelth-com/invtrack/internal/models"
)

func TestPasswordHashing(t *testing.T) {
	password := "secret123"

	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	if hash == password {
		t.Error("Hash should not match plaintext password")
	}

	if !CheckPasswordHash(password, hash) {
		t.Error("Password should match hash")
	}
	if CheckPasswordHash("wrongpassword", hash) {
		t.Error("Wrong password should not match hash")
	}
}

func TestJWT(t *testing.T) {
	secret := "test-secret-key-12345"
	dept := uint(4)
	user := authctx.User{
		ID:           "uuid-1234",
		Username:     "anna",
		Role:         models.RoleAdmin,
		DepartmentID: &dept,
	}

	token, exp, err := GenerateToken(user, secret, 15*time.Minute)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	if token == "" {
		t.Fatal("Token should not be empty")
	}
	if d := time.Until(exp); d < 14*time.Minute || d > 15*time.Minute {
		t.Errorf("expiry %v not within the idle window", d)
	}

	claims, err := ValidateToken(token, secret)
	if err != nil {
		t.Fatalf("Failed to validate token: %v", err)
	}
	got := claims.User()
	if got.ID != user.ID || got.Role != models.RoleAdmin {
		t.Errorf("claims user = %+v", got)
	}
	if got.DepartmentID == nil || *got.DepartmentID != 4 {
		t.Errorf("department lost: %v", got.DepartmentID)
	}

	if _, err := ValidateToken(token, "wrong-key"); err == nil {
		t.Error("Validation should fail with wrong key")
	}

	expired, _, err := GenerateToken(user, secret, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ValidateToken(expired, secret); err == nil {
		t.Error("expired token accepted")
	}
}

func TestDeduplicator(t *testing.T) {
	d := NewDeduplicator(time.Minute)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	if d.IsDuplicate("") {
		t.Error("empty key must never be a duplicate")
	}
	if d.IsDuplicate("u1:abc") {
		t.Error("first sighting reported as duplicate")
	}
	if !d.IsDuplicate("u1:abc") {
		t.Error("second sighting within window not detected")
	}

	now = now.Add(2 * time.Minute)
	if d.IsDuplicate("u1:abc") {
		t.Error("key still blocked after window")
	}

	d.Forget("u1:abc")
	if d.IsDuplicate("u1:abc") {
		t.Error("forgotten key still blocked")
	}
}

func TestUsernameKey(t *testing.T) {
	if UsernameKey("  Anna ") != UsernameKey("ANNA") {
		t.Error("case and space variants must share a key")
	}
	if UsernameKey("Ärger") != UsernameKey("ÄRGER") {
		t.Error("non-ASCII letters must fold too")
	}
}

func TestNormalizeArticle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"ab-123", "AB-123"},
		{" AB 123 ", "AB123"},
		{"ＡＢ１２３", "AB123"}, // full-width forms
	}
	for _, tt := range tests {
		if got := NormalizeArticle(tt.in); got != tt.want {
			t.Errorf("NormalizeArticle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
