package crypto

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestSecretHashing(t *testing.T) {
	hash, err := HashSecret("secret", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}

	if !VerifySecret(hash, "secret") {
		t.Fatal("expected secret verification to succeed")
	}

	if VerifySecret(hash, "incorrect") {
		t.Fatal("expected secret verification to fail")
	}

	if VerifySecret("", "secret") || VerifySecret(hash, "") {
		t.Fatal("expected empty inputs to fail verification")
	}
}

func TestHashSecretSaltsEachCall(t *testing.T) {
	first, err := HashSecret("same", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	second, err := HashSecret("same", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct verifiers for the same secret")
	}
}

func TestGenerateToken(t *testing.T) {
	token, err := GenerateToken(32)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	if len(token) == 0 {
		t.Fatal("expected token to be non-empty")
	}

	if _, err := GenerateToken(0); err != ErrInvalidLength {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}

func TestGenerateNumericCode(t *testing.T) {
	code, err := GenerateNumericCode(6)
	if err != nil {
		t.Fatalf("code error: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("expected 6 digits, got %q", code)
	}
	if strings.Trim(code, "0123456789") != "" {
		t.Fatalf("expected only digits, got %q", code)
	}
}

func TestDigest(t *testing.T) {
	if Digest("a", "b") != Digest("a", "b") {
		t.Fatal("expected digest to be deterministic")
	}
	if Digest("a", "b") == Digest("ab") {
		t.Fatal("expected separator to distinguish parts")
	}
	if !EqualDigest(Digest("x"), Digest("x")) || EqualDigest(Digest("x"), Digest("y")) {
		t.Fatal("unexpected digest comparison result")
	}
}
