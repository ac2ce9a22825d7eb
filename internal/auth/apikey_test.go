package auth

import (
	"strings"
	"testing"
)

func TestGenerateAPIKey(t *testing.T) {
	key, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey returned error: %v", err)
	}
	if !strings.HasPrefix(key, APIKeyPrefix+"_") {
		t.Errorf("key %q missing %q prefix", key, APIKeyPrefix)
	}

	other, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey returned error: %v", err)
	}
	if key == other {
		t.Error("two generated keys are identical")
	}
}

func TestHashAPIKey_Deterministic(t *testing.T) {
	h1 := HashAPIKey("src_abc")
	h2 := HashAPIKey("src_abc")
	if h1 != h2 {
		t.Errorf("hash not deterministic: %q != %q", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(h1))
	}
}

func TestVerifyAPIKey(t *testing.T) {
	key, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey returned error: %v", err)
	}
	hash := HashAPIKey(key)

	if !VerifyAPIKey(key, hash) {
		t.Error("valid key did not verify")
	}
	if VerifyAPIKey("src_wrong", hash) {
		t.Error("wrong key verified")
	}
}

func TestVerifyAPIKey_NoStoredHash(t *testing.T) {
	// A source without a provisioned credential must never verify. This is
	// a false result, not an error.
	if VerifyAPIKey("src_anything", "") {
		t.Error("key verified against empty stored hash")
	}
	// Padding alone is still an absent credential.
	if VerifyAPIKey("src_anything", strings.Repeat(" ", 128)) {
		t.Error("key verified against blank-padded empty hash")
	}
}

func TestVerifyAPIKey_PaddedStoredHash(t *testing.T) {
	// Hashes read back from a fixed-width column carry trailing blanks up
	// to the column width. The padded form must verify like the bare one.
	key, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey returned error: %v", err)
	}
	hash := HashAPIKey(key)
	padded := hash + strings.Repeat(" ", 128-len(hash))

	if !VerifyAPIKey(key, padded) {
		t.Error("valid key did not verify against padded stored hash")
	}
	if VerifyAPIKey("src_wrong", padded) {
		t.Error("wrong key verified against padded stored hash")
	}
}
