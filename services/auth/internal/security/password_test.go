package security

import (
	"errors"
	"strings"
	"testing"
)

var testParams = Argon2Params{Memory: 64 * 1024, Iterations: 2, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func TestPasswordHashVerify(t *testing.T) {
	hash, err := HashPassword("s3cret", testParams)
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=2,p=1$") {
		t.Fatalf("unexpected encoding %q", hash)
	}

	ok, err := VerifyPassword("s3cret", hash)
	if err != nil {
		t.Fatalf("verify error: %v", err)
	}
	if !ok {
		t.Fatalf("expected password to verify")
	}

	ok, err = VerifyPassword("wrong", hash)
	if err != nil {
		t.Fatalf("verify error: %v", err)
	}
	if ok {
		t.Fatalf("expected password to fail")
	}
}

func TestHashesAreSalted(t *testing.T) {
	a, _ := HashPassword("same", testParams)
	b, _ := HashPassword("same", testParams)
	if a == b {
		t.Fatalf("expected distinct salts")
	}
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	for _, encoded := range []string{"", "plain", "$bcrypt$v=19$m=1,t=1,p=1$a$b", "$argon2id$v=18$m=1,t=1,p=1$YQ$Yg"} {
		if _, err := VerifyPassword("x", encoded); !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("expected ErrInvalidHash for %q, got %v", encoded, err)
		}
	}
}

func TestHasherDecoyNeverMatches(t *testing.T) {
	h := NewHasher(testParams)
	h.BurnDecoy("decoy-password-never-matches")
	if h.decoy == "" {
		t.Fatalf("expected decoy hash to be initialised")
	}
}

func TestHasherDecoyReadyBeforeFirstUse(t *testing.T) {
	h := NewHasher(testParams)
	if h.decoy == "" {
		t.Fatalf("expected decoy hash to exist right after construction")
	}
	before := h.decoy
	h.BurnDecoy("anything")
	if h.decoy != before {
		t.Fatalf("decoy changed on use")
	}
	if ok, err := h.Verify("decoy-password-never-matches", h.decoy); err != nil || !ok {
		t.Fatalf("decoy should be a well-formed hash, ok=%v err=%v", ok, err)
	}
}

func TestArgon2ParamsValidate(t *testing.T) {
	if err := DefaultArgon2Params().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if err := (Argon2Params{Memory: 1, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}).Validate(); err == nil {
		t.Fatalf("expected memory lower bound to fail")
	}
}

func TestValidatePasswordStrength(t *testing.T) {
	if problems := ValidatePasswordStrength("Sup3r$ecret"); len(problems) != 0 {
		t.Fatalf("expected strong password, got %v", problems)
	}
	if problems := ValidatePasswordStrength("short"); len(problems) != 4 {
		t.Fatalf("expected 4 problems (length, upper, digit, special), got %v", problems)
	}
	if problems := ValidatePasswordStrength("alllowercase1!"); len(problems) != 1 {
		t.Fatalf("expected missing uppercase only, got %v", problems)
	}
}
