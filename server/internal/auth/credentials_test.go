package auth

import "testing"

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	if !VerifyPassword("correct horse battery staple", hash) {
		t.Fatalf("expected correct password to verify")
	}

	if VerifyPassword("wrong password", hash) {
		t.Fatalf("expected wrong password to fail verification")
	}
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	cases := []string{
		"",
		"not-a-hash",
		"argon2id$garbage$salt$hash",
		"bcrypt$10$abc",
	}
	for _, c := range cases {
		if VerifyPassword("anything", c) {
			t.Fatalf("expected malformed hash %q to fail verification", c)
		}
	}
}

func TestTimingSafeDummyVerifyAlwaysFalse(t *testing.T) {
	if TimingSafeDummyVerify("irrelevant") {
		t.Fatalf("dummy verify must always report false")
	}
}

func TestNeedsRehashDetectsWeakerParams(t *testing.T) {
	hash, err := HashPassword("some password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if NeedsRehash(hash) {
		t.Fatalf("freshly hashed password should not need rehash")
	}

	weak := "argon2id$m=1024,t=1,p=1$c2FsdHNhbHRzYWx0$aGFzaGhhc2hoYXNoaGFzaA"
	if !NeedsRehash(weak) {
		t.Fatalf("hash with weaker params should need rehash")
	}
}

func TestGenerateAgentTokenHasPrefixAndStableDigest(t *testing.T) {
	raw, hash, err := GenerateAgentToken()
	if err != nil {
		t.Fatalf("GenerateAgentToken: %v", err)
	}
	if len(raw) < len(agentTokenPrefix) || raw[:len(agentTokenPrefix)] != agentTokenPrefix {
		t.Fatalf("expected agent token to start with %q, got %q", agentTokenPrefix, raw)
	}
	if DigestToken(raw) != hash {
		t.Fatalf("DigestToken(raw) must equal the hash returned alongside it")
	}
}

func TestGenerateRefreshTokenUnique(t *testing.T) {
	raw1, _, err := GenerateRefreshToken()
	if err != nil {
		t.Fatalf("GenerateRefreshToken: %v", err)
	}
	raw2, _, err := GenerateRefreshToken()
	if err != nil {
		t.Fatalf("GenerateRefreshToken: %v", err)
	}
	if raw1 == raw2 {
		t.Fatalf("expected two independently generated tokens to differ")
	}
}
