package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters, matching the reference implementation's tuning:
// 64 MiB memory, 3 iterations, 4-way parallelism, 32-byte output.
const (
	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
	argon2SaltLen = 16
)

// refreshTokenBytes and agentTokenBytes are the random-entropy lengths (before
// base64 encoding) of opaque bearer tokens handed to clients.
const (
	refreshTokenBytes = 48
	agentTokenBytes   = 32

	// agentTokenPrefix marks agent bearer tokens so they're recognizable in
	// logs without decoding — never used for any security decision.
	agentTokenPrefix = "agt_"
)

// dummyHash is a valid argon2id hash of a fixed, unguessable password,
// computed once at package init. TimingSafeDummyVerify hashes against this when
// no matching operator exists, so a lookup miss costs the same wall-clock
// time as a real password comparison and can't be distinguished by timing.
var dummyHash = mustHashPassword("fleet-timing-dummy-do-not-use-as-a-real-password")

func mustHashPassword(password string) string {
	hash, err := HashPassword(password)
	if err != nil {
		panic(fmt.Sprintf("auth: failed to compute dummy hash: %v", err))
	}
	return hash
}

// HashPassword returns an encoded Argon2id hash of the given plaintext
// password in PHC-like form: argon2id$m=<kib>,t=<iter>,p=<threads>$<saltB64>$<hashB64>
func HashPassword(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generating password salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	return encodeHash(argon2Time, argon2Memory, argon2Threads, salt, hash), nil
}

// VerifyPassword checks a plaintext password against a stored encoded hash.
// Returns false (never an error) on any malformed-hash condition, since a
// hash that can't be parsed can never authenticate.
func VerifyPassword(password, encoded string) bool {
	params, salt, expected, ok := decodeHash(encoded)
	if !ok {
		return false
	}

	actual := argon2.IDKey([]byte(password), salt, params.time, params.memory, params.threads, uint32(len(expected)))

	return subtle.ConstantTimeCompare(actual, expected) == 1
}

// TimingSafeDummyVerify runs a full Argon2id computation against dummyHash
// and always returns false. Call this in the username-not-found branch of a
// login flow so the error path takes the same time as a real verification.
func TimingSafeDummyVerify(password string) bool {
	VerifyPassword(password, dummyHash)
	return false
}

// NeedsRehash reports whether an encoded hash was produced with parameters
// that differ from the current argon2Time/argon2Memory/argon2Threads constants.
// Session authority calls this after a successful login and re-hashes
// in place if true, so tuning the constants upgrades passwords lazily.
func NeedsRehash(encoded string) bool {
	params, _, _, ok := decodeHash(encoded)
	if !ok {
		return true
	}
	return params.time != argon2Time || params.memory != argon2Memory || params.threads != argon2Threads
}

type hashParams struct {
	time    uint32
	memory  uint32
	threads uint8
}

func encodeHash(time, memory uint32, threads uint8, salt, hash []byte) string {
	return fmt.Sprintf("argon2id$m=%d,t=%d,p=%d$%s$%s",
		memory, time, threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash))
}

func decodeHash(encoded string) (hashParams, []byte, []byte, bool) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[0] != "argon2id" {
		return hashParams{}, nil, nil, false
	}

	var params hashParams
	var threads uint32
	if _, err := fmt.Sscanf(parts[1], "m=%d,t=%d,p=%d", &params.memory, &params.time, &threads); err != nil {
		return hashParams{}, nil, nil, false
	}
	params.threads = uint8(threads)

	salt, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return hashParams{}, nil, nil, false
	}

	hash, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return hashParams{}, nil, nil, false
	}

	return params, salt, hash, true
}

// GenerateRefreshToken returns a random URL-safe opaque token and the
// SHA-256 hex digest that should be persisted in place of it.
func GenerateRefreshToken() (raw, hash string, err error) {
	raw, err = randomToken(refreshTokenBytes)
	if err != nil {
		return "", "", fmt.Errorf("auth: generating refresh token: %w", err)
	}
	return raw, digestToken(raw), nil
}

// GenerateAgentToken returns a random prefixed opaque token and the SHA-256
// hex digest that should be persisted in place of it. The prefix makes agent
// tokens visually distinct from operator refresh tokens in logs.
func GenerateAgentToken() (raw, hash string, err error) {
	body, err := randomToken(agentTokenBytes)
	if err != nil {
		return "", "", fmt.Errorf("auth: generating agent token: %w", err)
	}
	raw = agentTokenPrefix + body
	return raw, digestToken(raw), nil
}

// DigestToken returns the SHA-256 hex digest of a raw bearer token, for
// looking up a previously issued token by its stored digest.
func DigestToken(raw string) string {
	return digestToken(raw)
}

func digestToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
