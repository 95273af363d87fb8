package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// ErrInvalidKey is returned when a presented API key does not match any
// configured entry.
var ErrInvalidKey = errors.New("auth: invalid api key")

// errUnknownHashType is returned when a stored hash has an unrecognized format.
var errUnknownHashType = errors.New("auth: unknown api key hash type")

// argon2idParams follows OWASP's Argon2id minimums.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024, // 47 MiB (OWASP minimum: 46 MiB)
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashAPIKey returns an Argon2id hash of rawKey in PHC format, suitable for
// storing in a StaticValidator's key map.
func HashAPIKey(rawKey string) (string, error) {
	return argon2id.CreateHash(rawKey, argon2idParams)
}

// hashKeySHA256 supports pre-seeded legacy keys stored as bare hex.
func hashKeySHA256(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

func detectHashType(stored string) string {
	if strings.HasPrefix(stored, "$argon2id$") {
		return "argon2id"
	}
	if strings.HasPrefix(stored, "sha256:") {
		return "sha256"
	}
	if len(stored) == 64 && isHexString(stored) {
		return "sha256"
	}
	return "unknown"
}

func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

func verifyKey(rawKey, stored string) (bool, error) {
	switch detectHashType(stored) {
	case "argon2id":
		return safeArgon2idCompare(rawKey, stored)
	case "sha256":
		expected := strings.TrimPrefix(stored, "sha256:")
		computed := hashKeySHA256(rawKey)
		return subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) == 1, nil
	default:
		return false, errUnknownHashType
	}
}

// safeArgon2idCompare recovers from the panics argon2id.ComparePasswordAndHash
// raises on malformed PHC parameters, turning them into plain errors.
func safeArgon2idCompare(rawKey, stored string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match, err = false, fmt.Errorf("auth: invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawKey, stored)
}

// Principal is a statically configured API key holder.
type Principal struct {
	KeyHash string
	Subject string
	Scopes  []string
}

// StaticValidator validates bearer tokens against a fixed set of API keys,
// matching first by direct SHA-256 lookup then falling back to scanning for
// an Argon2id match.
type StaticValidator struct {
	byHash     map[string]*Principal
	candidates []*Principal
}

// NewStaticValidator builds a StaticValidator from a set of principals whose
// KeyHash was produced by HashAPIKey or hashKeySHA256.
func NewStaticValidator(principals []*Principal) *StaticValidator {
	v := &StaticValidator{byHash: map[string]*Principal{}}
	for _, p := range principals {
		if detectHashType(p.KeyHash) == "sha256" {
			v.byHash[strings.TrimPrefix(p.KeyHash, "sha256:")] = p
		} else {
			v.candidates = append(v.candidates, p)
		}
	}
	return v
}

func (v *StaticValidator) Validate(_ context.Context, token string, requiredScopes []string) (*Result, error) {
	if p, ok := v.byHash[hashKeySHA256(token)]; ok {
		return resultFor(p, requiredScopes), nil
	}
	for _, p := range v.candidates {
		ok, err := verifyKey(token, p.KeyHash)
		if err != nil {
			continue
		}
		if ok {
			return resultFor(p, requiredScopes), nil
		}
	}
	return nil, ErrInvalidKey
}

func resultFor(p *Principal, requiredScopes []string) *Result {
	r := &Result{OK: true, Subject: p.Subject, Scopes: p.Scopes}
	r.checkScopes(requiredScopes)
	return r
}
