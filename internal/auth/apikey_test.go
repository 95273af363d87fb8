package auth

import (
	"context"
	"testing"
)

func TestStaticValidator_Argon2idKey(t *testing.T) {
	hash, err := HashAPIKey("s3cret")
	if err != nil {
		t.Fatalf("HashAPIKey() error = %v", err)
	}
	v := NewStaticValidator([]*Principal{{KeyHash: hash, Subject: "svc-a", Scopes: []string{"tools:execute"}}})

	result, err := v.Validate(context.Background(), "s3cret", []string{"tools:execute"})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !result.OK || result.Subject != "svc-a" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestStaticValidator_LegacySHA256Key(t *testing.T) {
	v := NewStaticValidator([]*Principal{{KeyHash: "sha256:" + hashKeySHA256("legacy-key"), Subject: "svc-b"}})

	result, err := v.Validate(context.Background(), "legacy-key", nil)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !result.OK || result.Subject != "svc-b" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestStaticValidator_UnknownKeyRejected(t *testing.T) {
	v := NewStaticValidator([]*Principal{{KeyHash: "sha256:" + hashKeySHA256("legacy-key"), Subject: "svc-b"}})

	if _, err := v.Validate(context.Background(), "wrong-key", nil); err != ErrInvalidKey {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestStaticValidator_MissingScopeFails(t *testing.T) {
	hash, _ := HashAPIKey("s3cret")
	v := NewStaticValidator([]*Principal{{KeyHash: hash, Subject: "svc-a", Scopes: []string{"tools:read"}}})

	result, err := v.Validate(context.Background(), "s3cret", []string{"tools:execute"})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if result.OK {
		t.Fatal("expected OK=false when a required scope is missing")
	}
}

func TestDetectHashType(t *testing.T) {
	cases := map[string]string{
		"$argon2id$v=19$m=47104,t=1,p=1$c2FsdA$aGFzaA": "argon2id",
		"sha256:abc123":                                "sha256",
		hashKeySHA256("anything"):                      "sha256",
		"not-a-hash":                                    "unknown",
	}
	for input, want := range cases {
		if got := detectHashType(input); got != want {
			t.Errorf("detectHashType(%q) = %q, want %q", input, got, want)
		}
	}
}
