package tokencrypt

import (
	"crypto/rand"
	"encoding/base64"
	"testing"
)

func randomKey(t *testing.T) string {
	t.Helper()
	raw := make([]byte, keySize)
	if _, err := rand.Read(raw); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func TestSealOpenRoundTrip(t *testing.T) {
	box, err := New(randomKey(t))
	if err != nil {
		t.Fatal(err)
	}

	sealed, err := box.Seal("top-secret-webhook-key")
	if err != nil {
		t.Fatal(err)
	}
	if sealed == "top-secret-webhook-key" {
		t.Error("a configured box must not pass through plaintext")
	}

	opened, err := box.Open(sealed)
	if err != nil {
		t.Fatal(err)
	}
	if opened != "top-secret-webhook-key" {
		t.Errorf("Open() = %q, want original plaintext", opened)
	}
}

func TestUnconfiguredBoxIsPassthrough(t *testing.T) {
	box, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := box.Seal("plain")
	if err != nil {
		t.Fatal(err)
	}
	if sealed != "plain" {
		t.Errorf("unconfigured box must pass through plaintext, got %q", sealed)
	}
}

func TestOpenRejectsTamperedValue(t *testing.T) {
	box, err := New(randomKey(t))
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := box.Seal("value")
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := base64.StdEncoding.DecodeString(sealed)
	raw[len(raw)-1] ^= 0xFF
	tampered := base64.StdEncoding.EncodeToString(raw)

	if _, err := box.Open(tampered); err == nil {
		t.Error("Open must reject a tampered ciphertext")
	}
}

func TestNewRejectsWrongKeyLength(t *testing.T) {
	if _, err := New(base64.StdEncoding.EncodeToString([]byte("too-short"))); err == nil {
		t.Error("New must reject a key that isn't 32 bytes")
	}
}
