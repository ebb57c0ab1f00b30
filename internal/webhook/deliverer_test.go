package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
)

func TestSignIsHexHMACSHA256(t *testing.T) {
	secret := "s3cr3t"
	body := []byte(`{"type":"event.created"}`)

	got := sign(secret, body)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))

	if got != want {
		t.Errorf("sign() = %q, want %q", got, want)
	}
}

func TestSignDiffersByBody(t *testing.T) {
	secret := "s3cr3t"
	if sign(secret, []byte("a")) == sign(secret, []byte("b")) {
		t.Error("different payloads must not collide")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate must not pad or alter strings under the limit, got %q", got)
	}
	if got := truncate(strings.Repeat("x", 20), 4); got != "xxxx" {
		t.Errorf("truncate must cut to exactly n bytes, got %q (len %d)", got, len(got))
	}
}
