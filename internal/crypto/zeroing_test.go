package crypto

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

func TestWipe(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	Wipe(data)

	if !bytes.Equal(data, make([]byte, len(data))) {
		t.Errorf("Wipe left data behind: %v", data)
	}
}

func TestWipeMultipleAndEmpty(t *testing.T) {
	a := []byte{1, 2, 3}
	b := []byte{4, 5, 6, 7}

	// nil and empty slices must be accepted without panicking.
	Wipe(a, nil, []byte{}, b)

	if !bytes.Equal(a, make([]byte, 3)) || !bytes.Equal(b, make([]byte, 4)) {
		t.Error("Wipe did not zero all slices")
	}
	Wipe() // no arguments is fine too
}

func TestPrivateKeyClose(t *testing.T) {
	k := NewPrivateKey("AGE-SECRET-KEY-1TESTTESTTEST")
	if k.Expose() != "AGE-SECRET-KEY-1TESTTESTTEST" {
		t.Error("Expose before Close should return the secret")
	}
	if k.IsClosed() {
		t.Error("fresh key must not report closed")
	}

	k.Close()
	if k.Expose() != "" {
		t.Error("Expose after Close should return empty string")
	}
	if !k.IsClosed() {
		t.Error("IsClosed should be true after Close")
	}

	// Idempotent
	k.Close()
}

func TestPrivateKeyRedactedInDebugOutput(t *testing.T) {
	k := NewPrivateKey("AGE-SECRET-KEY-1SUPERSECRET")
	defer k.Close()

	for _, formatted := range []string{
		fmt.Sprintf("%v", k),
		fmt.Sprintf("%s", k),
		fmt.Sprintf("%#v", k),
	} {
		if strings.Contains(formatted, "SUPERSECRET") {
			t.Errorf("debug output leaks secret: %q", formatted)
		}
		if !strings.Contains(formatted, "redacted") {
			t.Errorf("debug output should say redacted: %q", formatted)
		}
	}
}

func TestNilPrivateKey(t *testing.T) {
	var k *PrivateKey
	if k.Expose() != "" {
		t.Error("nil key Expose should return empty")
	}
	if !k.IsClosed() {
		t.Error("nil key should report closed")
	}
	k.Close() // must not panic
}
