package util

import (
	"strings"
	"testing"
)

func TestRandomBytes(t *testing.T) {
	data, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes(32) error: %v", err)
	}
	if len(data) != 32 {
		t.Errorf("RandomBytes(32) length = %d; want 32", len(data))
	}

	// Two draws must differ (probability of collision is negligible)
	data2, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes(32) error: %v", err)
	}
	if string(data) == string(data2) {
		t.Error("two RandomBytes draws returned identical data")
	}
}

func TestRandomBytesInvalidLength(t *testing.T) {
	if _, err := RandomBytes(0); err == nil {
		t.Error("RandomBytes(0) should fail")
	}
	if _, err := RandomBytes(-1); err == nil {
		t.Error("RandomBytes(-1) should fail")
	}
}

func TestGenRecoveryCode(t *testing.T) {
	code, err := GenRecoveryCode()
	if err != nil {
		t.Fatalf("GenRecoveryCode error: %v", err)
	}

	groups := strings.Split(code, "-")
	if len(groups) != RecoveryCodeGroups {
		t.Fatalf("recovery code %q has %d groups; want %d", code, len(groups), RecoveryCodeGroups)
	}
	for _, g := range groups {
		if len(g) != RecoveryCodeGroupLen {
			t.Errorf("group %q has length %d; want %d", g, len(g), RecoveryCodeGroupLen)
		}
		for _, c := range g {
			if !strings.ContainsRune(recoveryCharset, c) {
				t.Errorf("group %q contains %q outside the recovery charset", g, c)
			}
		}
	}

	// Ambiguous characters must never appear
	for _, c := range "0O1Il" {
		if strings.ContainsRune(code, c) {
			t.Errorf("recovery code %q contains ambiguous character %q", code, c)
		}
	}
}

func TestGenRecoveryCodeUnique(t *testing.T) {
	seen := make(map[string]bool)
	for range 50 {
		code, err := GenRecoveryCode()
		if err != nil {
			t.Fatalf("GenRecoveryCode error: %v", err)
		}
		if seen[code] {
			t.Fatalf("duplicate recovery code generated: %s", code)
		}
		seen[code] = true
	}
}
