package util

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// RandomBytes generates n cryptographically secure random bytes using crypto/rand.
// This is suitable for generating salts, ephemeral keys, and other cryptographic material.
//
// Returns an error if n <= 0 or if the system's cryptographic random number generator fails.
func RandomBytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, errors.New("invalid length")
	}
	data := make([]byte, n)
	if _, err := rand.Read(data); err != nil {
		return nil, err
	}
	return data, nil
}

// recoveryCharset excludes ambiguous characters (0/O, 1/I/l) so that a code
// read off a screen can be typed back without confusion.
const recoveryCharset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// RecoveryCodeGroups and RecoveryCodeGroupLen define the XXXX-XXXX-XXXX shape
// of generated recovery codes.
const (
	RecoveryCodeGroups   = 3
	RecoveryCodeGroupLen = 4
)

// GenRecoveryCode generates a recovery code of the form "XXXX-XXXX-XXXX" using
// crypto/rand. Only the SHA-256 of the code is ever persisted; the plaintext
// code is shown to the user once.
//
// Returns an error if crypto/rand fails (extremely rare, indicates system issue).
func GenRecoveryCode() (string, error) {
	groups := make([]string, RecoveryCodeGroups)
	for g := range groups {
		chars := make([]byte, RecoveryCodeGroupLen)
		for i := range chars {
			j, err := rand.Int(rand.Reader, big.NewInt(int64(len(recoveryCharset))))
			if err != nil {
				return "", fmt.Errorf("fatal crypto/rand error: %w", err)
			}
			chars[i] = recoveryCharset[j.Int64()]
		}
		groups[g] = string(chars)
	}
	return strings.Join(groups, "-"), nil
}
