// Package crypto provides the age-format envelope primitives for agevault.
// This file holds the memory-hygiene helpers for secret material.

package crypto

import "runtime"

// Wipe overwrites every given slice with zeros so secret material does not
// linger in memory longer than it has to. Go gives no erasure guarantee — the
// runtime may already have copied the bytes during a stack resize or GC — so
// this is hygiene that shrinks the exposure window, not a hard boundary.
//
// The KeepAlive call pins the slices as observable after the stores, which
// keeps the compiler from deciding the writes are dead and eliding them.
func Wipe(bufs ...[]byte) {
	for _, b := range bufs {
		for i := range b {
			b[i] = 0
		}
		runtime.KeepAlive(b)
	}
}

// PrivateKey owns the bytes of an age secret key and wipes them on Close.
// A nil secret slice doubles as the closed signal, so there is no window in
// which a wiped key still claims to be usable.
//
// The wrapper implements fmt.Stringer and fmt.GoStringer so a stray %v or %#v
// in a log line prints a placeholder instead of the secret.
//
// Usage:
//
//	pub, priv, err := GenerateKeypair()
//	defer priv.Close()
//	// ... priv.Expose() at the single point the age library needs it ...
type PrivateKey struct {
	secret []byte
}

// NewPrivateKey wraps a secret key string in an owning, wipeable buffer.
func NewPrivateKey(secret string) *PrivateKey {
	return &PrivateKey{secret: []byte(secret)}
}

// Expose returns the plaintext secret key, or "" once the key is closed.
func (k *PrivateKey) Expose() string {
	if k.IsClosed() {
		return ""
	}
	return string(k.secret)
}

// Close wipes the key material. Safe to call repeatedly and on nil.
func (k *PrivateKey) Close() {
	if k == nil {
		return
	}
	Wipe(k.secret)
	k.secret = nil
}

// IsClosed reports whether the key material has been wiped.
func (k *PrivateKey) IsClosed() bool {
	return k == nil || k.secret == nil
}

// String implements fmt.Stringer without revealing the key.
func (k *PrivateKey) String() string {
	return "PrivateKey(redacted)"
}

// GoString keeps %#v redacted too.
func (k *PrivateKey) GoString() string {
	return "PrivateKey(redacted)"
}
