package archive

import (
	"io"

	"golang.org/x/crypto/chacha20"

	"github.com/agevault/agevault/internal/crypto"
	"github.com/agevault/agevault/internal/errors"
	"github.com/agevault/agevault/internal/util"
)

// StagingKey is the ephemeral secret protecting a staged archive while it
// sits on disk waiting for envelope encryption. The key exists only in this
// process: if the staging file is recovered later it is unreadable noise.
//
// Protect and Unprotect each derive an independent ChaCha20 keystream from
// the same material, so the staged bytes can be read back any number of
// times. Destroy wipes the material; both operations fail afterwards.
type StagingKey struct {
	// material is key followed by nonce, wiped as one buffer on Destroy.
	material []byte
}

// NewStagingKey draws fresh staging key material from the system CSPRNG.
func NewStagingKey() (*StagingKey, error) {
	material, err := util.RandomBytes(chacha20.KeySize + chacha20.NonceSize)
	if err != nil {
		return nil, errors.NewCryptoError("staging-key", err)
	}
	return &StagingKey{material: material}, nil
}

// stream derives a keystream positioned at the start of the staged data.
func (k *StagingKey) stream() (*chacha20.Cipher, error) {
	if k == nil || k.material == nil {
		return nil, errors.Wrap(errors.ErrInvalidKey, "staging key destroyed")
	}
	c, err := chacha20.NewUnauthenticatedCipher(
		k.material[:chacha20.KeySize], k.material[chacha20.KeySize:])
	if err != nil {
		return nil, errors.NewCryptoError("staging-key", err)
	}
	return c, nil
}

// Protect returns a writer that XORs everything written through it into w.
// A nil key passes w through untouched (staging protection disabled).
func (k *StagingKey) Protect(w io.Writer) (io.Writer, error) {
	if k == nil {
		return w, nil
	}
	c, err := k.stream()
	if err != nil {
		return nil, err
	}
	return &xorWriter{next: w, stream: c}, nil
}

// Unprotect returns a reader yielding the original bytes of a protected
// stream. A nil key passes r through untouched. Each call starts a fresh
// keystream, so a staged archive can be re-read from the beginning.
func (k *StagingKey) Unprotect(r io.Reader) (io.Reader, error) {
	if k == nil {
		return r, nil
	}
	c, err := k.stream()
	if err != nil {
		return nil, err
	}
	return &xorReader{next: r, stream: c}, nil
}

// Destroy wipes the key material. Idempotent; nil-safe.
func (k *StagingKey) Destroy() {
	if k == nil {
		return
	}
	crypto.Wipe(k.material)
	k.material = nil
}

type xorWriter struct {
	next    io.Writer
	stream  *chacha20.Cipher
	scratch []byte
}

func (x *xorWriter) Write(p []byte) (int, error) {
	if cap(x.scratch) < len(p) {
		x.scratch = make([]byte, len(p))
	}
	out := x.scratch[:len(p)]
	x.stream.XORKeyStream(out, p)
	return x.next.Write(out)
}

type xorReader struct {
	next   io.Reader
	stream *chacha20.Cipher
}

func (x *xorReader) Read(p []byte) (int, error) {
	n, err := x.next.Read(p)
	if n > 0 {
		x.stream.XORKeyStream(p[:n], p[:n])
	}
	return n, err
}
