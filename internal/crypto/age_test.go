package crypto

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/agevault/agevault/internal/errors"
	"github.com/agevault/agevault/internal/util"
)

func TestGenerateKeypair(t *testing.T) {
	pub, priv, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer priv.Close()

	if !strings.HasPrefix(pub, "age1") {
		t.Errorf("public key %q does not look like an age recipient", pub)
	}
	if !strings.HasPrefix(priv.Expose(), SecretKeyPrefix) {
		t.Error("private key missing age secret-key prefix")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	pub, priv, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer priv.Close()

	// Boundary sizes around the streaming buffer, plus empty and tiny inputs.
	sizes := []int{0, 1, util.IOBufferSize - 1, util.IOBufferSize, util.IOBufferSize + 1, util.MiB}
	for _, size := range sizes {
		t.Run(fmt.Sprintf("size_%d", size), func(t *testing.T) {
			data := make([]byte, size)
			for i := range data {
				data[i] = byte(i % 251)
			}

			ciphertext, err := EncryptBytes(data, []string{pub})
			if err != nil {
				t.Fatalf("EncryptBytes: %v", err)
			}

			plain, err := DecryptBytes(ciphertext, priv)
			if err != nil {
				t.Fatalf("DecryptBytes: %v", err)
			}
			if !bytes.Equal(plain, data) {
				t.Errorf("round-trip mismatch at size %d", size)
			}
		})
	}
}

func TestMultiRecipientAnyKeyDecrypts(t *testing.T) {
	const n = 3
	pubs := make([]string, n)
	privs := make([]*PrivateKey, n)
	for i := range n {
		pub, priv, err := GenerateKeypair()
		if err != nil {
			t.Fatalf("GenerateKeypair: %v", err)
		}
		defer priv.Close()
		pubs[i] = pub
		privs[i] = priv
	}

	data := []byte("shared between recipients")
	ciphertext, err := EncryptBytes(data, pubs)
	if err != nil {
		t.Fatalf("EncryptBytes: %v", err)
	}

	for i, priv := range privs {
		plain, err := DecryptBytes(ciphertext, priv)
		if err != nil {
			t.Fatalf("recipient %d failed to decrypt: %v", i, err)
		}
		if !bytes.Equal(plain, data) {
			t.Errorf("recipient %d got wrong plaintext", i)
		}
	}
}

func TestWrongKeyRejected(t *testing.T) {
	pubA, privA, _ := GenerateKeypair()
	defer privA.Close()
	_, privB, _ := GenerateKeypair()
	defer privB.Close()

	ciphertext, err := EncryptBytes([]byte("for A only"), []string{pubA})
	if err != nil {
		t.Fatalf("EncryptBytes: %v", err)
	}

	if _, err := DecryptBytes(ciphertext, privB); !errors.Is(err, errors.ErrDecryptionFailed) {
		t.Errorf("decrypt with wrong key = %v; want ErrDecryptionFailed", err)
	}
}

func TestInvalidRecipientFailsBeforeIO(t *testing.T) {
	bad := [][]string{
		{"not-a-recipient"},
		{"age1valid-looking-but-not"},
		{},
		nil,
	}
	for _, recipients := range bad {
		if _, err := EncryptBytes([]byte("x"), recipients); !errors.Is(err, errors.ErrInvalidRecipient) {
			t.Errorf("EncryptBytes(recipients=%v) = %v; want ErrInvalidRecipient", recipients, err)
		}
	}
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	_, priv, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer priv.Close()

	const passphrase = "Correct-Horse-9!"
	wrapped, err := WrapPrivateKey(priv, passphrase)
	if err != nil {
		t.Fatalf("WrapPrivateKey: %v", err)
	}

	// The wrapped form must not contain the plaintext secret.
	if bytes.Contains(wrapped, []byte(priv.Expose())) {
		t.Error("wrapped key contains plaintext secret")
	}

	unwrapped, err := UnwrapPrivateKey(wrapped, passphrase)
	if err != nil {
		t.Fatalf("UnwrapPrivateKey: %v", err)
	}
	defer unwrapped.Close()

	if unwrapped.Expose() != priv.Expose() {
		t.Error("unwrap did not return the original secret")
	}
}

func TestUnwrapWrongPassphrase(t *testing.T) {
	_, priv, _ := GenerateKeypair()
	defer priv.Close()

	wrapped, err := WrapPrivateKey(priv, "Correct-Horse-9!")
	if err != nil {
		t.Fatalf("WrapPrivateKey: %v", err)
	}

	if _, err := UnwrapPrivateKey(wrapped, "Correct-Horse-8!"); !errors.IsWrongPassphrase(err) {
		t.Errorf("unwrap with wrong passphrase = %v; want ErrWrongPassphrase", err)
	}
}

func TestUnwrapCorruptedData(t *testing.T) {
	if _, err := UnwrapPrivateKey([]byte("definitely not an age file"), "whatever"); err == nil {
		t.Fatal("unwrap of garbage should fail")
	} else if errors.IsWrongPassphrase(err) {
		t.Error("garbage input must not be reported as a wrong passphrase")
	}
}

func TestUnwrapRejectsNonKeyPayload(t *testing.T) {
	// A valid scrypt-wrapped payload that is not an age secret key must be rejected.
	const passphrase = "Correct-Horse-9!"
	fake := NewPrivateKey("this is not a key")
	defer fake.Close()

	wrapped, err := WrapPrivateKey(fake, passphrase)
	if err != nil {
		t.Fatalf("WrapPrivateKey: %v", err)
	}
	if _, err := UnwrapPrivateKey(wrapped, passphrase); !errors.Is(err, errors.ErrInvalidKey) {
		t.Errorf("unwrap of non-key payload = %v; want ErrInvalidKey", err)
	}
}

func TestPublicKeyFor(t *testing.T) {
	pub, priv, _ := GenerateKeypair()
	defer priv.Close()

	derived, err := PublicKeyFor(priv)
	if err != nil {
		t.Fatalf("PublicKeyFor: %v", err)
	}
	if derived != pub {
		t.Errorf("PublicKeyFor = %s; want %s", derived, pub)
	}
}

func TestStreamingEncryptDecrypt(t *testing.T) {
	pub, priv, _ := GenerateKeypair()
	defer priv.Close()

	data := make([]byte, 3*util.IOBufferSize+17)
	for i := range data {
		data[i] = byte(i)
	}

	var ct bytes.Buffer
	w, err := Encrypt(&ct, []string{pub})
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	// Write in uneven chunks to exercise the stream
	for off := 0; off < len(data); {
		n := 1000
		if off+n > len(data) {
			n = len(data) - off
		}
		if _, err := w.Write(data[off : off+n]); err != nil {
			t.Fatalf("stream write: %v", err)
		}
		off += n
	}
	if err := w.Close(); err != nil {
		t.Fatalf("stream close: %v", err)
	}

	r, err := Decrypt(&ct, priv)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	var out bytes.Buffer
	if _, err := out.ReadFrom(r); err != nil {
		t.Fatalf("stream read: %v", err)
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Error("streaming round-trip mismatch")
	}
}
