package crypto

import (
	"bytes"
	"io"
	"strings"

	"filippo.io/age"
	"filippo.io/age/plugin"

	"github.com/agevault/agevault/internal/errors"
)

// SecretKeyPrefix is the magic prefix every age X25519 secret key carries.
// Unwrapped key material must start with it before being accepted.
const SecretKeyPrefix = "AGE-SECRET-KEY-"

// scryptWorkFactor is the log2 work factor used when wrapping private keys.
// The age default; kept explicit so wrap and unwrap stay in agreement.
const scryptWorkFactor = 18

// GenerateKeypair generates a fresh X25519 identity and returns its public
// recipient string plus the zeroizing private key wrapper.
func GenerateKeypair() (string, *PrivateKey, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", nil, errors.NewCryptoError("keygen", err)
	}
	return identity.Recipient().String(), NewPrivateKey(identity.String()), nil
}

// ParseRecipients validates recipient strings and converts them into age
// recipients. Native X25519 recipients are handled in-process; plugin
// recipients (age1yubikey1...) resolve through the matching plugin binary at
// encryption time. Any invalid string fails the whole call with
// ErrInvalidRecipient before any I/O happens.
func ParseRecipients(recipients []string) ([]age.Recipient, error) {
	if len(recipients) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidRecipient, "no recipients given")
	}
	parsed := make([]age.Recipient, 0, len(recipients))
	for _, r := range recipients {
		rec, err := age.ParseX25519Recipient(r)
		if err == nil {
			parsed = append(parsed, rec)
			continue
		}
		if strings.HasPrefix(r, "age1") {
			pluginRec, pluginErr := plugin.NewRecipient(r, pluginClientUI())
			if pluginErr == nil {
				parsed = append(parsed, pluginRec)
				continue
			}
		}
		return nil, errors.Wrap(errors.ErrInvalidRecipient, "parse recipient")
	}
	return parsed, nil
}

// pluginClientUI is the non-interactive plugin UI used during encryption;
// wrapping to a recipient never needs PIN or touch, so every request fails
// fast instead of blocking.
func pluginClientUI() *plugin.ClientUI {
	return &plugin.ClientUI{
		DisplayMessage: func(name, message string) error {
			return nil
		},
		RequestValue: func(name, prompt string, secret bool) (string, error) {
			return "", errors.New("plugin requested interactive input during encryption")
		},
		Confirm: func(name, prompt, yes, no string) (bool, error) {
			return false, errors.New("plugin requested confirmation during encryption")
		},
		WaitTimer: func(name string) {},
	}
}

// Encrypt returns a streaming writer that encrypts everything written to it
// to all given recipients at once. Any single matching identity can decrypt
// the result. The caller must Close the writer to flush the final chunk.
func Encrypt(dst io.Writer, recipients []string) (io.WriteCloser, error) {
	parsed, err := ParseRecipients(recipients)
	if err != nil {
		return nil, err
	}
	w, err := age.Encrypt(dst, parsed...)
	if err != nil {
		return nil, errors.NewCryptoError("encrypt", err)
	}
	return w, nil
}

// Decrypt returns a streaming reader over the plaintext of src, unlocked with
// the given private key.
func Decrypt(src io.Reader, identity *PrivateKey) (io.Reader, error) {
	id, err := age.ParseX25519Identity(identity.Expose())
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidKey, "parse identity")
	}
	r, err := age.Decrypt(src, id)
	if err != nil {
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) {
			return nil, errors.Wrap(errors.ErrDecryptionFailed, "no matching recipient stanza")
		}
		return nil, errors.NewCryptoError("decrypt", err)
	}
	return r, nil
}

// EncryptBytes encrypts data to the given recipients in one call. Empty
// plaintext is legal and round-trips.
func EncryptBytes(data []byte, recipients []string) ([]byte, error) {
	var buf bytes.Buffer
	w, err := Encrypt(&buf, recipients)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, errors.NewCryptoError("encrypt", err)
	}
	if err := w.Close(); err != nil {
		return nil, errors.NewCryptoError("encrypt", err)
	}
	return buf.Bytes(), nil
}

// DecryptBytes decrypts ciphertext with the given private key in one call.
func DecryptBytes(ciphertext []byte, identity *PrivateKey) ([]byte, error) {
	r, err := Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, err
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.NewCryptoError("decrypt", err)
	}
	return plain, nil
}

// WrapPrivateKey encrypts a private key under a passphrase using the age
// scrypt recipient. The result is the at-rest form stored in the keys
// directory.
func WrapPrivateKey(key *PrivateKey, passphrase string) ([]byte, error) {
	if key.IsClosed() {
		return nil, errors.Wrap(errors.ErrInvalidKey, "key material already zeroed")
	}

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, errors.NewCryptoError("wrap", err)
	}
	recipient.SetWorkFactor(scryptWorkFactor)

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return nil, errors.NewCryptoError("wrap", err)
	}
	if _, err := io.WriteString(w, key.Expose()); err != nil {
		return nil, errors.NewCryptoError("wrap", err)
	}
	if err := w.Close(); err != nil {
		return nil, errors.NewCryptoError("wrap", err)
	}
	return buf.Bytes(), nil
}

// UnwrapPrivateKey decrypts a wrapped private key with a passphrase. A wrong
// passphrase is reported as ErrWrongPassphrase; anything else that fails to
// parse is format corruption. The plaintext must begin with the age secret-key
// prefix before it is accepted.
func UnwrapPrivateKey(wrapped []byte, passphrase string) (*PrivateKey, error) {
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, errors.NewCryptoError("unwrap", err)
	}

	r, err := age.Decrypt(bytes.NewReader(wrapped), identity)
	if err != nil {
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) {
			return nil, errors.ErrWrongPassphrase
		}
		if strings.Contains(err.Error(), "incorrect passphrase") {
			return nil, errors.ErrWrongPassphrase
		}
		return nil, errors.Wrap(errors.ErrInvalidKey, "wrapped key is corrupted")
	}

	plain, err := io.ReadAll(r)
	if err != nil {
		// The scrypt stanza decrypted but the payload MAC failed mid-stream;
		// with a single-stanza file this still means a bad passphrase is
		// impossible, so the file itself is damaged.
		return nil, errors.Wrap(errors.ErrInvalidKey, "wrapped key payload is corrupted")
	}

	secret := strings.TrimSpace(string(plain))
	Wipe(plain)
	if !strings.HasPrefix(secret, SecretKeyPrefix) {
		return nil, errors.Wrap(errors.ErrInvalidKey, "unwrapped data is not an age secret key")
	}
	return NewPrivateKey(secret), nil
}

// PublicKeyFor derives the recipient string for a private key, used to verify
// that a stored public key matches its wrapped private half.
func PublicKeyFor(key *PrivateKey) (string, error) {
	id, err := age.ParseX25519Identity(key.Expose())
	if err != nil {
		return "", errors.Wrap(errors.ErrInvalidKey, "parse identity")
	}
	return id.Recipient().String(), nil
}
