package passphrase

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/agevault/agevault/internal/crypto"
	"github.com/agevault/agevault/internal/errors"
	"github.com/agevault/agevault/internal/log"
	"github.com/agevault/agevault/internal/paths"
	"github.com/agevault/agevault/internal/registry"
	"github.com/agevault/agevault/internal/vault"
)

// keyMetadata is the .agekey.meta sidecar written next to a wrapped key.
type keyMetadata struct {
	Label        string     `json:"label"`
	CreatedAt    time.Time  `json:"created_at"`
	PublicKey    string     `json:"public_key,omitempty"`
	LastAccessed *time.Time `json:"last_accessed,omitempty"`
}

// GeneratedKey is the result of creating a passphrase key.
type GeneratedKey struct {
	KeyID     string `json:"key_id"`
	Label     string `json:"label"`
	PublicKey string `json:"public_key"`
	KeyFile   string `json:"key_file"`
}

// Manager creates and verifies passphrase keys and attaches them to vaults.
type Manager struct {
	paths    *paths.Service
	registry *registry.Store
	vaults   *vault.Store
}

// NewManager wires a passphrase manager over the shared stores.
func NewManager(p *paths.Service, reg *registry.Store, vaults *vault.Store) *Manager {
	return &Manager{paths: p, registry: reg, vaults: vaults}
}

// Generate creates an X25519 keypair, wraps the private key under the
// passphrase, stores the wrapped key with owner-only permissions, and
// registers the entry. The whole sequence is one logical operation: any
// sub-step failure rolls back previously written side effects.
func (m *Manager) Generate(labelInput, pass string) (*GeneratedKey, error) {
	label, err := paths.SanitizeLabel(labelInput)
	if err != nil {
		return nil, err
	}

	if score, ok := AcceptableForKeyCreation(pass); !ok {
		guidance := "passphrase rejected"
		if len(score.Feedback) > 0 {
			guidance = score.Feedback[0]
		}
		return nil, errors.Wrap(errors.ErrWeakPassphrase, guidance)
	}

	pub, priv, err := crypto.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	defer priv.Close()

	wrapped, err := crypto.WrapPrivateKey(priv, pass)
	if err != nil {
		return nil, err
	}

	keyFile, err := m.paths.KeyFilePath(label.Sanitized)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(keyFile); err == nil {
		return nil, errors.Wrap(errors.ErrDuplicateKey, "a key with this label already exists")
	}

	// Side effects begin here; track them for rollback.
	var written []string
	rollback := func() {
		for _, path := range written {
			_ = os.Remove(path)
		}
	}

	if err := paths.AtomicWriteMode(keyFile, wrapped, 0o600); err != nil {
		return nil, err
	}
	written = append(written, keyFile)

	metaPath, err := m.paths.KeyMetadataPath(label.Sanitized)
	if err != nil {
		rollback()
		return nil, err
	}
	metaData, err := json.MarshalIndent(keyMetadata{
		Label:     label.Display,
		CreatedAt: time.Now().UTC(),
		PublicKey: pub,
	}, "", "  ")
	if err != nil {
		rollback()
		return nil, errors.Wrap(errors.ErrStorageFailed, "marshal key metadata")
	}
	if err := paths.AtomicWriteMode(metaPath, metaData, 0o600); err != nil {
		rollback()
		return nil, err
	}
	written = append(written, metaPath)

	keyID := uuid.NewString()
	entry := &registry.PassphraseEntry{
		KeyID:       keyID,
		Label:       label.Display,
		PublicKey:   pub,
		KeyFilename: label.Sanitized + ".agekey.enc",
		CreatedAt:   time.Now().UTC(),
		Lifecycle:   registry.Lifecycle{Status: registry.StatusActive},
	}
	if err := m.registry.AddPassphrase(entry); err != nil {
		rollback()
		return nil, err
	}

	log.Info("passphrase key generated",
		log.String("label", label.Sanitized), log.Redacted("public_key", pub))

	return &GeneratedKey{
		KeyID:     keyID,
		Label:     label.Display,
		PublicKey: pub,
		KeyFile:   keyFile,
	}, nil
}

// VerifyPassphrase attempts a trial unwrap of the stored key and reports
// whether the passphrase unlocks it. The private key never reaches the caller.
func (m *Manager) VerifyPassphrase(keyID, pass string) (bool, error) {
	priv, err := m.UnlockKey(keyID, pass)
	if err != nil {
		if errors.IsWrongPassphrase(err) {
			return false, nil
		}
		return false, err
	}
	priv.Close()
	return true, nil
}

// UnlockKey unwraps the private key for a registered passphrase entry. The
// caller owns the returned key and must Close it. The unwrapped key is checked
// against the registered public key before being released.
func (m *Manager) UnlockKey(keyID, pass string) (*crypto.PrivateKey, error) {
	entry, err := m.registry.Get(keyID)
	if err != nil {
		return nil, err
	}
	if entry.Type != registry.TypePassphrase {
		return nil, errors.Wrap(errors.ErrInvalidKey, "key is not passphrase-protected")
	}

	keysDir, err := m.paths.KeysDir()
	if err != nil {
		return nil, err
	}
	wrapped, err := os.ReadFile(filepath.Join(keysDir, entry.Passphrase.KeyFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.ErrFileNotFound, "wrapped key file")
		}
		return nil, errors.NewFileError("read", entry.Passphrase.KeyFilename, err)
	}

	priv, err := crypto.UnwrapPrivateKey(wrapped, pass)
	if err != nil {
		return nil, err
	}

	// The stored public key must equal the half derivable from the unwrapped
	// private key; a mismatch means the registry and key file diverged.
	derived, err := crypto.PublicKeyFor(priv)
	if err != nil {
		priv.Close()
		return nil, err
	}
	if derived != entry.Passphrase.PublicKey {
		priv.Close()
		return nil, errors.Wrap(errors.ErrInvalidKey, "key file does not match registry entry")
	}

	_ = m.registry.MarkUsed(keyID)
	return priv, nil
}

// AttachToVault adds the key as the vault's passphrase recipient. Fails when
// the vault already has one.
func (m *Manager) AttachToVault(vaultID, keyID string) error {
	entry, err := m.registry.Get(keyID)
	if err != nil {
		return err
	}
	if entry.Type != registry.TypePassphrase {
		return errors.Wrap(errors.ErrInvalidKey, "key is not passphrase-protected")
	}

	meta, err := m.vaults.GetVault(vaultID)
	if err != nil {
		return err
	}

	return m.vaults.AddRecipient(meta, vault.RecipientRef{
		Type:        vault.RecipientPassphrase,
		KeyID:       keyID,
		Label:       entry.Passphrase.Label,
		PublicKey:   entry.Passphrase.PublicKey,
		KeyFilename: entry.Passphrase.KeyFilename,
	})
}

// VaultHasPassphrase reports whether the vault already has a passphrase
// recipient.
func (m *Manager) VaultHasPassphrase(vaultID string) (bool, error) {
	meta, err := m.vaults.GetVault(vaultID)
	if err != nil {
		return false, err
	}
	for _, r := range meta.Recipients {
		if r.Type == vault.RecipientPassphrase {
			return true, nil
		}
	}
	return false, nil
}
