// Package vault persists vault metadata: one JSON document per vault under
// the vaults directory, with the recipient policy enforced on every mutation.
package vault

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agevault/agevault/internal/errors"
	"github.com/agevault/agevault/internal/paths"
)

// SchemaVersion is the vault document version.
const SchemaVersion = 1

// Recipient policy: a vault holds 1..=4 recipients, at most one passphrase
// and at most three YubiKeys.
const (
	MaxPassphraseRecipients = 1
	MaxYubiKeyRecipients    = 3
)

// RecipientType tags the unlock method behind a recipient.
type RecipientType string

const (
	RecipientPassphrase RecipientType = "passphrase"
	RecipientYubiKey    RecipientType = "yubikey"
)

// RecipientRef points at a registry key that can unlock the vault. The
// recipient string is retained here so ciphertexts stay decryptable even if
// the registry entry is erased while the holder still has the secret.
type RecipientRef struct {
	Type      RecipientType `json:"type"`
	KeyID     string        `json:"key_id"`
	Label     string        `json:"label"`
	PublicKey string        `json:"public_key"`

	// Passphrase variant
	KeyFilename string `json:"key_filename,omitempty"`

	// YubiKey variant
	Serial      string `json:"serial,omitempty"`
	IdentityTag string `json:"identity_tag,omitempty"`
}

// Metadata is the persisted descriptor of one vault. Recipient order is
// insertion order and is preserved into the envelope recipients list. At most
// one vault carries IsCurrent; it is the default target for operations that
// do not name a vault explicitly.
type Metadata struct {
	SchemaVersion int            `json:"schema_version"`
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	SanitizedName string         `json:"sanitized_name"`
	Description   string         `json:"description,omitempty"`
	IsCurrent     bool           `json:"is_current,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Recipients    []RecipientRef `json:"recipients"`
}

// RecipientKeys returns the recipient strings in declared order.
func (m *Metadata) RecipientKeys() []string {
	keys := make([]string, len(m.Recipients))
	for i, r := range m.Recipients {
		keys[i] = r.PublicKey
	}
	return keys
}

// Store reads and writes vault documents. A mutex serializes in-process
// read-modify-write cycles; atomic renames protect the files themselves.
type Store struct {
	mu    sync.Mutex
	paths *paths.Service
}

// NewStore creates a vault store over the given path service.
func NewStore(p *paths.Service) *Store {
	return &Store{paths: p}
}

// ListVaults returns all vault descriptors sorted by name.
func (s *Store) ListVaults() ([]*Metadata, error) {
	dir, err := s.paths.VaultsDir()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.NewFileError("readdir", dir, err)
	}

	var vaults []*Metadata
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		meta, err := s.readVaultFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		vaults = append(vaults, meta)
	}
	sort.Slice(vaults, func(i, j int) bool { return vaults[i].Name < vaults[j].Name })
	return vaults, nil
}

// GetVault loads one vault by id.
func (s *Store) GetVault(id string) (*Metadata, error) {
	path, err := s.paths.VaultPath(id)
	if err != nil {
		return nil, err
	}
	meta, err := s.readVaultFile(path)
	if err != nil {
		if errors.Is(err, errors.ErrFileNotFound) {
			return nil, errors.ErrVaultNotFound
		}
		return nil, err
	}
	return meta, nil
}

// VaultExists reports whether a vault document exists for the id.
func (s *Store) VaultExists(id string) (bool, error) {
	path, err := s.paths.VaultPath(id)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.NewFileError("stat", path, err)
	}
	return true, nil
}

func (s *Store) readVaultFile(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.ErrFileNotFound, "vault document")
		}
		return nil, errors.NewFileError("read", path, err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errors.Wrap(errors.ErrStorageFailed, "parse vault document")
	}
	return &meta, nil
}

// CreateVault creates a new empty vault. Name uniqueness is by sanitized form.
func (s *Store) CreateVault(name, description string) (*Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	label, err := paths.SanitizeLabel(name)
	if err != nil {
		return nil, err
	}

	existing, err := s.ListVaults()
	if err != nil {
		return nil, err
	}
	for _, v := range existing {
		if v.SanitizedName == label.Sanitized {
			return nil, errors.Wrap(errors.ErrDuplicateVaultName, label.Sanitized)
		}
	}

	now := time.Now().UTC()
	meta := &Metadata{
		SchemaVersion: SchemaVersion,
		ID:            uuid.NewString(),
		Name:          label.Display,
		SanitizedName: label.Sanitized,
		Description:   description,
		IsCurrent:     len(existing) == 0, // the first vault becomes the default
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.saveLocked(meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// CurrentVault returns the vault marked current, or ErrVaultNotFound when no
// vault carries the marker.
func (s *Store) CurrentVault() (*Metadata, error) {
	vaults, err := s.ListVaults()
	if err != nil {
		return nil, err
	}
	for _, v := range vaults {
		if v.IsCurrent {
			return v, nil
		}
	}
	return nil, errors.Wrap(errors.ErrVaultNotFound, "no current vault set")
}

// SetCurrent moves the current marker to the vault with the given id,
// clearing it from any other vault so at most one is ever current.
func (s *Store) SetCurrent(id string) (*Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, err := s.GetVault(id)
	if err != nil {
		return nil, err
	}

	vaults, err := s.ListVaults()
	if err != nil {
		return nil, err
	}
	for _, v := range vaults {
		if v.IsCurrent && v.ID != id {
			v.IsCurrent = false
			if err := s.saveLocked(v); err != nil {
				return nil, err
			}
		}
	}

	if !target.IsCurrent {
		target.IsCurrent = true
		if err := s.saveLocked(target); err != nil {
			return nil, err
		}
	}
	return target, nil
}

// SaveVault persists a vault document atomically, bumping updated_at.
func (s *Store) SaveVault(meta *Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta.UpdatedAt = time.Now().UTC()
	return s.saveLocked(meta)
}

func (s *Store) saveLocked(meta *Metadata) error {
	if meta.SchemaVersion == 0 {
		meta.SchemaVersion = SchemaVersion
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrStorageFailed, "marshal vault document")
	}
	path, err := s.paths.VaultPath(meta.ID)
	if err != nil {
		return err
	}
	return paths.AtomicWrite(path, data)
}

// DeleteVault removes a vault document, first copying it to a .bak sibling.
func (s *Store) DeleteVault(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.paths.VaultPath(id)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.ErrVaultNotFound
		}
		return errors.NewFileError("read", path, err)
	}

	if err := paths.AtomicWrite(path+".bak", data); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return errors.NewFileError("remove", path, err)
	}
	return nil
}

// Rename changes a vault's display name, re-deriving the sanitized form and
// enforcing uniqueness.
func (s *Store) Rename(id, newName string) (*Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	label, err := paths.SanitizeLabel(newName)
	if err != nil {
		return nil, err
	}

	existing, err := s.ListVaults()
	if err != nil {
		return nil, err
	}
	for _, v := range existing {
		if v.ID != id && v.SanitizedName == label.Sanitized {
			return nil, errors.Wrap(errors.ErrDuplicateVaultName, label.Sanitized)
		}
	}

	meta, err := s.GetVault(id)
	if err != nil {
		return nil, err
	}
	meta.Name = label.Display
	meta.SanitizedName = label.Sanitized
	meta.UpdatedAt = time.Now().UTC()
	if err := s.saveLocked(meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// AddRecipient attaches a recipient to the vault, enforcing the policy of at
// most one passphrase and at most three YubiKeys, with unique sanitized labels
// within the vault. The mutation is applied to meta and persisted.
func (s *Store) AddRecipient(meta *Metadata, ref RecipientRef) error {
	if err := validateRecipient(ref); err != nil {
		return err
	}

	var passCount, ykCount int
	for _, r := range meta.Recipients {
		switch r.Type {
		case RecipientPassphrase:
			passCount++
		case RecipientYubiKey:
			ykCount++
		}
		if r.KeyID == ref.KeyID {
			return errors.Wrap(errors.ErrDuplicateKey, "recipient already attached")
		}
	}

	switch ref.Type {
	case RecipientPassphrase:
		if passCount >= MaxPassphraseRecipients {
			return errors.ErrDuplicatePassphrase
		}
	case RecipientYubiKey:
		if ykCount >= MaxYubiKeyRecipients {
			return errors.Wrap(errors.ErrRecipientLimit,
				fmt.Sprintf("at most %d yubikey recipients", MaxYubiKeyRecipients))
		}
	}

	newLabel, err := paths.SanitizeLabel(ref.Label)
	if err != nil {
		return err
	}
	for _, r := range meta.Recipients {
		existing, err := paths.SanitizeLabel(r.Label)
		if err != nil {
			continue
		}
		if existing.Sanitized == newLabel.Sanitized {
			return errors.Wrap(errors.ErrDuplicateVaultLabel, newLabel.Sanitized)
		}
	}

	meta.Recipients = append(meta.Recipients, ref)
	return s.SaveVault(meta)
}

// RemoveRecipient detaches a recipient by key id.
func (s *Store) RemoveRecipient(meta *Metadata, keyID string) error {
	for i, r := range meta.Recipients {
		if r.KeyID == keyID {
			meta.Recipients = append(meta.Recipients[:i], meta.Recipients[i+1:]...)
			return s.SaveVault(meta)
		}
	}
	return errors.ErrRecipientNotAttached
}

func validateRecipient(ref RecipientRef) error {
	if ref.KeyID == "" {
		return errors.NewValidationError("key_id", "recipient needs a key id")
	}
	if ref.PublicKey == "" {
		return errors.NewValidationError("public_key", "recipient needs a public key")
	}
	switch ref.Type {
	case RecipientPassphrase:
		if ref.KeyFilename == "" {
			return errors.NewValidationError("key_filename", "passphrase recipient needs a key file")
		}
	case RecipientYubiKey:
		if ref.Serial == "" || ref.IdentityTag == "" {
			return errors.NewValidationError("serial", "yubikey recipient needs serial and identity tag")
		}
	default:
		return errors.NewValidationError("type", "unknown recipient type")
	}
	return nil
}
