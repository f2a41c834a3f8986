package registry

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/agevault/agevault/internal/errors"
	"github.com/agevault/agevault/internal/log"
	"github.com/agevault/agevault/internal/paths"
)

// SchemaVersion is the current on-disk registry document version.
const SchemaVersion = 2

// document is the persisted registry shape.
type document struct {
	SchemaVersion int                        `json:"schema_version"`
	Keys          map[string]json.RawMessage `json:"keys"`
}

// entryEnvelope is the tagged wire form of one entry.
type entryEnvelope struct {
	Type KeyType `json:"type"`
}

// Store loads and saves the key registry. A single mutex wraps every
// load→mutate→save cycle so in-process writers never interleave; the atomic
// rename protects against other processes.
type Store struct {
	mu    sync.Mutex
	paths *paths.Service

	// onMutate, when set, runs after every successful write. The cache layer
	// hooks key-list invalidation here.
	onMutate func()
}

// NewStore creates a registry store over the given path service.
func NewStore(p *paths.Service) *Store {
	return &Store{paths: p}
}

// OnMutate registers a callback invoked after every successful registry write.
func (s *Store) OnMutate(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMutate = fn
}

// Registry is the in-memory registry state.
type Registry struct {
	Entries map[string]*Entry
}

// Load reads the registry document, tolerating the legacy untagged shape and
// upgrading it in memory. A missing file yields an empty registry.
func (s *Store) Load() (*Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (*Registry, error) {
	path, err := s.paths.RegistryPath()
	if err != nil {
		return nil, err
	}

	reg := &Registry{Entries: make(map[string]*Entry)}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.NewFileError("read", path, err)
		}
	} else {
		reg, err = parseDocument(data)
		if err != nil {
			return nil, err
		}
	}

	s.mergeLegacyManifest(reg)
	return reg, nil
}

func parseDocument(data []byte) (*Registry, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(errors.ErrStorageFailed, "parse registry document")
	}

	reg := &Registry{Entries: make(map[string]*Entry, len(doc.Keys))}
	for id, raw := range doc.Keys {
		entry, err := parseEntry(raw)
		if err != nil {
			return nil, err
		}
		if entry.ID() == "" {
			// Legacy documents keyed entries by id without repeating it inside.
			setEntryID(entry, id)
		}
		reg.Entries[id] = entry
	}

	if doc.SchemaVersion < SchemaVersion {
		log.Info("registry document upgraded in memory",
			log.Int("from", doc.SchemaVersion), log.Int("to", SchemaVersion))
	}
	return reg, nil
}

func parseEntry(raw json.RawMessage) (*Entry, error) {
	var env entryEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.Wrap(errors.ErrStorageFailed, "parse registry entry")
	}

	switch env.Type {
	case TypeYubiKey:
		var yk YubiKeyEntry
		if err := json.Unmarshal(raw, &yk); err != nil {
			return nil, errors.Wrap(errors.ErrStorageFailed, "parse yubikey entry")
		}
		normalizeLifecycle(&yk.Lifecycle)
		return &Entry{Type: TypeYubiKey, YubiKey: &yk}, nil
	case TypePassphrase, "":
		// The legacy document shape carried untagged passphrase entries.
		var pp PassphraseEntry
		if err := json.Unmarshal(raw, &pp); err != nil {
			return nil, errors.Wrap(errors.ErrStorageFailed, "parse passphrase entry")
		}
		normalizeLifecycle(&pp.Lifecycle)
		return &Entry{Type: TypePassphrase, Passphrase: &pp}, nil
	default:
		return nil, errors.Wrap(errors.ErrStorageFailed, "unknown registry entry type")
	}
}

func normalizeLifecycle(l *Lifecycle) {
	if l.Status == "" {
		l.Status = StatusActive
	}
}

func setEntryID(e *Entry, id string) {
	switch e.Type {
	case TypePassphrase:
		e.Passphrase.KeyID = id
	case TypeYubiKey:
		e.YubiKey.KeyID = id
	}
}

// Save writes the registry atomically in the current document shape.
func (s *Store) Save(reg *Registry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(reg)
}

func (s *Store) saveLocked(reg *Registry) error {
	doc := document{
		SchemaVersion: SchemaVersion,
		Keys:          make(map[string]json.RawMessage, len(reg.Entries)),
	}
	for id, entry := range reg.Entries {
		raw, err := marshalEntry(entry)
		if err != nil {
			return err
		}
		doc.Keys[id] = raw
	}

	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrStorageFailed, "marshal registry")
	}

	path, err := s.paths.RegistryPath()
	if err != nil {
		return err
	}
	if err := paths.AtomicWrite(path, data); err != nil {
		return err
	}
	if s.onMutate != nil {
		s.onMutate()
	}
	return nil
}

func marshalEntry(e *Entry) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	switch e.Type {
	case TypePassphrase:
		data, err = json.Marshal(struct {
			Type KeyType `json:"type"`
			*PassphraseEntry
		}{TypePassphrase, e.Passphrase})
	case TypeYubiKey:
		data, err = json.Marshal(struct {
			Type KeyType `json:"type"`
			*YubiKeyEntry
		}{TypeYubiKey, e.YubiKey})
	default:
		return nil, errors.Wrap(errors.ErrStorageFailed, "unknown entry type")
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorageFailed, "marshal registry entry")
	}
	return data, nil
}

// Mutate runs fn inside a load→mutate→save cycle under the store mutex.
// Returning an error from fn abandons the write.
func (s *Store) Mutate(fn func(reg *Registry) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.loadLocked()
	if err != nil {
		return err
	}
	if err := fn(reg); err != nil {
		return err
	}
	return s.saveLocked(reg)
}

// Get returns the entry for a key id.
func (s *Store) Get(keyID string) (*Entry, error) {
	reg, err := s.Load()
	if err != nil {
		return nil, err
	}
	entry, ok := reg.Entries[keyID]
	if !ok {
		return nil, errors.ErrKeyNotFound
	}
	return entry, nil
}

// AddPassphrase registers a new passphrase entry, refusing duplicate ids.
func (s *Store) AddPassphrase(entry *PassphraseEntry) error {
	normalizeLifecycle(&entry.Lifecycle)
	return s.Mutate(func(reg *Registry) error {
		if _, exists := reg.Entries[entry.KeyID]; exists {
			return errors.ErrDuplicateKey
		}
		reg.Entries[entry.KeyID] = &Entry{Type: TypePassphrase, Passphrase: entry}
		return nil
	})
}

// AddYubiKey registers a new YubiKey entry, refusing duplicate ids.
func (s *Store) AddYubiKey(entry *YubiKeyEntry) error {
	normalizeLifecycle(&entry.Lifecycle)
	return s.Mutate(func(reg *Registry) error {
		if _, exists := reg.Entries[entry.KeyID]; exists {
			return errors.ErrDuplicateKey
		}
		reg.Entries[entry.KeyID] = &Entry{Type: TypeYubiKey, YubiKey: entry}
		return nil
	})
}

// Update replaces an existing entry. The entry's type may not change.
func (s *Store) Update(keyID string, entry *Entry) error {
	return s.Mutate(func(reg *Registry) error {
		existing, ok := reg.Entries[keyID]
		if !ok {
			return errors.ErrKeyNotFound
		}
		if existing.Type != entry.Type {
			return errors.ErrKeyTypeChange
		}
		reg.Entries[keyID] = entry
		return nil
	})
}

// Transition applies a lifecycle change to a key.
func (s *Store) Transition(keyID string, to LifecycleStatus) error {
	return s.Mutate(func(reg *Registry) error {
		entry, ok := reg.Entries[keyID]
		if !ok {
			return errors.ErrKeyNotFound
		}
		return entry.lifecycle().transition(to, time.Now())
	})
}

// MarkUsed stamps a key's last-used timestamp.
func (s *Store) MarkUsed(keyID string) error {
	return s.Mutate(func(reg *Registry) error {
		entry, ok := reg.Entries[keyID]
		if !ok {
			return errors.ErrKeyNotFound
		}
		entry.MarkUsed(time.Now())
		return nil
	})
}

// Remove soft-deletes a key by deactivating it. The entry stays in the
// registry so existing ciphertexts remain decryptable.
func (s *Store) Remove(keyID string) error {
	return s.Transition(keyID, StatusDeactivated)
}

// Erase permanently deletes a key entry from the registry. Explicit and
// separate from the soft-delete path.
func (s *Store) Erase(keyID string) error {
	return s.Mutate(func(reg *Registry) error {
		if _, ok := reg.Entries[keyID]; !ok {
			return errors.ErrKeyNotFound
		}
		delete(reg.Entries, keyID)
		return nil
	})
}

// ListByType returns entries grouped by key type, each sorted by label.
func (s *Store) ListByType() (passphrase []*PassphraseEntry, yubikeys []*YubiKeyEntry, err error) {
	reg, err := s.Load()
	if err != nil {
		return nil, nil, err
	}
	for _, entry := range reg.Entries {
		switch entry.Type {
		case TypePassphrase:
			passphrase = append(passphrase, entry.Passphrase)
		case TypeYubiKey:
			yubikeys = append(yubikeys, entry.YubiKey)
		}
	}
	sort.Slice(passphrase, func(i, j int) bool { return passphrase[i].Label < passphrase[j].Label })
	sort.Slice(yubikeys, func(i, j int) bool { return yubikeys[i].Label < yubikeys[j].Label })
	return passphrase, yubikeys, nil
}

// FindYubiKeyBySerial returns the YubiKey entry registered for a serial.
func (s *Store) FindYubiKeyBySerial(serial string) (*YubiKeyEntry, error) {
	reg, err := s.Load()
	if err != nil {
		return nil, err
	}
	for _, entry := range reg.Entries {
		if entry.Type == TypeYubiKey && entry.YubiKey.Serial == serial {
			return entry.YubiKey, nil
		}
	}
	return nil, errors.ErrKeyNotFound
}
