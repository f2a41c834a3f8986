package registry

import (
	"encoding/json"
	"os"
	"time"

	"github.com/agevault/agevault/internal/log"
)

// legacyYubiKeyRecord is the shape of one entry in the pre-registry
// yubikey-manifest.json document. Read-only compatibility: the file is never
// written, and its entries are folded into the registry in memory (persisted
// in the current shape on the next save).
type legacyYubiKeyRecord struct {
	Label     string    `json:"label"`
	Serial    string    `json:"serial"`
	Slot      int       `json:"slot"`
	Recipient string    `json:"recipient"`
	Identity  string    `json:"identity"`
	CreatedAt time.Time `json:"created_at"`
}

type legacyYubiKeyManifest struct {
	Keys []legacyYubiKeyRecord `json:"keys"`
}

// mergeLegacyManifest folds entries from the legacy YubiKey manifest into the
// registry. Serials already registered win; legacy entries use the older
// naming convention where the label doubled as the key id.
func (s *Store) mergeLegacyManifest(reg *Registry) {
	path, err := s.paths.LegacyYubiKeyManifestPath()
	if err != nil {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var manifest legacyYubiKeyManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		// Some installations stored a bare array.
		if err := json.Unmarshal(data, &manifest.Keys); err != nil {
			log.Warn("legacy yubikey manifest unreadable, ignoring")
			return
		}
	}

	merged := 0
	for _, rec := range manifest.Keys {
		if rec.Serial == "" || rec.Recipient == "" || rec.Identity == "" {
			continue
		}
		if hasSerial(reg, rec.Serial) {
			continue
		}
		id := rec.Label
		if id == "" {
			id = "yubikey-" + rec.Serial
		}
		if _, exists := reg.Entries[id]; exists {
			continue
		}
		reg.Entries[id] = &Entry{Type: TypeYubiKey, YubiKey: &YubiKeyEntry{
			KeyID:       id,
			Label:       rec.Label,
			Serial:      rec.Serial,
			PIVSlot:     rec.Slot,
			Recipient:   rec.Recipient,
			IdentityTag: rec.Identity,
			CreatedAt:   rec.CreatedAt,
			Lifecycle:   Lifecycle{Status: StatusActive},
		}}
		merged++
	}
	if merged > 0 {
		log.Info("legacy yubikey manifest folded into registry", log.Int("entries", merged))
	}
}

func hasSerial(reg *Registry, serial string) bool {
	for _, entry := range reg.Entries {
		if entry.Type == TypeYubiKey && entry.YubiKey.Serial == serial {
			return true
		}
	}
	return false
}
