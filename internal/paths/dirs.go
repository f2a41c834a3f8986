// Package paths resolves platform-specific application directories and
// provides filesystem-safe label handling and atomic writes.
//
// Directory layout under the application root:
//
//	keys/               wrapped private keys, key metadata, key registry
//	vaults/             one JSON document per vault
//	logs/               application logs
//	backups/manifest/   manifest backups
//
// Directories are created on first use with owner-only permissions on POSIX.
package paths

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/agevault/agevault/internal/errors"
)

// EnvAppDir overrides the application root. Used by tests and dev setups.
const EnvAppDir = "AGEVAULT_DIR"

const appDirName = "agevault"

// Service resolves and creates application directories. The zero value is not
// usable; construct with NewService.
type Service struct {
	root string
}

// NewService creates a path service rooted at the platform default, honoring
// the EnvAppDir override.
func NewService() (*Service, error) {
	if dir := os.Getenv(EnvAppDir); dir != "" {
		return &Service{root: dir}, nil
	}

	root, err := platformRoot()
	if err != nil {
		return nil, err
	}
	return &Service{root: filepath.Join(root, appDirName)}, nil
}

// NewServiceAt creates a path service rooted at an explicit directory.
func NewServiceAt(root string) *Service {
	return &Service{root: root}
}

func platformRoot() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrap(err, "resolve home directory")
		}
		return filepath.Join(home, "Library", "Application Support"), nil
	case "windows":
		if dir := os.Getenv("APPDATA"); dir != "" {
			return dir, nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrap(err, "resolve home directory")
		}
		return filepath.Join(home, "AppData", "Roaming"), nil
	default:
		// POSIX: honor XDG, fall back to ~/.local/share
		if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
			return dir, nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrap(err, "resolve home directory")
		}
		return filepath.Join(home, ".local", "share"), nil
	}
}

// ensure creates dir with owner-only permissions if it does not exist.
func ensure(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", errors.NewFileError("mkdir", dir, err)
	}
	return dir, nil
}

// AppDir returns the application root, creating it if missing.
func (s *Service) AppDir() (string, error) {
	return ensure(s.root)
}

// KeysDir returns the keys directory, creating it if missing.
func (s *Service) KeysDir() (string, error) {
	return ensure(filepath.Join(s.root, "keys"))
}

// LogsDir returns the logs directory, creating it if missing.
func (s *Service) LogsDir() (string, error) {
	return ensure(filepath.Join(s.root, "logs"))
}

// VaultsDir returns the vaults directory, creating it if missing.
func (s *Service) VaultsDir() (string, error) {
	return ensure(filepath.Join(s.root, "vaults"))
}

// BackupsDir returns the manifest backups directory, creating it if missing.
func (s *Service) BackupsDir() (string, error) {
	return ensure(filepath.Join(s.root, "backups", "manifest"))
}

// KeyFilePath returns the path of the wrapped private key for a sanitized label.
func (s *Service) KeyFilePath(label string) (string, error) {
	if err := ValidateLabel(label); err != nil {
		return "", err
	}
	dir, err := s.KeysDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, label+".agekey.enc"), nil
}

// KeyMetadataPath returns the path of the metadata sidecar for a sanitized label.
func (s *Service) KeyMetadataPath(label string) (string, error) {
	if err := ValidateLabel(label); err != nil {
		return "", err
	}
	dir, err := s.KeysDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, label+".agekey.meta"), nil
}

// RegistryPath returns the path of the key registry document.
func (s *Service) RegistryPath() (string, error) {
	dir, err := s.KeysDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "key-registry.json"), nil
}

// LegacyYubiKeyManifestPath returns the path of the legacy YubiKey manifest,
// kept for read-only compatibility with older installations.
func (s *Service) LegacyYubiKeyManifestPath() (string, error) {
	dir, err := s.KeysDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "yubikey-manifest.json"), nil
}

// VaultPath returns the path of the metadata document for a vault id.
func (s *Service) VaultPath(vaultID string) (string, error) {
	dir, err := s.VaultsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, vaultID+".json"), nil
}
