// Package core wires the vault subsystems into one handle and orchestrates
// the encryption and decryption pipelines. All cross-cutting state (cache,
// progress tracker, encryption gate) lives on the Core handle; there are no
// package-level singletons.
package core

import (
	"sync/atomic"

	"github.com/agevault/agevault/internal/archive"
	"github.com/agevault/agevault/internal/cache"
	"github.com/agevault/agevault/internal/passphrase"
	"github.com/agevault/agevault/internal/paths"
	"github.com/agevault/agevault/internal/progress"
	"github.com/agevault/agevault/internal/registry"
	"github.com/agevault/agevault/internal/vault"
	"github.com/agevault/agevault/internal/yubikey"
)

// Config tunes the pipelines.
type Config struct {
	// Archive controls staging and extraction behavior.
	Archive archive.Config

	// KeepStagingArchive leaves the intermediate tar.gz next to the
	// ciphertext instead of removing it after encryption.
	KeepStagingArchive bool

	// YubiKey points at the bundled external binaries.
	YubiKey yubikey.Config
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Archive: archive.Config{
			CompressionLevel:    archive.DefaultCompressionLevel,
			PreservePermissions: true,
			EncryptStaging:      true,
		},
		YubiKey: yubikey.DefaultConfig(),
	}
}

// Core is the single handle the host talks to. It owns every shared resource:
// path service, registry, vault store, cache, progress tracker, YubiKey
// manager, and the process-wide encryption gate.
type Core struct {
	cfg Config

	Paths      *paths.Service
	Registry   *registry.Store
	Vaults     *vault.Store
	Cache      *cache.Cache
	Passphrase *passphrase.Manager
	YubiKeys   *yubikey.Manager

	tracker *progress.Tracker

	// encryptionInProgress is the single-writer gate: holding it excludes
	// other encrypts but not decrypts.
	encryptionInProgress atomic.Bool
}

// New builds a Core over the platform-default application directory.
func New(cfg Config) (*Core, error) {
	svc, err := paths.NewService()
	if err != nil {
		return nil, err
	}
	return NewAt(cfg, svc), nil
}

// NewAt builds a Core over an explicit path service. Used by tests and dev
// setups.
func NewAt(cfg Config, svc *paths.Service) *Core {
	reg := registry.NewStore(svc)
	vaults := vault.NewStore(svc)
	c := &Core{
		cfg:        cfg,
		Paths:      svc,
		Registry:   reg,
		Vaults:     vaults,
		Cache:      cache.New(),
		Passphrase: passphrase.NewManager(svc, reg, vaults),
		YubiKeys:   yubikey.NewManager(cfg.YubiKey, reg),
		tracker:    progress.NewTracker(),
	}

	// Every registry mutation (create, delete, label or lifecycle change)
	// invalidates cached key listings before the next read.
	reg.OnMutate(func() {
		c.Cache.Invalidate(cache.NamespaceKeyList)
	})

	return c
}

// Progress returns the latest update recorded for an operation id.
func (c *Core) Progress(operationID string) (progress.Update, error) {
	return c.tracker.Get(operationID)
}

// Shutdown releases hardware-token state. Safe to call more than once.
func (c *Core) Shutdown() {
	c.YubiKeys.Shutdown()
	c.Cache.Clear()
}
