package core

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/agevault/agevault/internal/archive"
	"github.com/agevault/agevault/internal/crypto"
	"github.com/agevault/agevault/internal/errors"
	"github.com/agevault/agevault/internal/log"
	"github.com/agevault/agevault/internal/progress"
	"github.com/agevault/agevault/internal/util"
	"github.com/agevault/agevault/internal/yubikey"
)

// UnlockMethod selects how a decryption run obtains its identity.
type UnlockMethod struct {
	// Passphrase unlock: KeyID names the registered key, Passphrase unwraps it.
	KeyID      string
	Passphrase string

	// YubiKey unlock: Serial scopes the device, Pin answers its prompt.
	Serial yubikey.Serial
	Pin    *yubikey.Pin
}

func (m UnlockMethod) isYubiKey() bool {
	return !m.Serial.IsZero()
}

// DecryptRequest describes one decryption run.
type DecryptRequest struct {
	CiphertextPath string
	OutputDir      string
	Method         UnlockMethod

	OnProgress progress.Callback
}

// DecryptResult reports what was restored.
type DecryptResult struct {
	OperationID      string
	Files            []archive.FileInfo
	ManifestVerified bool
}

// Decrypt runs the decryption pipeline: identify the unlock method, fetch the
// identity, stream-decrypt to a temp archive, extract path-safe, and verify
// the manifest. Verification failure is reported, not rolled back. Multiple
// decryptions may run concurrently, including alongside one encryption.
func (c *Core) Decrypt(ctx context.Context, req DecryptRequest) (*DecryptResult, error) {
	opID := uuid.NewString()
	deb := progress.NewDebouncer(func(u progress.Update) {
		c.tracker.Record(u)
		if req.OnProgress != nil {
			req.OnProgress(u)
		}
	})
	emit := func(fraction float64, message string, details any) {
		deb.Process(progress.Update{
			OperationID: opID,
			Fraction:    fraction,
			Message:     message,
			Details:     details,
		})
	}

	emit(0.0, "Starting decryption", nil)

	tmpArchive, err := os.CreateTemp(filepath.Dir(req.CiphertextPath), ".agevault-restore-*.tar.gz")
	if err != nil {
		return nil, errors.NewFileError("mktemp", req.CiphertextPath, err)
	}
	tmpPath := tmpArchive.Name()
	_ = tmpArchive.Close()
	defer func() { _ = os.Remove(tmpPath) }()

	if req.Method.isYubiKey() {
		err = c.decryptWithYubiKey(ctx, req, tmpPath, emit)
	} else {
		err = c.decryptWithPassphrase(ctx, req, tmpPath, emit)
	}
	if err != nil {
		return nil, err
	}

	emit(0.70, "Extracting files", nil)
	files, err := archive.ExtractArchiveWithProgress(tmpPath, req.OutputDir, c.cfg.Archive,
		func(p float64, info string) {
			emit(0.70+p*0.25, "Extracting files", progress.FileDetail{CurrentFile: info})
		},
		func() bool { return ctx.Err() != nil },
	)
	if err != nil {
		return nil, err
	}

	verified := c.verifyManifest(req, files, emit)

	emit(1.0, "Decryption complete", progress.ManifestDetail{Verified: verified})
	deb.Flush()

	log.Info("decryption completed",
		log.String("operation", opID),
		log.Int("files", len(files)),
		log.Bool("manifest_verified", verified))

	return &DecryptResult{
		OperationID:      opID,
		Files:            files,
		ManifestVerified: verified,
	}, nil
}

// decryptWithPassphrase unwraps the registered key and streams the ciphertext
// through the age envelope into tmpPath.
func (c *Core) decryptWithPassphrase(ctx context.Context, req DecryptRequest, tmpPath string, emit func(float64, string, any)) error {
	if req.Method.KeyID == "" {
		return errors.NewValidationError("key_id", "a key id is required for passphrase unlock")
	}

	priv, err := c.Passphrase.UnlockKey(req.Method.KeyID, req.Method.Passphrase)
	if err != nil {
		return err
	}
	defer priv.Close()

	src, err := os.Open(req.CiphertextPath)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Wrap(errors.ErrFileNotFound, "ciphertext")
		}
		return errors.NewFileError("open", req.CiphertextPath, err)
	}
	defer func() { _ = src.Close() }()

	info, err := src.Stat()
	if err != nil {
		return errors.NewFileError("stat", req.CiphertextPath, err)
	}
	if info.Size() > util.MaxArchiveSize {
		return errors.Wrap(errors.ErrFileTooLarge, "ciphertext exceeds the archive limit")
	}

	plain, err := crypto.Decrypt(src, priv)
	if err != nil {
		return err
	}

	dst, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.NewFileError("create", tmpPath, err)
	}

	buf := util.GetStreamBuffer()
	defer util.PutStreamBuffer(buf)

	var done int64
	for {
		if ctx.Err() != nil {
			_ = dst.Close()
			return errors.ErrCancelled
		}
		n, readErr := plain.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				_ = dst.Close()
				return errors.NewFileError("write", tmpPath, err)
			}
			done += int64(n)
			fraction := float64(done) / float64(done+util.MiB)
			emit(0.10+fraction*0.55, "Decrypting", progress.ByteDetail{Done: done})
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			_ = dst.Close()
			return errors.Wrap(errors.ErrDecryptionFailed, "read envelope")
		}
	}
	return dst.Close()
}

// decryptWithYubiKey delegates to the hardware manager, which drives the age
// binary over a PTY.
func (c *Core) decryptWithYubiKey(ctx context.Context, req DecryptRequest, tmpPath string, emit func(float64, string, any)) error {
	ciphertext, err := archive.ReadArchiveWithSizeCheck(req.CiphertextPath, util.MaxArchiveSize)
	if err != nil {
		return err
	}

	emit(0.15, "Waiting for YubiKey", progress.YubiKeyDetail{Phase: "pin"})
	plaintext, err := c.YubiKeys.Decrypt(ctx, req.Method.Serial, ciphertext, req.Method.Pin)
	if err != nil {
		return err
	}
	emit(0.60, "YubiKey decryption complete", progress.YubiKeyDetail{Phase: "decrypting"})

	if err := os.WriteFile(tmpPath, plaintext, 0o600); err != nil {
		return errors.NewFileError("write", tmpPath, err)
	}
	return nil
}

// verifyManifest prefers the external manifest beside the ciphertext and
// falls back to an embedded manifest.json among the extracted files. Failures
// are reported as unverified; extraction is never rolled back for them.
func (c *Core) verifyManifest(req DecryptRequest, files []archive.FileInfo, emit func(float64, string, any)) bool {
	emit(0.96, "Verifying manifest", nil)

	manifestPath := archive.ExternalManifestPath(req.CiphertextPath)
	m, err := archive.ReadManifest(manifestPath)
	if err != nil {
		if !errors.Is(err, errors.ErrFileNotFound) {
			log.Warn("external manifest unreadable", log.Err(err))
			return false
		}
		m = c.findEmbeddedManifest(req.OutputDir, files)
		if m == nil {
			log.Info("no manifest present, skipping verification")
			return false
		}
		// The embedded manifest describes every file except itself.
		files = withoutManifestEntry(files)
	}

	if err := archive.VerifyManifest(m, files, c.cfg.Archive); err != nil {
		log.Warn("manifest verification failed", log.Err(err))
		return false
	}
	return true
}

func (c *Core) findEmbeddedManifest(outputDir string, files []archive.FileInfo) *archive.Manifest {
	for _, f := range files {
		if filepath.Base(f.RelativePath) != archive.EmbeddedManifestName {
			continue
		}
		m, err := archive.ReadManifest(filepath.Join(outputDir, filepath.FromSlash(f.RelativePath)))
		if err != nil {
			log.Warn("embedded manifest unreadable", log.Err(err))
			return nil
		}
		return m
	}
	return nil
}

func withoutManifestEntry(files []archive.FileInfo) []archive.FileInfo {
	out := make([]archive.FileInfo, 0, len(files))
	for _, f := range files {
		if filepath.Base(f.RelativePath) == archive.EmbeddedManifestName {
			continue
		}
		out = append(out, f)
	}
	return out
}
