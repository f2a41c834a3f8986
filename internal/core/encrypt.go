package core

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agevault/agevault/internal/archive"
	"github.com/agevault/agevault/internal/crypto"
	"github.com/agevault/agevault/internal/errors"
	"github.com/agevault/agevault/internal/log"
	"github.com/agevault/agevault/internal/progress"
	"github.com/agevault/agevault/internal/util"
)

// EncryptRequest describes one encryption run. Exactly one of VaultID and
// KeyID selects the recipients: a vault contributes its recipient list in
// declared order, a key contributes just itself.
type EncryptRequest struct {
	VaultID string
	KeyID   string

	Selection  archive.Selection
	OutputPath string // final ciphertext path; ".age" is appended if missing

	OnProgress progress.Callback
}

// EncryptResult reports where the pipeline wrote its outputs.
type EncryptResult struct {
	OperationID    string
	CiphertextPath string
	ManifestPath   string
	FileCount      int
}

// Encrypt runs the encryption pipeline: gate, validate, resolve recipients,
// stage+hash, envelope-encrypt, finalize. The process-wide gate admits one
// encryption at a time; decryptions are unaffected.
func (c *Core) Encrypt(ctx context.Context, req EncryptRequest) (*EncryptResult, error) {
	if !c.encryptionInProgress.CompareAndSwap(false, true) {
		return nil, errors.ErrOperationInProgress
	}
	defer c.encryptionInProgress.Store(false)

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

	emit(0.0, "Starting encryption", nil)

	recipients, err := c.resolveRecipients(req)
	if err != nil {
		return nil, err
	}

	outPath := req.OutputPath
	if outPath == "" {
		return nil, errors.NewValidationError("output_path", "output path is required")
	}
	if !strings.HasSuffix(outPath, ".age") {
		outPath += ".age"
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o700); err != nil {
		return nil, errors.NewFileError("mkdir", filepath.Dir(outPath), err)
	}

	// Stage the selection into a tar.gz next to the final ciphertext.
	stagingPath := strings.TrimSuffix(outPath, ".age") + ".tar.gz"
	cancelled := func() bool { return ctx.Err() != nil }

	op, err := archive.CreateArchiveWithProgress(req.Selection, stagingPath, c.cfg.Archive,
		func(p float64, info string) {
			emit(0.05+p*0.50, "Creating archive", progress.FileDetail{CurrentFile: info})
		},
		nil,
		cancelled,
	)
	if err != nil {
		return nil, err
	}
	defer op.Close()

	cleanupStaging := func() {
		if !c.cfg.KeepStagingArchive {
			_ = os.Remove(stagingPath)
		}
	}

	manifest, err := archive.CreateManifestForArchive(op, op.Files)
	if err != nil {
		cleanupStaging()
		return nil, err
	}

	if err := c.encryptArchive(ctx, op, outPath, recipients, emit); err != nil {
		cleanupStaging()
		_ = os.Remove(outPath)
		return nil, err
	}

	manifestPath, err := archive.WriteExternalManifest(manifest, outPath)
	if err != nil {
		cleanupStaging()
		_ = os.Remove(outPath)
		return nil, err
	}

	cleanupStaging()

	emit(1.0, "Encryption complete", progress.ArchiveDetail{
		ArchivePath: outPath,
		FileCount:   op.FileCount,
	})
	deb.Flush()

	log.Info("encryption completed",
		log.String("operation", opID),
		log.Int("files", op.FileCount),
		log.Int64("bytes", op.UncompressedSize))

	return &EncryptResult{
		OperationID:    opID,
		CiphertextPath: outPath,
		ManifestPath:   manifestPath,
		FileCount:      op.FileCount,
	}, nil
}

// resolveRecipients gathers the recipient strings for the request in declared
// order and validates them before any I/O.
func (c *Core) resolveRecipients(req EncryptRequest) ([]string, error) {
	var recipients []string

	switch {
	case req.VaultID != "":
		meta, err := c.Vaults.GetVault(req.VaultID)
		if err != nil {
			return nil, err
		}
		recipients = meta.RecipientKeys()
		if len(recipients) == 0 {
			return nil, errors.NewValidationError("vault", "vault has no recipients")
		}
	case req.KeyID != "":
		entry, err := c.Registry.Get(req.KeyID)
		if err != nil {
			return nil, err
		}
		recipients = []string{entry.PublicKey()}
	default:
		return nil, errors.NewValidationError("recipients", "a vault id or key id is required")
	}

	if _, err := crypto.ParseRecipients(recipients); err != nil {
		return nil, err
	}
	return recipients, nil
}

// encryptArchive streams the staged archive through the age envelope into the
// ciphertext file, checking for cancellation between chunks.
func (c *Core) encryptArchive(ctx context.Context, op *archive.Op, outPath string, recipients []string, emit func(float64, string, any)) error {
	src, err := op.Open()
	if err != nil {
		return errors.NewFileError("open", op.ArchivePath, err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.NewFileError("create", outPath, err)
	}

	w, err := crypto.Encrypt(dst, recipients)
	if err != nil {
		_ = dst.Close()
		return err
	}

	buf := util.GetStreamBuffer()
	defer util.PutStreamBuffer(buf)

	start := time.Now()
	var done int64
	for {
		if ctx.Err() != nil {
			_ = dst.Close()
			return errors.ErrCancelled
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				_ = dst.Close()
				return errors.Wrap(errors.ErrEncryptionFailed, "write envelope")
			}
			done += int64(n)
			fraction, speed, _ := util.Statify(done, op.Size, start)
			emit(0.60+fraction*0.35, "Encrypting", progress.ByteDetail{
				Done: done, Total: op.Size, SpeedMiBs: speed,
			})
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			_ = dst.Close()
			return errors.NewFileError("read", op.ArchivePath, readErr)
		}
	}

	if err := w.Close(); err != nil {
		_ = dst.Close()
		return errors.Wrap(errors.ErrEncryptionFailed, "finalize envelope")
	}
	if err := dst.Sync(); err != nil {
		_ = dst.Close()
		return errors.NewFileError("sync", outPath, err)
	}
	return dst.Close()
}
