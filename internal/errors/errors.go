// Package errors provides typed errors for agevault operations.
// This enables callers to use errors.Is() and errors.As() for specific error handling.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
// Use errors.Is(err, errors.ErrCancelled) to check for specific errors.
var (
	// Operation errors
	ErrCancelled           = errors.New("operation cancelled")
	ErrOperationInProgress = errors.New("another encryption operation is in progress")
	ErrEncryptionFailed    = errors.New("encryption failed")
	ErrDecryptionFailed    = errors.New("decryption failed")
	ErrStorageFailed       = errors.New("storage operation failed")
	ErrArchiveCorrupted    = errors.New("archive corrupted")
	ErrManifestInvalid     = errors.New("manifest invalid")
	ErrIntegrityCheck      = errors.New("integrity check failed")

	// Input validation errors
	ErrInvalidLabel     = errors.New("invalid label")
	ErrWeakPassphrase   = errors.New("passphrase too weak")
	ErrTooManyFiles     = errors.New("too many files in selection")
	ErrFileTooLarge     = errors.New("file exceeds size limit")
	ErrSelectionTooBig  = errors.New("selection exceeds total size limit")
	ErrInvalidRecipient = errors.New("invalid recipient")
	ErrPathValidation   = errors.New("path validation failed")
	ErrSymlinkInInput   = errors.New("symlinks are not allowed in the selection")

	// Not-found errors
	ErrKeyNotFound       = errors.New("key not found")
	ErrVaultNotFound     = errors.New("vault not found")
	ErrFileNotFound      = errors.New("file not found")
	ErrOperationNotFound = errors.New("operation not found")

	// Security errors
	ErrWrongPassphrase = errors.New("wrong passphrase")
	ErrInvalidKey      = errors.New("invalid key")
	ErrTamperedData    = errors.New("data integrity verification failed")

	// Key lifecycle and vault policy errors
	ErrInvalidKeyState      = errors.New("invalid key lifecycle transition")
	ErrDuplicateKey         = errors.New("key id already registered")
	ErrDuplicatePassphrase  = errors.New("vault already has a passphrase key")
	ErrRecipientLimit       = errors.New("vault recipient limit reached")
	ErrGraceWindowExpired   = errors.New("restore window has expired")
	ErrKeyTypeChange        = errors.New("key type cannot be changed")
	ErrDuplicateVaultLabel  = errors.New("label already used within this vault")
	ErrDuplicateVaultName   = errors.New("vault name already in use")
	ErrRecipientNotAttached = errors.New("recipient not attached to vault")

	// YubiKey errors
	ErrSerialRequired  = errors.New("serial is required")
	ErrInvalidSerial   = errors.New("invalid serial")
	ErrInvalidPin      = errors.New("invalid PIN format")
	ErrDeviceNotFound  = errors.New("yubikey not found")
	ErrPinBlocked      = errors.New("PIN blocked")
	ErrTouchTimeout    = errors.New("touch confirmation timed out")
	ErrWrongDevice     = errors.New("wrong yubikey inserted")
	ErrSlotInUse       = errors.New("PIV slot already in use")
	ErrInitFailed      = errors.New("yubikey initialization failed")
	ErrDeviceBusy      = errors.New("an operation is already running on this yubikey")
	ErrPtyOperation    = errors.New("PTY operation failed")
	ErrPluginNotFound  = errors.New("plugin binary not found")
	ErrPluginExecution = errors.New("plugin execution failed")
)

// CryptoError represents an error during cryptographic operations.
// It wraps the underlying error with operation context.
type CryptoError struct {
	Op  string // Operation name: "keygen", "encrypt", "decrypt", "wrap", "unwrap"
	Err error  // Underlying error
}

func (e *CryptoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crypto %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("crypto %s failed", e.Op)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// NewCryptoError creates a new CryptoError.
func NewCryptoError(op string, err error) *CryptoError {
	return &CryptoError{Op: op, Err: err}
}

// FileError represents an error during file operations.
type FileError struct {
	Op   string // Operation: "open", "read", "write", "stat", "create", "rename"
	Path string // File path
	Err  error  // Underlying error
}

func (e *FileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s failed", e.Op, e.Path)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// NewFileError creates a new FileError.
func NewFileError(op, path string, err error) *FileError {
	return &FileError{Op: op, Path: path, Err: err}
}

// ValidationError represents an input validation error.
type ValidationError struct {
	Field   string // Field name that failed validation
	Message string // Human-readable error message
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// PinRequiredError indicates a PIN is required, optionally carrying the number
// of attempts the device reports as remaining before the PIN blocks.
type PinRequiredError struct {
	AttemptsRemaining int // -1 if the device did not report a count
}

func (e *PinRequiredError) Error() string {
	if e.AttemptsRemaining >= 0 {
		return fmt.Sprintf("PIN required (%d attempts remaining)", e.AttemptsRemaining)
	}
	return "PIN required"
}

// NewPinRequiredError creates a PinRequiredError.
func NewPinRequiredError(attempts int) *PinRequiredError {
	return &PinRequiredError{AttemptsRemaining: attempts}
}

// Is checks if target matches any of our sentinel errors.
// This is a convenience function for common error checks.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// New returns an error with the given text.
func New(text string) error {
	return errors.New(text)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsCancelled checks if the error indicates a cancelled operation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsWrongPassphrase checks if the error indicates a rejected passphrase.
func IsWrongPassphrase(err error) bool {
	return errors.Is(err, ErrWrongPassphrase)
}

// IsNotFound checks if the error indicates a missing key, vault, file, or device.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound) ||
		errors.Is(err, ErrVaultNotFound) ||
		errors.Is(err, ErrFileNotFound) ||
		errors.Is(err, ErrOperationNotFound) ||
		errors.Is(err, ErrDeviceNotFound)
}
