package errors

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Code enumerates the unified error codes surfaced across the service boundary.
type Code string

const (
	// Validation
	CodeInvalidInput     Code = "INVALID_INPUT"
	CodeMissingParameter Code = "MISSING_PARAMETER"
	CodeInvalidPath      Code = "INVALID_PATH"
	CodeInvalidLabel     Code = "INVALID_LABEL"
	CodeWeakPassphrase   Code = "WEAK_PASSPHRASE"
	CodeTooManyFiles     Code = "TOO_MANY_FILES"
	CodeFileTooLarge     Code = "FILE_TOO_LARGE"

	// Permission
	CodeReadOnlyFilesystem      Code = "READ_ONLY_FILESYSTEM"
	CodeInsufficientPermissions Code = "INSUFFICIENT_PERMISSIONS"
	CodePathNotAllowed          Code = "PATH_NOT_ALLOWED"

	// Not found
	CodeKeyNotFound       Code = "KEY_NOT_FOUND"
	CodeFileNotFound      Code = "FILE_NOT_FOUND"
	CodeDirectoryNotFound Code = "DIRECTORY_NOT_FOUND"
	CodeVaultNotFound     Code = "VAULT_NOT_FOUND"
	CodeOperationNotFound Code = "OPERATION_NOT_FOUND"

	// Operation
	CodeEncryptionFailed    Code = "ENCRYPTION_FAILED"
	CodeDecryptionFailed    Code = "DECRYPTION_FAILED"
	CodeStorageFailed       Code = "STORAGE_FAILED"
	CodeArchiveCorrupted    Code = "ARCHIVE_CORRUPTED"
	CodeManifestInvalid     Code = "MANIFEST_INVALID"
	CodeIntegrityFailed     Code = "INTEGRITY_CHECK_FAILED"
	CodeOperationInProgress Code = "OPERATION_IN_PROGRESS"
	CodePathValidationFailed Code = "PATH_VALIDATION_FAILED"

	// Resource
	CodeDiskSpace  Code = "INSUFFICIENT_DISK_SPACE"
	CodeFilesystem Code = "FILESYSTEM_ERROR"

	// Security
	CodeInvalidKey      Code = "INVALID_KEY"
	CodeWrongPassphrase Code = "WRONG_PASSPHRASE"
	CodeTamperedData    Code = "TAMPERED_DATA"
	CodeInvalidKeyState Code = "INVALID_KEY_STATE"

	// Hardware (YubiKey)
	CodeYubiKeyNotFound  Code = "YUBIKEY_NOT_FOUND"
	CodePinRequired      Code = "PIN_REQUIRED"
	CodePinBlocked       Code = "PIN_BLOCKED"
	CodeTouchRequired    Code = "TOUCH_REQUIRED"
	CodeTouchTimeout     Code = "TOUCH_TIMEOUT"
	CodeWrongYubiKey     Code = "WRONG_YUBIKEY"
	CodeSlotInUse        Code = "SLOT_IN_USE"
	CodeInitFailed       Code = "YUBIKEY_INIT_FAILED"
	CodeCommunication    Code = "YUBIKEY_COMMUNICATION_ERROR"
	CodeSerialRequired   Code = "SERIAL_REQUIRED"
	CodeInvalidSerial    Code = "INVALID_SERIAL"
	CodePtyOperation     Code = "PTY_OPERATION_FAILED"

	// Plugin
	CodePluginNotFound  Code = "PLUGIN_NOT_FOUND"
	CodePluginExecution Code = "PLUGIN_EXECUTION_FAILED"

	// Internal
	CodeUnexpected    Code = "UNEXPECTED_ERROR"
	CodeConfiguration Code = "CONFIGURATION_ERROR"
)

// CommandError is the unified error surfaced across the service boundary.
// Messages never contain secrets or absolute filesystem paths that reveal
// user identity. Errors are cheaply cloneable.
type CommandError struct {
	Code             Code   `json:"code"`
	Message          string `json:"message"`
	Details          string `json:"details,omitempty"`
	RecoveryGuidance string `json:"recovery_guidance,omitempty"`
	UserActionable   bool   `json:"user_actionable"`
	TraceID          string `json:"trace_id,omitempty"`

	cause error
}

func (e *CommandError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CommandError) Unwrap() error {
	return e.cause
}

// Clone returns a copy of the error. The cause chain is shared, which is safe
// because wrapped errors are immutable.
func (e *CommandError) Clone() *CommandError {
	clone := *e
	return &clone
}

// WithDetails returns a copy carrying extra detail text.
func (e *CommandError) WithDetails(details string) *CommandError {
	clone := e.Clone()
	clone.Details = details
	return clone
}

// WithGuidance returns a copy carrying user-facing recovery guidance.
func (e *CommandError) WithGuidance(guidance string) *CommandError {
	clone := e.Clone()
	clone.RecoveryGuidance = guidance
	clone.UserActionable = true
	return clone
}

// NewCommandError creates a CommandError with the given code and message.
func NewCommandError(code Code, message string) *CommandError {
	return &CommandError{Code: code, Message: message}
}

// Internal creates an internal CommandError with a fresh trace id. Use for
// invariant violations; the message shown to the user stays generic.
func Internal(cause error) *CommandError {
	return &CommandError{
		Code:    CodeUnexpected,
		Message: "an unexpected error occurred",
		TraceID: uuid.NewString(),
		cause:   cause,
	}
}

// redactPath reduces a filesystem path to its base name so user-identifying
// directory components never cross the host boundary.
func redactPath(path string) string {
	if path == "" {
		return ""
	}
	parts := strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' })
	if len(parts) == 0 {
		return path
	}
	return parts[len(parts)-1]
}

// ToCommand maps a typed error into the unified CommandError. Already-mapped
// errors pass through unchanged.
func ToCommand(err error) *CommandError {
	if err == nil {
		return nil
	}

	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr
	}

	ce := &CommandError{Message: err.Error(), cause: err}

	var pinErr *PinRequiredError
	var fileErr *FileError
	var valErr *ValidationError

	switch {
	case errors.As(err, &pinErr):
		ce.Code = CodePinRequired
		ce.Message = pinErr.Error()
		ce.UserActionable = true
		ce.RecoveryGuidance = "Enter the PIN for this YubiKey"
	case errors.Is(err, ErrCancelled):
		ce.Code = CodeUnexpected
		ce.Message = "operation cancelled"
	case errors.Is(err, ErrOperationInProgress):
		ce.Code = CodeOperationInProgress
		ce.UserActionable = true
		ce.RecoveryGuidance = "Wait for the current encryption to finish, then retry"
	case errors.Is(err, ErrWrongPassphrase):
		ce.Code = CodeWrongPassphrase
		ce.Message = "the passphrase could not unlock this key"
		ce.UserActionable = true
		ce.RecoveryGuidance = "Check the passphrase and try again"
	case errors.Is(err, ErrWeakPassphrase):
		ce.Code = CodeWeakPassphrase
		ce.UserActionable = true
		ce.RecoveryGuidance = "Use a longer passphrase mixing several character classes"
	case errors.Is(err, ErrInvalidLabel):
		ce.Code = CodeInvalidLabel
		ce.UserActionable = true
	case errors.Is(err, ErrTooManyFiles):
		ce.Code = CodeTooManyFiles
		ce.UserActionable = true
	case errors.Is(err, ErrFileTooLarge), errors.Is(err, ErrSelectionTooBig):
		ce.Code = CodeFileTooLarge
		ce.UserActionable = true
	case errors.Is(err, ErrInvalidRecipient):
		ce.Code = CodeInvalidKey
	case errors.Is(err, ErrPathValidation), errors.Is(err, ErrSymlinkInInput):
		ce.Code = CodePathValidationFailed
	case errors.Is(err, ErrKeyNotFound):
		ce.Code = CodeKeyNotFound
		ce.UserActionable = true
	case errors.Is(err, ErrVaultNotFound):
		ce.Code = CodeVaultNotFound
		ce.UserActionable = true
	case errors.Is(err, ErrFileNotFound):
		ce.Code = CodeFileNotFound
		ce.UserActionable = true
	case errors.Is(err, ErrOperationNotFound):
		ce.Code = CodeOperationNotFound
	case errors.Is(err, ErrInvalidKeyState), errors.Is(err, ErrGraceWindowExpired):
		ce.Code = CodeInvalidKeyState
		ce.UserActionable = true
	case errors.Is(err, ErrArchiveCorrupted):
		ce.Code = CodeArchiveCorrupted
	case errors.Is(err, ErrManifestInvalid):
		ce.Code = CodeManifestInvalid
	case errors.Is(err, ErrIntegrityCheck), errors.Is(err, ErrTamperedData):
		ce.Code = CodeTamperedData
	case errors.Is(err, ErrSerialRequired):
		ce.Code = CodeSerialRequired
		ce.UserActionable = true
	case errors.Is(err, ErrInvalidSerial):
		ce.Code = CodeInvalidSerial
		ce.UserActionable = true
	case errors.Is(err, ErrDeviceNotFound):
		ce.Code = CodeYubiKeyNotFound
		ce.UserActionable = true
		ce.RecoveryGuidance = "Insert the YubiKey and try again"
	case errors.Is(err, ErrPinBlocked):
		ce.Code = CodePinBlocked
		ce.UserActionable = true
		ce.RecoveryGuidance = "The PIN is blocked; recover the device with its PUK or reset"
	case errors.Is(err, ErrTouchTimeout):
		ce.Code = CodeTouchTimeout
		ce.UserActionable = true
		ce.RecoveryGuidance = "Touch the YubiKey when it blinks, then retry"
	case errors.Is(err, ErrWrongDevice):
		ce.Code = CodeWrongYubiKey
		ce.UserActionable = true
		ce.RecoveryGuidance = "Insert the YubiKey registered for this vault"
	case errors.Is(err, ErrSlotInUse):
		ce.Code = CodeSlotInUse
		ce.UserActionable = true
	case errors.Is(err, ErrInitFailed):
		ce.Code = CodeInitFailed
	case errors.Is(err, ErrDeviceBusy):
		ce.Code = CodeCommunication
		ce.UserActionable = true
		ce.RecoveryGuidance = "Wait for the current YubiKey operation to finish"
	case errors.Is(err, ErrPtyOperation):
		ce.Code = CodePtyOperation
	case errors.Is(err, ErrPluginNotFound):
		ce.Code = CodePluginNotFound
		ce.UserActionable = true
		ce.RecoveryGuidance = "Reinstall the application to restore bundled plugins"
	case errors.Is(err, ErrPluginExecution):
		ce.Code = CodePluginExecution
	case errors.Is(err, ErrEncryptionFailed):
		ce.Code = CodeEncryptionFailed
	case errors.Is(err, ErrDecryptionFailed):
		ce.Code = CodeDecryptionFailed
	case errors.Is(err, ErrStorageFailed):
		ce.Code = CodeStorageFailed
	case errors.As(err, &valErr):
		ce.Code = CodeInvalidInput
		ce.Message = valErr.Error()
		ce.UserActionable = true
	case errors.As(err, &fileErr):
		ce.Code = CodeFilesystem
		ce.Message = fmt.Sprintf("%s %s failed", fileErr.Op, redactPath(fileErr.Path))
		if os.IsPermission(fileErr.Err) {
			ce.Code = CodeInsufficientPermissions
			ce.UserActionable = true
			ce.RecoveryGuidance = "Check file permissions and try again"
		}
		if os.IsNotExist(fileErr.Err) {
			ce.Code = CodeFileNotFound
			ce.UserActionable = true
		}
	default:
		return Internal(err)
	}

	return ce
}
