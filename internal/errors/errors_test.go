package errors

import (
	stderrors "errors"
	"fmt"
	"os"
	"strings"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", ErrWrongPassphrase)
	if !Is(wrapped, ErrWrongPassphrase) {
		t.Error("wrapped ErrWrongPassphrase should match with Is")
	}
	if !IsWrongPassphrase(wrapped) {
		t.Error("IsWrongPassphrase should match wrapped error")
	}
	if IsWrongPassphrase(ErrCancelled) {
		t.Error("IsWrongPassphrase should not match ErrCancelled")
	}
}

func TestCryptoError(t *testing.T) {
	inner := stderrors.New("bad key length")
	err := NewCryptoError("unwrap", inner)

	if got := err.Error(); got != "crypto unwrap: bad key length" {
		t.Errorf("Error() = %q", got)
	}
	if !stderrors.Is(err, inner) {
		t.Error("CryptoError should unwrap to inner error")
	}
}

func TestFileError(t *testing.T) {
	inner := os.ErrPermission
	err := NewFileError("open", "/tmp/x", inner)
	if !stderrors.Is(err, os.ErrPermission) {
		t.Error("FileError should unwrap to os.ErrPermission")
	}
}

func TestPinRequiredError(t *testing.T) {
	err := NewPinRequiredError(2)
	if got := err.Error(); got != "PIN required (2 attempts remaining)" {
		t.Errorf("Error() = %q", got)
	}

	unknown := NewPinRequiredError(-1)
	if got := unknown.Error(); got != "PIN required" {
		t.Errorf("Error() = %q", got)
	}
}

func TestIsNotFound(t *testing.T) {
	for _, err := range []error{ErrKeyNotFound, ErrVaultNotFound, ErrFileNotFound, ErrDeviceNotFound} {
		if !IsNotFound(fmt.Errorf("wrap: %w", err)) {
			t.Errorf("IsNotFound(%v) = false; want true", err)
		}
	}
	if IsNotFound(ErrCancelled) {
		t.Error("IsNotFound(ErrCancelled) = true; want false")
	}
}

func TestToCommandMapping(t *testing.T) {
	tests := []struct {
		err  error
		code Code
	}{
		{ErrWrongPassphrase, CodeWrongPassphrase},
		{ErrOperationInProgress, CodeOperationInProgress},
		{ErrKeyNotFound, CodeKeyNotFound},
		{ErrVaultNotFound, CodeVaultNotFound},
		{ErrPathValidation, CodePathValidationFailed},
		{ErrTouchTimeout, CodeTouchTimeout},
		{ErrPinBlocked, CodePinBlocked},
		{ErrSerialRequired, CodeSerialRequired},
		{ErrInvalidSerial, CodeInvalidSerial},
		{ErrPluginNotFound, CodePluginNotFound},
		{ErrInvalidKeyState, CodeInvalidKeyState},
		{fmt.Errorf("wrap: %w", ErrWrongDevice), CodeWrongYubiKey},
	}

	for _, tt := range tests {
		ce := ToCommand(tt.err)
		if ce.Code != tt.code {
			t.Errorf("ToCommand(%v).Code = %s; want %s", tt.err, ce.Code, tt.code)
		}
	}
}

func TestToCommandPinRequired(t *testing.T) {
	ce := ToCommand(fmt.Errorf("decrypt: %w", NewPinRequiredError(3)))
	if ce.Code != CodePinRequired {
		t.Fatalf("Code = %s; want %s", ce.Code, CodePinRequired)
	}
	if !ce.UserActionable {
		t.Error("PIN required should be user actionable")
	}
}

func TestToCommandInternal(t *testing.T) {
	ce := ToCommand(stderrors.New("some invariant broke"))
	if ce.Code != CodeUnexpected {
		t.Fatalf("Code = %s; want %s", ce.Code, CodeUnexpected)
	}
	if ce.TraceID == "" {
		t.Error("internal errors must carry a trace id")
	}
	if ce.Message == "some invariant broke" {
		t.Error("internal errors must not leak the raw message")
	}
}

func TestToCommandRedactsPaths(t *testing.T) {
	err := NewFileError("open", "/home/alice/secret-dir/file.txt", os.ErrPermission)
	ce := ToCommand(err)
	if ce.Code != CodeInsufficientPermissions {
		t.Fatalf("Code = %s; want %s", ce.Code, CodeInsufficientPermissions)
	}
	for _, leak := range []string{"alice", "/home", "secret-dir"} {
		if strings.Contains(ce.Message, leak) {
			t.Errorf("message %q leaks %q", ce.Message, leak)
		}
	}
}

func TestToCommandPassthrough(t *testing.T) {
	orig := NewCommandError(CodeVaultNotFound, "no such vault")
	ce := ToCommand(fmt.Errorf("outer: %w", orig))
	if ce != orig {
		t.Error("already-mapped CommandError should pass through unchanged")
	}
}

func TestCommandErrorClone(t *testing.T) {
	orig := NewCommandError(CodeKeyNotFound, "missing").WithGuidance("create a key first")
	clone := orig.Clone()
	clone.Message = "changed"
	if orig.Message == "changed" {
		t.Error("Clone must not share mutable state")
	}
	if !orig.UserActionable {
		t.Error("WithGuidance should mark the error user actionable")
	}
}

