// Package errs defines the structured error taxonomy that crosses the
// install() boundary: every failure carries a Step and, where relevant,
// a device path, so a caller can report "what stage, what device, what
// kind of failure" without parsing message text.
package errs

import (
	"errors"
	"fmt"

	"github.com/frostyard/dinst/pkg/types"
)

// Kind enumerates the error taxonomy.
type Kind string

const (
	KindIO                       Kind = "IoError"
	KindInvalidInput             Kind = "InvalidInput"
	KindOverlappingPartition     Kind = "OverlappingPartition"
	KindTooSmall                 Kind = "TooSmall"
	KindTableMismatch            Kind = "TableMismatch"
	KindPartitionNotFound        Kind = "PartitionNotFound"
	KindUnsupportedFsResize      Kind = "UnsupportedFsResize"
	KindEncryptionKeyMissing     Kind = "EncryptionKeyMissing"
	KindKeyfileTargetMissing     Kind = "KeyfileTargetMissing"
	KindDecryptFailure           Kind = "DecryptFailure"
	KindVgNotFound               Kind = "VgNotFound"
	KindBootloaderRequirementUnmet Kind = "BootloaderRequirementUnmet"
	KindLayoutChanged            Kind = "LayoutChanged"
	KindExternalToolFailure      Kind = "ExternalToolFailure"
	KindMountFailure             Kind = "MountFailure"
	KindUnmountFailure           Kind = "UnmountFailure"
)

// InstallError is the single error type returned by every operation that
// can fail in a way the executor or CLI needs to report structurally.
type InstallError struct {
	Step   types.Step
	Kind   Kind
	Device string

	// Tool-failure detail, populated only for KindExternalToolFailure.
	Tool     string
	ExitCode int
	Stderr   string

	Err error
}

func (e *InstallError) Error() string {
	switch {
	case e.Kind == KindExternalToolFailure:
		return fmt.Sprintf("%s: %s: tool %q exited %d: %s", e.Step, e.Kind, e.Tool, e.ExitCode, e.Stderr)
	case e.Device != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %s: %v", e.Step, e.Kind, e.Device, e.Err)
	case e.Device != "":
		return fmt.Sprintf("%s: %s: %s", e.Step, e.Kind, e.Device)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Step, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Step, e.Kind)
	}
}

func (e *InstallError) Unwrap() error { return e.Err }

// New builds an InstallError with no wrapped cause.
func New(step types.Step, kind Kind, device string) *InstallError {
	return &InstallError{Step: step, Kind: kind, Device: device}
}

// Wrap builds an InstallError that wraps an existing error.
func Wrap(step types.Step, kind Kind, device string, err error) *InstallError {
	return &InstallError{Step: step, Kind: kind, Device: device, Err: err}
}

// ToolFailure builds the ExternalToolFailure(tool, exit_code, stderr) variant.
func ToolFailure(step types.Step, tool string, exitCode int, stderr string) *InstallError {
	return &InstallError{
		Step:     step,
		Kind:     KindExternalToolFailure,
		Tool:     tool,
		ExitCode: exitCode,
		Stderr:   stderr,
		Err:      fmt.Errorf("%s exited with status %d", tool, exitCode),
	}
}

// As is a thin convenience wrapper over errors.As for *InstallError.
func As(err error) (*InstallError, bool) {
	var ie *InstallError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is (or wraps) an *InstallError.
func KindOf(err error) (Kind, bool) {
	ie, ok := As(err)
	if !ok {
		return "", false
	}
	return ie.Kind, true
}
