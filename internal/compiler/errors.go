package compiler

import (
	"errors"
	"fmt"

	"seccompiler/pkg/artifact"
	"seccompiler/pkg/seccomp"
)

// Sentinel errors for typed error checking.
var (
	ErrBackendInit    = errors.New("cannot create filter context")
	ErrBackendArch    = errors.New("cannot add target architecture to filter")
	ErrUnknownSyscall = errors.New("unknown syscall for target architecture")
	ErrRuleAdd        = errors.New("cannot add rule to filter")
	ErrExport         = errors.New("cannot export BPF program")
	ErrBufferCreate   = errors.New("cannot create transfer buffer")
	ErrBufferRewind   = errors.New("cannot rewind transfer buffer")
	ErrBufferRead     = errors.New("cannot read transfer buffer")
)

// CompileError wraps errors with the group and syscall being compiled.
type CompileError struct {
	Op      string // The pipeline stage that failed
	Group   string
	Syscall string
	Err     error
}

func (e *CompileError) Error() string {
	switch {
	case e.Group != "" && e.Syscall != "":
		return fmt.Sprintf("group %q: syscall %q: %s: %s", e.Group, e.Syscall, e.Op, e.Err)
	case e.Group != "":
		return fmt.Sprintf("group %q: %s: %s", e.Group, e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Err)
	}
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// errorKinds is ordered from pipeline stage to cause: a stage sentinel wins
// over a seccomp sentinel it wraps.
var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrBackendInit, "backend_init"},
	{ErrBackendArch, "backend_arch"},
	{ErrUnknownSyscall, "unknown_syscall"},
	{ErrRuleAdd, "rule_add"},
	{ErrExport, "export"},
	{ErrBufferCreate, "buffer_create"},
	{ErrBufferRewind, "buffer_rewind"},
	{ErrBufferRead, "buffer_read"},
	{artifact.ErrOutputCreate, "output_create"},
	{artifact.ErrSerialize, "serialize"},
	{seccomp.ErrInputOpen, "input_open"},
	{seccomp.ErrInputRead, "input_read"},
	{seccomp.ErrMalformedInput, "malformed_input"},
	{seccomp.ErrUnsupportedArch, "unsupported_arch"},
}

// ErrorKind maps err to a stable label for metrics and the audit trail.
// It returns "" for nil and "unknown" for errors outside the pipeline.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "unknown"
}

// IsUnknownSyscall returns true if a syscall name failed to resolve.
func IsUnknownSyscall(err error) bool {
	return errors.Is(err, ErrUnknownSyscall)
}

// IsOutputError returns true if the artifact could not be written.
func IsOutputError(err error) bool {
	return errors.Is(err, artifact.ErrOutputCreate) || errors.Is(err, artifact.ErrSerialize)
}

// wrapf tags cause with a sentinel while keeping it reachable through
// errors.Is and errors.As.
func wrapf(sentinel, cause error) error {
	return fmt.Errorf("%w: %w", sentinel, cause)
}
