//go:build linux && cgo && seccomp

// Package libseccomp implements seccomp.Backend on top of libseccomp.
package libseccomp

import (
	"fmt"
	"os"

	libseccomp "github.com/seccomp/libseccomp-golang"

	"seccompiler/pkg/seccomp"
)

// Backend hands out libseccomp filter contexts.
type Backend struct{}

// New returns the libseccomp backend.
func New() (*Backend, error) {
	if _, err := libseccomp.GetAPI(); err != nil {
		return nil, fmt.Errorf("libseccomp unavailable: %w", err)
	}
	return &Backend{}, nil
}

// Version reports the linked libseccomp version.
func Version() string {
	major, minor, micro := libseccomp.GetLibraryVersion()
	return fmt.Sprintf("%d.%d.%d", major, minor, micro)
}

func (b *Backend) NewFilter(def seccomp.Action) (seccomp.Filter, error) {
	act, err := toScmpAction(def)
	if err != nil {
		return nil, err
	}
	f, err := libseccomp.NewFilter(act)
	if err != nil {
		return nil, err
	}
	return &filter{inner: f}, nil
}

// ResolveSyscall checks that name exists on arch and returns its number in
// libseccomp's native numbering, which is what rule insertion expects when a
// filter spans several architectures.
func (b *Backend) ResolveSyscall(name string, arch seccomp.TargetArch) (int32, error) {
	scmpArch, err := toScmpArch(arch)
	if err != nil {
		return 0, err
	}
	if _, err := libseccomp.GetSyscallFromNameByArch(name, scmpArch); err != nil {
		return 0, fmt.Errorf("syscall %q not defined on %s: %w", name, arch, err)
	}
	nr, err := libseccomp.GetSyscallFromName(name)
	if err != nil {
		return 0, err
	}
	return int32(nr), nil
}

type filter struct {
	inner *libseccomp.ScmpFilter
}

// AddArch maps libseccomp's silent EEXIST handling back onto
// seccomp.ErrArchPresent.
func (f *filter) AddArch(arch seccomp.TargetArch) error {
	scmpArch, err := toScmpArch(arch)
	if err != nil {
		return err
	}
	present, err := f.inner.IsArchPresent(scmpArch)
	if err != nil {
		return err
	}
	if present {
		return seccomp.ErrArchPresent
	}
	return f.inner.AddArch(scmpArch)
}

func (f *filter) AddRule(action seccomp.Action, nr int32, conds []seccomp.ArgumentCondition) error {
	act, err := toScmpAction(action)
	if err != nil {
		return err
	}
	call := libseccomp.ScmpSyscall(nr)
	if len(conds) == 0 {
		return f.inner.AddRule(call, act)
	}

	scmpConds := make([]libseccomp.ScmpCondition, 0, len(conds))
	for _, c := range conds {
		sc, err := toScmpCondition(c)
		if err != nil {
			return err
		}
		scmpConds = append(scmpConds, sc)
	}
	// One call so libseccomp ANDs the comparators into a single rule.
	return f.inner.AddRuleConditional(call, act, scmpConds)
}

func (f *filter) ExportBPF(out *os.File) error {
	return f.inner.ExportBPF(out)
}

func (f *filter) Release() {
	f.inner.Release()
}

func toScmpArch(arch seccomp.TargetArch) (libseccomp.ScmpArch, error) {
	switch arch {
	case seccomp.ArchX86_64:
		return libseccomp.ArchAMD64, nil
	case seccomp.ArchAarch64:
		return libseccomp.ArchARM64, nil
	default:
		return libseccomp.ArchInvalid, fmt.Errorf("%w: %s", seccomp.ErrUnsupportedArch, arch)
	}
}

func toScmpAction(a seccomp.Action) (libseccomp.ScmpAction, error) {
	switch a.Kind {
	case seccomp.ActAllow:
		return libseccomp.ActAllow, nil
	case seccomp.ActKillProcess:
		return libseccomp.ActKillProcess, nil
	case seccomp.ActKillThread:
		return libseccomp.ActKillThread, nil
	case seccomp.ActTrap:
		return libseccomp.ActTrap, nil
	case seccomp.ActErrno:
		return libseccomp.ActErrno.SetReturnCode(int16(a.Value)), nil
	case seccomp.ActTrace:
		return libseccomp.ActTrace.SetReturnCode(int16(a.Value)), nil
	case seccomp.ActLog:
		return libseccomp.ActLog, nil
	case seccomp.ActNotify:
		return libseccomp.ActNotify, nil
	default:
		return libseccomp.ActInvalid, fmt.Errorf("unknown action kind %d", a.Kind)
	}
}

// toScmpCondition passes masked_eq operands as (mask, value), matching
// libseccomp's datum_a/datum_b order.
func toScmpCondition(c seccomp.ArgumentCondition) (libseccomp.ScmpCondition, error) {
	var op libseccomp.ScmpCompareOp
	switch c.Op {
	case seccomp.OpEqual:
		op = libseccomp.CompareEqual
	case seccomp.OpNotEqual:
		op = libseccomp.CompareNotEqual
	case seccomp.OpGreaterThan:
		op = libseccomp.CompareGreater
	case seccomp.OpGreaterEqual:
		op = libseccomp.CompareGreaterEqual
	case seccomp.OpLessThan:
		op = libseccomp.CompareLess
	case seccomp.OpLessEqual:
		op = libseccomp.CompareLessOrEqual
	case seccomp.OpMaskedEqual:
		return libseccomp.MakeCondition(uint(c.Index), libseccomp.CompareMaskedEqual, c.Mask, c.Value)
	default:
		return libseccomp.ScmpCondition{}, fmt.Errorf("unknown operator %d", c.Op)
	}
	return libseccomp.MakeCondition(uint(c.Index), op, c.Value)
}
