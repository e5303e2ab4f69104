package seccomp

import "os"

// Backend is a filter-compilation facility, e.g. libseccomp. It hands out one
// independent Filter per policy group and resolves syscall names.
type Backend interface {
	// NewFilter creates an empty filter whose default disposition is def.
	NewFilter(def Action) (Filter, error)

	// ResolveSyscall maps a syscall name to the number the backend expects in
	// Filter.AddRule. The name must exist on arch.
	ResolveSyscall(name string, arch TargetArch) (int32, error)
}

// Filter is a single backend filter context. A Filter is not safe for
// concurrent use and must be released exactly once.
type Filter interface {
	// AddArch registers arch with the filter. It returns ErrArchPresent when
	// the architecture was already registered.
	AddArch(arch TargetArch) error

	// AddRule adds one rule for syscall nr. All conds must hold for the rule
	// to match; an empty conds matches on the syscall alone.
	AddRule(action Action, nr int32, conds []ArgumentCondition) error

	// ExportBPF writes the compiled program to f as raw sock_filter structs.
	ExportBPF(f *os.File) error

	Release()
}
