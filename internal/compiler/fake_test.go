package compiler

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"seccompiler/pkg/seccomp"
)

var fakeTables = map[seccomp.TargetArch]map[string]int32{
	seccomp.ArchX86_64: {
		"read": 0, "write": 1, "open": 2, "close": 3, "socket": 41, "exit_group": 231,
	},
	seccomp.ArchAarch64: {
		"read": 63, "write": 64, "close": 57, "socket": 198, "exit_group": 94,
	},
}

type ruleCall struct {
	action seccomp.Action
	nr     int32
	conds  []seccomp.ArgumentCondition
}

// fakeBackend records every call and exports a program that encodes the
// filter contents one word per fact, so equal inputs give equal programs.
type fakeBackend struct {
	filters []*fakeFilter

	newFilterErr error
	archErr      error
	ruleErr      error
	exportErr    error
	exportJunk   int // extra bytes appended after the program
}

func (b *fakeBackend) NewFilter(def seccomp.Action) (seccomp.Filter, error) {
	if b.newFilterErr != nil {
		return nil, b.newFilterErr
	}
	f := &fakeFilter{backend: b, def: def}
	b.filters = append(b.filters, f)
	return f, nil
}

func (b *fakeBackend) ResolveSyscall(name string, arch seccomp.TargetArch) (int32, error) {
	nr, ok := fakeTables[arch][name]
	if !ok {
		return 0, fmt.Errorf("no syscall %q on %s", name, arch)
	}
	return nr, nil
}

func (b *fakeBackend) released() int {
	n := 0
	for _, f := range b.filters {
		n += f.releases
	}
	return n
}

type fakeFilter struct {
	backend  *fakeBackend
	def      seccomp.Action
	arches   []seccomp.TargetArch
	rules    []ruleCall
	releases int
}

func (f *fakeFilter) AddArch(arch seccomp.TargetArch) error {
	if f.backend.archErr != nil {
		return f.backend.archErr
	}
	for _, a := range f.arches {
		if a == arch {
			return seccomp.ErrArchPresent
		}
	}
	f.arches = append(f.arches, arch)
	return nil
}

func (f *fakeFilter) AddRule(action seccomp.Action, nr int32, conds []seccomp.ArgumentCondition) error {
	if f.backend.ruleErr != nil {
		return f.backend.ruleErr
	}
	f.rules = append(f.rules, ruleCall{action: action, nr: nr, conds: append([]seccomp.ArgumentCondition(nil), conds...)})
	return nil
}

func (f *fakeFilter) ExportBPF(out *os.File) error {
	if f.backend.exportErr != nil {
		return f.backend.exportErr
	}
	words := []uint64{actionWord(f.def)}
	for _, a := range f.arches {
		words = append(words, uint64(a.AuditArch()))
	}
	for _, r := range f.rules {
		words = append(words, uint64(uint32(r.nr)), actionWord(r.action), uint64(len(r.conds)))
		for _, c := range r.conds {
			words = append(words, uint64(c.Index)<<56|uint64(c.Op)<<48, c.Value, c.Mask)
		}
	}
	buf := make([]byte, 0, 8*len(words)+f.backend.exportJunk)
	for _, w := range words {
		buf = binary.NativeEndian.AppendUint64(buf, w)
	}
	buf = append(buf, make([]byte, f.backend.exportJunk)...)
	_, err := out.Write(buf)
	return err
}

func (f *fakeFilter) Release() {
	f.releases++
}

func actionWord(a seccomp.Action) uint64 {
	return uint64(a.Kind)<<32 | uint64(a.Value)
}

var errBackend = errors.New("backend failure")
