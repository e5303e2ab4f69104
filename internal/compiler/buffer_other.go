//go:build !linux

package compiler

import (
	"os"
)

// newTransferBuffer falls back to a temp file that is unlinked right away
// where the platform allows it.
func newTransferBuffer() (*transferBuffer, error) {
	f, err := os.CreateTemp("", "seccompiler-bpf-*")
	if err != nil {
		return nil, wrapf(ErrBufferCreate, err)
	}
	name := f.Name()
	if os.Remove(name) == nil {
		return &transferBuffer{file: f}, nil
	}
	return &transferBuffer{file: f, cleanup: func() { _ = os.Remove(name) }}, nil
}
