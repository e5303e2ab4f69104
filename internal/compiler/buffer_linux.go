//go:build linux

package compiler

import (
	"os"

	"golang.org/x/sys/unix"
)

func newTransferBuffer() (*transferBuffer, error) {
	fd, err := unix.MemfdCreate("seccompiler-bpf", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, wrapf(ErrBufferCreate, err)
	}
	return &transferBuffer{file: os.NewFile(uintptr(fd), "memfd:seccompiler-bpf")}, nil
}
