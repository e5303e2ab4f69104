package compiler

import (
	"io"
	"os"

	"seccompiler/pkg/seccomp"
)

// transferBuffer is an anonymous in-memory file the backend exports a
// program into. One buffer serves exactly one group.
type transferBuffer struct {
	file    *os.File
	cleanup func()
}

// File is the descriptor handed to Filter.ExportBPF.
func (b *transferBuffer) File() *os.File {
	return b.file
}

// ReadProgram rewinds the buffer and decodes everything the backend wrote.
// A trailing partial instruction is dropped.
func (b *transferBuffer) ReadProgram() (seccomp.Program, error) {
	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, wrapf(ErrBufferRewind, err)
	}
	info, err := b.file.Stat()
	if err != nil {
		return nil, wrapf(ErrBufferRead, err)
	}

	words := info.Size() / seccomp.InstructionSize
	buf := make([]byte, words*seccomp.InstructionSize)
	if _, err := io.ReadFull(b.file, buf); err != nil {
		return nil, wrapf(ErrBufferRead, err)
	}
	return seccomp.ProgramFromBytes(buf), nil
}

func (b *transferBuffer) Close() error {
	err := b.file.Close()
	if b.cleanup != nil {
		b.cleanup()
	}
	return err
}
