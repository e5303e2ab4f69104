package seccomp

import (
	"encoding/binary"

	"golang.org/x/net/bpf"
)

// InstructionSize is the size in bytes of one struct sock_filter.
const InstructionSize = 8

// Program is a compiled BPF program, one struct sock_filter per word in host
// byte order.
type Program []uint64

// ProgramFromBytes converts raw sock_filter bytes into a Program. Trailing
// bytes that do not fill a whole instruction are ignored.
func ProgramFromBytes(b []byte) Program {
	p := make(Program, len(b)/InstructionSize)
	for i := range p {
		p[i] = binary.NativeEndian.Uint64(b[i*InstructionSize:])
	}
	return p
}

// Bytes returns the program in the layout the kernel expects.
func (p Program) Bytes() []byte {
	b := make([]byte, len(p)*InstructionSize)
	for i, w := range p {
		binary.NativeEndian.PutUint64(b[i*InstructionSize:], w)
	}
	return b
}

// Instructions decodes each word into its code/jt/jf/k fields.
func (p Program) Instructions() []bpf.RawInstruction {
	b := p.Bytes()
	out := make([]bpf.RawInstruction, len(p))
	for i := range out {
		ins := b[i*InstructionSize:]
		out[i] = bpf.RawInstruction{
			Op: binary.NativeEndian.Uint16(ins[0:2]),
			Jt: ins[2],
			Jf: ins[3],
			K:  binary.NativeEndian.Uint32(ins[4:8]),
		}
	}
	return out
}

// Disassemble returns the program as x/net/bpf instructions. Opcodes the
// package does not know stay as bpf.RawInstruction.
func (p Program) Disassemble() []bpf.Instruction {
	raw := p.Instructions()
	out := make([]bpf.Instruction, len(raw))
	for i, r := range raw {
		out[i] = r.Disassemble()
	}
	return out
}
