package seccomp

import (
	"fmt"
	"strings"
)

// TargetArch is a CPU architecture a filter program can be compiled for.
type TargetArch uint8

const (
	ArchX86_64 TargetArch = iota + 1
	ArchAarch64
)

// AUDIT_ARCH_* values from <linux/audit.h>. The kernel stores them in
// seccomp_data.arch.
const (
	auditArchX86_64  uint32 = 0xc000003e
	auditArchAarch64 uint32 = 0xc00000b7
)

// ParseArch resolves an architecture token such as "x86_64" or "aarch64".
// Matching is case-insensitive. Anything outside the supported set is an
// error, never a default.
func ParseArch(token string) (TargetArch, error) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "x86_64":
		return ArchX86_64, nil
	case "aarch64":
		return ArchAarch64, nil
	default:
		return 0, fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedArch, token, strings.Join(SupportedArches(), ", "))
	}
}

// SupportedArches lists the accepted architecture tokens.
func SupportedArches() []string {
	return []string{ArchX86_64.String(), ArchAarch64.String()}
}

func (a TargetArch) String() string {
	switch a {
	case ArchX86_64:
		return "x86_64"
	case ArchAarch64:
		return "aarch64"
	default:
		return "unknown"
	}
}

// AuditArch returns the AUDIT_ARCH_* constant for the architecture.
func (a TargetArch) AuditArch() uint32 {
	switch a {
	case ArchX86_64:
		return auditArchX86_64
	case ArchAarch64:
		return auditArchAarch64
	default:
		return 0
	}
}
