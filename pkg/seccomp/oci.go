package seccomp

import (
	"fmt"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// OCIProfile renders the group as an OCI runtime-spec seccomp profile for
// runtimes such as runc. Consecutive unconditional rules are merged into a
// single entry; rule order is otherwise preserved.
func (g FilterGroup) OCIProfile(arch TargetArch) (*specs.LinuxSeccomp, error) {
	defAction, defErrno, err := ociAction(g.DefaultAction)
	if err != nil {
		return nil, fmt.Errorf("default_action: %w", err)
	}
	action, errnoRet, err := ociAction(g.FilterAction)
	if err != nil {
		return nil, fmt.Errorf("filter_action: %w", err)
	}

	var ociArch specs.Arch
	switch arch {
	case ArchX86_64:
		ociArch = specs.ArchX86_64
	case ArchAarch64:
		ociArch = specs.ArchAARCH64
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedArch, arch)
	}

	profile := &specs.LinuxSeccomp{
		DefaultAction:   defAction,
		DefaultErrnoRet: defErrno,
		Architectures:   []specs.Arch{ociArch},
	}

	for _, rule := range g.Rules {
		if len(rule.Args) == 0 {
			if n := len(profile.Syscalls); n > 0 && len(profile.Syscalls[n-1].Args) == 0 {
				last := &profile.Syscalls[n-1]
				last.Names = append(last.Names, rule.Syscall)
				continue
			}
			profile.Syscalls = append(profile.Syscalls, specs.LinuxSyscall{
				Names:    []string{rule.Syscall},
				Action:   action,
				ErrnoRet: errnoRet,
			})
			continue
		}

		args := make([]specs.LinuxSeccompArg, len(rule.Args))
		var seen [MaxArgIndex + 1]bool
		for i, c := range rule.Args {
			// runc ORs the conditions of an entry that names an index twice.
			if int(c.Index) < len(seen) {
				if seen[c.Index] {
					return nil, fmt.Errorf("%w: %s: conjunctive conditions on the same argument cannot be expressed in an OCI profile",
						ErrMalformedInput, rule.Syscall)
				}
				seen[c.Index] = true
			}
			args[i] = ociArg(c)
		}
		profile.Syscalls = append(profile.Syscalls, specs.LinuxSyscall{
			Names:    []string{rule.Syscall},
			Action:   action,
			ErrnoRet: errnoRet,
			Args:     args,
		})
	}
	return profile, nil
}

func ociAction(a Action) (specs.LinuxSeccompAction, *uint, error) {
	switch a.Kind {
	case ActAllow:
		return specs.ActAllow, nil, nil
	case ActKillProcess:
		return specs.ActKillProcess, nil, nil
	case ActKillThread:
		return specs.ActKillThread, nil, nil
	case ActTrap:
		return specs.ActTrap, nil, nil
	case ActErrno:
		ret := uint(a.Value)
		return specs.ActErrno, &ret, nil
	case ActTrace:
		if a.Value != 0 {
			return "", nil, fmt.Errorf("trace value %d cannot be expressed in an OCI profile", a.Value)
		}
		return specs.ActTrace, nil, nil
	case ActLog:
		return specs.ActLog, nil, nil
	case ActNotify:
		return specs.ActNotify, nil, nil
	default:
		return "", nil, fmt.Errorf("unknown action kind %d", a.Kind)
	}
}

// ociArg follows the runc convention for SCMP_CMP_MASKED_EQ: Value holds
// the mask and ValueTwo the expected result.
func ociArg(c ArgumentCondition) specs.LinuxSeccompArg {
	arg := specs.LinuxSeccompArg{Index: uint(c.Index), Value: c.Value}
	switch c.Op {
	case OpEqual:
		arg.Op = specs.OpEqualTo
	case OpNotEqual:
		arg.Op = specs.OpNotEqual
	case OpGreaterThan:
		arg.Op = specs.OpGreaterThan
	case OpGreaterEqual:
		arg.Op = specs.OpGreaterEqual
	case OpLessThan:
		arg.Op = specs.OpLessThan
	case OpLessEqual:
		arg.Op = specs.OpLessEqual
	case OpMaskedEqual:
		arg.Op = specs.OpMaskedEqual
		arg.Value = c.Mask
		arg.ValueTwo = c.Value
	}
	return arg
}
