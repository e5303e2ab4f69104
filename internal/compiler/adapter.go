package compiler

import (
	"context"
	"errors"

	"seccompiler/internal/monitor"
	"seccompiler/pkg/seccomp"
)

// GroupStats describes one compiled filter group.
type GroupStats struct {
	Name             string
	Rules            int
	ConditionalRules int
	Instructions     int
}

// compileGroup turns one group into a program through a fresh backend
// filter. The filter and transfer buffer are released on every path.
func (c *Compiler) compileGroup(ctx context.Context, name string, g seccomp.FilterGroup, arch seccomp.TargetArch, basic bool) (prog seccomp.Program, stats GroupStats, err error) {
	_, span := c.tracer.StartSpan(ctx, "group",
		monitor.AttrGroup.String(name),
		monitor.AttrRules.Int(len(g.Rules)),
	)
	defer func() {
		if err != nil {
			monitor.FailSpan(span, err)
		} else {
			span.SetAttributes(monitor.AttrInstructions.Int(len(prog)))
		}
		span.End()
	}()

	stats = GroupStats{Name: name, Rules: len(g.Rules)}

	filter, err := c.backend.NewFilter(g.DefaultAction)
	if err != nil {
		return nil, stats, &CompileError{Op: "create_filter", Group: name, Err: wrapf(ErrBackendInit, err)}
	}
	defer filter.Release()

	if err := filter.AddArch(arch); err != nil && !errors.Is(err, seccomp.ErrArchPresent) {
		return nil, stats, &CompileError{Op: "add_arch", Group: name, Err: wrapf(ErrBackendArch, err)}
	}

	for _, rule := range g.Rules {
		nr, err := c.backend.ResolveSyscall(rule.Syscall, arch)
		if err != nil {
			return nil, stats, &CompileError{Op: "resolve_syscall", Group: name, Syscall: rule.Syscall, Err: wrapf(ErrUnknownSyscall, err)}
		}

		conds := rule.Args
		if basic {
			conds = nil
		}
		if err := filter.AddRule(g.FilterAction, nr, conds); err != nil {
			return nil, stats, &CompileError{Op: "add_rule", Group: name, Syscall: rule.Syscall, Err: wrapf(ErrRuleAdd, err)}
		}
		if len(conds) > 0 {
			stats.ConditionalRules++
		}
	}

	buf, err := newTransferBuffer()
	if err != nil {
		return nil, stats, &CompileError{Op: "export", Group: name, Err: err}
	}
	defer buf.Close()

	if err := filter.ExportBPF(buf.File()); err != nil {
		return nil, stats, &CompileError{Op: "export", Group: name, Err: wrapf(ErrExport, err)}
	}

	prog, err = buf.ReadProgram()
	if err != nil {
		return nil, stats, &CompileError{Op: "read_program", Group: name, Err: err}
	}
	stats.Instructions = len(prog)

	c.loggerFrom(ctx).Debug().
		Str("group", name).
		Int("rules", stats.Rules).
		Int("conditional", stats.ConditionalRules).
		Int("instructions", stats.Instructions).
		Msg("filter group compiled")

	return prog, stats, nil
}
