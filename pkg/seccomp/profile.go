package seccomp

// GroupBuilder assembles a FilterGroup rule by rule.
type GroupBuilder struct {
	group FilterGroup
}

// NewBuilder starts a deny-by-default group: unmatched syscalls kill the
// process and matched syscalls are allowed.
func NewBuilder() *GroupBuilder {
	return &GroupBuilder{
		group: FilterGroup{
			DefaultAction: KillProcess(),
			FilterAction:  Allow(),
		},
	}
}

func (b *GroupBuilder) WithDefaultAction(a Action) *GroupBuilder {
	b.group.DefaultAction = a
	return b
}

func (b *GroupBuilder) WithFilterAction(a Action) *GroupBuilder {
	b.group.FilterAction = a
	return b
}

// Syscalls adds one unconditional rule per name, in order.
func (b *GroupBuilder) Syscalls(names ...string) *GroupBuilder {
	for _, name := range names {
		b.group.Rules = append(b.group.Rules, SyscallRule{Syscall: name})
	}
	return b
}

// SyscallWithArgs adds a single rule that matches only when every condition holds.
func (b *GroupBuilder) SyscallWithArgs(name string, conds ...ArgumentCondition) *GroupBuilder {
	b.group.Rules = append(b.group.Rules, SyscallRule{
		Syscall: name,
		Args:    append([]ArgumentCondition(nil), conds...),
	})
	return b
}

func (b *GroupBuilder) Build() FilterGroup {
	g := b.group
	g.Rules = append([]SyscallRule(nil), b.group.Rules...)
	return g
}

// Arg builds a condition comparing argument index against value.
func Arg(index uint8, op Operator, value uint64) ArgumentCondition {
	return ArgumentCondition{Index: index, Op: op, Value: value}
}

// MaskedArg builds a condition that holds when (arg & mask) == value.
func MaskedArg(index uint8, mask, value uint64) ArgumentCondition {
	return ArgumentCondition{Index: index, Op: OpMaskedEqual, Value: value, Mask: mask}
}
