package seccomp

import (
	"encoding/json"
	"errors"
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

func hasRule(g FilterGroup, name string) bool {
	for _, rule := range g.Rules {
		if rule.Syscall == name {
			return true
		}
	}
	return false
}

func TestDefaultGroup_DenyByDefault(t *testing.T) {
	g := DefaultGroup(ArchX86_64)
	if g.DefaultAction != Errno(1) {
		t.Errorf("DefaultAction = %v, want errno(1)", g.DefaultAction)
	}
	if g.FilterAction != Allow() {
		t.Errorf("FilterAction = %v, want allow", g.FilterAction)
	}
}

func TestDefaultGroup_MemfdCreateAllowed(t *testing.T) {
	if !hasRule(DefaultGroup(ArchAarch64), "memfd_create") {
		t.Error("memfd_create should be allowed in default group")
	}
}

func TestDefaultGroup_SocketRestrictedToUnix(t *testing.T) {
	g := DefaultGroup(ArchX86_64)
	for _, rule := range g.Rules {
		if rule.Syscall != "socket" {
			continue
		}
		if len(rule.Args) != 1 {
			t.Fatalf("socket rule has %d conditions, want 1", len(rule.Args))
		}
		if c := rule.Args[0]; c.Index != 0 || c.Op != OpEqual || c.Value != 1 {
			t.Errorf("socket condition = %+v, want arg0 == AF_UNIX", c)
		}
		return
	}
	t.Error("default group should contain a conditional socket rule")
}

func TestDefaultGroup_LegacySyscallsOnlyOnX86(t *testing.T) {
	if !hasRule(DefaultGroup(ArchX86_64), "open") {
		t.Error("x86_64 default group should allow open")
	}
	if hasRule(DefaultGroup(ArchAarch64), "open") {
		t.Error("aarch64 has no open syscall, it must not appear in the group")
	}
}

func TestNetworkGroup_HasSocketSyscalls(t *testing.T) {
	g := NetworkGroup(ArchX86_64)

	needed := map[string]bool{"socket": false, "connect": false, "bind": false}
	for _, rule := range g.Rules {
		if _, ok := needed[rule.Syscall]; ok {
			if len(rule.Args) != 0 {
				t.Errorf("network group %q rule should be unconditional", rule.Syscall)
			}
			needed[rule.Syscall] = true
		}
	}
	for name, found := range needed {
		if !found {
			t.Errorf("network group missing allowed syscall %q", name)
		}
	}
}

func TestDefaultGroup_NoNetworkSyscalls(t *testing.T) {
	g := DefaultGroup(ArchX86_64)
	for _, name := range []string{"connect", "bind", "listen"} {
		if hasRule(g, name) {
			t.Errorf("default (no-network) group should not allow %q", name)
		}
	}
}

func TestStarterDocument_RoundTrip(t *testing.T) {
	doc := StarterDocument(ArchX86_64)
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse(starter): %v", err)
	}
	if got := parsed.Names(); len(got) != 2 || got[0] != "default" || got[1] != "network" {
		t.Errorf("Names() = %v, want [default network]", got)
	}
	want, _ := doc.Group("default")
	got, _ := parsed.Group("default")
	if len(got.Rules) != len(want.Rules) {
		t.Errorf("default group has %d rules after round trip, want %d", len(got.Rules), len(want.Rules))
	}
}

func TestOCIProfile_ValidJSON(t *testing.T) {
	p, err := DefaultGroup(ArchX86_64).OCIProfile(ArchX86_64)
	if err != nil {
		t.Fatalf("OCIProfile: %v", err)
	}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var dp struct {
		DefaultAction   string `json:"defaultAction"`
		DefaultErrnoRet *uint  `json:"defaultErrnoRet"`
		Syscalls        []struct {
			Names  []string `json:"names"`
			Action string   `json:"action"`
		} `json:"syscalls"`
	}
	if err := json.Unmarshal(data, &dp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if dp.DefaultAction != "SCMP_ACT_ERRNO" {
		t.Errorf("defaultAction = %q, want SCMP_ACT_ERRNO", dp.DefaultAction)
	}
	if dp.DefaultErrnoRet == nil || *dp.DefaultErrnoRet != 1 {
		t.Errorf("defaultErrnoRet = %v, want 1", dp.DefaultErrnoRet)
	}
	if len(dp.Syscalls) == 0 {
		t.Error("expected syscall rules, got none")
	}
}

func TestOCIProfile_MergesUnconditionalRules(t *testing.T) {
	g := NewBuilder().
		Syscalls("read", "write").
		SyscallWithArgs("socket", Arg(0, OpEqual, 1), MaskedArg(1, 0xff, 0x01)).
		Syscalls("close").
		Build()

	p, err := g.OCIProfile(ArchAarch64)
	if err != nil {
		t.Fatalf("OCIProfile: %v", err)
	}
	if len(p.Architectures) != 1 || p.Architectures[0] != specs.ArchAARCH64 {
		t.Errorf("Architectures = %v, want [SCMP_ARCH_AARCH64]", p.Architectures)
	}
	if p.DefaultAction != specs.ActKillProcess {
		t.Errorf("DefaultAction = %v, want ActKillProcess", p.DefaultAction)
	}
	if len(p.Syscalls) != 3 {
		t.Fatalf("got %d syscall entries, want 3", len(p.Syscalls))
	}
	if names := p.Syscalls[0].Names; len(names) != 2 || names[0] != "read" || names[1] != "write" {
		t.Errorf("first entry names = %v, want [read write]", names)
	}
	args := p.Syscalls[1].Args
	if len(args) != 2 {
		t.Fatalf("socket entry has %d args, want 2", len(args))
	}
	if args[1].Op != specs.OpMaskedEqual || args[1].Value != 0xff || args[1].ValueTwo != 0x01 {
		t.Errorf("masked arg = %+v, want mask 0xff value 0x01", args[1])
	}
}

func TestOCIProfile_TraceValueRejected(t *testing.T) {
	g := NewBuilder().WithFilterAction(Trace(7)).Syscalls("read").Build()
	if _, err := g.OCIProfile(ArchX86_64); err == nil {
		t.Error("expected error for trace value in OCI profile")
	}
}

func TestOCIProfile_SameArgumentConjunctionRejected(t *testing.T) {
	g := NewBuilder().
		SyscallWithArgs("personality", Arg(0, OpGreaterEqual, 1), Arg(0, OpLessEqual, 5)).
		Build()
	profile, err := g.OCIProfile(ArchX86_64)
	if !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("OCIProfile error = %v, want ErrMalformedInput", err)
	}
	if profile != nil {
		t.Errorf("profile = %+v, want nil", profile)
	}
}

func TestOCIProfile_DistinctArgumentsAllowed(t *testing.T) {
	g := NewBuilder().
		SyscallWithArgs("socket", Arg(0, OpEqual, 1), Arg(1, OpEqual, 1)).
		Build()
	profile, err := g.OCIProfile(ArchX86_64)
	if err != nil {
		t.Fatalf("OCIProfile: %v", err)
	}
	if len(profile.Syscalls) != 1 || len(profile.Syscalls[0].Args) != 2 {
		t.Errorf("syscalls = %+v, want one entry with two args", profile.Syscalls)
	}
}

func TestProfileBuilder(t *testing.T) {
	g := NewBuilder().Syscalls("read", "write").Build()

	if g.DefaultAction != KillProcess() {
		t.Errorf("DefaultAction = %v, want kill_process", g.DefaultAction)
	}
	if len(g.Rules) != 2 {
		t.Fatalf("got %d rules, want 2", len(g.Rules))
	}
	if g.Rules[0].Syscall != "read" || g.Rules[1].Syscall != "write" {
		t.Errorf("rules = %v, want [read write]", g.Rules)
	}
}

func TestProfileBuilder_BuildCopiesRules(t *testing.T) {
	b := NewBuilder().Syscalls("read")
	g := b.Build()
	b.Syscalls("write")
	if len(g.Rules) != 1 {
		t.Errorf("built group changed after further builder calls: %v", g.Rules)
	}
}
