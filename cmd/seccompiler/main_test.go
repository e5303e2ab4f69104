package main

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"seccompiler/internal/compiler"
	"seccompiler/internal/config"
	"seccompiler/pkg/artifact"
	"seccompiler/pkg/seccomp"
)

// stubBackend resolves a handful of names and exports one word per rule
// plus a trailing return.
type stubBackend struct{}

func (stubBackend) NewFilter(def seccomp.Action) (seccomp.Filter, error) {
	return &stubFilter{words: []uint64{uint64(def.Kind)}}, nil
}

func (stubBackend) ResolveSyscall(name string, _ seccomp.TargetArch) (int32, error) {
	switch name {
	case "read":
		return 0, nil
	case "write":
		return 1, nil
	case "socket":
		return 41, nil
	}
	return 0, fmt.Errorf("unknown syscall %q", name)
}

type stubFilter struct{ words []uint64 }

func (f *stubFilter) AddArch(seccomp.TargetArch) error { return nil }

func (f *stubFilter) AddRule(_ seccomp.Action, nr int32, conds []seccomp.ArgumentCondition) error {
	f.words = append(f.words, uint64(nr)<<8|uint64(len(conds)))
	return nil
}

func (f *stubFilter) ExportBPF(out *os.File) error {
	var buf []byte
	for _, w := range f.words {
		buf = binary.NativeEndian.AppendUint64(buf, w)
	}
	// ret #0x7fff0000
	buf = binary.NativeEndian.AppendUint64(buf, 0x7fff0000<<32|0x06)
	_, err := out.Write(buf)
	return err
}

func (f *stubFilter) Release() {}

const testPolicy = `{
	"vmm":  {"default_action": "trap", "filter_action": "allow", "filter": [{"syscall": "read"}, {"syscall": "write"}]},
	"vcpu": {"default_action": {"errno": 1}, "filter_action": "allow", "filter": [
		{"syscall": "socket", "args": [{"index": 0, "type": "dword", "op": "eq", "val": 1}]}
	]}
}`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.EnvConfigPath, "")

	root := newRootCmd(func() (seccomp.Backend, error) { return stubBackend{}, nil })
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCompileCommand(t *testing.T) {
	in := writeFile(t, "policy.json", testPolicy)
	out := filepath.Join(t.TempDir(), "filters.out")

	if _, err := execute(t, "compile", "--input-file", in, "--target-arch", "x86_64", "--output-file", out); err != nil {
		t.Fatalf("compile: %v", err)
	}

	art, err := artifact.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got := art.Names(); len(got) != 2 || got[0] != "vcpu" || got[1] != "vmm" {
		t.Errorf("artifact groups = %v, want [vcpu vmm]", got)
	}
	if len(art["vmm"]) != 4 {
		t.Errorf("vmm program = %d words, want 4", len(art["vmm"]))
	}
}

func TestCompileCommand_ConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, "policy.json", testPolicy)
	out := filepath.Join(dir, "from-config.out")
	prom := filepath.Join(dir, "seccompiler.prom")
	cfg := writeFile(t, "config.yaml", fmt.Sprintf(`
compiler:
  target_arch: aarch64
  output_file: %s
metrics:
  enabled: true
  textfile: %s
`, out, prom))

	if _, err := execute(t, "--config", cfg, "compile", "--input-file", in); err != nil {
		t.Fatalf("compile: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("artifact not written to configured path: %v", err)
	}
	data, err := os.ReadFile(prom)
	if err != nil {
		t.Fatalf("metrics textfile: %v", err)
	}
	if !strings.Contains(string(data), `seccompiler_compilations_total{arch="aarch64",status="success"} 1`) {
		t.Errorf("metrics textfile missing success counter:\n%s", data)
	}
}

func TestCompileCommand_BasicMode(t *testing.T) {
	in := writeFile(t, "policy.json", testPolicy)
	dir := t.TempDir()
	basic := filepath.Join(dir, "basic.out")
	full := filepath.Join(dir, "full.out")

	if _, err := execute(t, "compile", "--input-file", in, "--target-arch", "x86_64", "--output-file", basic, "--basic"); err != nil {
		t.Fatalf("compile --basic: %v", err)
	}
	if _, err := execute(t, "compile", "--input-file", in, "--target-arch", "x86_64", "--output-file", full); err != nil {
		t.Fatalf("compile: %v", err)
	}

	a, _ := artifact.ReadFile(basic)
	b, _ := artifact.ReadFile(full)
	if a["vcpu"][1] == b["vcpu"][1] {
		t.Error("basic mode should drop the socket condition")
	}
}

func TestCompileCommand_Errors(t *testing.T) {
	good := writeFile(t, "policy.json", testPolicy)
	bad := writeFile(t, "bad.json", `{"g": {"default_action": "allow", "filter_action": "trap", "filter": [{"syscall": "ptrace"}]}}`)
	out := filepath.Join(t.TempDir(), "out")

	malformed := writeFile(t, "malformed.json", `{"g": {"default_action": "allow"`)

	tests := []struct {
		name     string
		args     []string
		want     error
		wantExit int
	}{
		{"unknown syscall", []string{"--input-file", bad, "--target-arch", "x86_64"}, compiler.ErrUnknownSyscall, exitPolicy},
		{"bad arch", []string{"--input-file", good, "--target-arch", "sparc"}, seccomp.ErrUnsupportedArch, exitPolicy},
		{"malformed policy", []string{"--input-file", malformed, "--target-arch", "x86_64"}, seccomp.ErrMalformedInput, exitPolicy},
		{"missing input", []string{"--input-file", good + ".missing", "--target-arch", "x86_64"}, seccomp.ErrInputOpen, exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"compile", "--output-file", out}, tt.args...)
			_, err := execute(t, args...)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			if got := exitCode(err); got != tt.wantExit {
				t.Errorf("exitCode = %d, want %d", got, tt.wantExit)
			}
			if _, err := os.Stat(out); !os.IsNotExist(err) {
				t.Error("no artifact should be written")
			}
		})
	}

	missingDir := filepath.Join(t.TempDir(), "missing", "out")
	_, err := execute(t, "compile", "--input-file", good, "--target-arch", "x86_64", "--output-file", missingDir)
	if got := exitCode(err); got != exitOutput {
		t.Errorf("exitCode(%v) = %d, want %d", err, got, exitOutput)
	}

	if _, err := execute(t, "compile", "--input-file", good); err == nil || !strings.Contains(err.Error(), "target-arch") {
		t.Errorf("missing arch error = %v", err)
	}
}

func TestValidateCommand(t *testing.T) {
	in := writeFile(t, "policy.json", testPolicy)
	stdout, err := execute(t, "validate", "--input-file", in, "--target-arch", "x86_64")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(stdout, "2 groups OK for x86_64") {
		t.Errorf("output = %q", stdout)
	}
}

func TestInspectCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.out")
	data, _ := artifact.Encode(artifact.Artifact{
		"g": seccomp.Program{0x7fff000000000006},
	})
	if err := artifact.WriteFile(path, data); err != nil {
		t.Fatal(err)
	}

	stdout, err := execute(t, "inspect", "-d", path)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if !strings.Contains(stdout, "g: 1 instructions") {
		t.Errorf("output = %q", stdout)
	}
	if !strings.Contains(stdout, "7fff0000") {
		t.Errorf("disassembly missing return value: %q", stdout)
	}

	if _, err := execute(t, "inspect", "--group", "nope", path); err == nil {
		t.Error("expected error for unknown group")
	}
}

func TestInitCommand(t *testing.T) {
	stdout, err := execute(t, "init", "--target-arch", "aarch64")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	doc, err := seccomp.Parse([]byte(stdout))
	if err != nil {
		t.Fatalf("starter policy does not parse: %v", err)
	}
	if got := doc.Names(); len(got) != 2 || got[0] != "default" || got[1] != "network" {
		t.Errorf("groups = %v, want [default network]", got)
	}

	path := filepath.Join(t.TempDir(), "policy.json")
	if _, err := execute(t, "init", "-o", path); err != nil {
		t.Fatalf("init -o: %v", err)
	}
	if _, err := execute(t, "init", "-o", path); err == nil {
		t.Error("init should refuse to overwrite without --force")
	}
	if _, err := execute(t, "init", "-o", path, "--force"); err != nil {
		t.Errorf("init --force: %v", err)
	}
}

func TestExportOCICommand(t *testing.T) {
	in := writeFile(t, "policy.json", testPolicy)
	stdout, err := execute(t, "export-oci", "--input-file", in, "--group", "vmm")
	if err != nil {
		t.Fatalf("export-oci: %v", err)
	}

	var profile specs.LinuxSeccomp
	if err := json.Unmarshal([]byte(stdout), &profile); err != nil {
		t.Fatalf("profile is not valid JSON: %v", err)
	}
	if profile.DefaultAction != specs.ActTrap {
		t.Errorf("DefaultAction = %q, want SCMP_ACT_TRAP", profile.DefaultAction)
	}
	if len(profile.Syscalls) != 1 || len(profile.Syscalls[0].Names) != 2 {
		t.Errorf("Syscalls = %+v, want one merged entry", profile.Syscalls)
	}

	if _, err := execute(t, "export-oci", "--input-file", in, "--group", "missing"); err == nil {
		t.Error("expected error for unknown group")
	}
}

func TestHistoryCommand_RequiresDatabase(t *testing.T) {
	_, err := execute(t, "history")
	if err == nil || !strings.Contains(err.Error(), "database.dsn") {
		t.Errorf("error = %v, want database.dsn not configured", err)
	}
}

func TestCompilationRecord(t *testing.T) {
	res := &compiler.Result{
		RunID:    "run-1",
		Arch:     seccomp.ArchX86_64,
		Duration: 1500 * time.Millisecond,
		Groups: []compiler.GroupStats{
			{Name: "vmm", Rules: 2, Instructions: 10},
			{Name: "vcpu", Rules: 1, ConditionalRules: 1, Instructions: 8},
		},
	}

	ok := compilationRecord(res, nil)
	if ok.Status != "success" || ok.RuleCount != 3 || ok.Instructions != 18 || ok.DurationMS != 1500 {
		t.Errorf("record = %+v", ok)
	}
	if len(ok.Groups) != 2 || ok.Groups[1].Position != 1 || ok.Groups[1].CompilationID != "run-1" {
		t.Errorf("groups = %+v", ok.Groups)
	}

	failed := compilationRecord(res, &compiler.CompileError{Op: "export", Group: "vmm", Err: compiler.ErrExport})
	if failed.Status != "error" || failed.ErrorKind != "export" || failed.Error == "" {
		t.Errorf("record = %+v", failed)
	}
}
