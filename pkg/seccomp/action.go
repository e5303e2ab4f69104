package seccomp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ActionKind is the disposition the kernel applies to a filtered syscall.
type ActionKind uint8

const (
	ActAllow ActionKind = iota + 1
	ActKillProcess
	ActKillThread
	ActTrap
	ActErrno
	ActTrace
	ActLog
	ActNotify
)

var actionTokens = map[string]ActionKind{
	"allow":        ActAllow,
	"kill_process": ActKillProcess,
	"kill_thread":  ActKillThread,
	"trap":         ActTrap,
	"errno":        ActErrno,
	"trace":        ActTrace,
	"log":          ActLog,
	"notify":       ActNotify,
}

func (k ActionKind) String() string {
	switch k {
	case ActAllow:
		return "allow"
	case ActKillProcess:
		return "kill_process"
	case ActKillThread:
		return "kill_thread"
	case ActTrap:
		return "trap"
	case ActErrno:
		return "errno"
	case ActTrace:
		return "trace"
	case ActLog:
		return "log"
	case ActNotify:
		return "notify"
	default:
		return "unknown"
	}
}

// Action is an ActionKind plus the 16-bit data some kinds carry
// (the errno returned to the caller, or the value reported to a tracer).
type Action struct {
	Kind  ActionKind
	Value uint16
}

// Allow and the other helpers build the common actions.
func Allow() Action       { return Action{Kind: ActAllow} }
func KillProcess() Action { return Action{Kind: ActKillProcess} }
func KillThread() Action  { return Action{Kind: ActKillThread} }
func Trap() Action        { return Action{Kind: ActTrap} }
func Log() Action         { return Action{Kind: ActLog} }
func Notify() Action      { return Action{Kind: ActNotify} }

// Errno returns an action that fails the syscall with the given errno.
func Errno(errno uint16) Action { return Action{Kind: ActErrno, Value: errno} }

// Trace returns an action that notifies a ptrace(2) tracer with msg.
func Trace(msg uint16) Action { return Action{Kind: ActTrace, Value: msg} }

// HasValue reports whether the action kind carries data.
func (a Action) HasValue() bool {
	return a.Kind == ActErrno || a.Kind == ActTrace
}

func (a Action) String() string {
	if a.HasValue() {
		return fmt.Sprintf("%s(%d)", a.Kind, a.Value)
	}
	return a.Kind.String()
}

// normalizeToken maps kebab-case aliases onto the canonical snake_case token.
func normalizeToken(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "-", "_")
}

// UnmarshalJSON accepts "allow", "kill_process", {"errno": 1}, {"trace": 3}, ...
func (a *Action) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var obj map[string]uint16
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("%w: action %s: %v", ErrMalformedInput, data, err)
		}
		if len(obj) != 1 {
			return fmt.Errorf("%w: action object must have exactly one key, got %d", ErrMalformedInput, len(obj))
		}
		for tok, val := range obj {
			kind, ok := actionTokens[normalizeToken(tok)]
			if !ok {
				return fmt.Errorf("%w: unknown action %q", ErrMalformedInput, tok)
			}
			if kind != ActErrno && kind != ActTrace {
				return fmt.Errorf("%w: action %q does not take a value", ErrMalformedInput, tok)
			}
			*a = Action{Kind: kind, Value: val}
		}
		return nil
	}

	var tok string
	if err := json.Unmarshal(data, &tok); err != nil {
		return fmt.Errorf("%w: action must be a string or object, got %s", ErrMalformedInput, data)
	}
	kind, ok := actionTokens[normalizeToken(tok)]
	if !ok {
		return fmt.Errorf("%w: unknown action %q", ErrMalformedInput, tok)
	}
	if kind == ActErrno {
		return fmt.Errorf("%w: action %q requires a value, e.g. {\"errno\": 1}", ErrMalformedInput, tok)
	}
	*a = Action{Kind: kind}
	return nil
}

// MarshalJSON writes the canonical token, or a single-key object for errno/trace.
func (a Action) MarshalJSON() ([]byte, error) {
	if _, ok := actionTokens[a.Kind.String()]; !ok {
		return nil, fmt.Errorf("cannot marshal action kind %d", a.Kind)
	}
	if a.HasValue() {
		return json.Marshal(map[string]uint16{a.Kind.String(): a.Value})
	}
	return json.Marshal(a.Kind.String())
}
