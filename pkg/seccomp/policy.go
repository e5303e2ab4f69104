package seccomp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// MaxArgIndex is the highest syscall argument register a condition can test.
const MaxArgIndex = 5

// Operator compares one syscall argument against a value.
type Operator uint8

const (
	OpEqual Operator = iota + 1
	OpNotEqual
	OpGreaterThan
	OpGreaterEqual
	OpLessThan
	OpLessEqual
	OpMaskedEqual
)

var operatorTokens = map[string]Operator{
	"eq":        OpEqual,
	"ne":        OpNotEqual,
	"gt":        OpGreaterThan,
	"ge":        OpGreaterEqual,
	"lt":        OpLessThan,
	"le":        OpLessEqual,
	"masked_eq": OpMaskedEqual,
}

func (o Operator) String() string {
	switch o {
	case OpEqual:
		return "eq"
	case OpNotEqual:
		return "ne"
	case OpGreaterThan:
		return "gt"
	case OpGreaterEqual:
		return "ge"
	case OpLessThan:
		return "lt"
	case OpLessEqual:
		return "le"
	case OpMaskedEqual:
		return "masked_eq"
	default:
		return "unknown"
	}
}

// ArgWidth is the declared width of a compared argument.
type ArgWidth uint8

const (
	ArgQword ArgWidth = iota
	ArgDword
)

func (w ArgWidth) String() string {
	if w == ArgDword {
		return "dword"
	}
	return "qword"
}

// ArgumentCondition is a single comparator against one syscall argument.
// For OpMaskedEqual the condition holds when (arg & Mask) == Value.
type ArgumentCondition struct {
	Index   uint8
	Op      Operator
	Value   uint64
	Mask    uint64
	Width   ArgWidth
	Comment string
}

// SyscallRule matches one syscall, optionally only when every condition in
// Args holds.
type SyscallRule struct {
	Syscall string              `json:"syscall"`
	Args    []ArgumentCondition `json:"args,omitempty"`
	Comment string              `json:"comment,omitempty"`
}

// FilterGroup is one named policy unit compiling to exactly one program.
type FilterGroup struct {
	DefaultAction Action        `json:"default_action"`
	FilterAction  Action        `json:"filter_action"`
	Rules         []SyscallRule `json:"filter"`
}

// PolicyDocument maps filter-group names to groups and remembers the order
// the groups appeared in.
type PolicyDocument struct {
	groups map[string]FilterGroup
	order  []string
}

// NewPolicyDocument returns an empty document.
func NewPolicyDocument() *PolicyDocument {
	return &PolicyDocument{groups: make(map[string]FilterGroup)}
}

// Add appends a group. Names must be unique and non-empty.
func (d *PolicyDocument) Add(name string, g FilterGroup) error {
	if name == "" {
		return fmt.Errorf("%w: empty filter group name", ErrMalformedInput)
	}
	if _, dup := d.groups[name]; dup {
		return fmt.Errorf("%w: duplicate filter group %q", ErrMalformedInput, name)
	}
	d.groups[name] = g
	d.order = append(d.order, name)
	return nil
}

// Names returns the group names in document order.
func (d *PolicyDocument) Names() []string {
	return append([]string(nil), d.order...)
}

// Group returns the named group.
func (d *PolicyDocument) Group(name string) (FilterGroup, bool) {
	g, ok := d.groups[name]
	return g, ok
}

// Len returns the number of groups.
func (d *PolicyDocument) Len() int {
	return len(d.order)
}

// MarshalJSON writes the groups in document order.
func (d *PolicyDocument) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range d.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(d.groups[name])
		if err != nil {
			return nil, fmt.Errorf("marshaling group %q: %w", name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type rawGroup struct {
	DefaultAction *Action    `json:"default_action"`
	FilterAction  *Action    `json:"filter_action"`
	Filter        *[]rawRule `json:"filter"`
}

type rawRule struct {
	Syscall *string        `json:"syscall"`
	Args    []rawCondition `json:"args"`
	Comment string         `json:"comment"`
}

type rawCondition struct {
	Index   *int            `json:"index"`
	Type    string          `json:"type"`
	Op      json.RawMessage `json:"op"`
	Val     *uint64         `json:"val"`
	Comp    *uint64         `json:"comp"`
	Comment string          `json:"comment"`
}

// ParseFile reads and parses a JSON policy document.
func ParseFile(path string) (*PolicyDocument, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInputOpen, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInputRead, err)
	}
	return Parse(data)
}

// Parse decodes a JSON policy document. Parsing is all-or-nothing: on any
// error no document is returned.
func Parse(data []byte) (*PolicyDocument, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	tok, err := dec.Token()
	if err != nil {
		return nil, malformed(err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("%w: top level must be an object of filter groups", ErrMalformedInput)
	}

	doc := NewPolicyDocument()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, malformed(err)
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expected group name, got %v", ErrMalformedInput, tok)
		}

		var raw rawGroup
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("group %q: %w", name, malformed(err))
		}
		group, err := raw.build()
		if err != nil {
			return nil, fmt.Errorf("group %q: %w", name, err)
		}
		if err := doc.Add(name, group); err != nil {
			return nil, err
		}
	}

	if _, err := dec.Token(); err != nil {
		return nil, malformed(err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: unexpected data after policy document", ErrMalformedInput)
	}
	return doc, nil
}

func malformed(err error) error {
	switch {
	case errors.Is(err, ErrMalformedInput):
		return err
	case errors.Is(err, io.EOF):
		return fmt.Errorf("%w: unexpected end of input", ErrMalformedInput)
	default:
		return fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
}

func (r rawGroup) build() (FilterGroup, error) {
	switch {
	case r.DefaultAction == nil:
		return FilterGroup{}, fmt.Errorf("%w: missing default_action", ErrMalformedInput)
	case r.FilterAction == nil:
		return FilterGroup{}, fmt.Errorf("%w: missing filter_action", ErrMalformedInput)
	case r.Filter == nil:
		return FilterGroup{}, fmt.Errorf("%w: missing filter", ErrMalformedInput)
	}

	g := FilterGroup{
		DefaultAction: *r.DefaultAction,
		FilterAction:  *r.FilterAction,
		Rules:         make([]SyscallRule, 0, len(*r.Filter)),
	}
	for i, rr := range *r.Filter {
		rule, err := rr.build()
		if err != nil {
			return FilterGroup{}, fmt.Errorf("rule %d: %w", i, err)
		}
		g.Rules = append(g.Rules, rule)
	}
	return g, nil
}

func (r rawRule) build() (SyscallRule, error) {
	if r.Syscall == nil || *r.Syscall == "" {
		return SyscallRule{}, fmt.Errorf("%w: missing syscall name", ErrMalformedInput)
	}
	rule := SyscallRule{Syscall: *r.Syscall, Comment: r.Comment}
	if len(r.Args) == 0 {
		return rule, nil
	}

	rule.Args = make([]ArgumentCondition, 0, len(r.Args))
	for i, rc := range r.Args {
		cond, err := rc.build()
		if err != nil {
			return SyscallRule{}, fmt.Errorf("syscall %q arg %d: %w", rule.Syscall, i, err)
		}
		rule.Args = append(rule.Args, cond)
	}
	return rule, nil
}

func (r rawCondition) build() (ArgumentCondition, error) {
	if r.Index == nil {
		return ArgumentCondition{}, fmt.Errorf("%w: missing index", ErrMalformedInput)
	}
	if *r.Index < 0 || *r.Index > MaxArgIndex {
		return ArgumentCondition{}, fmt.Errorf("%w: index must be 0-%d, got %d", ErrMalformedInput, MaxArgIndex, *r.Index)
	}
	if r.Val == nil {
		return ArgumentCondition{}, fmt.Errorf("%w: missing val", ErrMalformedInput)
	}
	if len(r.Op) == 0 {
		return ArgumentCondition{}, fmt.Errorf("%w: missing op", ErrMalformedInput)
	}

	cond := ArgumentCondition{
		Index:   uint8(*r.Index),
		Value:   *r.Val,
		Comment: r.Comment,
	}

	switch r.Type {
	case "", "qword":
		cond.Width = ArgQword
	case "dword":
		cond.Width = ArgDword
	default:
		return ArgumentCondition{}, fmt.Errorf("%w: unknown argument type %q", ErrMalformedInput, r.Type)
	}

	op, objMask, err := parseOperator(r.Op)
	if err != nil {
		return ArgumentCondition{}, err
	}
	cond.Op = op

	switch {
	case op == OpMaskedEqual && objMask != nil && r.Comp != nil:
		return ArgumentCondition{}, fmt.Errorf("%w: masked_eq mask given twice", ErrMalformedInput)
	case op == OpMaskedEqual && objMask != nil:
		cond.Mask = *objMask
	case op == OpMaskedEqual && r.Comp != nil:
		cond.Mask = *r.Comp
	case op == OpMaskedEqual:
		return ArgumentCondition{}, fmt.Errorf("%w: masked_eq requires a mask", ErrMalformedInput)
	case r.Comp != nil:
		return ArgumentCondition{}, fmt.Errorf("%w: comp is only valid with masked_eq", ErrMalformedInput)
	}

	if cond.Width == ArgDword && (cond.Value > math.MaxUint32 || cond.Mask > math.MaxUint32) {
		return ArgumentCondition{}, fmt.Errorf("%w: dword argument value exceeds 32 bits", ErrMalformedInput)
	}
	return cond, nil
}

// parseOperator accepts "eq", "masked-eq", or {"masked_eq": <mask>}.
func parseOperator(data json.RawMessage) (Operator, *uint64, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var obj map[string]uint64
		if err := json.Unmarshal(data, &obj); err != nil {
			return 0, nil, fmt.Errorf("%w: op %s: %v", ErrMalformedInput, data, err)
		}
		mask, ok := obj["masked_eq"]
		if !ok || len(obj) != 1 {
			return 0, nil, fmt.Errorf("%w: op object must be {\"masked_eq\": <mask>}", ErrMalformedInput)
		}
		return OpMaskedEqual, &mask, nil
	}

	var tok string
	if err := json.Unmarshal(data, &tok); err != nil {
		return 0, nil, fmt.Errorf("%w: op must be a string, got %s", ErrMalformedInput, data)
	}
	op, ok := operatorTokens[normalizeToken(tok)]
	if !ok {
		return 0, nil, fmt.Errorf("%w: unknown operator %q", ErrMalformedInput, tok)
	}
	return op, nil, nil
}

// MarshalJSON writes the condition in the same shape Parse accepts.
func (c ArgumentCondition) MarshalJSON() ([]byte, error) {
	out := struct {
		Index   uint8   `json:"index"`
		Type    string  `json:"type,omitempty"`
		Op      string  `json:"op"`
		Val     uint64  `json:"val"`
		Comp    *uint64 `json:"comp,omitempty"`
		Comment string  `json:"comment,omitempty"`
	}{
		Index:   c.Index,
		Op:      c.Op.String(),
		Val:     c.Value,
		Comment: c.Comment,
	}
	if c.Width == ArgDword {
		out.Type = "dword"
	}
	if c.Op == OpMaskedEqual {
		mask := c.Mask
		out.Comp = &mask
	}
	return json.Marshal(out)
}
