// Package compiler turns a policy document into one BPF program per filter
// group and writes them as a single artifact.
package compiler

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"seccompiler/internal/monitor"
	"seccompiler/pkg/artifact"
	"seccompiler/pkg/seccomp"
)

// Compiler drives a seccomp.Backend over every group of a policy document.
// It holds no per-run state and may be reused across runs.
type Compiler struct {
	backend seccomp.Backend
	metrics *monitor.Metrics
	tracer  *monitor.Tracer
	logger  zerolog.Logger
}

type Option func(*Compiler)

// WithMetrics records run, group and artifact metrics into m.
func WithMetrics(m *monitor.Metrics) Option {
	return func(c *Compiler) { c.metrics = m }
}

func WithTracer(t *monitor.Tracer) Option {
	return func(c *Compiler) { c.tracer = t }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Compiler) { c.logger = l }
}

func New(backend seccomp.Backend, opts ...Option) *Compiler {
	c := &Compiler{
		backend: backend,
		tracer:  monitor.NewTracer(),
		logger:  log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result summarizes a CompileFile run. It is returned on failure too, filled
// in as far as the run got.
type Result struct {
	RunID          string
	InputPath      string
	OutputPath     string
	Arch           seccomp.TargetArch
	Basic          bool
	InputDigest    string
	ArtifactDigest string
	ArtifactSize   int
	Groups         []GroupStats // document order
	Duration       time.Duration
}

// Rules returns the number of rules across all compiled groups.
func (r *Result) Rules() int {
	n := 0
	for _, g := range r.Groups {
		n += g.Rules
	}
	return n
}

// Instructions returns the number of BPF instructions across all programs.
func (r *Result) Instructions() int {
	n := 0
	for _, g := range r.Groups {
		n += g.Instructions
	}
	return n
}

// Compile builds one program per group of doc, in document order. The first
// failing group aborts the run.
func (c *Compiler) Compile(ctx context.Context, doc *seccomp.PolicyDocument, arch seccomp.TargetArch, basic bool) (artifact.Artifact, error) {
	art, _, err := c.compile(ctx, doc, arch, basic)
	return art, err
}

func (c *Compiler) compile(ctx context.Context, doc *seccomp.PolicyDocument, arch seccomp.TargetArch, basic bool) (artifact.Artifact, []GroupStats, error) {
	art := make(artifact.Artifact, doc.Len())
	stats := make([]GroupStats, 0, doc.Len())

	for _, name := range doc.Names() {
		g, _ := doc.Group(name)
		prog, st, err := c.compileGroup(ctx, name, g, arch, basic)
		if err != nil {
			return nil, stats, err
		}
		art[name] = prog
		stats = append(stats, st)
	}
	return art, stats, nil
}

// CompileFile runs the whole pipeline: read and parse inputPath, resolve
// archToken, compile every group and atomically write the artifact to
// outPath. Nothing is written unless every group compiled.
func (c *Compiler) CompileFile(ctx context.Context, inputPath, archToken, outPath string, basic bool) (*Result, error) {
	start := time.Now()
	res := &Result{
		RunID:      uuid.New().String(),
		InputPath:  inputPath,
		OutputPath: outPath,
		Basic:      basic,
	}

	logger := c.logger.With().Str("run_id", res.RunID).Logger()
	ctx = logger.WithContext(ctx)
	ctx, span := c.tracer.StartSpan(ctx, "compile",
		monitor.AttrRunID.String(res.RunID),
		monitor.AttrBasic.Bool(basic),
	)
	defer span.End()

	err := c.run(ctx, res, archToken)
	res.Duration = time.Since(start)
	c.observe(res, err)

	if err != nil {
		monitor.FailSpan(span, err)
		logger.Error().Err(err).Str("kind", ErrorKind(err)).Msg("compilation failed")
		return res, err
	}

	span.SetAttributes(
		monitor.AttrArch.String(res.Arch.String()),
		monitor.AttrInstructions.Int(res.Instructions()),
		monitor.AttrArtifactSize.Int(res.ArtifactSize),
	)
	logger.Info().
		Str("arch", res.Arch.String()).
		Int("groups", len(res.Groups)).
		Int("instructions", res.Instructions()).
		Int("bytes", res.ArtifactSize).
		Str("output", res.OutputPath).
		Dur("duration", res.Duration).
		Msg("compilation completed")
	return res, nil
}

func (c *Compiler) run(ctx context.Context, res *Result, archToken string) error {
	data, err := readInput(res.InputPath)
	if err != nil {
		return &CompileError{Op: "read_input", Err: err}
	}
	res.InputDigest = digest(data)

	doc, err := seccomp.Parse(data)
	if err != nil {
		return &CompileError{Op: "parse", Err: err}
	}

	arch, err := seccomp.ParseArch(archToken)
	if err != nil {
		return &CompileError{Op: "resolve_arch", Err: err}
	}
	res.Arch = arch

	c.loggerFrom(ctx).Debug().
		Str("input", res.InputPath).
		Str("arch", arch.String()).
		Int("groups", doc.Len()).
		Bool("basic", res.Basic).
		Msg("policy parsed")

	art, stats, err := c.compile(ctx, doc, arch, res.Basic)
	res.Groups = stats
	if err != nil {
		return err
	}

	return c.write(ctx, res, art)
}

func (c *Compiler) write(ctx context.Context, res *Result, art artifact.Artifact) (err error) {
	_, span := c.tracer.StartSpan(ctx, "serialize")
	defer func() {
		if err != nil {
			monitor.FailSpan(span, err)
		}
		span.End()
	}()

	data, err := artifact.Encode(art)
	if err != nil {
		return &CompileError{Op: "serialize", Err: err}
	}
	if err := artifact.WriteFile(res.OutputPath, data); err != nil {
		return &CompileError{Op: "write_output", Err: err}
	}

	res.ArtifactSize = len(data)
	res.ArtifactDigest = digest(data)
	span.SetAttributes(monitor.AttrArtifactSize.Int(len(data)))
	return nil
}

func (c *Compiler) observe(res *Result, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		c.metrics.RecordError(ErrorKind(err))
	}
	c.metrics.RecordCompilation(res.Arch.String(), status, res.Duration.Seconds())
	if err != nil {
		return
	}
	for _, g := range res.Groups {
		c.metrics.RecordGroup(g.Rules-g.ConditionalRules, g.ConditionalRules, g.Instructions)
	}
	c.metrics.RecordArtifact(res.ArtifactSize)
}

// loggerFrom returns the run logger stored in ctx, or the compiler's own.
func (c *Compiler) loggerFrom(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &c.logger
}

func readInput(path string) ([]byte, error) {
	f, err := os.Open(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("%w: %w", seccomp.ErrInputOpen, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", seccomp.ErrInputRead, err)
	}
	return data, nil
}

func digest(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}
