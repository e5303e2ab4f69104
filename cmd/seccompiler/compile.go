package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"seccompiler/internal/compiler"
	"seccompiler/internal/monitor"
	"seccompiler/pkg/artifact"
	"seccompiler/pkg/seccomp"
)

type compileFlags struct {
	input  string
	arch   string
	output string
	basic  bool
}

// resolve fills unset flags from the config file.
func (f *compileFlags) resolve(cmd *cobra.Command, a *app) error {
	if !cmd.Flags().Changed("target-arch") {
		f.arch = a.cfg.Compiler.TargetArch
	}
	if f.arch == "" {
		return errors.New("--target-arch is required (or set compiler.target_arch)")
	}
	if cmd.Flags().Lookup("output-file") != nil && !cmd.Flags().Changed("output-file") {
		f.output = a.cfg.Compiler.OutputFile
	}
	if !cmd.Flags().Changed("basic") {
		f.basic = a.cfg.Compiler.Basic
	}
	return nil
}

func addCompileFlags(cmd *cobra.Command, f *compileFlags) {
	cmd.Flags().StringVar(&f.input, "input-file", "", "JSON policy document")
	cmd.Flags().StringVar(&f.arch, "target-arch", "", "Target architecture ("+strings.Join(seccomp.SupportedArches(), ", ")+")")
	cmd.Flags().BoolVar(&f.basic, "basic", false, "Ignore argument conditions (deprecated)")
	_ = cmd.MarkFlagRequired("input-file")
	_ = cmd.Flags().MarkDeprecated("basic", "argument conditions will always be compiled in a future release")
}

func (a *app) compileCmd() *cobra.Command {
	var f compileFlags
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile a policy into a BPF filter artifact",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := f.resolve(cmd, a); err != nil {
				return err
			}
			return a.runCompile(cmd.Context(), f)
		},
	}
	addCompileFlags(cmd, &f)
	cmd.Flags().StringVar(&f.output, "output-file", artifact.DefaultFileName, "Artifact path (overrides compiler.output_file)")
	return cmd
}

func (a *app) runCompile(ctx context.Context, f compileFlags) error {
	backend, err := a.newBackend()
	if err != nil {
		return err
	}

	var metrics *monitor.Metrics
	if a.cfg.Metrics.Enabled {
		metrics = monitor.NewMetrics()
	}

	c := compiler.New(backend, compiler.WithMetrics(metrics), compiler.WithLogger(log.Logger))
	res, compileErr := c.CompileFile(ctx, f.input, f.arch, f.output, f.basic)

	if metrics != nil {
		if err := metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
			log.Warn().Err(err).Str("path", a.cfg.Metrics.Textfile).Msg("failed to write metrics textfile")
		}
	}
	a.audit(ctx, res, compileErr)

	return compileErr
}

func (a *app) validateCmd() *cobra.Command {
	var f compileFlags
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that a policy compiles without writing an artifact",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := f.resolve(cmd, a); err != nil {
				return err
			}
			doc, err := seccomp.ParseFile(f.input)
			if err != nil {
				return err
			}
			arch, err := seccomp.ParseArch(f.arch)
			if err != nil {
				return err
			}
			backend, err := a.newBackend()
			if err != nil {
				return err
			}

			art, err := compiler.New(backend, compiler.WithLogger(log.Logger)).Compile(cmd.Context(), doc, arch, f.basic)
			if err != nil {
				return err
			}
			for _, name := range doc.Names() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %5d instructions\n", name, len(art[name]))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d groups OK for %s\n", f.input, doc.Len(), arch)
			return nil
		},
	}
	addCompileFlags(cmd, &f)
	return cmd
}
