package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"seccompiler/pkg/seccomp"
)

func (a *app) initCmd() *cobra.Command {
	var (
		arch   string
		output string
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter policy with the default and network groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("target-arch") && a.cfg.Compiler.TargetArch != "" {
				arch = a.cfg.Compiler.TargetArch
			}
			target, err := seccomp.ParseArch(arch)
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(seccomp.StarterDocument(target), "", "  ")
			if err != nil {
				return err
			}
			data = append(data, '\n')

			if output == "" || output == "-" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if _, err := os.Stat(output); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", output)
			}
			if err := os.WriteFile(filepath.Clean(output), data, 0o644); err != nil {
				return err
			}
			log.Info().Str("path", output).Str("arch", target.String()).Msg("starter policy written")
			return nil
		},
	}
	cmd.Flags().StringVar(&arch, "target-arch", "x86_64", "Target architecture")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to file instead of stdout")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func (a *app) exportOCICmd() *cobra.Command {
	var (
		input string
		group string
		arch  string
	)
	cmd := &cobra.Command{
		Use:   "export-oci",
		Short: "Render one filter group as an OCI runtime-spec seccomp profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("target-arch") && a.cfg.Compiler.TargetArch != "" {
				arch = a.cfg.Compiler.TargetArch
			}
			target, err := seccomp.ParseArch(arch)
			if err != nil {
				return err
			}

			doc, err := seccomp.ParseFile(input)
			if err != nil {
				return err
			}
			g, ok := doc.Group(group)
			if !ok {
				return fmt.Errorf("policy has no group %q (have %v)", group, doc.Names())
			}

			profile, err := g.OCIProfile(target)
			if err != nil {
				return fmt.Errorf("group %q: %w", group, err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(profile)
		},
	}
	cmd.Flags().StringVar(&input, "input-file", "", "JSON policy document")
	cmd.Flags().StringVar(&group, "group", "", "Filter group to export")
	cmd.Flags().StringVar(&arch, "target-arch", "x86_64", "Target architecture")
	_ = cmd.MarkFlagRequired("input-file")
	_ = cmd.MarkFlagRequired("group")
	return cmd
}
