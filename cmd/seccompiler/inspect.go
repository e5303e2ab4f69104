package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"seccompiler/pkg/artifact"
	"seccompiler/pkg/seccomp"
)

func (a *app) inspectCmd() *cobra.Command {
	var (
		group       string
		disassemble bool
	)
	cmd := &cobra.Command{
		Use:   "inspect <artifact>",
		Short: "Show the filter groups in an artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			art, err := artifact.ReadFile(args[0])
			if err != nil {
				return err
			}

			names := art.Names()
			if group != "" {
				if _, ok := art[group]; !ok {
					return fmt.Errorf("artifact has no group %q", group)
				}
				names = []string{group}
			}

			out := cmd.OutOrStdout()
			for _, name := range names {
				prog := art[name]
				fmt.Fprintf(out, "%s: %d instructions\n", name, len(prog))
				if disassemble {
					printProgram(out, prog)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "Only show this group")
	cmd.Flags().BoolVarP(&disassemble, "disassemble", "d", false, "Print BPF instructions")
	return cmd
}

func printProgram(w io.Writer, prog seccomp.Program) {
	raw := prog.Instructions()
	for i, ins := range prog.Disassemble() {
		r := raw[i]
		fmt.Fprintf(w, "  %4d: %04x %02x %02x %08x  %v\n", i, r.Op, r.Jt, r.Jf, r.K, ins)
	}
}
