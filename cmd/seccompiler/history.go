package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"seccompiler/internal/compiler"
	"seccompiler/internal/storage"
)

func (a *app) openDB(ctx context.Context) (*storage.DB, error) {
	if !a.cfg.AuditEnabled() {
		return nil, errors.New("database.dsn is not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	db, err := storage.New(ctx, a.cfg.Database.DSN, a.cfg.Database.MaxConns, a.cfg.Database.ConnMaxLifetime)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// audit records a finished compile run. Audit failures are logged and never
// change the outcome of the run.
func (a *app) audit(ctx context.Context, res *compiler.Result, runErr error) {
	if res == nil || !a.cfg.AuditEnabled() {
		return
	}
	db, err := a.openDB(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("database unavailable, audit logging disabled")
		return
	}
	defer db.Close()

	w := storage.NewAuditWriter(db, a.cfg.Database.AuditBuffer)
	w.Start()
	w.Log(compilationRecord(res, runErr))
	w.Flush(10 * time.Second)
}

func compilationRecord(res *compiler.Result, runErr error) *storage.Compilation {
	c := &storage.Compilation{
		ID:             res.RunID,
		InputPath:      res.InputPath,
		InputDigest:    res.InputDigest,
		OutputPath:     res.OutputPath,
		ArtifactDigest: res.ArtifactDigest,
		Arch:           res.Arch.String(),
		Basic:          res.Basic,
		GroupCount:     len(res.Groups),
		RuleCount:      res.Rules(),
		Instructions:   res.Instructions(),
		ArtifactBytes:  res.ArtifactSize,
		Status:         "success",
		DurationMS:     res.Duration.Milliseconds(),
		CreatedAt:      time.Now().UTC(),
	}
	if runErr != nil {
		c.Status = "error"
		c.ErrorKind = compiler.ErrorKind(runErr)
		c.Error = runErr.Error()
	}
	for i, g := range res.Groups {
		c.Groups = append(c.Groups, storage.GroupRecord{
			CompilationID:    res.RunID,
			Position:         i,
			Name:             g.Name,
			Rules:            g.Rules,
			ConditionalRules: g.ConditionalRules,
			Instructions:     g.Instructions,
		})
	}
	return c
}

func (a *app) historyCmd() *cobra.Command {
	var filter storage.CompilationFilter
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recent compilation runs from the audit database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if len(args) == 1 {
				c, err := db.GetCompilation(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printCompilation(cmd.OutOrStdout(), c)
				return nil
			}

			runs, err := db.ListCompilations(cmd.Context(), filter)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().StringVar(&filter.Arch, "arch", "", "Only show runs for this architecture")
	cmd.Flags().StringVar(&filter.Status, "status", "", "Only show runs with this status (success, error)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "Maximum number of runs")
	return cmd
}

func printHistory(w io.Writer, runs []storage.Compilation) {
	fmt.Fprintf(w, "%-36s  %-20s  %-7s  %-7s  %6s  %8s  %s\n",
		"RUN", "CREATED", "ARCH", "STATUS", "GROUPS", "INSNS", "OUTPUT")
	for _, r := range runs {
		status := r.Status
		if r.ErrorKind != "" {
			status += " (" + r.ErrorKind + ")"
		}
		fmt.Fprintf(w, "%-36s  %-20s  %-7s  %-7s  %6d  %8d  %s\n",
			r.ID, r.CreatedAt.Format(time.RFC3339), r.Arch, status, r.GroupCount, r.Instructions, r.OutputPath)
	}
}

func printCompilation(w io.Writer, c *storage.Compilation) {
	fmt.Fprintf(w, "run:        %s\n", c.ID)
	fmt.Fprintf(w, "created:    %s\n", c.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "status:     %s\n", c.Status)
	if c.Error != "" {
		fmt.Fprintf(w, "error:      %s (%s)\n", c.Error, c.ErrorKind)
	}
	fmt.Fprintf(w, "input:      %s (sha256 %s)\n", c.InputPath, c.InputDigest)
	fmt.Fprintf(w, "output:     %s (sha256 %s, %d bytes)\n", c.OutputPath, c.ArtifactDigest, c.ArtifactBytes)
	fmt.Fprintf(w, "arch:       %s basic=%t\n", c.Arch, c.Basic)
	fmt.Fprintf(w, "duration:   %dms\n", c.DurationMS)
	for _, g := range c.Groups {
		fmt.Fprintf(w, "  %-24s rules=%d conditional=%d instructions=%d\n",
			g.Name, g.Rules, g.ConditionalRules, g.Instructions)
	}
}
