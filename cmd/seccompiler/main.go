package main

import (
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"seccompiler/internal/compiler"
	"seccompiler/internal/config"
	"seccompiler/pkg/seccomp"
	"seccompiler/pkg/seccomp/libseccomp"
)

// app carries state shared by every subcommand.
type app struct {
	configPath string
	logLevel   string

	cfg        *config.Config
	newBackend func() (seccomp.Backend, error)
}

// Exit codes separate a policy that can never compile from a run that
// failed on its environment.
const (
	exitFailure = 1
	exitPolicy  = 2
	exitOutput  = 3
)

func main() {
	if err := newRootCmd(defaultBackend).Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case seccomp.IsMalformed(err), compiler.IsUnknownSyscall(err), errors.Is(err, seccomp.ErrUnsupportedArch):
		return exitPolicy
	case compiler.IsOutputError(err):
		return exitOutput
	default:
		return exitFailure
	}
}

func defaultBackend() (seccomp.Backend, error) {
	b, err := libseccomp.New()
	if err != nil {
		return nil, err
	}
	return b, nil
}

func newRootCmd(newBackend func() (seccomp.Backend, error)) *cobra.Command {
	a := &app{newBackend: newBackend}

	root := &cobra.Command{
		Use:           "seccompiler",
		Short:         "Compile JSON seccomp policies into BPF filter artifacts",
		SilenceUsage:  true,
		Version:       "libseccomp " + libseccomp.Version(),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (default $"+config.EnvConfigPath+")")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	root.AddCommand(
		a.compileCmd(),
		a.validateCmd(),
		a.inspectCmd(),
		a.initCmd(),
		a.exportOCICmd(),
		a.historyCmd(),
	)
	return root
}

// setup loads configuration and installs the global logger.
func (a *app) setup() error {
	cfg, err := config.Load(config.Resolve(a.configPath))
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := cfg.Log.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerolog.SetGlobalLevel(lvl)
	if cfg.Log.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return nil
}
