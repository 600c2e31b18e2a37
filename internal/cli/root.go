// Package cli implements the prefctl command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	pref "github.com/goliatone/go-preference"
	"github.com/goliatone/go-preference/internal/config"
	"github.com/goliatone/go-preference/pkg/state"
	"github.com/goliatone/go-preference/pkg/zaplog"
)

// ErrNotSet indicates a lookup for a key no domain holds.
var ErrNotSet = errors.New("preference not set")

// opener connects the application store; tests swap it out.
type opener func(ctx context.Context, cfg config.Config, logger *zap.Logger) (pref.Store, func() error, error)

type app struct {
	configPath string
	defines    []string
	open       opener

	cfg    config.Config
	logger *zap.Logger
	store  *state.LayeredStore
	close  func() error
}

// NewRootCommand returns the prefctl root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(openBackend)
}

func newRootCommand(open opener) *cobra.Command {
	a := &app{open: open}

	cmd := &cobra.Command{
		Use:   "prefctl",
		Short: "Read, write and follow typed preferences",
		Long: `prefctl reads and writes preferences held by a memory, file, redis,
nats or sqlite backend. Values resolve through the argument, application
and registration domains.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "config file (default ./prefctl.yaml)")
	flags.String("backend", "", "backend: memory, file, redis, nats or sqlite")
	flags.String("suite", "", "preference suite")
	flags.String("scope", "", "owner scope: system, tenant, org, team or user")
	flags.String("scope-id", "", "owner id for non-system scopes")
	flags.String("file", "", "preferences file for the file backend")
	flags.String("registration", "", "YAML file of registration defaults")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.StringArrayVarP(&a.defines, "define", "D", nil, "argument domain override as key=value")

	cmd.AddCommand(
		newGetCommand(a),
		newSetCommand(a),
		newRemoveCommand(a),
		newListCommand(a),
		newWatchCommand(a),
		newTraceCommand(a),
	)
	return cmd
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath, cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := newLogger(cfg.Log, cmd)
	if err != nil {
		return err
	}
	a.logger = logger

	arguments, err := parseDefines(a.defines)
	if err != nil {
		return err
	}
	registration, err := config.LoadRegistration(cfg.Registration)
	if err != nil {
		return err
	}

	backend, closeBackend, err := a.open(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}
	store, err := state.StandardLayers(arguments, backend)
	if err != nil {
		closeBackend()
		return err
	}
	if err := store.Register(registration); err != nil {
		closeBackend()
		return err
	}
	a.store = store
	a.close = closeBackend
	return nil
}

// runE wraps a subcommand so the backend is released however it exits.
func (a *app) runE(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := fn(cmd, args)
		return errors.Join(err, a.teardown())
	}
}

func (a *app) teardown() error {
	var err error
	if a.close != nil {
		err = a.close()
		a.close = nil
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return err
}

// bindingLogger forwards binding events to zap.
func (a *app) bindingLogger() pref.Logger {
	return zaplog.New(a.logger)
}

func newLogger(cfg config.Log, cmd *cobra.Command) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	if cfg.Development {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
	}
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.AddSync(cmd.ErrOrStderr()),
		level,
	)
	return zap.New(core).Named("prefctl"), nil
}

// parseDefines turns key=value pairs into argument domain values. Values
// are read as YAML scalars, so 12 is an int and true a bool.
func parseDefines(defines []string) (map[string]any, error) {
	if len(defines) == 0 {
		return nil, nil
	}
	arguments := make(map[string]any, len(defines))
	for _, define := range defines {
		key, text, ok := strings.Cut(define, "=")
		if !ok {
			return nil, fmt.Errorf("define %q: want key=value", define)
		}
		key = strings.TrimSpace(key)
		if err := pref.ValidateKey(key); err != nil {
			return nil, fmt.Errorf("define %q: %w", define, err)
		}
		var value any
		if err := yaml.Unmarshal([]byte(text), &value); err != nil || value == nil {
			value = text
		}
		arguments[key] = value
	}
	return arguments, nil
}
