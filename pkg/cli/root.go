package cli

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telekom/logmail/pkg/config"
	"github.com/telekom/logmail/pkg/system"
)

type Config struct {
	ConfigPath   string
	Input        io.Reader
	OutputWriter io.Writer
	// Logger replaces the logger built from the debug flag.
	Logger *zap.SugaredLogger
}

type runtimeState struct {
	configPath string
	debug      bool
	cfg        *config.Config
	input      io.Reader
	writer     io.Writer
	logger     *zap.SugaredLogger
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		ConfigPath:   config.Path(),
		Input:        os.Stdin,
		OutputWriter: os.Stdout,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{
		configPath: cfg.ConfigPath,
		input:      cfg.Input,
		writer:     cfg.OutputWriter,
		logger:     cfg.Logger,
	}

	root := &cobra.Command{
		Use:           "logmail",
		Short:         "Mail selected log records",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.input == nil {
				rt.input = os.Stdin
			}

			// Skip config loading for commands that don't need it
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}

			cfg, err := config.Load(rt.configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			rt.cfg = &cfg

			if rt.logger == nil {
				zl, err := system.NewLogger(rt.debug || cfg.Debug)
				if err != nil {
					return err
				}
				rt.logger = zl.Sugar()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file (env LOGMAIL_CONFIG_PATH)")
	root.PersistentFlags().BoolVar(&rt.debug, "debug", getEnvBool("LOGMAIL_DEBUG", false), "Enable development logging (env LOGMAIL_DEBUG)")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewRunCommand(),
		NewSendTestCommand(),
		NewVersionCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) Logger() *zap.SugaredLogger {
	if rt.logger != nil {
		return rt.logger
	}
	return zap.NewNop().Sugar()
}

// Config returns the loaded configuration.
func (rt *runtimeState) Config() (*config.Config, error) {
	if rt.cfg == nil {
		return nil, errors.New("config not loaded")
	}
	return rt.cfg, nil
}
