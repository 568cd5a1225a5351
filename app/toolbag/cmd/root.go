package cmd

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cchalm/toolbag/internal/config"
)

var (
	cfg    = config.Default()
	logger = zap.NewNop()

	configPath string
	rootFlag   string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "toolbag",
	Short: "File tools for an AI agent, confined to one working directory",
	Long: `toolbag gives a language model a small set of file tools (list, search, read, edit, copy,
move, delete, save, and fetch) that can only touch files under one working directory, and
drives the model through a task with them.`,
	PersistentPreRunE: loadRootConfig,
	SilenceUsage:      true,
}

func Execute() error {
	defer func() { _ = logger.Sync() }()
	return rootCmd.Execute()
}

func loadRootConfig(cmd *cobra.Command, _ []string) error {
	// A missing .env file is normal, the environment may be set up some other way
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env file: %w", err)
	}

	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg = loaded

	flags := cmd.Flags()
	if flags.Changed("root") {
		cfg.Root = rootFlag
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	applyRunFlags(cmd)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err = newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level '%s': %w", level, err)
	}
	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(lvl)
	zapConfig.Encoding = "console"
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapConfig.Build()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", ".", "Working directory the tools are confined to")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}
