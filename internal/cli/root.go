// Package cli wires configuration, storage, the model provider and the
// revision loop into the text2sql commands.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"text2sql/internal/config"
	"text2sql/internal/logging"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

// app carries what every command needs once flags are parsed.
type app struct {
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
}

// persistent flag name -> config key
var flagKeys = map[string]string{
	"data-dir":   "storage.data_dir",
	"provider":   "llm.provider",
	"model":      "llm.model",
	"base-url":   "llm.base_url",
	"log-level":  "logging.level",
	"log-format": "logging.format",
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "text2sql",
		Short: "Ask questions about CSV data in plain language",
		Long: `text2sql loads CSV files into SQLite and answers questions about them.
A model writes SQL, a second pass reviews it, and rejected queries are
revised until accepted or the revision limit is reached.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd.Root())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default: ./text2sql.yaml or ./data/text2sql.yaml)")
	pf.String("data-dir", "", "directory holding user stores and the state database (default ./data)")
	pf.String("provider", "", "model provider (openai, anthropic)")
	pf.String("model", "", "model name")
	pf.String("base-url", "", "model API base URL")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("log-format", "", "log format (text, json)")

	root.AddCommand(
		newIngestCommand(a),
		newAskCommand(a),
		newExecCommand(a),
		newDescribeCommand(a),
		newSessionCommand(a),
		newServeCommand(a),
		newMigrateCommand(a),
		newStatsCommand(a),
		newSecretsCommand(a),
	)
	return root
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (a *app) load(root *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile, func(v *viper.Viper) error {
		for flag, key := range flagKeys {
			if err := v.BindPFlag(key, root.PersistentFlags().Lookup(flag)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	if cfg.File != "" {
		logger.Debug("config loaded", zap.String("file", cfg.File))
	}
	return nil
}
