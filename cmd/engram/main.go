// Command engram is the persistent memory store CLI for AI-agent
// development workflows: typed entities, typed relationships, NLQ search,
// workflow state machines, and commit validation.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"engram/internal/config"
	"engram/internal/logging"
	"engram/internal/nlq"
	"engram/internal/store"
	"engram/internal/validation"
	"engram/internal/workflow"
)

var (
	// Global flags
	verbose   bool
	workspace string
	timeout   time.Duration

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "engram",
	Short: "engram - persistent memory store for agent workflows",
	Long: `engram records typed entities (tasks, context notes, reasoning records)
and typed relationships between them, answers natural-language queries over
that graph, drives per-task workflow state machines, and gates commits
through a configurable validation engine.

Entities are queryable the moment their creating call returns; there is no
eventual-consistency window.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if workspace == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to resolve workspace: %w", err)
			}
			workspace = cwd
		}

		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

// app bundles the wired components for a single CLI invocation.
type app struct {
	cfg       *config.Config
	store     *store.LocalStore
	engine    *workflow.Engine
	nlq       *nlq.Engine
	validator *validation.Validator
}

// bootApp loads configuration and opens the store. Configuration is built
// once here and passed by reference; nothing reads ambient globals.
func bootApp() (*app, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	if err := logging.Initialize(workspace, cfg.Logging.DebugMode, cfg.Logging.Level); err != nil {
		return nil, err
	}

	s, err := store.NewLocalStore(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	registry := workflow.NewRegistry()
	if err := registry.LoadDir(filepath.Join(workspace, ".engram", "workflows")); err != nil {
		s.Close()
		return nil, err
	}

	vcfg, err := validation.LoadConfig(workspace)
	if err != nil {
		s.Close()
		return nil, err
	}
	rules, err := validation.Compile(vcfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	return &app{
		cfg:       cfg,
		store:     s,
		engine:    workflow.NewEngine(s, registry),
		nlq:       nlq.New(s, cfg.Query.MinResults, cfg.Query.MaxResults),
		validator: validation.New(s, rules),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		logger.Warn("Failed to close store", zap.Error(err))
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default: cwd)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "operation timeout")

	rootCmd.AddCommand(entityCmd)
	rootCmd.AddCommand(relateCmd)
	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(warmCacheCmd)
	rootCmd.AddCommand(hookCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
