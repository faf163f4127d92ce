// Package main implements memctl, the operator CLI for the memory engine.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lexcounsel/memengine/internal/config"
	"github.com/lexcounsel/memengine/internal/logging"
	"github.com/lexcounsel/memengine/internal/vectorstore"
	"github.com/lexcounsel/memengine/pkg/engine"
)

var (
	configPath string
	version    = "dev"
)

// Factories are variables so tests can substitute in-memory components.
var (
	loadConfig = config.Load
	newLogger  = func(cfg *config.Config) (*logging.Logger, error) {
		lc, err := cfg.LoggerConfig()
		if err != nil {
			return nil, err
		}
		return logging.NewLogger(lc)
	}
	newBackend = func(cfg *config.Config, logger *logging.Logger) (vectorstore.Backend, error) {
		return engine.NewBackend(cfg.VectorStore, logger)
	}
	newEngine = func(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*engine.Engine, error) {
		return engine.New(ctx, cfg, engine.Deps{Logger: logger})
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "memctl",
	Short: "Operate the tenant-isolated memory engine",
	Long: `memctl provisions the vector index and runs memory operations for a
single tenant from the command line. It reads the same configuration as
the engine: defaults, then --config, then MEMENGINE_* variables.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
}

// runtime holds what a command needs, released by close.
type runtime struct {
	cfg    *config.Config
	logger *logging.Logger
	engine *engine.Engine
}

func (r *runtime) close() {
	if r.engine != nil {
		_ = r.engine.Close()
	}
	_ = r.logger.Sync()
}

func setup() (*config.Config, *logging.Logger, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, logger, nil
}

// openEngine loads config and returns an initialised engine.
func openEngine(ctx context.Context) (*runtime, error) {
	cfg, logger, err := setup()
	if err != nil {
		return nil, err
	}
	eng, err := newEngine(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger, engine: eng}
	if err := eng.Init(ctx); err != nil {
		rt.close()
		return nil, err
	}
	return rt, nil
}
