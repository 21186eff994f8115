package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ain/internal/config"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string

	// Logger for the cmd layer; subsystems log through internal/logging.
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ain",
	Short: "ain — an autonomous organism that grows its own working tree",
	Long: `ain is a self-evolving agent runtime.

A supervised engine ticks about once a second. On its cadence it asks a
dreamer model WHAT to improve and a coder model HOW, then sanitizes,
validates, applies, and tests the proposed files before committing them
to its own working tree. Every step lands in a journal and a vector
memory; on a crash the supervisor repairs the tree from git or backups
and respawns the engine.

Start the organism with "ain run".`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "warning: .env: %v\n", err)
		}

		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg = zap.NewDevelopmentConfig()
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// loadConfig resolves flags into a validated configuration. The
// --workspace flag beats the file; the file beats the defaults.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		ws := workspace
		if ws == "" {
			ws = "."
		}
		path = config.DefaultPath(ws)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if workspace != "" {
		cfg.Identity.Workspace = workspace
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: <workspace>/ain.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(engineCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(roadmapCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
