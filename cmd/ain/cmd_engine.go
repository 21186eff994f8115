package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ain/internal/system"
)

var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Run the cognitive engine in the foreground",
	Long: `Boots the full runtime (state store, journal, vector memory, fact
core, messaging, scheduler) and ticks until interrupted. Normally
spawned as a child of "ain run"; run it directly for one unsupervised
life.`,
	RunE: runEngine,
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := system.Boot(ctx, cfg)
	if err != nil {
		return err
	}
	defer system.Shutdown(rt)

	logger.Info("engine online",
		zap.String("workspace", rt.Workspace),
		zap.String("version", cfg.Identity.Version))
	return rt.Engine.Run(ctx)
}
