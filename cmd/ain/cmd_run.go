package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ain/internal/gitsync"
	"ain/internal/logging"
	"ain/internal/supervisor"
	"ain/internal/telegram"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the supervised organism",
	Long: `Starts the supervisor, which spawns the engine as a child process and
keeps it alive: on a crash it writes last_crash.log, notifies the
operator, repairs the working tree from git or backups, and respawns.
Ctrl-C stops the engine and then the supervisor.`,
	RunE: runSupervised,
}

func runSupervised(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ws, err := filepath.Abs(cfg.Identity.Workspace)
	if err != nil {
		return err
	}
	cfg.Identity.Workspace = ws
	if err := logging.Initialize(ws); err != nil {
		return err
	}
	defer logging.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The supervisor talks to the operator directly; it must stay alive
	// when the engine stack cannot even boot.
	messaging, err := telegram.New(cfg.Telegram, cfg.PollTimeout())
	if err != nil {
		return err
	}
	notify := func(text string) {
		sendCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := messaging.Send(sendCtx, text); err != nil {
			logging.Get(logging.CategoryTelegram).Warn("notify: %v", err)
		}
	}

	sup := supervisor.New(supervisor.Deps{
		Config:        cfg,
		Git:           gitsync.New(ws, cfg.Git, cfg.GitTimeout()),
		Notify:        notify,
		EngineCommand: engineArgv(ws),
	})
	logger.Info("supervisor starting", zap.String("workspace", ws))
	return sup.Run(ctx)
}

// engineArgv re-execs this binary as the engine child, carrying the
// resolved workspace and any explicit flags so parent and child agree.
func engineArgv(ws string) []string {
	self, err := os.Executable()
	if err != nil {
		self = os.Args[0]
	}
	argv := []string{self, "engine", "--workspace", ws}
	if configPath != "" {
		if abs, err := filepath.Abs(configPath); err == nil {
			argv = append(argv, "--config", abs)
		}
	}
	if verbose {
		argv = append(argv, "--verbose")
	}
	return argv
}
