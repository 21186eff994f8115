// Package supervisor keeps the engine alive. It spawns the engine as a
// child process, and when the child dies it saves the evidence, repairs
// the working tree, waits out a cooldown, and respawns. Recovery never
// calls into engine code: the tree is repaired with VCS primitives and
// file copies only, so a broken engine build cannot break its own
// rescue.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"ain/internal/config"
	"ain/internal/gitsync"
	"ain/internal/logging"
)

const (
	// crashLogName sits in the workspace root so the next engine boot
	// (and the operator) can find the last death certificate.
	crashLogName = "last_crash.log"

	// respawnCooldown keeps a crash-looping engine from hammering the
	// provider or the git remote.
	respawnCooldown = 30 * time.Second

	// termGrace is how long a cancelled child gets between SIGTERM and
	// SIGKILL. The engine flushes its journal on SIGTERM.
	termGrace = 10 * time.Second

	// tailLimit bounds the stderr ring. Python tracebacks put the
	// interesting frame last, so keeping the tail is enough.
	tailLimit = 4096
)

// Deps wires the supervisor. Only Config is required.
type Deps struct {
	Config *config.Config

	// Git provides the repo-level recovery primitives. Nil skips the
	// VCS rungs of the recovery ladder.
	Git *gitsync.Synchronizer

	// Notify delivers one message per crash to the operator.
	Notify func(string)

	// EngineCommand overrides the child argv. Empty means re-exec this
	// binary with the "engine" subcommand.
	EngineCommand []string
}

// Supervisor runs the spawn/crash/recover/respawn loop.
type Supervisor struct {
	cfg       *config.Config
	git       *gitsync.Synchronizer
	notify    func(string)
	command   []string
	workspace string
	backups   string

	cooldown time.Duration
	stdout   io.Writer
	stderr   io.Writer

	spawns int
}

func New(d Deps) *Supervisor {
	ws := d.Config.Identity.Workspace
	if ws == "" {
		ws = "."
	}
	backups := d.Config.Evolution.BackupDir
	if backups == "" {
		backups = "backups"
	}
	if !filepath.IsAbs(backups) {
		backups = filepath.Join(ws, backups)
	}
	command := d.EngineCommand
	if len(command) == 0 {
		self, err := os.Executable()
		if err != nil {
			self = os.Args[0]
		}
		command = []string{self, "engine"}
	}
	notify := d.Notify
	if notify == nil {
		notify = func(string) {}
	}
	return &Supervisor{
		cfg:       d.Config,
		git:       d.Git,
		notify:    notify,
		command:   command,
		workspace: ws,
		backups:   backups,
		cooldown:  respawnCooldown,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
	}
}

// Run spawns the engine and keeps respawning it until the engine exits
// cleanly or the context is cancelled. Both outcomes return nil; the
// supervisor itself only fails when it cannot spawn at all.
func (s *Supervisor) Run(ctx context.Context) error {
	logging.Supervisor("watching engine: %s", strings.Join(s.command, " "))
	for {
		code, tail, err := s.runOnce(ctx)
		if ctx.Err() != nil {
			logging.Supervisor("shutdown requested, engine stopped")
			return nil
		}
		if err != nil {
			// Spawn failure, not an engine crash. Recovery cannot fix
			// a missing binary, so surface it.
			return fmt.Errorf("spawn engine: %w", err)
		}
		if code == 0 {
			logging.Supervisor("engine exited cleanly after %d spawn(s)", s.spawns)
			return nil
		}
		s.handleCrash(ctx, code, tail)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// runOnce spawns one engine child and waits for it. The returned code
// is the child's exit code, or -1 when the child died on a signal.
func (s *Supervisor) runOnce(ctx context.Context) (int, string, error) {
	s.spawns++
	tail := newTailBuffer(tailLimit)

	cmd := exec.CommandContext(ctx, s.command[0], s.command[1:]...)
	cmd.Dir = s.workspace
	cmd.Env = os.Environ()
	cmd.Stdout = s.stdout
	cmd.Stderr = io.MultiWriter(s.stderr, tail)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	// A dying engine can leave grandchildren holding the output pipes
	// open; WaitDelay stops that from stalling the respawn loop.
	cmd.WaitDelay = termGrace

	logging.SupervisorDebug("spawn #%d", s.spawns)
	if err := cmd.Start(); err != nil {
		return -1, "", err
	}
	err := cmd.Wait()
	if err == nil {
		return 0, tail.String(), nil
	}
	var exit *exec.ExitError
	if errors.As(err, &exit) {
		return exit.ExitCode(), tail.String(), nil
	}
	return -1, tail.String(), err
}

// handleCrash writes the crash log, tells the operator once, waits out
// the cooldown, then walks the recovery ladder.
func (s *Supervisor) handleCrash(ctx context.Context, code int, tail string) {
	logging.Supervisor("engine crashed with exit %d (spawn #%d)", code, s.spawns)
	if err := s.writeCrashLog(code, tail); err != nil {
		logging.Supervisor("crash log write failed: %v", err)
	}

	msg := fmt.Sprintf("💥 Engine crashed (exit %d). Recovering.", code)
	if line := lastLine(tail); line != "" {
		msg = fmt.Sprintf("💥 Engine crashed (exit %d): %s", code, line)
	}
	s.notify(msg)

	if !sleep(ctx, s.cooldown) {
		return
	}
	strategy := s.recoverTree(ctx)
	logging.Supervisor("recovery: %s", strategy)
	logging.Audit(logging.AuditEngineRestart, "", strategy,
		map[string]interface{}{"exit_code": code, "spawn": s.spawns})
}

// writeCrashLog leaves the death certificate in the workspace root.
func (s *Supervisor) writeCrashLog(code int, tail string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "time: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "exit code: %d\n", code)
	fmt.Fprintf(&b, "spawn: %d\n\n", s.spawns)
	if tail == "" {
		b.WriteString("(no stderr captured)\n")
	} else {
		b.WriteString(tail)
		if !strings.HasSuffix(tail, "\n") {
			b.WriteByte('\n')
		}
	}
	path := filepath.Join(s.workspace, crashLogName)
	return os.WriteFile(path, []byte(b.String()), 0644)
}

// sleep waits d unless the context ends first. It reports whether the
// full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// lastLine picks the final non-empty stderr line for the notification,
// clipped so a chat message stays a chat message.
func lastLine(tail string) string {
	lines := strings.Split(tail, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		r := []rune(line)
		if len(r) > 160 {
			return string(r[:160]) + "…"
		}
		return line
	}
	return ""
}

// tailBuffer keeps the last limit bytes written to it. The exec runtime
// writes from its own pipe-copy goroutine, hence the lock.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
