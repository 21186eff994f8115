// Package system is the motherboard: Boot builds every subsystem in a
// fixed order and hands back the Runtime bundle, Shutdown releases what
// Boot opened, in reverse. Nothing here keeps package-level state, so a
// process (or a test) can boot as many runtimes as it wants.
package system

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"ain/internal/attention"
	"ain/internal/config"
	"ain/internal/embedding"
	"ain/internal/evolve"
	"ain/internal/factcore"
	"ain/internal/gitsync"
	"ain/internal/guard"
	"ain/internal/journal"
	"ain/internal/kvstore"
	"ain/internal/llm"
	"ain/internal/logging"
	"ain/internal/memory"
	"ain/internal/meta"
	"ain/internal/reflex"
	"ain/internal/resource"
	"ain/internal/scheduler"
	"ain/internal/telegram"
	"ain/internal/temporal"
	"ain/internal/types"
)

// Runtime is the capability bundle a booted process runs on. Components
// were handed the narrow pieces they need at construction; the bundle
// exists so the cmd layer and Shutdown can reach everything.
type Runtime struct {
	Config    *config.Config
	Workspace string

	KV        kvstore.Store
	Journal   *journal.Journal
	Vector    *memory.Store
	Writer    *journal.DualWriter
	Graph     *factcore.Core
	Guard     *guard.Registry
	LLM       *llm.Client
	Account   *resource.Account
	Git       *gitsync.Synchronizer
	Messaging *telegram.Client

	Registry *reflex.Registry
	Patterns *reflex.PatternIndex
	Gate     *reflex.Gate
	Learned  *reflex.Learned

	Pipeline *evolve.Pipeline
	Engine   *scheduler.Engine
}

// Boot wires the whole organism for one workspace. Order is fixed: KV,
// journal, vector store, fact graph, messaging, scheduler; missing
// integrations (KV url, telegram token, git remote) degrade inside
// their packages rather than failing the boot. On error every resource
// opened so far is released.
func Boot(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	ws, err := filepath.Abs(cfg.Identity.Workspace)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	if err := logging.Initialize(ws); err != nil {
		return nil, err
	}
	logging.SetJSONMode(cfg.Logging.JSON)
	if len(cfg.Logging.Debug) > 0 {
		cats := make([]logging.Category, 0, len(cfg.Logging.Debug))
		for _, c := range cfg.Logging.Debug {
			cats = append(cats, logging.Category(c))
		}
		logging.SetDebug(cats...)
	}
	if missing := cfg.MissingSubsystems(); len(missing) > 0 {
		logging.Boot("degraded subsystems: %s", strings.Join(missing, ", "))
	}

	rt := &Runtime{Config: cfg, Workspace: ws}
	booted := false
	defer func() {
		if !booted {
			Shutdown(rt)
		}
	}()

	rt.KV = kvstore.Open(cfg.KV)

	rt.Journal, err = journal.Open(ws)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	eng := embedding.New(cfg.Memory.Embedding, cfg.Memory.Dimension)
	vecPath := cfg.Memory.VectorDBPath
	if !filepath.IsAbs(vecPath) {
		vecPath = filepath.Join(ws, vecPath)
	}
	rt.Vector, err = memory.Open(vecPath, cfg.Memory.Dimension, cfg.Memory.Capacity, eng)
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	rt.Writer = &journal.DualWriter{Journal: rt.Journal, Vector: rt.Vector}

	rt.Guard, err = guard.NewRegistry(ws)
	if err != nil {
		return nil, fmt.Errorf("load protection registry: %w", err)
	}
	if err := rt.Guard.Watch(ctx); err != nil {
		logging.Guard("protection watcher unavailable: %v", err)
	}

	rt.Graph, err = factcore.New(filepath.Join(ws, "fact_core.json"), ws, rt.Guard)
	if err != nil {
		return nil, fmt.Errorf("hydrate fact core: %w", err)
	}

	rt.LLM = llm.New(cfg.LLM, cfg.LLMTimeout())
	rt.Account, err = resource.Open(filepath.Join(ws, "resource_stats.json"), cfg.Resource)
	if err != nil {
		return nil, fmt.Errorf("open resource account: %w", err)
	}
	account := rt.Account
	rt.LLM.OnUsage(func(u llm.Usage) {
		account.Record(u.PromptTokens, u.OutputTokens)
	})

	rt.Git = gitsync.New(ws, cfg.Git, cfg.GitTimeout())
	if rt.Git.Runner().IsRepo(ctx) {
		rt.Git.Runner().ConfigureWorkspace(ctx)
	}

	rt.Messaging, err = telegram.New(cfg.Telegram, cfg.PollTimeout())
	if err != nil {
		return nil, fmt.Errorf("configure messaging: %w", err)
	}
	messaging := rt.Messaging
	notify := func(text string) {
		sendCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := messaging.Send(sendCtx, text); err != nil {
			logging.Get(logging.CategoryTelegram).Warn("notify: %v", err)
		}
	}

	rt.Registry = reflex.NewRegistry()
	rt.Patterns, err = reflex.NewPatternIndex()
	if err != nil {
		return nil, fmt.Errorf("build pattern index: %w", err)
	}
	rt.Gate = reflex.NewGate(rt.Registry, reflex.NewIntuition(rt.Patterns), reflex.NewQuantifier())
	rt.Gate.SetResourceProbe(func() types.ResourceStatus {
		return types.ResourceStatus(account.Status())
	})

	rt.Learned, err = reflex.OpenLearned(filepath.Join(ws, "learned_reflexes.json"))
	if err != nil {
		return nil, fmt.Errorf("load learned reflexes: %w", err)
	}
	if n := rt.Learned.Register(rt.Registry, rt.Patterns); n > 0 {
		logging.Boot("hydrated %d learned reflex(es)", n)
	}

	rt.Pipeline = evolve.NewPipeline(evolve.Deps{
		Core:        rt.Graph,
		Journal:     rt.Journal,
		Writer:      rt.Writer,
		LLM:         rt.LLM,
		Git:         rt.Git,
		Guard:       rt.Guard,
		Notify:      notify,
		Workspace:   ws,
		BackupDir:   cfg.Evolution.BackupDir,
		Directive:   cfg.Identity.PrimeDirective,
		WarnLines:   cfg.Evolution.WarnFileLines,
		MaxLines:    cfg.Evolution.MaxFileLines,
		PythonBin:   cfg.Evolution.PythonBin,
		TestTimeout: cfg.TestTimeout(),
	})

	rt.Engine = scheduler.New(scheduler.Deps{
		Config:    cfg,
		Core:      rt.Graph,
		Journal:   rt.Journal,
		Writer:    rt.Writer,
		Vector:    rt.Vector,
		LLM:       rt.LLM,
		Git:       rt.Git,
		KV:        rt.KV,
		Guard:     rt.Guard,
		Messaging: rt.Messaging,
		Notify:    notify,
		Pipeline:  rt.Pipeline,
		Gate:      rt.Gate,
		Learned:   rt.Learned,
		Registry:  rt.Registry,
		Patterns:  rt.Patterns,
		Attention: attention.New(),
		Temporal:  temporal.New(),
		Meta:      meta.NewCycle(types.DefaultRuntimeParameters()),
		Account:   rt.Account,
	})

	if err := reflex.RegisterBuiltins(rt.Registry, rt.Patterns, rt.Engine.StatusLine); err != nil {
		return nil, fmt.Errorf("register builtin reflexes: %w", err)
	}

	logging.Boot("runtime ready: workspace=%s reflexes=%d", ws, rt.Registry.Len())
	booted = true
	return rt, nil
}

// Shutdown releases what Boot opened, newest first. The engine loop is
// expected to have returned already; Shutdown only closes handles.
func Shutdown(rt *Runtime) {
	if rt == nil {
		return
	}
	if rt.Account != nil {
		if err := rt.Account.Save(); err != nil {
			logging.Resource("final ledger save failed: %v", err)
		}
	}
	if rt.Guard != nil {
		rt.Guard.Close()
	}
	if rt.Vector != nil {
		if err := rt.Vector.Close(); err != nil {
			logging.Vector("close vector store: %v", err)
		}
	}
	if rt.KV != nil {
		if err := rt.KV.Close(); err != nil {
			logging.KV("close state store: %v", err)
		}
	}
	logging.Shutdown()
}
