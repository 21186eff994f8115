package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"ain/internal/factcore"
	"ain/internal/guard"
	"ain/internal/journal"
	"ain/internal/resource"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the organism's vitals",
	Long: `Reads the journal, metrics, roadmap, and resource ledger from the
workspace and prints a one-screen summary. Works whether or not the
engine is running; it only reads state files.`,
	RunE: showStatus,
}

func showStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ws, err := filepath.Abs(cfg.Identity.Workspace)
	if err != nil {
		return err
	}

	j, err := journal.Open(ws)
	if err != nil {
		return err
	}
	account, err := resource.Open(filepath.Join(ws, "resource_stats.json"), cfg.Resource)
	if err != nil {
		return err
	}
	m := j.Metrics()
	day := account.Today()

	fmt.Println(titleStyle.Render(fmt.Sprintf("%s v%s", cfg.Identity.Name, cfg.Identity.Version)))
	fmt.Println(row("workspace", ws))
	fmt.Println(row("roadmap", roadmapLine(ws)))
	fmt.Println(row("growth", fmt.Sprintf("%d", m.GrowthScore)))
	fmt.Println(row("evolutions", fmt.Sprintf("%s ok / %s failed",
		okStyle.Render(fmt.Sprintf("%d", m.SuccessfulEvolutions)),
		failStyle.Render(fmt.Sprintf("%d", m.FailedEvolutions)))))

	last := "never"
	if !m.LastEvolutionAt.IsZero() {
		last = m.LastEvolutionAt.Local().Format("2006-01-02 15:04")
	}
	fmt.Println(row("last change", last))
	fmt.Println(row("budget", budgetLine(day, cfg.Resource.DailyTokenBudget, string(account.Status()))))

	if errs := j.RecentErrors(3); len(errs) > 0 {
		fmt.Println(row("errors", ""))
		for _, e := range errs {
			fmt.Printf("  %s %s: %s\n", failStyle.Render("✗"), e.Stage, clipLine(e.Message, 80))
		}
	}
	if missing := cfg.MissingSubsystems(); len(missing) > 0 {
		fmt.Println(row("degraded", warnStyle.Render(strings.Join(missing, ", "))))
	}
	return nil
}

// roadmapLine reads the current step without creating a fact core in a
// workspace that does not have one yet.
func roadmapLine(ws string) string {
	if _, err := os.Stat(filepath.Join(ws, "fact_core.json")); err != nil {
		return mutedStyle.Render("fresh workspace, nothing grown yet")
	}
	g, err := guard.NewRegistry(ws)
	if err != nil {
		return mutedStyle.Render("unreadable")
	}
	core, err := factcore.New(filepath.Join(ws, "fact_core.json"), ws, g)
	if err != nil {
		return mutedStyle.Render("unreadable")
	}
	return core.CurrentStepSummary()
}

func budgetLine(day resource.DayRecord, budget int, status string) string {
	spent := day.InputTokens + day.OutputTokens
	line := fmt.Sprintf("%d tokens today ($%.2f)", spent, day.EstimatedCost)
	if budget > 0 {
		line = fmt.Sprintf("%d / %d tokens today ($%.2f)", spent, budget, day.EstimatedCost)
	}
	styled := okStyle
	switch status {
	case "scarce":
		styled = warnStyle
	case "critical":
		styled = failStyle
	}
	return line + " " + styled.Render(status)
}

func clipLine(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
