package resource

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ain/internal/config"
	"ain/internal/logging"
)

func testAccount(t *testing.T, cfg config.ResourceConfig) *Account {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "resource_stats.json"), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return a
}

func fixedDay(year int, month time.Month, day int) func() time.Time {
	return func() time.Time {
		return time.Date(year, month, day, 12, 0, 0, 0, time.Local)
	}
}

func TestRecordTalliesTokensAndCost(t *testing.T) {
	a := testAccount(t, config.ResourceConfig{
		DailyTokenBudget: 1_000_000,
		InputCostPerM:    2.50,
		OutputCostPerM:   10.00,
	})

	a.Record(1000, 500)
	a.Record(2000, 1500)

	today := a.Today()
	if today.InputTokens != 3000 || today.OutputTokens != 2000 {
		t.Errorf("tokens = %d/%d, want 3000/2000", today.InputTokens, today.OutputTokens)
	}
	if today.CallCount != 2 {
		t.Errorf("calls = %d, want 2", today.CallCount)
	}
	wantCost := 3000.0/1e6*2.50 + 2000.0/1e6*10.00
	if math.Abs(today.EstimatedCost-wantCost) > 1e-9 {
		t.Errorf("cost = %v, want %v", today.EstimatedCost, wantCost)
	}
}

func TestDayRolloverPreservesClosingTally(t *testing.T) {
	a := testAccount(t, config.ResourceConfig{})
	a.now = fixedDay(2026, time.March, 1)
	a.doc.Today = DayRecord{Day: a.today()}

	a.Record(100, 50)

	a.now = fixedDay(2026, time.March, 2)
	a.Record(7, 3)

	today := a.Today()
	if today.Day != "2026-03-02" {
		t.Fatalf("open day = %s, want 2026-03-02", today.Day)
	}
	if today.InputTokens != 7 || today.CallCount != 1 {
		t.Errorf("open day tally = %+v, want only the new call", today)
	}

	hist := a.History()
	if len(hist) != 1 {
		t.Fatalf("history length = %d, want 1", len(hist))
	}
	closed := hist[0]
	if closed.Day != "2026-03-01" || closed.InputTokens != 100 || closed.OutputTokens != 50 || closed.CallCount != 1 {
		t.Errorf("closed day = %+v", closed)
	}
}

func TestHistoryRingKeepsThirtyDays(t *testing.T) {
	a := testAccount(t, config.ResourceConfig{})
	a.now = fixedDay(2026, time.January, 1)
	a.doc.Today = DayRecord{Day: a.today()}

	for day := 1; day <= 35; day++ {
		a.now = fixedDay(2026, time.January, day)
		a.Record(1, 1)
	}

	hist := a.History()
	if len(hist) != ringDays {
		t.Fatalf("history length = %d, want %d", len(hist), ringDays)
	}
	// 34 days closed (Jan 1 .. Feb 3, day 35 still open); the ring
	// keeps the newest 30, so Jan 1-4 fall off.
	if hist[0].Day != "2026-01-05" {
		t.Errorf("oldest retained day = %s, want 2026-01-05", hist[0].Day)
	}
	if hist[len(hist)-1].Day != "2026-02-03" {
		t.Errorf("newest closed day = %s, want 2026-02-03", hist[len(hist)-1].Day)
	}
}

func TestStatusThresholds(t *testing.T) {
	cases := []struct {
		spent int
		want  Status
	}{
		{0, StatusAbundant},
		{400, StatusAbundant},
		{600, StatusAdequate},
		{850, StatusScarce},
		{960, StatusCritical},
	}
	for _, tc := range cases {
		a := testAccount(t, config.ResourceConfig{DailyTokenBudget: 1000})
		if tc.spent > 0 {
			a.Record(tc.spent, 0)
		}
		if got := a.Status(); got != tc.want {
			t.Errorf("spent %d: status = %s, want %s", tc.spent, got, tc.want)
		}
	}

	if StatusAdequate.Constrained() {
		t.Error("adequate must not read constrained")
	}
	if !StatusScarce.Constrained() || !StatusCritical.Constrained() {
		t.Error("scarce and critical must read constrained")
	}
}

func TestNoBudgetMeansAbundant(t *testing.T) {
	a := testAccount(t, config.ResourceConfig{})
	a.Record(10_000_000, 10_000_000)
	if got := a.Status(); got != StatusAbundant {
		t.Errorf("status without budget = %s, want abundant", got)
	}
}

func TestDebouncedFlushLogsFailureAndRearms(t *testing.T) {
	ws := t.TempDir()
	if err := logging.Initialize(ws); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer logging.Shutdown()

	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	a, err := Open(filepath.Join(dir, "resource_stats.json"), config.ResourceConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	// Point the ledger under a regular file so every save fails.
	a.path = filepath.Join(blocker, "resource_stats.json")

	a.Record(10, 5)
	a.flushDebounced()
	logging.Shutdown()

	date := time.Now().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(ws, ".ain", "logs", date+"_resource.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "debounced ledger save failed") {
		t.Fatalf("failure not logged: %q", data)
	}

	a.mu.Lock()
	dirty := a.dirty
	a.mu.Unlock()
	if dirty {
		t.Fatal("dirty flag not cleared after flush")
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resource_stats.json")

	a, err := Open(path, config.ResourceConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	a.Record(123, 45)
	if err := a.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	b, err := Open(path, config.ResourceConfig{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	today := b.Today()
	if today.InputTokens != 123 || today.OutputTokens != 45 || today.CallCount != 1 {
		t.Errorf("reloaded tally = %+v", today)
	}
}
