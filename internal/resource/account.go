// Package resource keeps the rolling per-day LLM spend account. The
// decision gate reads its status to bias toward cheap paths when the
// daily budget runs low.
package resource

import (
	"errors"
	"os"
	"sync"
	"time"

	"ain/internal/config"
	"ain/internal/logging"
	"ain/internal/persist"
)

const (
	ringDays     = 30
	saveDebounce = 5 * time.Second
)

// Status summarises remaining daily budget.
type Status string

const (
	StatusAbundant Status = "abundant" // < 50% spent
	StatusAdequate Status = "adequate" // 50-80%
	StatusScarce   Status = "scarce"   // 80-95%
	StatusCritical Status = "critical" // >= 95%
)

// Constrained reports whether the gate should bias toward System 1.
func (s Status) Constrained() bool {
	return s == StatusScarce || s == StatusCritical
}

// DayRecord is one closed day in the ring.
type DayRecord struct {
	Day           string  `json:"day"` // 2006-01-02, local
	InputTokens   int     `json:"input_tokens"`
	OutputTokens  int     `json:"output_tokens"`
	EstimatedCost float64 `json:"estimated_cost"`
	CallCount     int     `json:"call_count"`
}

// accountFile is the resource_stats.json document.
type accountFile struct {
	Today   DayRecord   `json:"today"`
	History []DayRecord `json:"history"` // newest last, ring <= 30
}

// Account tallies tokens and cost per local day. On day rollover the
// closing tally joins the history ring and counters reset.
type Account struct {
	mu    sync.Mutex
	path  string
	cfg   config.ResourceConfig
	doc   accountFile
	dirty bool
	now   func() time.Time
}

// Open loads resource_stats.json, or starts a fresh account for today.
func Open(path string, cfg config.ResourceConfig) (*Account, error) {
	a := &Account{path: path, cfg: cfg, now: time.Now}

	recovered, err := persist.Load(path, &a.doc)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if recovered {
		logging.Resource("recovered truncated resource_stats.json")
	}
	if a.doc.Today.Day == "" {
		a.doc.Today.Day = a.today()
	}
	a.rolloverLocked()
	return a, nil
}

func (a *Account) today() string {
	return a.now().Local().Format("2006-01-02")
}

// Record tallies one LLM call. The ledger is written on a 5 s debounce
// so bursts of calls do not thrash the disk.
func (a *Account) Record(inputTokens, outputTokens int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.rolloverLocked()
	a.doc.Today.InputTokens += inputTokens
	a.doc.Today.OutputTokens += outputTokens
	a.doc.Today.CallCount++
	a.doc.Today.EstimatedCost += a.cost(inputTokens, outputTokens)
	a.markDirtyLocked()
}

// markDirtyLocked schedules one debounced save; further writes inside
// the window piggyback on it.
func (a *Account) markDirtyLocked() {
	if a.dirty {
		return
	}
	a.dirty = true
	time.AfterFunc(saveDebounce, a.flushDebounced)
}

// flushDebounced is the deferred ledger write. A failure is logged,
// and the dirty flag clears either way so the next Record re-arms.
func (a *Account) flushDebounced() {
	if err := a.Save(); err != nil {
		logging.Resource("debounced ledger save failed: %v", err)
	}
	a.mu.Lock()
	a.dirty = false
	a.mu.Unlock()
}

func (a *Account) cost(in, out int) float64 {
	return float64(in)/1e6*a.cfg.InputCostPerM + float64(out)/1e6*a.cfg.OutputCostPerM
}

// rolloverLocked closes out past days. In-flight tallies are never
// lost: the old day moves into the ring before counters reset.
func (a *Account) rolloverLocked() {
	today := a.today()
	if a.doc.Today.Day == today {
		return
	}

	if a.doc.Today.CallCount > 0 || a.doc.Today.InputTokens > 0 {
		a.doc.History = append(a.doc.History, a.doc.Today)
	}
	if len(a.doc.History) > ringDays {
		a.doc.History = a.doc.History[len(a.doc.History)-ringDays:]
	}
	logging.Resource("day rollover: closed %s (%d calls, %.4f USD)", a.doc.Today.Day, a.doc.Today.CallCount, a.doc.Today.EstimatedCost)
	a.doc.Today = DayRecord{Day: today}
	a.markDirtyLocked()
}

// Today returns a copy of the open day's tally.
func (a *Account) Today() DayRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rolloverLocked()
	return a.doc.Today
}

// History returns the closed-day ring, oldest first.
func (a *Account) History() []DayRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]DayRecord, len(a.doc.History))
	copy(out, a.doc.History)
	return out
}

// Status grades the open day against the configured token budget.
// Without a budget the account always reads abundant.
func (a *Account) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rolloverLocked()

	if a.cfg.DailyTokenBudget <= 0 {
		return StatusAbundant
	}
	spent := a.doc.Today.InputTokens + a.doc.Today.OutputTokens
	frac := float64(spent) / float64(a.cfg.DailyTokenBudget)
	switch {
	case frac >= 0.95:
		return StatusCritical
	case frac >= 0.80:
		return StatusScarce
	case frac >= 0.50:
		return StatusAdequate
	}
	return StatusAbundant
}

// Save writes the ledger now, bypassing the debounce.
func (a *Account) Save() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return persist.Save(a.path, &a.doc)
}
