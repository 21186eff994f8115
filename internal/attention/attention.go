// Package attention elects a single cognitive focus from competing
// signals. Election is winner-take-all on salience; the winner stays
// focused until it is outranked or its TTL expires.
package attention

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ain/internal/logging"
	"ain/internal/types"
)

// historyLimit bounds the focus-shift record.
const historyLimit = 20

// FocusShift records one change of focus for introspection and the
// /debug command.
type FocusShift struct {
	SignalID string             `json:"signal_id"`
	Source   types.SignalSource `json:"source"`
	Content  string             `json:"content"`
	Salience float64            `json:"salience"`
	At       time.Time          `json:"at"`
}

// Manager owns the signal queue, the current focus, and the shift
// history. All methods are safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	signals   []types.AttentionSignal
	focusID   string
	history   []FocusShift
	listeners []func(types.AttentionSignal)

	now func() time.Time
}

func New() *Manager {
	return &Manager{now: time.Now}
}

// OnFocusChange registers fn to run whenever a different signal wins
// the election. Listeners run outside the manager lock.
func (m *Manager) OnFocusChange(fn func(types.AttentionSignal)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Signal enqueues a bid for focus and re-runs the election. Urgency
// and importance are clamped to [0,1]; the id is assigned here.
func (m *Manager) Signal(source types.SignalSource, urgency, importance float64, content string, ttl time.Duration) types.AttentionSignal {
	return m.Add(types.AttentionSignal{
		Source:     source,
		Urgency:    urgency,
		Importance: importance,
		Content:    content,
		TTL:        ttl,
	})
}

// Add enqueues a fully formed signal. Missing ids and timestamps are
// filled in; the stored copy is returned.
func (m *Manager) Add(sig types.AttentionSignal) types.AttentionSignal {
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = m.now()
	}
	sig.Urgency = types.Clamp01(sig.Urgency)
	sig.Importance = types.Clamp01(sig.Importance)

	m.mu.Lock()
	m.signals = append(m.signals, sig)
	winner := m.electLocked()
	m.mu.Unlock()

	m.notify(winner)
	return sig
}

// Tick expires stale signals and re-runs the election. Returns how
// many signals were dropped.
func (m *Manager) Tick() int {
	m.mu.Lock()
	dropped := m.cleanupLocked()
	winner := m.electLocked()
	m.mu.Unlock()

	m.notify(winner)
	return dropped
}

// Focus returns the current focus, or nil when no live signal exists.
func (m *Manager) Focus() *types.AttentionSignal {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.signals {
		if m.signals[i].ID == m.focusID {
			sig := m.signals[i]
			return &sig
		}
	}
	return nil
}

// Signals returns the live queue ranked by salience desc, ties broken
// by id so the order is stable across calls.
func (m *Manager) Signals() []types.AttentionSignal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.AttentionSignal, len(m.signals))
	copy(out, m.signals)
	rank(out)
	return out
}

// History returns the focus shifts, oldest first, at most 20.
func (m *Manager) History() []FocusShift {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FocusShift, len(m.history))
	copy(out, m.history)
	return out
}

// Context emits the prompt fragment describing the current focus and
// the pressure behind it. Empty when nothing holds attention.
func (m *Manager) Context() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var focus *types.AttentionSignal
	for i := range m.signals {
		if m.signals[i].ID == m.focusID {
			focus = &m.signals[i]
			break
		}
	}
	if focus == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[ATTENTION] focus=%s salience=%.2f: %s\n", focus.Source, focus.Salience(), focus.Content)
	if n := len(m.signals) - 1; n > 0 {
		fmt.Fprintf(&b, "[ATTENTION] %d competing signal(s) in queue\n", n)
	}
	return b.String()
}

// =============================================================================
// ELECTION
// =============================================================================

// cleanupLocked drops expired signals. A dropped focus is re-elected
// by the caller.
func (m *Manager) cleanupLocked() int {
	now := m.now()
	live := m.signals[:0]
	dropped := 0
	for _, sig := range m.signals {
		if sig.Expired(now) {
			dropped++
			continue
		}
		live = append(live, sig)
	}
	m.signals = live
	return dropped
}

// electLocked ranks the queue and promotes the top signal. Returns
// the new focus when it changed, nil otherwise.
func (m *Manager) electLocked() *types.AttentionSignal {
	if len(m.signals) == 0 {
		if m.focusID != "" {
			m.focusID = ""
			logging.Attention("focus released, queue empty")
		}
		return nil
	}

	rank(m.signals)
	top := m.signals[0]
	if top.ID == m.focusID {
		return nil
	}

	m.focusID = top.ID
	m.history = append(m.history, FocusShift{
		SignalID: top.ID,
		Source:   top.Source,
		Content:  top.Content,
		Salience: top.Salience(),
		At:       m.now(),
	})
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}

	logging.Attention("focus -> [%s] %.2f: %s", top.Source, top.Salience(), truncate(top.Content, 80))
	return &top
}

func (m *Manager) notify(winner *types.AttentionSignal) {
	if winner == nil {
		return
	}
	m.mu.Lock()
	listeners := make([]func(types.AttentionSignal), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(*winner)
	}
}

// rank orders signals by salience desc, then id, so election is
// deterministic when bids tie.
func rank(signals []types.AttentionSignal) {
	sort.SliceStable(signals, func(i, j int) bool {
		si, sj := signals[i].Salience(), signals[j].Salience()
		if si != sj {
			return si > sj
		}
		return signals[i].ID < signals[j].ID
	})
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
