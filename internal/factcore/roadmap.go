package factcore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"ain/internal/logging"
)

const (
	StepPending    = "pending"
	StepInProgress = "in_progress"
	StepCompleted  = "completed"
)

// StepCriteria marks a step complete when file exists in the working
// tree and contains the substring.
type StepCriteria struct {
	File     string `json:"file"`
	Contains string `json:"contains"`
}

type RoadmapStep struct {
	Name     string        `json:"name"`
	Desc     string        `json:"desc"`
	Status   string        `json:"status"`
	Phase    string        `json:"phase"`
	Next     string        `json:"next,omitempty"`
	Criteria *StepCriteria `json:"criteria,omitempty"`
}

// Roadmap is nested phase → step-key → step, with a current_focus
// pointer of the form "phase.step".
type Roadmap struct {
	CurrentFocus string                             `json:"current_focus"`
	Phases       map[string]map[string]*RoadmapStep `json:"phases"`
}

func (r *Roadmap) resolve(focus string) (*RoadmapStep, bool) {
	phase, key, ok := splitFocus(focus)
	if !ok {
		return nil, false
	}
	steps, ok := r.Phases[phase]
	if !ok {
		return nil, false
	}
	step, ok := steps[key]
	return step, ok
}

func splitFocus(focus string) (phase, key string, ok bool) {
	i := strings.Index(focus, ".")
	if i <= 0 || i == len(focus)-1 {
		return "", "", false
	}
	return focus[:i], focus[i+1:], true
}

// CurrentStep resolves current_focus. ok=false means the pointer is
// dangling, which callers treat as "no active step".
func (c *Core) CurrentStep() (focus string, step RoadmapStep, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ptr, found := c.doc.Roadmap.resolve(c.doc.Roadmap.CurrentFocus)
	if !found {
		return c.doc.Roadmap.CurrentFocus, RoadmapStep{}, false
	}
	return c.doc.Roadmap.CurrentFocus, *ptr, true
}

// CurrentStepSummary is the one-line form embedded in prompts.
func (c *Core) CurrentStepSummary() string {
	focus, step, ok := c.CurrentStep()
	if !ok {
		return "no active roadmap step"
	}
	return fmt.Sprintf("%s — %s: %s", focus, step.Name, step.Desc)
}

// AdvanceIfComplete checks the active step's completion criteria
// against the working tree. On completion it marks the step done,
// moves focus to the declared next step, rewrites ROADMAP.md and
// returns a commit message for the synchronizer. Checking twice in a
// row advances at most once: after a move the new step's criteria
// govern.
func (c *Core) AdvanceIfComplete() (bool, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	step, ok := c.doc.Roadmap.resolve(c.doc.Roadmap.CurrentFocus)
	if !ok {
		logging.Get(logging.CategoryFactCore).Warn("roadmap focus %q does not resolve", c.doc.Roadmap.CurrentFocus)
		return false, "", nil
	}
	if step.Status == StepCompleted || step.Criteria == nil {
		return false, "", nil
	}

	body, err := os.ReadFile(filepath.Join(c.workspace, filepath.FromSlash(step.Criteria.File)))
	if err != nil {
		return false, "", nil
	}
	if !strings.Contains(string(body), step.Criteria.Contains) {
		return false, "", nil
	}

	step.Status = StepCompleted
	moved := ""
	if next, found := c.doc.Roadmap.resolve(step.Next); found {
		if next.Status == StepPending {
			next.Status = StepInProgress
		}
		c.doc.Roadmap.CurrentFocus = step.Next
		moved = step.Next
	}

	if err := c.flushLocked(); err != nil {
		return false, "", fmt.Errorf("persist roadmap: %w", err)
	}
	if err := c.writeRoadmapLocked(); err != nil {
		logging.Get(logging.CategoryFactCore).Warn("ROADMAP.md write failed: %v", err)
	}

	msg := fmt.Sprintf("🗺️ Roadmap: %s completed", step.Name)
	if moved != "" {
		msg += fmt.Sprintf(", focus → %s", moved)
	}
	logging.FactCore("%s", msg)
	return true, msg, nil
}

// RenderRoadmap produces the ROADMAP.md body. Deterministic ordering so
// regeneration does not churn the VCS.
func (c *Core) RenderRoadmap() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.renderRoadmapLocked()
}

func (c *Core) renderRoadmapLocked() string {
	var b strings.Builder
	b.WriteString("# AIN Roadmap\n\n")
	fmt.Fprintf(&b, "_current focus: %s_\n", c.doc.Roadmap.CurrentFocus)

	phases := make([]string, 0, len(c.doc.Roadmap.Phases))
	for name := range c.doc.Roadmap.Phases {
		phases = append(phases, name)
	}
	sort.Strings(phases)

	for _, phase := range phases {
		fmt.Fprintf(&b, "\n## %s\n\n", phase)
		steps := c.doc.Roadmap.Phases[phase]
		keys := make([]string, 0, len(steps))
		for k := range steps {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			step := steps[k]
			mark := " "
			switch step.Status {
			case StepCompleted:
				mark = "x"
			case StepInProgress:
				mark = ">"
			}
			fmt.Fprintf(&b, "- [%s] **%s** — %s\n", mark, step.Name, step.Desc)
		}
	}
	return b.String()
}

// WriteRoadmapFile regenerates workspace/ROADMAP.md.
func (c *Core) WriteRoadmapFile() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeRoadmapLocked()
}

func (c *Core) writeRoadmapLocked() error {
	path := filepath.Join(c.workspace, "ROADMAP.md")
	return os.WriteFile(path, []byte(c.renderRoadmapLocked()), 0o644)
}

func seedRoadmap() Roadmap {
	return Roadmap{
		CurrentFocus: "phase_1_awakening.telemetry",
		Phases: map[string]map[string]*RoadmapStep{
			"phase_1_awakening": {
				"bootstrap": {
					Name:   "Bootstrap",
					Desc:   "stand up the sense, think, act loop",
					Status: StepCompleted,
					Phase:  "phase_1_awakening",
					Next:   "phase_1_awakening.telemetry",
				},
				"telemetry": {
					Name:     "Telemetry",
					Desc:     "emit a vitals report each cycle",
					Status:   StepInProgress,
					Phase:    "phase_1_awakening",
					Next:     "phase_1_awakening.reflexes",
					Criteria: &StepCriteria{File: "nexus/telemetry.py", Contains: "def report_vitals"},
				},
				"reflexes": {
					Name:     "Reflexes",
					Desc:     "answer familiar situations without deliberation",
					Status:   StepPending,
					Phase:    "phase_1_awakening",
					Next:     "phase_2_growth.self_tuning",
					Criteria: &StepCriteria{File: "nexus/reflexes.py", Contains: "def register"},
				},
			},
			"phase_2_growth": {
				"self_tuning": {
					Name:     "Self-tuning",
					Desc:     "adapt cadence and temperature from outcomes",
					Status:   StepPending,
					Phase:    "phase_2_growth",
					Next:     "phase_2_growth.dialogue",
					Criteria: &StepCriteria{File: "nexus/tuning.py", Contains: "def adjust"},
				},
				"dialogue": {
					Name:   "Dialogue",
					Desc:   "hold context across operator conversations",
					Status: StepPending,
					Phase:  "phase_2_growth",
				},
			},
		},
	}
}
