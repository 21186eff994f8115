// Package types holds the shared data model for the ain runtime.
// It exists to break import cycles between the stores, the evolution
// pipeline, and the scheduler. Types here are foundational records with
// no behaviour beyond derivation and clamping helpers.
package types

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// =============================================================================
// JOURNALED EVENTS
// =============================================================================

// EventKind classifies a journaled record.
type EventKind string

const (
	EventEvolution    EventKind = "evolution"
	EventConversation EventKind = "conversation"
	EventReflection   EventKind = "reflection"
	EventReflex       EventKind = "reflex"
	EventJournal      EventKind = "journal"
)

// EventStatus is the outcome of the action an event records.
type EventStatus string

const (
	StatusSuccess EventStatus = "success"
	StatusFailed  EventStatus = "failed"
	StatusSkipped EventStatus = "skipped"
)

// Event is the universal journaled record. Events are created by a
// producer, appended to the journal, optionally embedded into vector
// memory, and never mutated in place.
type Event struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	Kind        EventKind              `json:"kind"`
	Action      string                 `json:"action"`
	Target      string                 `json:"target,omitempty"`
	Description string                 `json:"description,omitempty"`
	Status      EventStatus            `json:"status"`
	Error       string                 `json:"error,omitempty"`
	EmbeddingID string                 `json:"embedding_id,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// NewEventID returns a lexically time-sortable id. Journal files are
// append-only, so sortable ids keep on-disk order meaningful.
func NewEventID() string {
	return ulid.Make().String()
}

// =============================================================================
// VECTOR MEMORY
// =============================================================================

// MemoryType tags a vector-store record with its origin layer.
type MemoryType string

const (
	MemoryEvolution      MemoryType = "evolution"
	MemoryConversation   MemoryType = "conversation"
	MemorySemantic       MemoryType = "semantic"
	MemoryEpisodic       MemoryType = "episodic"
	MemoryProcedural     MemoryType = "procedural"
	MemoryConsciousness  MemoryType = "consciousness"
	MemoryMetaJournal    MemoryType = "meta_journal"
	MemoryMetaReflection MemoryType = "meta_reflection"
	MemoryTranscendence  MemoryType = "transcendence"
	MemoryReflex         MemoryType = "reflex"
)

// MemoryRecord is one vector-store entry. The vector length always equals
// the declared dimension of the open store; writers pad or truncate.
type MemoryRecord struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	Vector    []float32  `json:"-"`
	Type      MemoryType `json:"memory_type"`
	Source    string     `json:"source"`
	Timestamp time.Time  `json:"timestamp"`
	Metadata  string     `json:"metadata,omitempty"`
}

// =============================================================================
// PROPOSALS
// =============================================================================

// Update is one full-file replacement proposed by the coder.
type Update struct {
	Filename string `json:"filename"`
	Code     string `json:"code"`
}

// =============================================================================
// SCHEDULER TUNING
// =============================================================================

// StrategyMode is a named operating point produced by the meta cycle.
type StrategyMode string

const (
	ModeNormal         StrategyMode = "NORMAL"
	ModeCautious       StrategyMode = "CAUTIOUS"
	ModeAccelerated    StrategyMode = "ACCELERATED"
	ModeDeepReflection StrategyMode = "DEEP_REFLECTION"
)

// RuntimeParameters is the tuning vector the tuner publishes and the
// scheduler consumes. A published copy is immutable; the scheduler reads
// only the most recent publication.
type RuntimeParameters struct {
	EvolutionInterval time.Duration `json:"evolution_interval"`
	BurstMode         bool          `json:"burst_mode"`
	BurstDuration     time.Duration `json:"burst_duration"`
	Temperature       float64       `json:"temperature"`
	ValidationLevel   int           `json:"validation_level"`
	MonologueInterval time.Duration `json:"monologue_interval"`
	ActiveMode        StrategyMode  `json:"active_mode"`
}

// DefaultRuntimeParameters returns the NORMAL operating point.
func DefaultRuntimeParameters() RuntimeParameters {
	return RuntimeParameters{
		EvolutionInterval: 3600 * time.Second,
		BurstMode:         false,
		BurstDuration:     3600 * time.Second,
		Temperature:       0.7,
		ValidationLevel:   2,
		MonologueInterval: 1800 * time.Second,
		ActiveMode:        ModeNormal,
	}
}

// =============================================================================
// ATTENTION
// =============================================================================

// SignalSource identifies the producer class of an attention signal.
type SignalSource string

const (
	SourceExternal  SignalSource = "external"
	SourceIntuition SignalSource = "intuition"
	SourceTemporal  SignalSource = "temporal"
	SourceGoal      SignalSource = "goal"
	SourceMeta      SignalSource = "meta"
	SourceSystem    SignalSource = "system"
)

// AttentionSignal is an ephemeral bid for focus. One signal at a time is
// the current focus until outranked or expired.
type AttentionSignal struct {
	ID         string        `json:"id"`
	Source     SignalSource  `json:"source"`
	Urgency    float64       `json:"urgency"`
	Importance float64       `json:"importance"`
	Content    string        `json:"content"`
	CreatedAt  time.Time     `json:"created_at"`
	TTL        time.Duration `json:"ttl"`
}

// Salience ranks a signal for focus election.
func (s AttentionSignal) Salience() float64 {
	return 0.6*Clamp01(s.Urgency) + 0.4*Clamp01(s.Importance)
}

// Expired reports whether the signal has outlived its TTL at now.
// A non-positive TTL never expires.
func (s AttentionSignal) Expired(now time.Time) bool {
	if s.TTL <= 0 {
		return false
	}
	return now.Sub(s.CreatedAt) >= s.TTL
}

// =============================================================================
// COGNITIVE STATE RECORDS
// =============================================================================

// TemporalPhase names the maturity band derived from uptime.
type TemporalPhase string

const (
	PhaseNascent   TemporalPhase = "nascent"
	PhaseAwakening TemporalPhase = "awakening"
	PhaseActive    TemporalPhase = "active"
	PhaseSustained TemporalPhase = "sustained"
	PhaseMature    TemporalPhase = "mature"
)

// TemporalState is the engine's self-perception of time.
type TemporalState struct {
	Uptime           time.Duration `json:"uptime"`
	CycleCount       int64         `json:"cycle_count"`
	AvgCycleDuration time.Duration `json:"avg_cycle_duration"`
	SubjectivePace   float64       `json:"subjective_pace"`
	Phase            TemporalPhase `json:"phase"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// SomaticState is a coarse internal readout feeding attention.
// Valence is signed; every other scalar lives in [0,1].
type SomaticState struct {
	Arousal   float64   `json:"arousal"`
	Valence   float64   `json:"valence"`
	Fatigue   float64   `json:"fatigue"`
	Stress    float64   `json:"stress"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clamp bounds every scalar field to its declared range.
func (s *SomaticState) Clamp() {
	s.Arousal = Clamp01(s.Arousal)
	s.Valence = ClampSigned(s.Valence)
	s.Fatigue = Clamp01(s.Fatigue)
	s.Stress = Clamp01(s.Stress)
}

// UncertaintyProfile quantifies how unsure the engine is about the
// current context. Scores at or above the deliberation threshold force
// the decision gate onto the System 2 path.
type UncertaintyProfile struct {
	Score     float64   `json:"score"`
	Sources   []string  `json:"sources,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ForceDeliberationThreshold is the uncertainty score at which the
// decision gate must take the deliberate path.
const ForceDeliberationThreshold = 0.6

// =============================================================================
// INTUITION & RESOURCES
// =============================================================================

// IntuitionStrength grades a pattern match.
type IntuitionStrength string

const (
	StrengthWeak     IntuitionStrength = "weak"
	StrengthModerate IntuitionStrength = "moderate"
	StrengthStrong   IntuitionStrength = "strong"
)

// IntuitionResult is the fast-path pattern assessment for a context key.
type IntuitionResult struct {
	PatternMatch string            `json:"pattern_match"`
	Confidence   float64           `json:"confidence"`
	Strength     IntuitionStrength `json:"strength"`
}

// ReflexConfidenceThreshold is the minimum intuition confidence for the
// reflex fast path.
const ReflexConfidenceThreshold = 0.85

// ResourceStatus summarises the day's spend against budget.
type ResourceStatus string

const (
	ResourceAbundant ResourceStatus = "abundant"
	ResourceAdequate ResourceStatus = "adequate"
	ResourceScarce   ResourceStatus = "scarce"
	ResourceCritical ResourceStatus = "critical"
)

// Constrained reports whether the gate should bias toward the cheap path.
func (r ResourceStatus) Constrained() bool {
	return r == ResourceScarce || r == ResourceCritical
}

// =============================================================================
// CLAMPS
// =============================================================================

// Clamp01 bounds v to [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ClampSigned bounds v to [-1,1].
func ClampSigned(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
