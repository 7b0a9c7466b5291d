// Package scenario runs the teaching script: a tick-driven state machine
// scanning scripted steps with trigger conditions against the live
// physiological simulation, with question/answer gating and phase tracking.
package scenario

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sedsim/sedsim/internal/debrief"
	"github.com/sedsim/sedsim/internal/events"
	"github.com/sedsim/sedsim/internal/pharma"
)

// State is the engine lifecycle state.
type State string

const (
	StateNotLoaded State = "not_loaded"
	StateLoaded    State = "loaded"
	StateRunning   State = "running"
	StateStopped   State = "stopped"
)

// Highlight is one published presentation highlight, enriched with the
// triggering parameter's value and a severity tier when applicable.
type Highlight struct {
	TargetID   string  `json:"target_id"`
	Text       string  `json:"text,omitempty"`
	ParamLabel string  `json:"param_label,omitempty"`
	ParamValue float64 `json:"param_value,omitempty"`
	Severity   int     `json:"severity,omitempty"`
}

// PendingQuestion is the at-most-one question currently awaiting an answer.
type PendingQuestion struct {
	StepID   string   `json:"step_id"`
	Question Question `json:"question"`
}

// Sink is the presentation layer boundary. Implementations must not block;
// every call happens inside a tick.
type Sink interface {
	EmitDialogue(lines []string)
	SetPhase(phase string)
	SetHighlights(highlights []Highlight)
	SetPendingQuestion(pq *PendingQuestion)
}

// Physiology is the engine's view of the live simulation.
type Physiology interface {
	AdministerDrug(name string, doseMg float64)
	StartInfusion(name string, mgPerMin float64)
	StopInfusion(name string)
	SetEnvironment(fio2 float64, airway string)
	Tick(dtSeconds float64) pharma.Snapshot
	CurrentVitals() pharma.Vitals
	CurrentSedationDepth() int
}

// CompletionStore records which scenarios have been run to completion.
type CompletionStore interface {
	MarkCompleted(scenarioID string) error
}

// Feedback is the graded response to an answered question.
type Feedback struct {
	Category string `json:"category"`
	Text     string `json:"text"`
}

const defaultFeedback = "Noted. Let's keep going."

// Engine owns one scenario run. Construct one per session; nothing here is
// shared across runs.
type Engine struct {
	mu sync.Mutex

	state       State
	script      *Script
	oracle      Physiology
	sink        Sink
	log         *events.Log
	summarizer  debrief.Summarizer
	completions CompletionStore

	elapsed     float64
	phase       string
	fired       map[string]bool
	closed      map[string]bool
	sustained   map[string]int
	pending     *PendingQuestion
	pendingStep *Step
	trend       []pharma.Snapshot
	lastReport  *debrief.ScoredReport

	ticking bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewEngine creates an engine with its collaborators injected. log and
// summarizer may be nil in tests that do not exercise them.
func NewEngine(oracle Physiology, sink Sink, log *events.Log, summarizer debrief.Summarizer) *Engine {
	return &Engine{
		state:      StateNotLoaded,
		oracle:     oracle,
		sink:       sink,
		log:        log,
		summarizer: summarizer,
		fired:      make(map[string]bool),
		closed:     make(map[string]bool),
		sustained:  make(map[string]int),
	}
}

// SetCompletionStore attaches the optional completed-scenario store.
func (e *Engine) SetCompletionStore(cs CompletionStore) {
	e.mu.Lock()
	e.completions = cs
	e.mu.Unlock()
}

// Load validates the script and resets all runtime state. Loading while a
// scenario is running is an error; stop it first.
func (e *Engine) Load(script *Script) error {
	if script == nil {
		return fmt.Errorf("nil script")
	}
	if err := script.Validate(); err != nil {
		return fmt.Errorf("script validation failed: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateRunning {
		return fmt.Errorf("cannot load while a scenario is running")
	}

	e.script = script
	e.elapsed = 0
	e.phase = ""
	e.fired = make(map[string]bool)
	e.closed = make(map[string]bool)
	e.sustained = make(map[string]int)
	e.pending = nil
	e.pendingStep = nil
	e.trend = nil
	e.lastReport = nil
	e.state = StateLoaded
	e.emit("info", "scenario.loaded", "", map[string]interface{}{"scenario_id": script.ID})
	return nil
}

// Start moves the engine to Running. With a positive tickInterval the engine
// drives itself on a real ticker, one simulated second per tick; with zero
// the host calls Tick at its own cadence (tests step manually). Starting an
// already-running engine is a no-op.
func (e *Engine) Start(tickInterval time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateRunning {
		return nil
	}
	if e.script == nil || e.state == StateNotLoaded {
		return fmt.Errorf("no script loaded")
	}
	if e.state == StateStopped {
		return fmt.Errorf("stopped engine cannot restart; load a script first")
	}

	e.state = StateRunning
	e.emit("info", "scenario.started", "", map[string]interface{}{"scenario_id": e.script.ID})

	if tickInterval > 0 {
		e.ticking = true
		e.stopCh = make(chan struct{})
		e.wg.Add(1)
		go e.tickLoop(tickInterval, e.stopCh)
	}
	return nil
}

func (e *Engine) tickLoop(interval time.Duration, stopCh chan struct{}) {
	defer e.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			e.Tick(1)
		}
	}
}

// Tick advances the scenario by dtSeconds (normally 1). At most one step
// fires per tick, which bounds each dialogue burst to a single step.
func (e *Engine) Tick(dtSeconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateRunning {
		return
	}

	snap := e.oracle.Tick(dtSeconds)
	e.elapsed += dtSeconds
	e.trend = append(e.trend, snap)

	// Sustained counters advance for every unfired on_physiology step, not
	// just the one that might fire: a single non-satisfying tick resets a
	// counter to zero.
	for i := range e.script.Steps {
		st := &e.script.Steps[i]
		if e.fired[st.ID] || st.Trigger.Type != TriggerOnPhysiology {
			continue
		}
		v, ok := st.Trigger.Param.Value(snap)
		if ok && st.Trigger.Op.Compare(v, st.Trigger.Threshold) {
			e.sustained[st.ID]++
		} else {
			e.sustained[st.ID] = 0
		}
	}

	for i := range e.script.Steps {
		st := &e.script.Steps[i]
		if e.fired[st.ID] {
			continue
		}
		if !e.triggerSatisfied(st) {
			continue
		}
		if e.pending != nil {
			// Only on_time and on_physiology triggers get here while a
			// question is pending. Responsiveness to acute events wins over
			// finishing the scripted beat: the question is discarded without
			// penalty and its deferred effects are never applied.
			e.discardPendingLocked("preempted by " + st.Trigger.Type + " step " + st.ID)
		}
		e.fireStep(st, snap)
		break
	}
}

func (e *Engine) triggerSatisfied(st *Step) bool {
	t := &st.Trigger
	switch t.Type {
	case TriggerOnStart:
		return e.elapsed <= 2
	case TriggerOnTime:
		return e.elapsed >= t.AtSec
	case TriggerOnPhysiology:
		need := t.SustainedSec
		if need < 1 {
			need = 1
		}
		return e.sustained[st.ID] >= need
	case TriggerOnStepComplete:
		// Suspended while a question is pending so the script cannot race
		// ahead of an unanswered beat.
		if e.pending != nil {
			return false
		}
		return e.fired[t.AfterStepID]
	}
	return false
}

func (e *Engine) fireStep(st *Step, snap pharma.Snapshot) {
	e.fired[st.ID] = true
	e.emit("info", "step.fired", "", map[string]interface{}{
		"step_id": st.ID,
		"trigger": st.Trigger.Type,
	})

	if len(st.Dialogue) > 0 {
		e.sink.EmitDialogue(st.Dialogue)
	}
	if st.Phase != "" && st.Phase != e.phase {
		e.phase = st.Phase
		e.sink.SetPhase(st.Phase)
		e.emit("info", "phase.changed", "", map[string]interface{}{"phase": st.Phase})
	}
	if len(st.Highlights) > 0 {
		hl := make([]Highlight, 0, len(st.Highlights))
		for _, target := range st.Highlights {
			item := Highlight{TargetID: target.TargetID, Text: target.Text}
			if st.Trigger.Type == TriggerOnPhysiology {
				if v, ok := st.Trigger.Param.Value(snap); ok {
					item.ParamLabel = string(st.Trigger.Param)
					item.ParamValue = v
					item.Severity = SeverityTier(v, st.Trigger.Threshold, st.Trigger.Op)
				}
			}
			hl = append(hl, item)
		}
		e.sink.SetHighlights(hl)
	}

	if st.Question == nil {
		e.applyEffects(st)
		e.closed[st.ID] = true
		return
	}

	// The step is marked fired immediately to block re-entry, but its side
	// effects wait for the answer.
	e.pending = &PendingQuestion{StepID: st.ID, Question: *st.Question}
	e.pendingStep = st
	e.sink.SetPendingQuestion(e.pending)
	e.emit("info", "question.presented", "", map[string]interface{}{"step_id": st.ID})
}

func (e *Engine) applyEffects(st *Step) {
	for _, ef := range st.Effects {
		if ef.Drug != "" && ef.DoseMg > 0 {
			e.oracle.AdministerDrug(ef.Drug, ef.DoseMg)
			e.emit("info", "drug.administered", "", map[string]interface{}{
				"step_id": st.ID, "drug": ef.Drug, "dose_mg": ef.DoseMg,
			})
		}
		if ef.Drug != "" && ef.InfusionMgPerMin != nil {
			if *ef.InfusionMgPerMin > 0 {
				e.oracle.StartInfusion(ef.Drug, *ef.InfusionMgPerMin)
				e.emit("info", "infusion.started", "", map[string]interface{}{
					"step_id": st.ID, "drug": ef.Drug, "mg_per_min": *ef.InfusionMgPerMin,
				})
			} else {
				e.oracle.StopInfusion(ef.Drug)
				e.emit("info", "infusion.stopped", "", map[string]interface{}{
					"step_id": st.ID, "drug": ef.Drug,
				})
			}
		}
		if ef.FiO2 > 0 || ef.Airway != "" {
			e.oracle.SetEnvironment(ef.FiO2, ef.Airway)
			e.emit("info", "environment.changed", "", map[string]interface{}{
				"step_id": st.ID, "fio2": ef.FiO2, "airway": ef.Airway,
			})
		}
	}
}

// AnswerQuestion grades the learner's answer to the pending question, emits
// feedback, applies the step's deferred side effects and teaching content,
// and closes the step. Returns false when no question is pending.
func (e *Engine) AnswerQuestion(answer string) (Feedback, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending == nil || e.pendingStep == nil {
		return Feedback{}, false
	}

	st := e.pendingStep
	fb := gradeQuestion(st.Question, answer)
	e.emit("info", "question.answered", "", map[string]interface{}{
		"step_id":  st.ID,
		"category": fb.Category,
		"answer":   answer,
	})

	e.pending = nil
	e.pendingStep = nil
	e.sink.SetPendingQuestion(nil)

	if fb.Text != "" {
		e.sink.EmitDialogue([]string{fb.Text})
	}
	e.applyEffects(st)
	if len(st.Teaching) > 0 {
		e.sink.EmitDialogue(st.Teaching)
	}
	e.closed[st.ID] = true
	return fb, true
}

func gradeQuestion(q *Question, answer string) Feedback {
	switch q.Type {
	case QuestionNumericRange:
		v, err := strconv.ParseFloat(strings.TrimSpace(answer), 64)
		if err != nil {
			return Feedback{Category: FeedbackGeneric, Text: fallbackFeedback(q, FeedbackGeneric)}
		}
		category := FeedbackIdeal
		switch {
		case v < q.IdealRange[0]:
			category = FeedbackLow
		case v > q.IdealRange[1]:
			category = FeedbackHigh
		}
		return Feedback{Category: category, Text: fallbackFeedback(q, category)}
	default:
		category := "incorrect"
		if answer == q.Correct {
			category = "correct"
		}
		// Choice feedback is keyed by the literal option text.
		return Feedback{Category: category, Text: fallbackFeedback(q, answer)}
	}
}

func fallbackFeedback(q *Question, key string) string {
	if text, ok := q.Feedback[key]; ok {
		return text
	}
	if text, ok := q.Feedback[FeedbackGeneric]; ok {
		return text
	}
	return defaultFeedback
}

// DismissPendingQuestion discards the pending question without penalty: its
// deferred effects and teaching content are never applied, and the step
// stays fired (permanently skipped for this run). The safety monitor calls
// this when a critical alert must not leave the learner blocked on a stale
// question. No-op when nothing is pending.
func (e *Engine) DismissPendingQuestion() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.discardPendingLocked("dismissed by safety monitor")
}

func (e *Engine) discardPendingLocked(reason string) {
	if e.pending == nil {
		return
	}
	e.emit("info", "question.discarded", "", map[string]interface{}{
		"step_id": e.pending.StepID,
		"reason":  reason,
	})
	e.pending = nil
	e.pendingStep = nil
	e.sink.SetPendingQuestion(nil)
}

// Stop finalizes the run: it cancels its own clock before touching state,
// requests a debrief from the summarizer using the accumulated event log and
// vitals trend, clears runtime state, and becomes terminal. Calling Stop
// twice is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state == StateStopped || e.state == StateNotLoaded {
		e.mu.Unlock()
		return
	}
	ticking := e.ticking
	stopCh := e.stopCh
	e.ticking = false
	e.mu.Unlock()

	if ticking {
		close(stopCh)
		e.wg.Wait()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateStopped || e.state == StateNotLoaded {
		return
	}

	if e.script != nil && e.summarizer != nil {
		var logEvents []events.Event
		if e.log != nil {
			logEvents = e.log.Snapshot()
		}
		report := e.summarizer.Summarize(logEvents, e.trend)
		e.lastReport = &report
		e.emit("info", "debrief.ready", "", map[string]interface{}{
			"scenario_id": e.script.ID,
			"score":       report.Score,
		})
		if e.completions != nil {
			if err := e.completions.MarkCompleted(e.script.ID); err != nil {
				e.emit("error", "system.error", "failed to record completion",
					map[string]interface{}{"error": err.Error()})
			}
		}
	}

	e.pending = nil
	e.pendingStep = nil
	e.sink.SetPendingQuestion(nil)
	e.sink.SetHighlights(nil)
	e.phase = ""
	e.sink.SetPhase("")
	e.elapsed = 0
	e.state = StateStopped
	e.emit("info", "scenario.stopped", "", nil)
}

func (e *Engine) emit(level, name, msg string, fields map[string]interface{}) {
	if e.log == nil {
		return
	}
	_, _ = e.log.Emit(level, name, msg, fields)
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Phase returns the current scenario phase.
func (e *Engine) Phase() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// ElapsedSec returns the scenario clock.
func (e *Engine) ElapsedSec() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.elapsed
}

// PendingQuestion returns a copy of the pending question, or nil.
func (e *Engine) PendingQuestion() *PendingQuestion {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return nil
	}
	cp := *e.pending
	return &cp
}

// HasFired reports whether the step has fired this run.
func (e *Engine) HasFired(stepID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fired[stepID]
}

// StepClosed reports whether the step has fired and fully completed.
func (e *Engine) StepClosed(stepID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed[stepID]
}

// Script returns the loaded script, or nil.
func (e *Engine) Script() *Script {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.script
}

// LastReport returns the debrief produced by Stop, or nil.
func (e *Engine) LastReport() *debrief.ScoredReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastReport
}
