package scenario

import (
	"encoding/json"
	"fmt"
	"os"
)

// Script is the top-level teaching script loaded from JSON.
type Script struct {
	Version int    `json:"version"`
	ID      string `json:"id"`
	Name    string `json:"name"`
	Steps   []Step `json:"steps"`
}

// Step is one scripted beat: a trigger, dialogue, and optionally a question,
// side effects, highlight targets and teaching content.
type Step struct {
	ID         string            `json:"id"`
	Phase      string            `json:"phase,omitempty"`
	Trigger    Trigger           `json:"trigger"`
	Dialogue   []string          `json:"dialogue,omitempty"`
	Question   *Question         `json:"question,omitempty"`
	Effects    []Effect          `json:"effects,omitempty"`
	Highlights []HighlightTarget `json:"highlights,omitempty"`
	Teaching   []string          `json:"teaching,omitempty"`
}

// Trigger types.
const (
	TriggerOnStart        = "on_start"
	TriggerOnTime         = "on_time"
	TriggerOnPhysiology   = "on_physiology"
	TriggerOnStepComplete = "on_step_complete"
)

// Trigger is the condition that fires a step.
type Trigger struct {
	Type string `json:"type"`

	// on_time
	AtSec float64 `json:"at_sec,omitempty"`

	// on_physiology
	Param        Param   `json:"param,omitempty"`
	Op           Op      `json:"op,omitempty"`
	Threshold    float64 `json:"threshold,omitempty"`
	SustainedSec int     `json:"sustained_sec,omitempty"`

	// on_step_complete
	AfterStepID string `json:"after_step_id,omitempty"`
}

// Question types.
const (
	QuestionSingleChoice = "single_choice"
	QuestionNumericRange = "numeric_range"
	QuestionMultiSelect  = "multi_select"
)

// Feedback category keys for numeric-range questions, plus the generic
// fallback usable by any question type.
const (
	FeedbackLow     = "low"
	FeedbackIdeal   = "ideal"
	FeedbackHigh    = "high"
	FeedbackGeneric = "generic"
)

// Question gates a step's side effects behind a learner answer.
type Question struct {
	Type       string            `json:"type"`
	Prompt     string            `json:"prompt"`
	Options    []string          `json:"options,omitempty"`
	Correct    string            `json:"correct,omitempty"`
	IdealRange []float64         `json:"ideal_range,omitempty"`
	Feedback   map[string]string `json:"feedback,omitempty"`
}

// Effect is one scripted intervention applied when a step fires (or, for
// question steps, after the answer).
type Effect struct {
	Drug             string   `json:"drug,omitempty"`
	DoseMg           float64  `json:"dose_mg,omitempty"`
	InfusionMgPerMin *float64 `json:"infusion_mg_per_min,omitempty"`
	FiO2             float64  `json:"fio2,omitempty"`
	Airway           string   `json:"airway,omitempty"`
}

// HighlightTarget names a presentation element to call attention to.
type HighlightTarget struct {
	TargetID string `json:"target_id"`
	Text     string `json:"text,omitempty"`
}

// LoadScript loads a scenario script from a JSON file and validates it.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script file: %w", err)
	}
	return ParseScript(data)
}

// ParseScript parses and validates a scenario script.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse script JSON: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate fails fast on malformed scripts so that content errors surface at
// load time, never mid-session.
func (s *Script) Validate() error {
	if s.Version != 1 {
		return fmt.Errorf("unsupported script version: %d", s.Version)
	}
	if s.ID == "" {
		return fmt.Errorf("script id is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("script %s has no steps", s.ID)
	}

	ids := make(map[string]bool, len(s.Steps))
	for i := range s.Steps {
		st := &s.Steps[i]
		if st.ID == "" {
			return fmt.Errorf("step %d has no id", i)
		}
		if ids[st.ID] {
			return fmt.Errorf("duplicate step id: %s", st.ID)
		}
		ids[st.ID] = true
	}

	for i := range s.Steps {
		st := &s.Steps[i]
		if err := s.validateTrigger(st, ids); err != nil {
			return err
		}
		if st.Question != nil {
			if err := validateQuestion(st.ID, st.Question); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Script) validateTrigger(st *Step, ids map[string]bool) error {
	t := &st.Trigger
	switch t.Type {
	case TriggerOnStart:
		return nil
	case TriggerOnTime:
		if t.AtSec < 0 {
			return fmt.Errorf("step %s: on_time trigger with negative at_sec", st.ID)
		}
		return nil
	case TriggerOnPhysiology:
		if !t.Param.Valid() {
			return fmt.Errorf("step %s: unknown trigger param: %s", st.ID, t.Param)
		}
		if !t.Op.Valid() {
			return fmt.Errorf("step %s: unknown trigger op: %s", st.ID, t.Op)
		}
		if t.SustainedSec < 0 {
			return fmt.Errorf("step %s: negative sustained_sec", st.ID)
		}
		return nil
	case TriggerOnStepComplete:
		if t.AfterStepID == "" {
			return fmt.Errorf("step %s: on_step_complete trigger missing after_step_id", st.ID)
		}
		if t.AfterStepID == st.ID {
			return fmt.Errorf("step %s: on_step_complete trigger references itself", st.ID)
		}
		if !ids[t.AfterStepID] {
			return fmt.Errorf("step %s: dangling after_step_id: %s", st.ID, t.AfterStepID)
		}
		return nil
	default:
		return fmt.Errorf("step %s: unknown trigger type: %s", st.ID, t.Type)
	}
}

func validateQuestion(stepID string, q *Question) error {
	switch q.Type {
	case QuestionNumericRange:
		if len(q.IdealRange) != 2 || q.IdealRange[0] > q.IdealRange[1] {
			return fmt.Errorf("step %s: numeric_range question needs ideal_range [low, high]", stepID)
		}
		for _, key := range []string{FeedbackLow, FeedbackIdeal, FeedbackHigh} {
			if _, ok := q.Feedback[key]; !ok {
				return fmt.Errorf("step %s: question missing feedback key %q", stepID, key)
			}
		}
	case QuestionSingleChoice, QuestionMultiSelect:
		if len(q.Options) == 0 {
			return fmt.Errorf("step %s: choice question has no options", stepID)
		}
		if q.Correct == "" {
			return fmt.Errorf("step %s: choice question has no correct option", stepID)
		}
		found := false
		for _, opt := range q.Options {
			if opt == q.Correct {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("step %s: correct option %q not among options", stepID, q.Correct)
		}
		if _, ok := q.Feedback[FeedbackGeneric]; !ok {
			if _, ok := q.Feedback[q.Correct]; !ok {
				return fmt.Errorf("step %s: question missing feedback for correct option or %q", stepID, FeedbackGeneric)
			}
		}
	default:
		return fmt.Errorf("step %s: unknown question type: %s", stepID, q.Type)
	}
	return nil
}

// PhysiologyCoverage reports whether the script owns an on_physiology step
// for the given parameter and direction, and if so the most extreme
// threshold any such step declares. The safety monitor uses this to avoid
// duplicating alerts for events the script already handles.
func (s *Script) PhysiologyCoverage(p Param, dir Direction) (float64, bool) {
	var extreme float64
	found := false
	for i := range s.Steps {
		t := &s.Steps[i].Trigger
		if t.Type != TriggerOnPhysiology || t.Param != p || t.Op.Direction() != dir {
			continue
		}
		if !found {
			extreme = t.Threshold
			found = true
			continue
		}
		if dir == DirectionLow && t.Threshold < extreme {
			extreme = t.Threshold
		}
		if dir == DirectionHigh && t.Threshold > extreme {
			extreme = t.Threshold
		}
	}
	return extreme, found
}

// FindStep returns the step with the given id, or nil.
func (s *Script) FindStep(id string) *Step {
	for i := range s.Steps {
		if s.Steps[i].ID == id {
			return &s.Steps[i]
		}
	}
	return nil
}
