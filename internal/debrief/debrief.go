// Package debrief turns a session's event record and vitals trend into a
// scored report shown to the learner after the scenario stops.
package debrief

import (
	"fmt"

	"github.com/sedsim/sedsim/internal/events"
	"github.com/sedsim/sedsim/internal/pharma"
)

// ScoredReport is the summarizer's output.
type ScoredReport struct {
	Score int `json:"score"`

	StepsFired         int `json:"steps_fired"`
	QuestionsIdeal     int `json:"questions_ideal"`
	QuestionsOff       int `json:"questions_off"`
	QuestionsDiscarded int `json:"questions_discarded"`
	WarningAlerts      int `json:"warning_alerts"`
	CriticalAlerts     int `json:"critical_alerts"`

	LowestSpO2   float64  `json:"lowest_spo2"`
	DeepestLevel int      `json:"deepest_level"`
	Remarks      []string `json:"remarks,omitempty"`
}

// Summarizer produces a debrief from the accumulated session record.
type Summarizer interface {
	Summarize(log []events.Event, trend []pharma.Snapshot) ScoredReport
}

// Scorer is the default rule-based summarizer.
type Scorer struct{}

// Answer categories counted as a good outcome.
var goodCategories = map[string]bool{
	"ideal":   true,
	"correct": true,
}

// Summarize walks the event record and vitals trend and applies a simple
// deduction model starting from 100.
func (Scorer) Summarize(log []events.Event, trend []pharma.Snapshot) ScoredReport {
	r := ScoredReport{LowestSpO2: 100}

	for _, e := range log {
		switch e.Name {
		case "step.fired":
			r.StepsFired++
		case "question.answered":
			if cat, _ := e.Fields["category"].(string); goodCategories[cat] {
				r.QuestionsIdeal++
			} else {
				r.QuestionsOff++
			}
		case "question.discarded":
			r.QuestionsDiscarded++
		case "monitor.alert":
			if e.Level == "critical" {
				r.CriticalAlerts++
			} else {
				r.WarningAlerts++
			}
		}
	}

	for _, s := range trend {
		if s.Vitals.SpO2 < r.LowestSpO2 {
			r.LowestSpO2 = s.Vitals.SpO2
		}
		if s.SedationDepth > r.DeepestLevel {
			r.DeepestLevel = s.SedationDepth
		}
	}
	if len(trend) == 0 {
		r.LowestSpO2 = 0
	}

	score := 100
	score -= 5 * r.WarningAlerts
	score -= 15 * r.CriticalAlerts
	score -= 10 * r.QuestionsDiscarded
	score -= 5 * r.QuestionsOff
	if score < 0 {
		score = 0
	}
	r.Score = score

	if r.CriticalAlerts > 0 {
		r.Remarks = append(r.Remarks, fmt.Sprintf("%d critical alert(s) required safety-monitor intervention", r.CriticalAlerts))
	}
	if r.LowestSpO2 > 0 && r.LowestSpO2 < 90 {
		r.Remarks = append(r.Remarks, fmt.Sprintf("SpO2 fell to %.0f%%; review oxygenation management", r.LowestSpO2))
	}
	if r.DeepestLevel >= 5 {
		r.Remarks = append(r.Remarks, "patient reached deepest sedation level; titrate more conservatively")
	}
	if r.QuestionsDiscarded > 0 {
		r.Remarks = append(r.Remarks, fmt.Sprintf("%d question(s) were preempted by acute events", r.QuestionsDiscarded))
	}
	return r
}
