package monitor

import (
	"strings"
	"testing"
	"time"

	"github.com/sedsim/sedsim/internal/events"
	"github.com/sedsim/sedsim/internal/pharma"
	"github.com/sedsim/sedsim/internal/scenario"
)

// stubPatient serves both the monitor's VitalsSource and, in the end-to-end
// test, the scenario engine's physiology interface.
type stubPatient struct {
	vitals pharma.Vitals
	depth  int
}

func healthyStub() *stubPatient {
	return &stubPatient{
		vitals: pharma.Vitals{HR: 72, SBP: 120, DBP: 75, SpO2: 98, RR: 14, EtCO2: 38},
	}
}

func (s *stubPatient) CurrentVitals() pharma.Vitals { return s.vitals }
func (s *stubPatient) CurrentSedationDepth() int    { return s.depth }

func (s *stubPatient) AdministerDrug(string, float64) {}
func (s *stubPatient) StartInfusion(string, float64)  {}
func (s *stubPatient) StopInfusion(string)            {}
func (s *stubPatient) SetEnvironment(float64, string) {}
func (s *stubPatient) Tick(dtSeconds float64) pharma.Snapshot {
	return pharma.Snapshot{Vitals: s.vitals, SedationDepth: s.depth}
}

type sinkRecorder struct {
	dialogue   []string
	phases     []string
	highlights []scenario.Highlight
	questions  []*scenario.PendingQuestion
}

func (s *sinkRecorder) EmitDialogue(lines []string) { s.dialogue = append(s.dialogue, lines...) }
func (s *sinkRecorder) SetPhase(phase string)       { s.phases = append(s.phases, phase) }
func (s *sinkRecorder) SetHighlights(hl []scenario.Highlight) {
	s.highlights = append(s.highlights, hl...)
}
func (s *sinkRecorder) SetPendingQuestion(pq *scenario.PendingQuestion) {
	s.questions = append(s.questions, pq)
}

type dismissCounter struct {
	calls int
}

func (d *dismissCounter) DismissPendingQuestion() { d.calls++ }

// Manual-stepping config: zero interval means no goroutine; each Tick then
// advances the monitor clock by the default 5 seconds.
func manualConfig() Config {
	return Config{Interval: 0, Cooldown: 60 * time.Second}
}

func countAlerts(log *events.Log) int {
	n := 0
	for _, ev := range log.Snapshot() {
		if ev.Name == "monitor.alert" {
			n++
		}
	}
	return n
}

func TestWarningAlertRespectsCooldown(t *testing.T) {
	src := healthyStub()
	src.vitals.SpO2 = 91
	log := events.NewLog(128)
	m := New(src, nil, &sinkRecorder{}, log, manualConfig())
	m.Start(nil)

	// 12 scans cover the first minute; the desaturation warning should fire
	// exactly once in that window.
	for i := 0; i < 12; i++ {
		m.Tick()
	}
	if got := countAlerts(log); got != 1 {
		t.Fatalf("alerts in first cooldown window = %d, want 1", got)
	}

	// The 13th scan lands past the cooldown and may alert again.
	m.Tick()
	if got := countAlerts(log); got != 2 {
		t.Fatalf("alerts after cooldown expiry = %d, want 2", got)
	}
}

func TestEscalationBypassesCooldown(t *testing.T) {
	src := healthyStub()
	src.vitals.SpO2 = 91
	log := events.NewLog(128)
	dismisser := &dismissCounter{}
	sink := &sinkRecorder{}
	m := New(src, dismisser, sink, log, manualConfig())
	m.Start(nil)

	m.Tick() // warning
	src.vitals.SpO2 = 80
	m.Tick() // critical, inside the cooldown window

	if got := countAlerts(log); got != 2 {
		t.Fatalf("alerts = %d, want 2 (warning then escalated critical)", got)
	}
	if dismisser.calls != 1 {
		t.Errorf("dismisser calls = %d, want 1", dismisser.calls)
	}
	found := false
	for _, p := range sink.phases {
		if p == "complication" {
			found = true
		}
	}
	if !found {
		t.Error("critical alert should force the complication phase")
	}
}

func TestRepeatCriticalSuppressedWithinCooldown(t *testing.T) {
	src := healthyStub()
	src.vitals.SpO2 = 80
	log := events.NewLog(128)
	m := New(src, nil, &sinkRecorder{}, log, manualConfig())
	m.Start(nil)

	m.Tick()
	m.Tick()
	m.Tick()
	if got := countAlerts(log); got != 1 {
		t.Fatalf("repeated critical alerts = %d, want 1 within cooldown", got)
	}
}

func TestScriptCoverageSuppressesOwnedAlerts(t *testing.T) {
	script := &scenario.Script{
		Version: 1,
		ID:      "covered",
		Steps: []scenario.Step{{
			ID: "desat",
			Trigger: scenario.Trigger{
				Type: scenario.TriggerOnPhysiology, Param: scenario.ParamSpO2,
				Op: scenario.OpLT, Threshold: 90, SustainedSec: 5,
			},
		}},
	}

	src := healthyStub()
	src.vitals.SpO2 = 91 // warning territory, but inside the script's coverage
	log := events.NewLog(128)
	m := New(src, nil, &sinkRecorder{}, log, manualConfig())
	m.Start(script)

	m.Tick()
	if got := countAlerts(log); got != 0 {
		t.Fatalf("alerts = %d, want 0 while the script owns this range", got)
	}

	// Beyond the scripted threshold the monitor overrides the suppression.
	src.vitals.SpO2 = 88
	m.Tick()
	if got := countAlerts(log); got != 1 {
		t.Fatalf("alerts = %d, want 1 once the value passes the scripted threshold", got)
	}
}

func TestApneaGetsItsOwnMessage(t *testing.T) {
	src := healthyStub()
	src.vitals.RR = 0
	sink := &sinkRecorder{}
	m := New(src, nil, sink, events.NewLog(128), manualConfig())
	m.Start(nil)

	m.Tick()
	found := false
	for _, line := range sink.dialogue {
		if strings.Contains(line, "apnea") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an apnea message, dialogue: %v", sink.dialogue)
	}
}

func TestOversedationIsCritical(t *testing.T) {
	src := healthyStub()
	src.depth = 5
	dismisser := &dismissCounter{}
	m := New(src, dismisser, &sinkRecorder{}, events.NewLog(128), manualConfig())
	m.Start(nil)

	m.Tick()
	if dismisser.calls != 1 {
		t.Fatalf("deepest sedation must raise a critical alert and dismiss any question")
	}
}

func TestTicksIgnoredWhenStopped(t *testing.T) {
	src := healthyStub()
	src.vitals.SpO2 = 80
	log := events.NewLog(128)
	m := New(src, nil, &sinkRecorder{}, log, manualConfig())

	m.Tick() // never started
	if got := countAlerts(log); got != 0 {
		t.Fatalf("unstarted monitor emitted %d alerts", got)
	}

	m.Start(nil)
	m.Stop()
	m.Stop() // idempotent
	m.Tick()
	if got := countAlerts(log); got != 0 {
		t.Fatalf("stopped monitor emitted %d alerts", got)
	}
}

func TestCriticalAlertPreemptsPendingQuestion(t *testing.T) {
	script := &scenario.Script{
		Version: 1,
		ID:      "preempt",
		Steps: []scenario.Step{{
			ID:      "ask",
			Trigger: scenario.Trigger{Type: scenario.TriggerOnStart},
			Question: &scenario.Question{
				Type: scenario.QuestionSingleChoice, Options: []string{"a"}, Correct: "a",
				Feedback: map[string]string{"generic": "g"},
			},
		}},
	}

	patient := healthyStub()
	sink := &sinkRecorder{}
	log := events.NewLog(128)

	engine := scenario.NewEngine(patient, sink, log, nil)
	if err := engine.Load(script); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if err := engine.Start(0); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	engine.Tick(1)
	if engine.PendingQuestion() == nil {
		t.Fatal("expected a pending question before the crisis")
	}

	patient.vitals.SpO2 = 84
	m := New(patient, engine, sink, log, manualConfig())
	m.Start(script)
	m.Tick()

	if engine.PendingQuestion() != nil {
		t.Fatal("critical desaturation must clear the pending question")
	}
	discarded := false
	for _, ev := range log.Snapshot() {
		if ev.Name == "question.discarded" {
			discarded = true
		}
	}
	if !discarded {
		t.Error("expected a question.discarded event")
	}
}
