// Package monitor is the vital coherence watchdog: a slower-cadence scan of
// live vitals against hard thresholds, independent of whatever the active
// script happens to cover. It guarantees dangerous vitals are never silently
// unhandled, and can preempt a stalled question.
package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/sedsim/sedsim/internal/events"
	"github.com/sedsim/sedsim/internal/pharma"
	"github.com/sedsim/sedsim/internal/scenario"
)

// VitalsSource is the monitor's read-only view of the live simulation.
type VitalsSource interface {
	CurrentVitals() pharma.Vitals
	CurrentSedationDepth() int
}

// QuestionDismisser is the single one-way callback into the scenario engine:
// a critical alert must not leave the learner blocked on a stale question.
type QuestionDismisser interface {
	DismissPendingQuestion()
}

// Alert levels.
const (
	LevelWarning  = "warning"
	LevelCritical = "critical"
)

// Config controls cadence and alert cooldown.
type Config struct {
	// Interval between scans. Deliberately slower than the scenario
	// engine's 1-second tick. Zero means the host steps the monitor
	// manually via Tick.
	Interval time.Duration
	// Cooldown is the minimum spacing between alerts for the same
	// (parameter, direction) pair, except warning-to-critical escalation.
	Cooldown time.Duration
}

// DefaultConfig returns the production cadence.
func DefaultConfig() Config {
	return Config{Interval: 5 * time.Second, Cooldown: 60 * time.Second}
}

type check struct {
	param scenario.Param
	op    scenario.Op
	warn  float64
	crit  float64
	label string
}

// Checks run in this fixed order every scan. Heart rate appears twice
// because low and high are tracked independently.
var checks = []check{
	{scenario.ParamSpO2, scenario.OpLT, 92, 85, "desaturation"},
	{scenario.ParamHR, scenario.OpLT, 50, 40, "bradycardia"},
	{scenario.ParamHR, scenario.OpGT, 120, 150, "tachycardia"},
	{scenario.ParamSBP, scenario.OpLT, 90, 70, "hypotension"},
	{scenario.ParamRR, scenario.OpLT, 8, 4, "hypoventilation"},
	{scenario.ParamEtCO2, scenario.OpGT, 55, 70, "hypercapnia"},
	{scenario.ParamSedationDepth, scenario.OpGE, 5, 5, "oversedation"},
}

type pairKey struct {
	param scenario.Param
	dir   scenario.Direction
}

type alertRecord struct {
	atSec float64
	level string
}

// Monitor is constructed per session and started/stopped together with a
// running scenario.
type Monitor struct {
	mu sync.Mutex

	src       VitalsSource
	dismisser QuestionDismisser
	sink      scenario.Sink
	log       *events.Log
	cfg       Config

	script  *scenario.Script
	now     float64
	last    map[pairKey]alertRecord
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a monitor. The dismisser is the narrow interface back into the
// scenario engine; sink and log receive alert side effects.
func New(src VitalsSource, dismisser QuestionDismisser, sink scenario.Sink, log *events.Log, cfg Config) *Monitor {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	return &Monitor{
		src:       src,
		dismisser: dismisser,
		sink:      sink,
		log:       log,
		cfg:       cfg,
		last:      make(map[pairKey]alertRecord),
	}
}

// Start begins watching. The script (may be nil) supplies coverage
// information so the monitor does not duplicate alerts the script owns.
// Starting twice is a no-op.
func (m *Monitor) Start(script *scenario.Script) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.script = script
	m.now = 0
	m.last = make(map[pairKey]alertRecord)
	interval := m.cfg.Interval
	if interval > 0 {
		m.stopCh = make(chan struct{})
		m.wg.Add(1)
		go m.scanLoop(interval, m.stopCh)
	}
	m.mu.Unlock()
	m.emit("info", "monitor.started", "", nil)
}

// Stop cancels the scan loop before mutating state. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	stopCh := m.stopCh
	m.stopCh = nil
	m.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		m.wg.Wait()
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.script = nil
	m.mu.Unlock()
	m.emit("info", "monitor.stopped", "", nil)
}

func (m *Monitor) scanLoop(interval time.Duration, stopCh chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Tick runs one scan. Hosts without a real ticker (tests) call this
// directly; each call advances the monitor clock by one interval.
func (m *Monitor) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	step := m.cfg.Interval.Seconds()
	if step <= 0 {
		step = DefaultConfig().Interval.Seconds()
	}
	m.now += step

	snap := pharma.Snapshot{
		Vitals:        m.src.CurrentVitals(),
		SedationDepth: m.src.CurrentSedationDepth(),
	}

	for _, c := range checks {
		v, ok := c.param.Value(snap)
		if !ok {
			continue
		}
		var level string
		threshold := c.warn
		switch {
		case c.op.Compare(v, c.crit):
			level = LevelCritical
			threshold = c.crit
		case c.op.Compare(v, c.warn):
			level = LevelWarning
		default:
			continue
		}
		m.alertLocked(c, v, threshold, level)
	}
}

func (m *Monitor) alertLocked(c check, value, threshold float64, level string) {
	dir := c.op.Direction()
	pair := pairKey{c.param, dir}

	// Coverage suppression: the script is presumed to own any
	// (parameter, direction) it declares an on_physiology step for, unless
	// the live value is more extreme than the most extreme scripted
	// threshold.
	if m.script != nil {
		if cov, covered := m.script.PhysiologyCoverage(c.param, dir); covered {
			if !moreExtreme(value, cov, dir) {
				return
			}
		}
	}

	if rec, ok := m.last[pair]; ok {
		withinWindow := m.now-rec.atSec < m.cfg.Cooldown.Seconds()
		escalation := rec.level == LevelWarning && level == LevelCritical
		if withinWindow && !escalation {
			return
		}
	}
	m.last[pair] = alertRecord{atSec: m.now, level: level}

	msg := alertMessage(c, value, level)
	m.emit(level, "monitor.alert", msg, map[string]interface{}{
		"param":     string(c.param),
		"direction": dir.String(),
		"value":     value,
		"threshold": threshold,
		"level":     level,
	})

	severity := 2
	if level == LevelCritical {
		severity = 3
	}
	m.sink.EmitDialogue([]string{msg})
	m.sink.SetHighlights([]scenario.Highlight{{
		TargetID:   "vital." + string(c.param),
		Text:       msg,
		ParamLabel: string(c.param),
		ParamValue: value,
		Severity:   severity,
	}})

	if level == LevelCritical {
		m.sink.SetPhase("complication")
		if m.dismisser != nil {
			m.dismisser.DismissPendingQuestion()
		}
		m.emit("info", "monitor.preempted", "", map[string]interface{}{
			"param": string(c.param),
		})
	}
}

func moreExtreme(value, threshold float64, dir scenario.Direction) bool {
	if dir == scenario.DirectionLow {
		return value < threshold
	}
	return value > threshold
}

func alertMessage(c check, value float64, level string) string {
	if c.param == scenario.ParamRR && value == 0 {
		return "critical: apnea, no respirations detected"
	}
	return fmt.Sprintf("%s: %s (%s %.0f)", level, c.label, string(c.param), value)
}

func (m *Monitor) emit(level, name, msg string, fields map[string]interface{}) {
	if m.log == nil {
		return
	}
	_, _ = m.log.Emit(level, name, msg, fields)
}
