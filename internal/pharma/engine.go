// Package pharma simulates the patient: compartmental drug kinetics, the
// combined sedative effect, and the vitals derived from it. It also provides
// the pure lookahead predictor used for what-if queries.
package pharma

import (
	"math/rand"
	"sync"
)

// Engine is the live physiological simulation. It is deterministic for a
// given patient, dose history and noise source; pass a nil *rand.Rand to
// disable the stochastic vitals perturbation.
type Engine struct {
	mu sync.Mutex

	patient   Profile
	env       Environment
	states    map[string]DrugState
	infusions map[string]float64 // mg/min, keyed by drug name
	elapsed   float64
	vitals    Vitals
	depth     int
	rng       *rand.Rand
}

// NewEngine creates a live simulation for the given patient.
func NewEngine(patient Profile, rng *rand.Rand) *Engine {
	e := &Engine{
		patient:   patient,
		env:       DefaultEnvironment(),
		states:    make(map[string]DrugState),
		infusions: make(map[string]float64),
		rng:       rng,
	}
	e.vitals = deriveVitals(patient, e.env, 0, 0, Vitals{})
	return e
}

// SelectPatient swaps the patient archetype. Drug state and elapsed time are
// preserved; archetype changes mid-session are a scenario-authoring tool, not
// a clinical event.
func (e *Engine) SelectPatient(key string) error {
	p, err := LookupPatient(key)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.patient = p
	return nil
}

// AdministerDrug applies an IV bolus. Unknown drug names are a silent no-op.
func (e *Engine) AdministerDrug(name string, doseMg float64) {
	d, ok := LookupDrug(name)
	if !ok || doseMg <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states[name] = applyBolus(d, e.states[name], doseMg)
}

// StartInfusion begins (or retargets) a continuous infusion in mg/min.
// Unknown drug names are a silent no-op.
func (e *Engine) StartInfusion(name string, mgPerMin float64) {
	if _, ok := LookupDrug(name); !ok || mgPerMin <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.infusions[name] = mgPerMin
	if _, ok := e.states[name]; !ok {
		e.states[name] = DrugState{}
	}
}

// StopInfusion halts a running infusion. Stopping a drug that has no
// infusion is a no-op.
func (e *Engine) StopInfusion(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.infusions, name)
}

// SetEnvironment updates supplemental oxygen and airway device. A zero fio2
// keeps the current value; an empty airway keeps the current device.
func (e *Engine) SetEnvironment(fio2 float64, airway string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if fio2 > 0 {
		e.env.FiO2 = fio2
	}
	if airway != "" {
		e.env.Airway = airway
	}
}

// Tick advances the simulation by dtSeconds (whole simulated seconds) and
// returns the resulting snapshot. Elapsed time is monotonic.
func (e *Engine) Tick(dtSeconds float64) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	steps := int(dtSeconds)
	if steps < 1 {
		steps = 1
	}
	for i := 0; i < steps; i++ {
		for name, s := range e.states {
			d, ok := library[name]
			if !ok {
				continue
			}
			e.states[name] = stepState(d, s, e.infusions[name], 1)
		}
		e.elapsed++
		total, opioid := combinedEffect(e.states)
		e.depth = depthFromEffect(clamp01(total * e.patient.Sensitivity))
		e.vitals = perturb(deriveVitals(e.patient, e.env, total, opioid, e.vitals), e.rng)
	}
	return e.snapshotLocked()
}

// CurrentVitals returns the latest vitals without advancing time.
func (e *Engine) CurrentVitals() Vitals {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vitals
}

// CurrentSedationDepth returns the latest 0..5 sedation depth.
func (e *Engine) CurrentSedationDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.depth
}

// Snapshot returns the current state without advancing time.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{
		Vitals:        e.vitals,
		SedationDepth: e.depth,
		ElapsedSec:    e.elapsed,
	}
}

// DrugStates returns a copy of the per-drug compartmental state, suitable to
// feed PredictForward. The engine's own map is never aliased out.
func (e *Engine) DrugStates() map[string]DrugState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]DrugState, len(e.states))
	for name, s := range e.states {
		out[name] = s.Clone()
	}
	return out
}

// Infusions returns a copy of the active infusion rates in mg/min.
func (e *Engine) Infusions() map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]float64, len(e.infusions))
	for name, rate := range e.infusions {
		out[name] = rate
	}
	return out
}

// Patient returns the active patient profile.
func (e *Engine) Patient() Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.patient
}

// Environment returns the current oxygen/airway state.
func (e *Engine) Environment() Environment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.env
}
