package pharma

import (
	"math"
	"sort"
)

// Drug holds the pharmacokinetic and pharmacodynamic parameters for one
// sedative agent. Rate constants are per minute; Vc is the central
// compartment volume in liters.
type Drug struct {
	Name string

	K10 float64
	K12 float64
	K21 float64
	K13 float64
	K31 float64
	Ke0 float64
	Vc  float64

	// Ce50 is the effect-site concentration (mg/L) producing half-maximal
	// effect; Gamma is the Hill slope.
	Ce50  float64
	Gamma float64

	// Opioid drugs depress respiration out of proportion to their
	// sedative effect.
	Opioid bool
}

// DrugState holds the compartmental concentrations (mg/L) for one drug.
type DrugState struct {
	Central    float64 `json:"central"`
	Peripheral float64 `json:"peripheral"`
	Deep       float64 `json:"deep"`
	EffectSite float64 `json:"effect_site"`
}

// Clone returns a copy of the state. DrugState is a value type, but the
// explicit method keeps copy-vs-alias intent obvious at call sites.
func (s DrugState) Clone() DrugState {
	return s
}

// library is the closed set of drugs the simulator understands. Parameter
// values are representative adult figures, not a dosing reference.
var library = map[string]Drug{
	"propofol": {
		Name: "propofol",
		K10:  0.119, K12: 0.112, K21: 0.055, K13: 0.042, K31: 0.0033,
		Ke0: 0.456, Vc: 4.27,
		Ce50: 2.2, Gamma: 2.5,
	},
	"midazolam": {
		Name: "midazolam",
		K10:  0.065, K12: 0.095, K21: 0.045, K13: 0.018, K31: 0.0015,
		Ke0: 0.12, Vc: 5.8,
		Ce50: 0.08, Gamma: 1.8,
	},
	"fentanyl": {
		Name: "fentanyl",
		K10:  0.083, K12: 0.471, K21: 0.102, K13: 0.225, K31: 0.006,
		Ke0: 0.147, Vc: 12.7,
		Ce50: 0.0015, Gamma: 2.0,
		Opioid: true,
	},
	"ketamine": {
		Name: "ketamine",
		K10:  0.438, K12: 0.592, K21: 0.247, K13: 0.00, K31: 0.00,
		Ke0: 0.55, Vc: 14.3,
		Ce50: 0.35, Gamma: 1.6,
	},
}

// LookupDrug returns the drug definition for a name, or false when the name
// is not in the library. Unknown names are silently ignored by callers; a
// content typo must never take down a live session.
func LookupDrug(name string) (Drug, bool) {
	d, ok := library[name]
	return d, ok
}

// DrugNames returns the names of all drugs in the library, sorted.
func DrugNames() []string {
	names := make([]string, 0, len(library))
	for n := range library {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// stepState advances one drug's compartmental state by dtSec seconds using
// forward Euler. infusionMgPerMin is 0 when no infusion is running.
func stepState(d Drug, s DrugState, infusionMgPerMin, dtSec float64) DrugState {
	dt := dtSec / 60.0 // rate constants are per minute

	cc := s.Central
	cp1 := s.Peripheral
	cp2 := s.Deep
	ce := s.EffectSite

	dCc := (-(d.K10+d.K12+d.K13)*cc + d.K21*cp1 + d.K31*cp2) * dt
	dCc += (infusionMgPerMin / d.Vc) * dt
	dCp1 := (d.K12*cc - d.K21*cp1) * dt
	dCp2 := (d.K13*cc - d.K31*cp2) * dt
	dCe := d.Ke0 * (cc - ce) * dt

	s.Central = math.Max(0, cc+dCc)
	s.Peripheral = math.Max(0, cp1+dCp1)
	s.Deep = math.Max(0, cp2+dCp2)
	s.EffectSite = math.Max(0, ce+dCe)
	return s
}

// applyBolus adds an IV bolus to the central compartment.
func applyBolus(d Drug, s DrugState, doseMg float64) DrugState {
	s.Central += doseMg / d.Vc
	return s
}

// drugEffect maps effect-site concentration to a 0..1 effect via a Hill curve.
func drugEffect(d Drug, s DrugState) float64 {
	ce := s.EffectSite
	if ce <= 0 {
		return 0
	}
	cg := math.Pow(ce, d.Gamma)
	return cg / (math.Pow(d.Ce50, d.Gamma) + cg)
}

// combinedEffect aggregates per-drug effects into a single 0..1 scalar and
// also returns the opioid-only contribution used for respiratory modeling.
func combinedEffect(states map[string]DrugState) (total, opioid float64) {
	survivor := 1.0
	opioidSurvivor := 1.0
	for name, s := range states {
		d, ok := library[name]
		if !ok {
			continue
		}
		e := drugEffect(d, s)
		survivor *= 1 - e
		if d.Opioid {
			opioidSurvivor *= 1 - e
		}
	}
	return 1 - survivor, 1 - opioidSurvivor
}
