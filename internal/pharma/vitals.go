package pharma

import (
	"math"
	"math/rand"
)

// Vitals is one set of monitored values.
type Vitals struct {
	HR    float64 `json:"hr"`
	SBP   float64 `json:"sbp"`
	DBP   float64 `json:"dbp"`
	SpO2  float64 `json:"spo2"`
	RR    float64 `json:"rr"`
	EtCO2 float64 `json:"etco2"`
}

// Snapshot is the read-only view handed to consumers each tick.
type Snapshot struct {
	Vitals        Vitals  `json:"vitals"`
	SedationDepth int     `json:"sedation_depth"`
	ElapsedSec    float64 `json:"elapsed_sec"`

	// SecondsAhead is set only on lookahead snapshots from PredictForward.
	SecondsAhead int `json:"seconds_ahead,omitempty"`
}

// Environment holds the supplemental-oxygen state.
type Environment struct {
	FiO2   float64 `json:"fio2"`
	Airway string  `json:"airway"`
}

// Airway devices, roughly ordered by how much they protect oxygenation.
const (
	AirwayNone         = "none"
	AirwayNasalCannula = "nasal_cannula"
	AirwayFaceMask     = "face_mask"
	AirwayLMA          = "lma"
	AirwayETT          = "ett"
)

// DefaultEnvironment is room air with no airway device.
func DefaultEnvironment() Environment {
	return Environment{FiO2: 0.21, Airway: AirwayNone}
}

func airwaySupport(airway string) float64 {
	switch airway {
	case AirwayNasalCannula:
		return 0.05
	case AirwayFaceMask:
		return 0.10
	case AirwayLMA:
		return 0.20
	case AirwayETT:
		return 0.30
	default:
		return 0
	}
}

// depthFromEffect maps a 0..1 combined effect onto the 0..5 sedation scale.
// 0 is awake, 5 is unresponsive.
func depthFromEffect(effect float64) int {
	switch {
	case effect < 0.05:
		return 0
	case effect < 0.20:
		return 1
	case effect < 0.40:
		return 2
	case effect < 0.60:
		return 3
	case effect < 0.80:
		return 4
	default:
		return 5
	}
}

// deriveVitals computes the next vitals from the patient baseline, the
// combined drug effect, and the environment. SpO2 lags the rest: it moves a
// fraction of the way toward its target each second, which is why the
// previous vitals are an input.
func deriveVitals(p Profile, env Environment, effect, opioidEffect float64, prev Vitals) Vitals {
	eff := clamp01(effect * p.Sensitivity)
	respDepression := clamp01(0.55*eff + 0.65*opioidEffect*p.Sensitivity)

	var v Vitals
	v.HR = p.BaselineHR * (1 - 0.25*eff)
	v.SBP = p.BaselineSBP * (1 - 0.30*eff)
	v.DBP = p.BaselineDBP * (1 - 0.28*eff)

	v.RR = p.BaselineRR * (1 - respDepression)
	if respDepression >= 0.92 {
		v.RR = 0 // apnea
	}

	hypovent := 0.0
	if p.BaselineRR > 0 {
		hypovent = clamp01(1 - v.RR/p.BaselineRR)
	}
	v.EtCO2 = p.BaselineEtCO2 + 28*hypovent
	if v.RR == 0 {
		// No exhaled breath to sample.
		v.EtCO2 = p.BaselineEtCO2 + 35
	}

	// SpO2 target: supplemental oxygen buys reserve, hypoventilation and
	// apnea erode it.
	reserve := (env.FiO2 - 0.21) * 20 * (1 + airwaySupport(env.Airway))
	target := p.BaselineSpO2 + reserve - 24*hypovent*hypovent
	if v.RR == 0 {
		target -= 20
	}
	target = math.Min(100, target)
	target = math.Max(40, target)
	v.SpO2 = prev.SpO2 + 0.12*(target-prev.SpO2)
	if prev.SpO2 == 0 {
		v.SpO2 = math.Min(target, p.BaselineSpO2)
	}
	return v
}

// perturb adds a small bounded jitter to a vitals set. A nil rng disables
// perturbation entirely so tests can pin exact values.
func perturb(v Vitals, rng *rand.Rand) Vitals {
	if rng == nil {
		return v
	}
	jitter := func(scale float64) float64 {
		return (rng.Float64()*2 - 1) * scale
	}
	v.HR += jitter(1.5)
	v.SBP += jitter(2.0)
	v.DBP += jitter(1.5)
	v.SpO2 = math.Min(100, v.SpO2+jitter(0.4))
	if v.RR > 0 {
		v.RR = math.Max(0, v.RR+jitter(0.7))
	}
	v.EtCO2 += jitter(1.0)
	return v
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
