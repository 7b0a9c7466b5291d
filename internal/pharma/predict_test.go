package pharma

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func predictorInputs(t *testing.T) (map[string]DrugState, map[string]float64, Profile, Environment, Vitals) {
	t.Helper()
	p, err := LookupPatient("healthy_adult")
	require.NoError(t, err)
	states := map[string]DrugState{
		"propofol": {Central: 5.0, Peripheral: 1.2, Deep: 0.1, EffectSite: 2.0},
	}
	infusions := map[string]float64{"propofol": 6}
	return states, infusions, p, DefaultEnvironment(), Vitals{SpO2: p.BaselineSpO2}
}

func TestPredictOutputMatchesDistinctSampleTimesAscending(t *testing.T) {
	states, infusions, p, env, prev := predictorInputs(t)

	// Out of order, with duplicates and a non-positive entry.
	out := PredictForward(states, infusions, p, env, prev, []int{60, 10, 30, 10, 0}, nil)

	require.Len(t, out, 3)
	assert.Equal(t, 10, out[0].SecondsAhead)
	assert.Equal(t, 30, out[1].SecondsAhead)
	assert.Equal(t, 60, out[2].SecondsAhead)
}

func TestPredictIsSideEffectFree(t *testing.T) {
	states, infusions, p, env, prev := predictorInputs(t)
	original := states["propofol"]

	first := PredictForward(states, infusions, p, env, prev, []int{15, 45}, nil)
	second := PredictForward(states, infusions, p, env, prev, []int{15, 45}, nil)

	assert.Equal(t, first, second, "identical arguments must yield identical output")
	assert.Equal(t, original, states["propofol"], "caller's drug state must be unchanged")
}

func TestPredictGhostBolusOnlyAffectsTheCopy(t *testing.T) {
	states, infusions, p, env, prev := predictorInputs(t)

	plain := PredictForward(states, infusions, p, env, prev, []int{90}, nil)
	ghost := PredictForward(states, infusions, p, env, prev, []int{90},
		&HypotheticalBolus{Drug: "propofol", DoseMg: 80})

	require.Len(t, plain, 1)
	require.Len(t, ghost, 1)
	assert.Greater(t, ghost[0].SedationDepth, plain[0].SedationDepth,
		"the hypothetical bolus should deepen predicted sedation")
	assert.Equal(t, 5.0, states["propofol"].Central, "live state untouched by the ghost bolus")
}

func TestPredictUnknownBolusDrugIsNoOp(t *testing.T) {
	states, infusions, p, env, prev := predictorInputs(t)

	plain := PredictForward(states, infusions, p, env, prev, []int{20, 40}, nil)
	unknown := PredictForward(states, infusions, p, env, prev, []int{20, 40},
		&HypotheticalBolus{Drug: "not-a-drug", DoseMg: 50})

	assert.Equal(t, plain, unknown)
}

func TestPredictNoSampleTimes(t *testing.T) {
	states, infusions, p, env, prev := predictorInputs(t)
	assert.Nil(t, PredictForward(states, infusions, p, env, prev, nil, nil))
	assert.Nil(t, PredictForward(states, infusions, p, env, prev, []int{0, -5}, nil))
}
