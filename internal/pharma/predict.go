package pharma

import "sort"

// HypotheticalBolus is a dose applied only inside the lookahead copy, never
// the live simulation.
type HypotheticalBolus struct {
	Drug   string
	DoseMg float64
}

// PredictForward runs a side-effect-free lookahead over a copy of the given
// drug state and answers "what do the vitals look like N seconds from now".
//
// The copy is advanced one simulated second at a time up to the largest
// requested sample time, holding the current infusion rates constant. A
// hypothetical bolus, if any, is applied to the copy at t=0; an unknown drug
// name in the bolus is a no-op. One snapshot is emitted per distinct sample
// time, in ascending order regardless of input order, tagged with
// SecondsAhead. No noise is applied, so two calls with identical arguments
// return identical output.
func PredictForward(
	states map[string]DrugState,
	infusions map[string]float64,
	patient Profile,
	env Environment,
	prevVitals Vitals,
	sampleTimes []int,
	bolus *HypotheticalBolus,
) []Snapshot {
	times := distinctAscending(sampleTimes)
	if len(times) == 0 {
		return nil
	}

	local := make(map[string]DrugState, len(states))
	for name, s := range states {
		local[name] = s.Clone()
	}
	if bolus != nil {
		if d, ok := LookupDrug(bolus.Drug); ok && bolus.DoseMg > 0 {
			local[bolus.Drug] = applyBolus(d, local[bolus.Drug], bolus.DoseMg)
		}
	}

	out := make([]Snapshot, 0, len(times))
	vitals := prevVitals
	next := 0
	horizon := times[len(times)-1]

	for t := 1; t <= horizon; t++ {
		for name, s := range local {
			d, ok := library[name]
			if !ok {
				continue
			}
			local[name] = stepState(d, s, infusions[name], 1)
		}
		total, opioid := combinedEffect(local)
		vitals = deriveVitals(patient, env, total, opioid, vitals)

		if next < len(times) && t == times[next] {
			out = append(out, Snapshot{
				Vitals:        vitals,
				SedationDepth: depthFromEffect(clamp01(total * patient.Sensitivity)),
				SecondsAhead:  t,
			})
			next++
		}
	}
	return out
}

func distinctAscending(times []int) []int {
	seen := make(map[int]struct{}, len(times))
	out := make([]int, 0, len(times))
	for _, t := range times {
		if t <= 0 {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Ints(out)
	return out
}
