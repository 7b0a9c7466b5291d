package pharma

import (
	"fmt"
	"sort"
)

// Profile describes a patient archetype: baseline vitals plus a global
// sensitivity multiplier applied to drug effect.
type Profile struct {
	Key         string  `json:"key"`
	Name        string  `json:"name"`
	WeightKg    float64 `json:"weight_kg"`
	Sensitivity float64 `json:"sensitivity"`

	BaselineHR    float64 `json:"baseline_hr"`
	BaselineSBP   float64 `json:"baseline_sbp"`
	BaselineDBP   float64 `json:"baseline_dbp"`
	BaselineSpO2  float64 `json:"baseline_spo2"`
	BaselineRR    float64 `json:"baseline_rr"`
	BaselineEtCO2 float64 `json:"baseline_etco2"`
}

var archetypes = map[string]Profile{
	"healthy_adult": {
		Key: "healthy_adult", Name: "Healthy adult", WeightKg: 75, Sensitivity: 1.0,
		BaselineHR: 72, BaselineSBP: 122, BaselineDBP: 78,
		BaselineSpO2: 98, BaselineRR: 14, BaselineEtCO2: 38,
	},
	"elderly": {
		Key: "elderly", Name: "Elderly patient", WeightKg: 62, Sensitivity: 1.4,
		BaselineHR: 68, BaselineSBP: 138, BaselineDBP: 82,
		BaselineSpO2: 96, BaselineRR: 15, BaselineEtCO2: 40,
	},
	"obese_osa": {
		Key: "obese_osa", Name: "Obese patient with sleep apnea", WeightKg: 118, Sensitivity: 1.2,
		BaselineHR: 80, BaselineSBP: 134, BaselineDBP: 86,
		BaselineSpO2: 94, BaselineRR: 16, BaselineEtCO2: 43,
	},
	"child": {
		Key: "child", Name: "School-age child", WeightKg: 26, Sensitivity: 0.9,
		BaselineHR: 95, BaselineSBP: 104, BaselineDBP: 64,
		BaselineSpO2: 99, BaselineRR: 20, BaselineEtCO2: 37,
	},
}

// DefaultPatientKey is used when no archetype is configured.
const DefaultPatientKey = "healthy_adult"

// LookupPatient returns the archetype for a key.
func LookupPatient(key string) (Profile, error) {
	p, ok := archetypes[key]
	if !ok {
		return Profile{}, fmt.Errorf("unknown patient archetype: %s", key)
	}
	return p, nil
}

// PatientKeys returns all known archetype keys, sorted.
func PatientKeys() []string {
	keys := make([]string, 0, len(archetypes))
	for k := range archetypes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
