package dna

import "math"

// naConcentration is the standard 50mM Na+ concentration assumed by the
// melting-temperature approximation below.
const naConcentration = 0.05

// StabilityReport summarizes the biological stability of a DNA strand.
type StabilityReport struct {
	GCPercent   float64
	MeltingTemp float64
	IsStable    bool
}

// AnalyzeStability computes GC%, an approximate melting temperature,
// and the stability predicate (40<=GC<=60 && Tm>50) for s. Empty input
// yields all zeroes and IsStable=false.
func AnalyzeStability(s string) StabilityReport {
	if len(s) == 0 {
		return StabilityReport{}
	}

	var gcCount int
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case 'C', 'G':
			gcCount++
		}
	}

	n := float64(len(s))
	gcPercent := 100 * float64(gcCount) / n
	tm := 81.5 + 16.6*math.Log10(naConcentration) + 0.41*gcPercent - 600/n

	isStable := gcPercent >= 40 && gcPercent <= 60 && tm > 50
	return StabilityReport{
		GCPercent:   gcPercent,
		MeltingTemp: tm,
		IsStable:    isStable,
	}
}
