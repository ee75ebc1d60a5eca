package stage

import (
	"fmt"
	"math"
)

// Tolerances are absolute, in kilograms, matching the measurement precision
// of the scales at each stage. They deliberately do not scale with lot size:
// a 100 g discrepancy is a recording error regardless of whether the batch
// weighed 20 kg or 2000 kg.
const (
	// MillingToleranceKg bounds mass-balance mismatch for milling and
	// roasting checks.
	MillingToleranceKg = 0.1
	// PackagingToleranceKg bounds the unit-math check at packaging.
	PackagingToleranceKg = 0.01

	// MinWasteFraction and MaxWasteFraction bound plausible milling loss.
	MinWasteFraction = 0.05
	MaxWasteFraction = 0.40
)

// Conservation verifies that the outputs account for the input mass within
// an absolute tolerance. It is the single policy shared by every stage
// boundary so tolerance and rounding rules are defined once.
func Conservation(inputKg float64, outputs []float64, toleranceKg float64) error {
	var sum float64
	for _, out := range outputs {
		if out < 0 || math.IsNaN(out) || math.IsInf(out, 0) {
			return fmt.Errorf("%w: output quantity %.4f kg", ErrValidation, out)
		}
		sum += out
	}
	if diff := math.Abs(sum - inputKg); diff > toleranceKg {
		return fmt.Errorf("%w: outputs sum to %.3f kg against input %.3f kg (tolerance %.2f kg)", ErrConservation, sum, inputKg, toleranceKg)
	}
	return nil
}

// WasteInRange verifies the milling waste fraction falls within policy bounds.
func WasteInRange(inputKg, wasteKg float64) error {
	if inputKg <= 0 {
		return fmt.Errorf("%w: input must be positive", ErrValidation)
	}
	fraction := wasteKg / inputKg
	if fraction < MinWasteFraction || fraction > MaxWasteFraction {
		return fmt.Errorf("%w: waste %.1f%% outside [%.0f%%, %.0f%%]", ErrValidation, fraction*100, MinWasteFraction*100, MaxWasteFraction*100)
	}
	return nil
}

// UnitMath verifies packaging unit arithmetic: units x unit weight must equal
// the declared total within PackagingToleranceKg.
func UnitMath(units int, unitWeightGrams, totalKg float64) error {
	expected := float64(units) * unitWeightGrams / 1000
	if math.Abs(expected-totalKg) > PackagingToleranceKg {
		return fmt.Errorf("%w: %d units x %.0f g = %.3f kg, declared %.3f kg", ErrConservation, units, unitWeightGrams, expected, totalKg)
	}
	return nil
}
