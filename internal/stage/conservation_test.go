package stage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConservation(t *testing.T) {
	require.NoError(t, Conservation(100, []float64{82, 18}, MillingToleranceKg))
	require.NoError(t, Conservation(100, []float64{82.05, 18}, MillingToleranceKg))
	require.ErrorIs(t, Conservation(100, []float64{70, 18}, MillingToleranceKg), ErrConservation)
	require.ErrorIs(t, Conservation(100, []float64{82.2, 18}, MillingToleranceKg), ErrConservation)
	require.ErrorIs(t, Conservation(100, []float64{-5, 105}, MillingToleranceKg), ErrValidation)
}

func TestWasteInRange(t *testing.T) {
	require.NoError(t, WasteInRange(100, 18))
	require.NoError(t, WasteInRange(100, 5))
	require.NoError(t, WasteInRange(100, 40))
	require.ErrorIs(t, WasteInRange(100, 2), ErrValidation)
	require.ErrorIs(t, WasteInRange(100, 45), ErrValidation)
	require.ErrorIs(t, WasteInRange(0, 1), ErrValidation)
}

func TestUnitMath(t *testing.T) {
	require.NoError(t, UnitMath(64, 250, 16))
	require.NoError(t, UnitMath(100, 340, 34))
	require.ErrorIs(t, UnitMath(64, 250, 17), ErrConservation)
	require.ErrorIs(t, UnitMath(64, 250, 16.02), ErrConservation)
}
