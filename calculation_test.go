package calcd

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCalculationType(t *testing.T) {
	tests := []struct {
		in        string
		expect    CalculationType
		expectErr bool
	}{
		{"addition", CalculationAddition, false},
		{"Addition", CalculationAddition, false},
		{"SUBTRACTION", CalculationSubtraction, false},
		{"multiplication", CalculationMultiplication, false},
		{"division", CalculationDivision, false},
		{"modulo", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			typ, err := ParseCalculationType(tt.in)
			if tt.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expect, typ)
		})
	}
}

func TestCalculationResult(t *testing.T) {
	tests := []struct {
		name      string
		typ       CalculationType
		inputs    []float64
		expect    float64
		expectErr error
	}{
		{name: "addition", typ: CalculationAddition, inputs: []float64{1, 2, 3.5}, expect: 6.5},
		{name: "addition single", typ: CalculationAddition, inputs: []float64{42}, expect: 42},
		{name: "subtraction folds left", typ: CalculationSubtraction, inputs: []float64{10, 3, 2}, expect: 5},
		{name: "subtraction negative result", typ: CalculationSubtraction, inputs: []float64{1, 5}, expect: -4},
		{name: "multiplication", typ: CalculationMultiplication, inputs: []float64{2, 3, 4}, expect: 24},
		{name: "multiplication by zero", typ: CalculationMultiplication, inputs: []float64{5, 0}, expect: 0},
		{name: "division folds left", typ: CalculationDivision, inputs: []float64{100, 5, 2}, expect: 10},
		{name: "division leading zero ok", typ: CalculationDivision, inputs: []float64{0, 4}, expect: 0},
		{name: "division by zero", typ: CalculationDivision, inputs: []float64{10, 0}, expectErr: ErrDivideByZero},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calc, err := NewCalculation(tt.typ, uuid.New(), tt.inputs)
			if tt.expectErr != nil {
				require.ErrorIs(t, err, tt.expectErr)
				return
			}
			require.NoError(t, err)

			res, err := calc.Result()
			require.NoError(t, err)
			assert.Equal(t, tt.expect, res)
		})
	}
}

func TestValidateInputs(t *testing.T) {
	require.Error(t, ValidateInputs(CalculationAddition, nil))
	require.Error(t, ValidateInputs(CalculationMultiplication, []float64{}))
	require.Error(t, ValidateInputs(CalculationSubtraction, []float64{1}))
	require.Error(t, ValidateInputs(CalculationDivision, []float64{1}))
	require.ErrorIs(t, ValidateInputs(CalculationDivision, []float64{1, 2, 0}), ErrDivideByZero)
	require.Error(t, ValidateInputs(CalculationType("modulo"), []float64{1, 2}))

	require.NoError(t, ValidateInputs(CalculationAddition, []float64{1}))
	require.NoError(t, ValidateInputs(CalculationSubtraction, []float64{1, 2}))
	require.NoError(t, ValidateInputs(CalculationDivision, []float64{0, 1}))
}

func TestNewCalculationTimestamps(t *testing.T) {
	userID := uuid.New()
	calc, err := NewCalculation(CalculationAddition, userID, []float64{1, 2})
	require.NoError(t, err)

	assert.Equal(t, userID, calc.UserID)
	assert.NotEqual(t, uuid.Nil, calc.ID)
	assert.False(t, calc.CreatedAt.IsZero())
	assert.Equal(t, calc.CreatedAt, calc.UpdatedAt)
	assert.Equal(t, "UTC", calc.CreatedAt.Location().String())
}
