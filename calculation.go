package calcd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type CalculationType string

const (
	CalculationAddition       CalculationType = "addition"
	CalculationSubtraction    CalculationType = "subtraction"
	CalculationMultiplication CalculationType = "multiplication"
	CalculationDivision       CalculationType = "division"
)

var ErrDivideByZero = errors.New("cannot divide by zero")

// ParseCalculationType accepts any casing of the four supported types.
func ParseCalculationType(s string) (CalculationType, error) {
	switch CalculationType(strings.ToLower(s)) {
	case CalculationAddition:
		return CalculationAddition, nil
	case CalculationSubtraction:
		return CalculationSubtraction, nil
	case CalculationMultiplication:
		return CalculationMultiplication, nil
	case CalculationDivision:
		return CalculationDivision, nil
	default:
		return "", fmt.Errorf("unsupported calculation type: %s", s)
	}
}

// Calculation is an owned, persisted arithmetic expression. The result is
// always derived from Inputs and never stored.
type Calculation struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Type      CalculationType `json:"type"`
	Inputs    []float64       `json:"inputs"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewCalculation validates inputs against the type before constructing.
func NewCalculation(typ CalculationType, userID uuid.UUID, inputs []float64) (*Calculation, error) {
	if err := ValidateInputs(typ, inputs); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Calculation{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      typ,
		Inputs:    inputs,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ValidateInputs enforces the per-type arity rules. Division additionally
// rejects zero divisors so a stored calculation can always be evaluated.
func ValidateInputs(typ CalculationType, inputs []float64) error {
	switch typ {
	case CalculationAddition, CalculationMultiplication:
		if len(inputs) == 0 {
			return fmt.Errorf("%s requires at least one input", typ)
		}
	case CalculationSubtraction:
		if len(inputs) < 2 {
			return fmt.Errorf("%s requires at least two inputs", typ)
		}
	case CalculationDivision:
		if len(inputs) < 2 {
			return fmt.Errorf("%s requires at least two inputs", typ)
		}
		for _, v := range inputs[1:] {
			if v == 0 {
				return ErrDivideByZero
			}
		}
	default:
		return fmt.Errorf("unsupported calculation type: %s", typ)
	}
	return nil
}

// Result evaluates the calculation as a left fold over Inputs.
func (c *Calculation) Result() (float64, error) {
	if err := ValidateInputs(c.Type, c.Inputs); err != nil {
		return 0, err
	}

	switch c.Type {
	case CalculationAddition:
		var sum float64
		for _, v := range c.Inputs {
			sum += v
		}
		return sum, nil
	case CalculationSubtraction:
		res := c.Inputs[0]
		for _, v := range c.Inputs[1:] {
			res -= v
		}
		return res, nil
	case CalculationMultiplication:
		res := 1.0
		for _, v := range c.Inputs {
			res *= v
		}
		return res, nil
	case CalculationDivision:
		res := c.Inputs[0]
		for _, v := range c.Inputs[1:] {
			if v == 0 {
				return 0, ErrDivideByZero
			}
			res /= v
		}
		return res, nil
	default:
		return 0, fmt.Errorf("unsupported calculation type: %s", c.Type)
	}
}
