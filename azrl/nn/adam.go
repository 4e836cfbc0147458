package nn

import (
	"fmt"
	"math"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

var _ gorgonia.Solver = (*Adam)(nil)

// Adam is a gorgonia.Solver whose moment estimates can be saved and restored
// along with the network.
type Adam struct {
	LearnRate float64
	Beta1     float64
	Beta2     float64
	Epsilon   float64

	iter int
	m    [][]float64
	v    [][]float64
}

func NewAdam(learnRate float64) *Adam {
	return &Adam{
		LearnRate: learnRate,
		Beta1:     0.9,
		Beta2:     0.999,
		Epsilon:   1e-8,
	}
}

// Step updates every value in place from its gradient.
func (a *Adam) Step(model []gorgonia.ValueGrad) error {
	if a.m == nil {
		a.m = make([][]float64, len(model))
		a.v = make([][]float64, len(model))
	}
	if len(a.m) != len(model) {
		return fmt.Errorf("adam: state for %d params, got %d", len(a.m), len(model))
	}

	a.iter++
	correction1 := 1 - math.Pow(a.Beta1, float64(a.iter))
	correction2 := 1 - math.Pow(a.Beta2, float64(a.iter))

	for i, vg := range model {
		w, ok := vg.Value().(*tensor.Dense)
		if !ok {
			return fmt.Errorf("adam: param %d is %T", i, vg.Value())
		}
		grad, err := vg.Grad()
		if err != nil {
			return fmt.Errorf("adam: param %d: %w", i, err)
		}
		g, err := floats(grad)
		if err != nil {
			return fmt.Errorf("adam: param %d: %w", i, err)
		}

		weights := w.Float64s()
		if len(g) != len(weights) {
			return fmt.Errorf("adam: param %d has %d values, gradient %d", i, len(weights), len(g))
		}
		if len(a.m[i]) == 0 {
			a.m[i] = make([]float64, len(weights))
			a.v[i] = make([]float64, len(weights))
		}
		if len(a.m[i]) != len(weights) || len(a.v[i]) != len(weights) {
			return fmt.Errorf("adam: param %d has %d values, state %d", i, len(weights), len(a.m[i]))
		}

		m, v := a.m[i], a.v[i]
		for j, gj := range g {
			m[j] = a.Beta1*m[j] + (1-a.Beta1)*gj
			v[j] = a.Beta2*v[j] + (1-a.Beta2)*gj*gj
			mHat := m[j] / correction1
			vHat := v[j] / correction2
			weights[j] -= a.LearnRate * mHat / (math.Sqrt(vHat) + a.Epsilon)
		}
	}
	return nil
}

// Iter is the number of steps taken.
func (a *Adam) Iter() int {
	return a.iter
}
