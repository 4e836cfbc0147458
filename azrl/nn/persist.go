package nn

import (
	"encoding/gob"
	"fmt"
	"os"
)

type param struct {
	Name  string
	Shape []int
	Data  []float64
}

type adamState struct {
	LearnRate float64
	Beta1     float64
	Beta2     float64
	Epsilon   float64
	Iter      int
	M         [][]float64
	V         [][]float64
}

func writeGob(path string, v interface{}) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(file).Encode(v); err != nil {
		file.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return file.Close()
}

func readGob(path string, v interface{}) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	if err := gob.NewDecoder(file).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Save writes every parameter to path.
func (m *MLP) Save(path string) error {
	names := m.paramNames()
	params := make([]param, 0, len(names))
	for i, t := range m.Params() {
		params = append(params, param{
			Name:  names[i],
			Shape: append([]int(nil), t.Shape()...),
			Data:  append([]float64(nil), data(t)...),
		})
	}
	return writeGob(path, params)
}

// Load reads parameters written by Save into the existing tensors. The layout
// must match the network.
func (m *MLP) Load(path string) error {
	var params []param
	if err := readGob(path, &params); err != nil {
		return err
	}

	dst := m.Params()
	if len(params) != len(dst) {
		return fmt.Errorf("load %s: %d params, file has %d", m.name, len(dst), len(params))
	}
	for i, t := range dst {
		if len(params[i].Data) != len(data(t)) || !t.Shape().Eq(params[i].Shape) {
			return fmt.Errorf("load %s: %s has shape %v, file has %v",
				m.name, params[i].Name, t.Shape(), params[i].Shape)
		}
	}
	for i, t := range dst {
		copy(data(t), params[i].Data)
	}
	return nil
}

// Save writes the solver state to path.
func (a *Adam) Save(path string) error {
	return writeGob(path, adamState{
		LearnRate: a.LearnRate,
		Beta1:     a.Beta1,
		Beta2:     a.Beta2,
		Epsilon:   a.Epsilon,
		Iter:      a.iter,
		M:         a.m,
		V:         a.v,
	})
}

func (a *Adam) Load(path string) error {
	var state adamState
	if err := readGob(path, &state); err != nil {
		return err
	}
	a.LearnRate = state.LearnRate
	a.Beta1 = state.Beta1
	a.Beta2 = state.Beta2
	a.Epsilon = state.Epsilon
	a.iter = state.Iter
	a.m = state.M
	a.v = state.V
	return nil
}
