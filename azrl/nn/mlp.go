// Package nn holds the small fully connected networks used by the agent. The
// parameters live in tensor.Dense values owned by each MLP; gorgonia graphs
// built on top of them share those tensors, so a solver step on one graph is
// visible to every other graph of the same network.
package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Output is the activation of the last layer.
type Output int

const (
	Linear Output = iota
	// ScaledTanh maps the output into [-Scale, Scale].
	ScaledTanh
)

type layer struct {
	weights []*tensor.Dense
	bias    *tensor.Dense
}

// MLP is a multi layer perceptron with ReLU hidden layers. The first layer
// may take several inputs, each with its own weight matrix, which is the same
// as one layer over the concatenated inputs.
type MLP struct {
	name   string
	inputs []int
	hidden []int
	out    int
	output Output
	scale  float64

	layers   []layer
	programs map[int]*program
}

type MLPConfig struct {
	Name   string
	Inputs []int
	Hidden []int
	Out    int
	Output Output
	Scale  float64
}

// NewMLP initializes weights and biases uniformly in +-1/sqrt(fan_in).
func NewMLP(config MLPConfig, rng *rand.Rand) (*MLP, error) {
	if len(config.Inputs) == 0 || config.Out <= 0 {
		return nil, fmt.Errorf("mlp %s: inputs and output size are required", config.Name)
	}
	for _, n := range append(append([]int(nil), config.Inputs...), config.Hidden...) {
		if n <= 0 {
			return nil, fmt.Errorf("mlp %s: invalid layer size %d", config.Name, n)
		}
	}

	m := &MLP{
		name:     config.Name,
		inputs:   append([]int(nil), config.Inputs...),
		hidden:   append([]int(nil), config.Hidden...),
		out:      config.Out,
		output:   config.Output,
		scale:    config.Scale,
		programs: make(map[int]*program),
	}

	sizes := append(append([]int(nil), m.hidden...), m.out)
	fanIn := 0
	for _, in := range m.inputs {
		fanIn += in
	}
	prev := m.inputs
	for _, size := range sizes {
		bound := 1 / math.Sqrt(float64(fanIn))
		l := layer{bias: uniform(rng, bound, 1, size)}
		for _, in := range prev {
			l.weights = append(l.weights, uniform(rng, bound, in, size))
		}
		m.layers = append(m.layers, l)
		prev = []int{size}
		fanIn = size
	}
	return m, nil
}

// NewActor maps states to actions in [-maxAction, maxAction].
func NewActor(stateDim, actionDim int, hidden []int, maxAction float64, rng *rand.Rand) (*MLP, error) {
	return NewMLP(MLPConfig{
		Name:   "actor",
		Inputs: []int{stateDim},
		Hidden: hidden,
		Out:    actionDim,
		Output: ScaledTanh,
		Scale:  maxAction,
	}, rng)
}

// NewCritic maps a state and an action to a scalar value.
func NewCritic(stateDim, actionDim int, hidden []int, rng *rand.Rand) (*MLP, error) {
	return NewMLP(MLPConfig{
		Name:   "critic",
		Inputs: []int{stateDim, actionDim},
		Hidden: hidden,
		Out:    1,
		Output: Linear,
	}, rng)
}

func uniform(rng *rand.Rand, bound float64, rows, cols int) *tensor.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = (2*rng.Float64() - 1) * bound
	}
	return tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(data))
}

// Clone returns an independent copy with the given name.
func (m *MLP) Clone(name string) *MLP {
	c := &MLP{
		name:     name,
		inputs:   append([]int(nil), m.inputs...),
		hidden:   append([]int(nil), m.hidden...),
		out:      m.out,
		output:   m.output,
		scale:    m.scale,
		programs: make(map[int]*program),
	}
	for _, l := range m.layers {
		cl := layer{bias: l.bias.Clone().(*tensor.Dense)}
		for _, w := range l.weights {
			cl.weights = append(cl.weights, w.Clone().(*tensor.Dense))
		}
		c.layers = append(c.layers, cl)
	}
	return c
}

func (m *MLP) Name() string {
	return m.name
}

func (m *MLP) Inputs() []int {
	return append([]int(nil), m.inputs...)
}

func (m *MLP) OutputSize() int {
	return m.out
}

// Params returns the parameter tensors, weights before bias for each layer.
func (m *MLP) Params() []*tensor.Dense {
	params := make([]*tensor.Dense, 0, len(m.layers)*2)
	for _, l := range m.layers {
		params = append(params, l.weights...)
		params = append(params, l.bias)
	}
	return params
}

func (m *MLP) paramNames() []string {
	names := make([]string, 0, len(m.layers)*2)
	for i, l := range m.layers {
		for j := range l.weights {
			if len(l.weights) == 1 {
				names = append(names, fmt.Sprintf("%s_w%d", m.name, i))
			} else {
				names = append(names, fmt.Sprintf("%s_w%d_%d", m.name, i, j))
			}
		}
		names = append(names, fmt.Sprintf("%s_b%d", m.name, i))
	}
	return names
}

func data(t *tensor.Dense) []float64 {
	return t.Float64s()
}

// floats reads a float64 value computed by a machine.
func floats(v gorgonia.Value) ([]float64, error) {
	switch v := v.(type) {
	case *tensor.Dense:
		return v.Float64s(), nil
	case *gorgonia.F64:
		return []float64{float64(*v)}, nil
	}
	return nil, fmt.Errorf("unexpected value %T", v)
}

// CopyFrom overwrites every parameter with the values of src.
func (m *MLP) CopyFrom(src *MLP) error {
	return m.SoftUpdate(src, 1)
}

// SoftUpdate moves every parameter toward src: p = tau*src + (1-tau)*p.
func (m *MLP) SoftUpdate(src *MLP, tau float64) error {
	dst, from := m.Params(), src.Params()
	if len(dst) != len(from) {
		return fmt.Errorf("soft update %s from %s: %d params, got %d", m.name, src.name, len(dst), len(from))
	}
	for i := range dst {
		if !dst[i].Shape().Eq(from[i].Shape()) {
			return fmt.Errorf("soft update %s from %s: shape %v, got %v",
				m.name, src.name, dst[i].Shape(), from[i].Shape())
		}
		d, s := data(dst[i]), data(from[i])
		for j := range d {
			d[j] = tau*s[j] + (1-tau)*d[j]
		}
	}
	return nil
}

// apply adds the network to g over the given input nodes and returns the
// output node and the parameter nodes.
func (m *MLP) apply(g *gorgonia.ExprGraph, inputs ...*gorgonia.Node) (*gorgonia.Node, gorgonia.Nodes, error) {
	if len(inputs) != len(m.inputs) {
		return nil, nil, fmt.Errorf("mlp %s: expected %d inputs, got %d", m.name, len(m.inputs), len(inputs))
	}

	names := m.paramNames()
	params := make(gorgonia.Nodes, 0, len(names))
	param := func(t *tensor.Dense) *gorgonia.Node {
		n := gorgonia.NewMatrix(g, tensor.Float64,
			gorgonia.WithShape(t.Shape()...),
			gorgonia.WithName(names[len(params)]),
			gorgonia.WithValue(t),
		)
		params = append(params, n)
		return n
	}

	x := inputs
	var h *gorgonia.Node
	for i, l := range m.layers {
		var sum *gorgonia.Node
		for j, w := range l.weights {
			xw, err := gorgonia.Mul(x[j], param(w))
			if err != nil {
				return nil, nil, err
			}
			if sum == nil {
				sum = xw
				continue
			}
			if sum, err = gorgonia.Add(sum, xw); err != nil {
				return nil, nil, err
			}
		}

		var err error
		if h, err = gorgonia.BroadcastAdd(sum, param(l.bias), nil, []byte{0}); err != nil {
			return nil, nil, err
		}

		if i < len(m.layers)-1 {
			if h, err = gorgonia.Rectify(h); err != nil {
				return nil, nil, err
			}
			x = []*gorgonia.Node{h}
			continue
		}

		if m.output == ScaledTanh {
			if h, err = gorgonia.Tanh(h); err != nil {
				return nil, nil, err
			}
			scale := gorgonia.NewScalar(g, tensor.Float64,
				gorgonia.WithName(m.name+"_scale"), gorgonia.WithValue(m.scale))
			if h, err = gorgonia.Mul(h, scale); err != nil {
				return nil, nil, err
			}
		}
	}
	return h, params, nil
}

// Forward evaluates the network on batch rows. Each input is row-major with
// batch rows; the result is row-major with batch rows of OutputSize values.
func (m *MLP) Forward(batch int, inputs ...[]float64) ([]float64, error) {
	p, ok := m.programs[batch]
	if !ok {
		var err error
		if p, err = newForwardProgram(m, batch); err != nil {
			return nil, err
		}
		m.programs[batch] = p
	}

	values, err := feeds(batch, m.inputs, inputs)
	if err != nil {
		return nil, fmt.Errorf("mlp %s: %w", m.name, err)
	}

	var out []float64
	err = p.exec(values, func() error {
		values, err := floats(p.output.Value())
		out = append([]float64(nil), values...)
		return err
	})
	return out, err
}

// Close releases the machines built for Forward.
func (m *MLP) Close() error {
	var first error
	for batch, p := range m.programs {
		if err := p.close(); err != nil && first == nil {
			first = err
		}
		delete(m.programs, batch)
	}
	return first
}
