package nn

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/ezquant/azrl/azrl/model"
)

// program is a compiled graph for a fixed batch size.
type program struct {
	g      *gorgonia.ExprGraph
	inputs []*gorgonia.Node
	output *gorgonia.Node
	cost   *gorgonia.Node
	params gorgonia.Nodes
	vm     gorgonia.VM
}

func inputNodes(g *gorgonia.ExprGraph, prefix string, batch int, widths []int) []*gorgonia.Node {
	nodes := make([]*gorgonia.Node, len(widths))
	for i, width := range widths {
		nodes[i] = gorgonia.NewMatrix(g, tensor.Float64,
			gorgonia.WithShape(batch, width),
			gorgonia.WithName(fmt.Sprintf("%s_x%d", prefix, i)))
	}
	return nodes
}

func newForwardProgram(m *MLP, batch int) (*program, error) {
	g := gorgonia.NewGraph()
	inputs := inputNodes(g, m.name, batch, m.inputs)
	output, params, err := m.apply(g, inputs...)
	if err != nil {
		return nil, err
	}
	return &program{
		g:      g,
		inputs: inputs,
		output: output,
		params: params,
		vm:     gorgonia.NewTapeMachine(g),
	}, nil
}

// feeds wraps row-major inputs into tensors of batch rows.
func feeds(batch int, widths []int, inputs [][]float64) ([]*tensor.Dense, error) {
	if len(inputs) != len(widths) {
		return nil, fmt.Errorf("expected %d inputs, got %d: %w", len(widths), len(inputs), model.ErrDimensionMismatch)
	}
	values := make([]*tensor.Dense, len(inputs))
	for i, input := range inputs {
		if err := model.CheckDim(fmt.Sprintf("input %d", i), input, batch*widths[i]); err != nil {
			return nil, err
		}
		backing := append([]float64(nil), input...)
		values[i] = tensor.New(tensor.WithShape(batch, widths[i]), tensor.WithBacking(backing))
	}
	return values, nil
}

// exec binds values to the input nodes, runs the machine and calls read
// before the machine is reset.
func (p *program) exec(values []*tensor.Dense, read func() error) error {
	if len(values) != len(p.inputs) {
		return fmt.Errorf("expected %d values, got %d: %w", len(p.inputs), len(values), model.ErrDimensionMismatch)
	}
	for i, value := range values {
		if err := gorgonia.Let(p.inputs[i], value); err != nil {
			return err
		}
	}
	defer p.vm.Reset()
	if err := p.vm.RunAll(); err != nil {
		return err
	}
	return read()
}

func (p *program) close() error {
	return p.vm.Close()
}

func (p *program) loss() (float64, error) {
	values, err := floats(p.cost.Value())
	if err != nil {
		return 0, err
	}
	if len(values) != 1 {
		return 0, fmt.Errorf("loss has %d values", len(values))
	}
	return values[0], nil
}

// Regression fits a network to targets by mean squared error.
type Regression struct {
	net    *MLP
	batch  int
	p      *program
	solver gorgonia.Solver
}

func NewRegression(net *MLP, batch int, solver gorgonia.Solver) (*Regression, error) {
	g := gorgonia.NewGraph()
	inputs := inputNodes(g, net.name, batch, net.inputs)
	target := gorgonia.NewMatrix(g, tensor.Float64,
		gorgonia.WithShape(batch, net.out), gorgonia.WithName(net.name+"_target"))

	output, params, err := net.apply(g, inputs...)
	if err != nil {
		return nil, err
	}
	diff, err := gorgonia.Sub(output, target)
	if err != nil {
		return nil, err
	}
	square, err := gorgonia.Square(diff)
	if err != nil {
		return nil, err
	}
	cost, err := gorgonia.Mean(square)
	if err != nil {
		return nil, err
	}
	if _, err := gorgonia.Grad(cost, params...); err != nil {
		return nil, fmt.Errorf("regression %s: %w", net.name, err)
	}

	return &Regression{
		net:   net,
		batch: batch,
		p: &program{
			g:      g,
			inputs: append(inputs, target),
			output: output,
			cost:   cost,
			params: params,
			vm:     gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(params...)),
		},
		solver: solver,
	}, nil
}

// Step takes one solver step on the batch and returns the loss before it.
func (r *Regression) Step(targets []float64, inputs ...[]float64) (float64, error) {
	values, err := feeds(r.batch, r.net.inputs, inputs)
	if err != nil {
		return 0, fmt.Errorf("regression %s: %w", r.net.name, err)
	}
	target, err := feeds(r.batch, []int{r.net.out}, [][]float64{targets})
	if err != nil {
		return 0, fmt.Errorf("regression %s: %w", r.net.name, err)
	}

	var loss float64
	err = r.p.exec(append(values, target...), func() error {
		if loss, err = r.p.loss(); err != nil {
			return err
		}
		return r.solver.Step(gorgonia.NodesToValueGrads(r.p.params))
	})
	return loss, err
}

func (r *Regression) Close() error {
	return r.p.close()
}

// PolicyGradient moves an actor toward actions a critic values more, by
// minimizing the negated mean critic value. Only the actor is updated.
type PolicyGradient struct {
	actor  *MLP
	batch  int
	p      *program
	solver gorgonia.Solver
}

func NewPolicyGradient(actor, critic *MLP, batch int, solver gorgonia.Solver) (*PolicyGradient, error) {
	if len(actor.inputs) != 1 || len(critic.inputs) != 2 ||
		critic.inputs[0] != actor.inputs[0] || critic.inputs[1] != actor.out {
		return nil, fmt.Errorf("policy gradient: critic %v does not match actor %v->%d: %w",
			critic.inputs, actor.inputs, actor.out, model.ErrDimensionMismatch)
	}

	g := gorgonia.NewGraph()
	inputs := inputNodes(g, actor.name, batch, actor.inputs)
	action, params, err := actor.apply(g, inputs...)
	if err != nil {
		return nil, err
	}
	q, _, err := critic.apply(g, inputs[0], action)
	if err != nil {
		return nil, err
	}
	mean, err := gorgonia.Mean(q)
	if err != nil {
		return nil, err
	}
	cost, err := gorgonia.Neg(mean)
	if err != nil {
		return nil, err
	}
	if _, err := gorgonia.Grad(cost, params...); err != nil {
		return nil, fmt.Errorf("policy gradient %s: %w", actor.name, err)
	}

	return &PolicyGradient{
		actor: actor,
		batch: batch,
		p: &program{
			g:      g,
			inputs: inputs,
			output: action,
			cost:   cost,
			params: params,
			vm:     gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(params...)),
		},
		solver: solver,
	}, nil
}

// Step takes one solver step on the actor and returns the loss before it.
func (pg *PolicyGradient) Step(states []float64) (float64, error) {
	values, err := feeds(pg.batch, pg.actor.inputs, [][]float64{states})
	if err != nil {
		return 0, fmt.Errorf("policy gradient %s: %w", pg.actor.name, err)
	}

	var loss float64
	err = pg.p.exec(values, func() error {
		if loss, err = pg.p.loss(); err != nil {
			return err
		}
		return pg.solver.Step(gorgonia.NodesToValueGrads(pg.p.params))
	})
	return loss, err
}

func (pg *PolicyGradient) Close() error {
	return pg.p.close()
}
