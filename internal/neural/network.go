// Package neural implements the small fixed-topology regressors used by the
// decision engine: one hidden layer, sigmoid units, one-sample online
// gradient descent, and min/max affine scaling between real-world units and
// the unit interval.
package neural

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"duel_ai/internal/util"
)

var (
	ErrZeroWidthBound    = errors.New("zero-width bound")
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

const DefaultLearningRate = 0.5

// Bounds maps one dimension between [Lo,Hi] and [0,1].
type Bounds struct {
	Lo float64 `yaml:"lo" json:"lo"`
	Hi float64 `yaml:"hi" json:"hi"`
}

func B(lo, hi float64) Bounds { return Bounds{Lo: lo, Hi: hi} }

func (b Bounds) Width() float64           { return b.Hi - b.Lo }
func (b Bounds) ToUnit(x float64) float64 { return (x - b.Lo) / (b.Hi - b.Lo) }
func (b Bounds) FromUnit(y float64) float64 {
	return b.Lo + y*(b.Hi-b.Lo)
}

// Network is built once as a gorgonia graph:
//
//	h = sigmoid(w1·x + b1)
//	o = sigmoid(w2·h + b2)
//	cost = Σ(o - t)²
//
// x and t are re-bound on every call; one tape machine runs the graph.
type Network struct {
	name    string
	in, out []Bounds
	hidden  int

	x, t, o        *gorgonia.Node
	w1, b1, w2, b2 *gorgonia.Node
	learnables     gorgonia.Nodes
	vm             gorgonia.VM
	solver         gorgonia.Solver

	samples int
	rate    float64
	rng     *rand.Rand
}

type Option func(*Network)

func WithLearningRate(rate float64) Option {
	return func(n *Network) {
		if rate > 0 {
			n.rate = rate
		}
	}
}

// WithRand sets the generator used for weight initialisation and for the
// exploration offsets added by Think.
func WithRand(r *rand.Rand) Option {
	return func(n *Network) {
		if r != nil {
			n.rng = r
		}
	}
}

// New builds a randomly initialised network. A bound with zero width is a
// configuration error and is reported here rather than at call time.
func New(name string, in, out []Bounds, opts ...Option) (*Network, error) {
	if len(in) == 0 || len(out) == 0 {
		return nil, fmt.Errorf("network %s: need at least one input and one output", name)
	}
	for i, b := range in {
		if b.Width() == 0 {
			return nil, fmt.Errorf("network %s: input %d [%g,%g]: %w", name, i, b.Lo, b.Hi, ErrZeroWidthBound)
		}
	}
	for i, b := range out {
		if b.Width() == 0 {
			return nil, fmt.Errorf("network %s: output %d [%g,%g]: %w", name, i, b.Lo, b.Hi, ErrZeroWidthBound)
		}
	}
	n := &Network{
		name:   name,
		in:     append([]Bounds(nil), in...),
		out:    append([]Bounds(nil), out...),
		hidden: max(len(in), len(out)),
		rate:   DefaultLearningRate,
	}
	for _, o := range opts {
		o(n)
	}
	if n.rng == nil {
		n.rng = util.New(0)
	}
	if err := n.build(); err != nil {
		return nil, fmt.Errorf("network %s: %w", name, err)
	}
	n.Reset()
	return n, nil
}

func (n *Network) build() error {
	g := gorgonia.NewGraph()
	ni, no, nh := len(n.in), len(n.out), n.hidden

	n.x = gorgonia.NewVector(g, tensor.Float64, gorgonia.WithShape(ni), gorgonia.WithName("x"))
	n.t = gorgonia.NewVector(g, tensor.Float64, gorgonia.WithShape(no), gorgonia.WithName("t"))
	n.w1 = gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(nh, ni), gorgonia.WithName("w1"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(nh, ni), tensor.Of(tensor.Float64))))
	n.b1 = gorgonia.NewVector(g, tensor.Float64, gorgonia.WithShape(nh), gorgonia.WithName("b1"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(nh), tensor.Of(tensor.Float64))))
	n.w2 = gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(no, nh), gorgonia.WithName("w2"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(no, nh), tensor.Of(tensor.Float64))))
	n.b2 = gorgonia.NewVector(g, tensor.Float64, gorgonia.WithShape(no), gorgonia.WithName("b2"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(no), tensor.Of(tensor.Float64))))

	h, err := layer(n.w1, n.x, n.b1)
	if err != nil {
		return err
	}
	if n.o, err = layer(n.w2, h, n.b2); err != nil {
		return err
	}
	diff, err := gorgonia.Sub(n.o, n.t)
	if err != nil {
		return err
	}
	sq, err := gorgonia.Square(diff)
	if err != nil {
		return err
	}
	cost, err := gorgonia.Sum(sq)
	if err != nil {
		return err
	}

	n.learnables = gorgonia.Nodes{n.w1, n.b1, n.w2, n.b2}
	if _, err := gorgonia.Grad(cost, n.learnables...); err != nil {
		return fmt.Errorf("grad: %w", err)
	}
	n.vm = gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(n.learnables...))
	// Σ(o-t)² has twice the gradient of ½Σ(o-t)²
	n.solver = gorgonia.NewVanillaSolver(gorgonia.WithLearnRate(n.rate / 2))
	return nil
}

func layer(w, x, b *gorgonia.Node) (*gorgonia.Node, error) {
	wx, err := gorgonia.Mul(w, x)
	if err != nil {
		return nil, err
	}
	s, err := gorgonia.Add(wx, b)
	if err != nil {
		return nil, err
	}
	return gorgonia.Sigmoid(s)
}

// weights returns the backing slices of w1, b1, w2, b2 in that order.
func (n *Network) weights() [][]float64 {
	ws := make([][]float64, len(n.learnables))
	for i, node := range n.learnables {
		ws[i] = node.Value().Data().([]float64)
	}
	return ws
}

// Reset randomises every weight in [-1,1] and clears the sample counter.
func (n *Network) Reset() {
	for _, w := range n.weights() {
		for i := range w {
			w[i] = n.rng.Float64()*2 - 1
		}
	}
	n.samples = 0
}

func (n *Network) Name() string { return n.name }
func (n *Network) Inputs() int  { return len(n.in) }
func (n *Network) Outputs() int { return len(n.out) }
func (n *Network) Hidden() int  { return n.hidden }
func (n *Network) Samples() int { return n.samples }
func (n *Network) Variance() float64 {
	return 1 / math.Sqrt(float64(n.samples)+1)
}

// Think evaluates the network on real-world inputs and returns real-world
// outputs, each shifted by a uniform offset in [-variance, +variance].
// Weights are not modified.
func (n *Network) Think(inputs []float64, variance float64) []float64 {
	o, err := n.run(n.toUnit(inputs), make([]float64, len(n.out)))
	if err != nil {
		panic(fmt.Sprintf("network %s: %v", n.name, err))
	}
	res := make([]float64, len(o))
	for k, y := range o {
		res[k] = n.out[k].FromUnit(y)
		if variance > 0 {
			res[k] += (n.rng.Float64()*2 - 1) * variance
		}
	}
	return res
}

// Learn performs one gradient-descent step toward expected and counts one
// sample.
func (n *Network) Learn(inputs, expected []float64) {
	t := make([]float64, len(n.out))
	for k := range t {
		if k < len(expected) {
			t[k] = n.out[k].ToUnit(expected[k])
		}
	}
	if _, err := n.run(n.toUnit(inputs), t); err != nil {
		panic(fmt.Sprintf("network %s: %v", n.name, err))
	}
	if err := n.solver.Step(gorgonia.NodesToValueGrads(n.learnables)); err != nil {
		panic(fmt.Sprintf("network %s: solver: %v", n.name, err))
	}
	n.samples++
}

// run binds x and t, executes the graph once and returns a copy of o in
// unit space. Gradients are left in the dual values for the solver.
func (n *Network) run(x, t []float64) ([]float64, error) {
	defer n.vm.Reset()
	if err := gorgonia.Let(n.x, tensor.New(tensor.WithShape(len(x)), tensor.WithBacking(x))); err != nil {
		return nil, err
	}
	if err := gorgonia.Let(n.t, tensor.New(tensor.WithShape(len(t)), tensor.WithBacking(t))); err != nil {
		return nil, err
	}
	if err := n.vm.RunAll(); err != nil {
		return nil, err
	}
	return append([]float64(nil), n.o.Value().Data().([]float64)...), nil
}

func (n *Network) toUnit(inputs []float64) []float64 {
	x := make([]float64, len(n.in))
	for i := range x {
		if i < len(inputs) {
			x[i] = n.in[i].ToUnit(inputs[i])
		}
	}
	return x
}
