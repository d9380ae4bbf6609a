// Package policy implements policies using function approximation
// using Gorgonia. Many of these policies use nonlinear function
// approximation.
package policy

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"

	"github.com/deepmdp/deepmdp/network"
	"github.com/deepmdp/deepmdp/utils/floatutils"
)

// ActionValueKey is the key under which a Greedy policy reports the
// estimated value of the action it selected.
const ActionValueKey = "action value"

// Greedy implements a greedy policy over the action values predicted
// by a neural network. Given an environment with N actions, the
// network produces N outputs, each predicting the value of a distinct
// action; the policy selects the action of maximal predicted value,
// breaking ties uniformly at random.
//
// Unlike the networks it wraps, a Greedy policy owns its virtual
// machine: each call to SelectAction sets the network input, runs the
// machine, and reads the resulting action values.
type Greedy struct {
	network.NeuralNet
	vm G.VM

	rng  *rand.Rand
	seed int64

	lastValues []float64
}

// NewGreedy creates and returns a new Greedy policy choosing actions
// using the argument network, which must accept a single observation
// vector per forward pass.
func NewGreedy(net network.NeuralNet, seed int64) (*Greedy, error) {
	if net.BatchSize() != 1 {
		return nil, fmt.Errorf("newgreedy: policy networks select a single "+
			"action at a time \n\twant(batch size 1)\n\thave(%v)",
			net.BatchSize())
	}

	source := rand.NewSource(seed)
	rng := rand.New(source)

	return &Greedy{
		NeuralNet: net,
		vm:        G.NewTapeMachine(net.Graph()),
		rng:       rng,
		seed:      seed,
	}, nil
}

// Network returns the neural network function approximator that the
// policy uses.
func (g *Greedy) Network() network.NeuralNet {
	return g.NeuralNet
}

// SelectAction returns the greedy action for the given observation
// along with an info map holding the estimated value of that action.
func (g *Greedy) SelectAction(obs mat.Vector) (int, map[string]float64) {
	input := make([]float64, obs.Len())
	for i := range input {
		input[i] = obs.AtVec(i)
	}

	if err := g.SetInput(input); err != nil {
		panic(fmt.Sprintf("selectaction: could not set input: %v", err))
	}
	if err := g.vm.RunAll(); err != nil {
		panic(fmt.Sprintf("selectaction: could not predict action "+
			"values: %v", err))
	}

	actionValues := g.Output().Data().([]float64)
	g.lastValues = append(g.lastValues[:0], actionValues...)

	// If multiple actions have max value, choose one randomly
	_, maxIndices := floatutils.MaxSlice(actionValues)
	action := maxIndices[g.rng.Intn(len(maxIndices))]

	g.vm.Reset()

	return action, map[string]float64{ActionValueKey: g.lastValues[action]}
}

// SelectActions returns the greedy action for each of the given
// observations, along with one info map per observation.
func (g *Greedy) SelectActions(obs []mat.Vector) ([]int,
	[]map[string]float64) {
	actions := make([]int, len(obs))
	infos := make([]map[string]float64, len(obs))
	for i := range obs {
		actions[i], infos[i] = g.SelectAction(obs[i])
	}
	return actions, infos
}

// ActionValues returns the action values predicted during the most
// recent call to SelectAction, or nil if no action has been selected
// yet.
func (g *Greedy) ActionValues() []float64 {
	return g.lastValues
}

// Close releases the resources of the policy's virtual machine
func (g *Greedy) Close() error {
	return g.vm.Close()
}
