package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// mlp implements a multi-layered perceptron. The struct only
// populates a computational graph; an external VM runs the graph.
type mlp struct {
	g          *G.ExprGraph
	layers     []Layer
	input      *G.Node
	numOutputs int
	numInputs  int
	batchSize  int

	hiddenSizes []int
	biases      []bool
	activations []*Activation
	prefix      string

	learnables G.Nodes
	model      []G.ValueGrad

	prediction *G.Node
	predVal    G.Value
}

// NewMLP creates and returns a new multi-layered perceptron with
// outputs output nodes, populating the graph g. A final linear layer
// with a bias unit and no activation is always added so that the
// network predicts exactly outputs values; because of this, a linear
// network is created by giving empty hiddenSizes, biases, and
// activations.
//
// For index i, hiddenSizes[i] is the number of nodes in hidden layer
// i; biases[i] is true if hidden layer i has a bias unit; and
// activations[i] is the activation function of hidden layer i. The
// init parameter determines the weight initialization scheme. Weight
// names are prefixed with prefix so that multiple networks can share
// one graph.
func NewMLP(features, batch, outputs int, g *G.ExprGraph,
	hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation, prefix string) (NeuralNet, error) {
	input := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName(prefix+"input"), G.WithInit(G.Zeroes()))

	return newMLPFromInput(input, outputs, g, hiddenSizes, biases, init,
		activations, prefix, true)
}

// NewHeadlessMLP creates and returns an MLP with no added final
// linear layer: the last configured hidden layer is the output layer.
// This is the network form used for encoders, whose output is a
// latent embedding rather than a prediction head.
func NewHeadlessMLP(features, batch int, g *G.ExprGraph, hiddenSizes []int,
	biases []bool, init G.InitWFn, activations []*Activation,
	prefix string) (NeuralNet, error) {
	if len(hiddenSizes) == 0 {
		return nil, fmt.Errorf("newheadlessmlp: at least one layer required")
	}

	input := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName(prefix+"input"), G.WithInit(G.Zeroes()))

	outputs := hiddenSizes[len(hiddenSizes)-1]
	return newMLPFromInput(input, outputs, g, hiddenSizes, biases, init,
		activations, prefix, false)
}

// NewMLPOnInput creates and returns an MLP whose forward pass is
// wired to the given input node on the node's own graph. As with
// NewMLP, a final linear layer with outputs outputs is always added.
// This is the network form used for prediction heads that consume an
// upstream network's output, such as a latent embedding.
func NewMLPOnInput(input *G.Node, outputs int, hiddenSizes []int,
	biases []bool, init G.InitWFn, activations []*Activation,
	prefix string) (NeuralNet, error) {
	return newMLPFromInput(input, outputs, input.Graph(), hiddenSizes,
		biases, init, activations, prefix, true)
}

// newMLPFromInput returns a new MLP whose forward pass is wired to a
// specific input node.
func newMLPFromInput(input *G.Node, outputs int, g *G.ExprGraph,
	hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation, prefix string,
	addFinalLayer bool) (NeuralNet, error) {
	// Ensure we have one activation per layer
	if len(hiddenSizes) != len(activations) {
		msg := "newmlp: invalid number of activations\n\twant(%d)" +
			"\n\thave(%d)"
		return nil, fmt.Errorf(msg, len(hiddenSizes), len(activations))
	}

	// Ensure one bias bool per layer
	if len(hiddenSizes) != len(biases) {
		msg := "newmlp: invalid number of biases\n\twant(%d)\n\thave(%d)"
		return nil, fmt.Errorf(msg, len(hiddenSizes), len(biases))
	}

	if !input.IsMatrix() {
		return nil, fmt.Errorf("newmlp: input must be a matrix")
	}

	batch := input.Shape()[0]
	features := input.Shape()[1]

	// If required, add a final linear layer with no activation so that
	// the output heads are predicted by the network
	if addFinalLayer {
		hiddenSizes = append(hiddenSizes, outputs)
		biases = append(biases, true)
		activations = append(activations, Identity())
	} else if outputs != hiddenSizes[len(hiddenSizes)-1] {
		msg := "newmlp: claimed output is of size %v but provided final " +
			"network layer of size %v"
		return nil, fmt.Errorf(msg, outputs,
			hiddenSizes[len(hiddenSizes)-1])
	}

	layers := addfcLayers(g, hiddenSizes, biases, activations, init,
		features, prefix)

	network := mlp{
		g:           g,
		layers:      layers,
		input:       input,
		numOutputs:  outputs,
		numInputs:   features,
		batchSize:   batch,
		hiddenSizes: hiddenSizes,
		biases:      biases,
		activations: activations,
		prefix:      prefix,
	}

	pred, err := network.Fwd(input)
	if err != nil {
		msg := "newmlp: could not compute forward pass: %v"
		return &mlp{}, fmt.Errorf(msg, err)
	}
	network.prediction = pred
	G.Read(network.prediction, &network.predVal)

	return &network, nil
}

// Graph returns the computational graph of the mlp
func (e *mlp) Graph() *G.ExprGraph {
	return e.g
}

// Clone clones an mlp to a new computational graph
func (e *mlp) Clone() (NeuralNet, error) {
	return e.CloneWithBatch(e.batchSize)
}

// CloneWithBatch clones an mlp with a new input batch size
func (e *mlp) CloneWithBatch(batchSize int) (NeuralNet, error) {
	graph := G.NewGraph()

	input := G.NewMatrix(
		graph,
		tensor.Float64,
		G.WithShape(batchSize, e.numInputs),
		G.WithName(e.prefix+"input"),
		G.WithInit(G.Zeroes()),
	)

	return e.CloneWithInputTo(input, graph)
}

// CloneWithInputTo clones an mlp onto the graph g with the forward
// pass wired to the given input node
func (e *mlp) CloneWithInputTo(input *G.Node, g *G.ExprGraph) (NeuralNet,
	error) {
	if input.Graph() != g {
		return nil, fmt.Errorf("clonewithinputto: input node not in g")
	}
	if !input.IsMatrix() {
		return nil, fmt.Errorf("clonewithinputto: input must be a matrix " +
			"node")
	}

	l := make([]Layer, len(e.layers))
	for i := range e.layers {
		l[i] = e.layers[i].CloneTo(g)
	}

	network := mlp{
		g:           g,
		layers:      l,
		input:       input,
		numOutputs:  e.numOutputs,
		numInputs:   e.numInputs,
		batchSize:   input.Shape()[0],
		hiddenSizes: e.hiddenSizes,
		biases:      e.biases,
		activations: e.activations,
		prefix:      e.prefix,
	}

	pred, err := network.Fwd(input)
	if err != nil {
		return nil, fmt.Errorf("clonewithinputto: could not clone: %v", err)
	}
	network.prediction = pred
	G.Read(network.prediction, &network.predVal)

	return &network, nil
}

// BatchSize returns the batch size of inputs to the network
func (e *mlp) BatchSize() int {
	return e.batchSize
}

// Features returns the number of features in a single input vector
func (e *mlp) Features() int {
	return e.numInputs
}

// Outputs returns the number of outputs from the network
func (e *mlp) Outputs() int {
	return e.numOutputs
}

// SetInput sets the value of the input node before running the forward
// pass
func (e *mlp) SetInput(input []float64) error {
	if len(input) != e.numInputs*e.batchSize {
		msg := fmt.Sprintf("setinput: invalid number of inputs"+
			"\n\twant(%v)\n\thave(%v)", e.numInputs*e.batchSize, len(input))
		panic(msg)
	}
	inputTensor := tensor.New(
		tensor.WithBacking(input),
		tensor.WithShape(e.input.Shape()...),
	)
	return G.Let(e.input, inputTensor)
}

// Set copies the weights of another mlp into this mlp. The copied
// weights are backed by fresh tensors so that later updates to the
// source network leave this network unchanged.
func (dest *mlp) Set(source NeuralNet) error {
	sourceNodes := source.Learnables()
	nodes := dest.Learnables()
	if len(nodes) != len(sourceNodes) {
		return fmt.Errorf("set: architecture mismatch \n\twant(%v "+
			"learnables) \n\thave(%v)", len(nodes), len(sourceNodes))
	}

	for i, destLearnable := range nodes {
		sourceValue, ok := sourceNodes[i].Value().(*tensor.Dense)
		if !ok {
			return fmt.Errorf("set: learnable %v is not a dense tensor", i)
		}
		err := G.Let(destLearnable, sourceValue.Clone().(*tensor.Dense))
		if err != nil {
			return err
		}
	}
	return nil
}

// Polyak sets the weights of the mlp to a Polyak average between its
// existing weights and the weights of another mlp
func (dest *mlp) Polyak(source NeuralNet, tau float64) error {
	sourceNodes := source.Learnables()
	nodes := dest.Learnables()
	for i := range nodes {
		weights := nodes[i].Value().(*tensor.Dense)
		sourceWeights := sourceNodes[i].Value().(*tensor.Dense)

		weights, err := weights.MulScalar(1-tau, true)
		if err != nil {
			return err
		}

		sourceWeights, err = sourceWeights.MulScalar(tau, true)
		if err != nil {
			return err
		}

		var newWeights *tensor.Dense
		newWeights, err = weights.Add(sourceWeights)
		if err != nil {
			return err
		}

		err = G.Let(nodes[i], newWeights)
		if err != nil {
			return err
		}
	}
	return nil
}

// Learnables returns the learnable nodes in an mlp
func (e *mlp) Learnables() G.Nodes {
	// Lazy instantiation
	if e.learnables == nil {
		learnables := make([]*G.Node, 0, 2*len(e.layers))
		for i := range e.layers {
			learnables = append(learnables, e.layers[i].Weights())
			if bias := e.layers[i].Bias(); bias != nil {
				learnables = append(learnables, bias)
			}
		}
		e.learnables = G.Nodes(learnables)
	}
	return e.learnables
}

// Model returns the learnable nodes with their gradients
func (e *mlp) Model() []G.ValueGrad {
	// Lazy instantiation
	if e.model == nil {
		model := make([]G.ValueGrad, 0, 2*len(e.layers))
		for _, node := range e.Learnables() {
			model = append(model, node)
		}
		e.model = model
	}
	return e.model
}

// Fwd adds the forward pass of the mlp on the given node to the
// computational graph, reusing the mlp's weights
func (e *mlp) Fwd(input *G.Node) (*G.Node, error) {
	inputShape := input.Shape()[len(input.Shape())-1]
	if inputShape != e.numInputs {
		return nil, fmt.Errorf("fwd: invalid shape for input to neural "+
			"net: \n\twant(%v) \n\thave(%v)", e.numInputs, inputShape)
	}

	pred := input
	var err error
	for i, l := range e.layers {
		if pred, err = l.fwd(pred); err != nil {
			msg := "fwd: could not compute forward pass of layer %v: %v"
			return nil, fmt.Errorf(msg, i, err)
		}
	}

	return pred, nil
}

// Output returns the output of the mlp from the last run of the
// computational graph
func (e *mlp) Output() G.Value {
	return e.predVal
}

// Prediction returns the node of the computational graph that stores
// the output of the mlp
func (e *mlp) Prediction() *G.Node {
	return e.prediction
}
