// Package network implements neural network function approximators
// using Gorgonia
package network

import (
	G "gorgonia.org/gorgonia"
)

// NeuralNet implements a feedforward neural network on a Gorgonia
// computational graph. A NeuralNet only populates a graph; it has no
// virtual machine of its own. An external VM should be used to run
// the computational graph of the network. The VM should always be run
// before accessing the network's Output().
type NeuralNet interface {
	Graph() *G.ExprGraph

	Clone() (NeuralNet, error)
	CloneWithBatch(int) (NeuralNet, error)

	// CloneWithInputTo clones the network onto the graph g, wiring the
	// clone's forward pass to the given input node
	CloneWithInputTo(input *G.Node, g *G.ExprGraph) (NeuralNet, error)

	BatchSize() int
	Features() int
	Outputs() int

	// SetInput sets the value of the network's input node before
	// running the forward pass
	SetInput([]float64) error

	// Set copies all trainable parameters from another network of the
	// same architecture. The copies are independent: later updates to
	// the source do not affect this network.
	Set(NeuralNet) error

	// Polyak sets the trainable parameters to a Polyak average between
	// the existing parameters and those of another network
	Polyak(NeuralNet, float64) error

	Learnables() G.Nodes
	Model() []G.ValueGrad

	// Fwd adds the network's forward pass on an arbitrary node of the
	// network's graph, reusing the network's weights
	Fwd(*G.Node) (*G.Node, error)

	// Output returns the value of the network's prediction from the
	// last run of the computational graph
	Output() G.Value
	Prediction() *G.Node
}

// QNetwork is a NeuralNet that predicts one action value per
// environmental action and exposes the latent embedding produced by
// its encoder. The embedding is the representation that auxiliary
// objectives are trained against.
type QNetwork interface {
	NeuralNet

	// Embedding returns the node holding the encoder's output for the
	// network's input batch
	Embedding() *G.Node

	// EmbeddingOutput returns the value of the embedding from the last
	// run of the computational graph
	EmbeddingOutput() G.Value

	EmbeddingSize() int

	// Encoder and Head return the two stages of the network:
	// observation -> embedding and embedding -> action values
	Encoder() NeuralNet
	Head() NeuralNet
}
