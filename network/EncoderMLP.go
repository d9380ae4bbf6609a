package network

import (
	"bytes"
	"encoding/gob"
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// encoderMLP implements a QNetwork as an encoder MLP that maps
// observations to a latent embedding, feeding a head MLP that maps
// the embedding to one value per environmental action. Both stages
// share a single computational graph, so the encoder's weights can be
// reused to embed other inputs on the same graph (e.g. the next
// observation for a transition prediction objective).
type encoderMLP struct {
	g       *G.ExprGraph
	encoder NeuralNet
	head    NeuralNet

	numActions int

	// Construction-time configuration, needed for cloning and gob
	// serialization
	encoderSizes       []int
	encoderBiases      []bool
	encoderActivations []*Activation
	headSizes          []int
	headBiases         []bool
	headActivations    []*Activation

	learnables G.Nodes
	model      []G.ValueGrad
}

// NewEncoderMLP creates and returns a new QNetwork on the graph g,
// built from an encoder MLP and a Q-value head MLP.
//
// The encoder maps features inputs through encoderSizes fully
// connected layers; its final layer is the latent embedding, so
// encoderSizes must be non-empty. The head maps the embedding through
// headSizes hidden layers followed by an always-added final linear
// layer with numActions outputs.
func NewEncoderMLP(features, batch, numActions int, g *G.ExprGraph,
	encoderSizes []int, encoderBiases []bool,
	encoderActivations []*Activation, headSizes []int, headBiases []bool,
	headActivations []*Activation, init G.InitWFn) (QNetwork, error) {
	encoder, err := NewHeadlessMLP(features, batch, g, encoderSizes,
		encoderBiases, init, encoderActivations, "encoder")
	if err != nil {
		return nil, fmt.Errorf("newencodermlp: could not create encoder: "+
			"%v", err)
	}

	head, err := newMLPFromInput(encoder.Prediction(), numActions, g,
		headSizes, headBiases, init, headActivations, "qhead", true)
	if err != nil {
		return nil, fmt.Errorf("newencodermlp: could not create head: %v",
			err)
	}

	return &encoderMLP{
		g:                  g,
		encoder:            encoder,
		head:               head,
		numActions:         numActions,
		encoderSizes:       encoderSizes,
		encoderBiases:      encoderBiases,
		encoderActivations: encoderActivations,
		headSizes:          headSizes,
		headBiases:         headBiases,
		headActivations:    headActivations,
	}, nil
}

// Graph returns the computational graph of the network
func (e *encoderMLP) Graph() *G.ExprGraph {
	return e.g
}

// Clone clones the network to a new computational graph
func (e *encoderMLP) Clone() (NeuralNet, error) {
	return e.CloneWithBatch(e.BatchSize())
}

// CloneWithBatch clones the network to a new computational graph with
// a new input batch size
func (e *encoderMLP) CloneWithBatch(batchSize int) (NeuralNet, error) {
	graph := G.NewGraph()

	input := G.NewMatrix(
		graph,
		tensor.Float64,
		G.WithShape(batchSize, e.Features()),
		G.WithName("encoderinput"),
		G.WithInit(G.Zeroes()),
	)

	return e.CloneWithInputTo(input, graph)
}

// CloneWithInputTo clones the network onto the graph g with the
// encoder's forward pass wired to the given input node
func (e *encoderMLP) CloneWithInputTo(input *G.Node,
	g *G.ExprGraph) (NeuralNet, error) {
	encoderClone, err := e.encoder.CloneWithInputTo(input, g)
	if err != nil {
		return nil, fmt.Errorf("clonewithinputto: could not clone "+
			"encoder: %v", err)
	}

	headClone, err := e.head.CloneWithInputTo(encoderClone.Prediction(), g)
	if err != nil {
		return nil, fmt.Errorf("clonewithinputto: could not clone head: "+
			"%v", err)
	}

	return &encoderMLP{
		g:                  g,
		encoder:            encoderClone,
		head:               headClone,
		numActions:         e.numActions,
		encoderSizes:       e.encoderSizes,
		encoderBiases:      e.encoderBiases,
		encoderActivations: e.encoderActivations,
		headSizes:          e.headSizes,
		headBiases:         e.headBiases,
		headActivations:    e.headActivations,
	}, nil
}

// BatchSize returns the batch size of inputs to the network
func (e *encoderMLP) BatchSize() int {
	return e.encoder.BatchSize()
}

// Features returns the number of features in a single observation
// vector that the network takes as input
func (e *encoderMLP) Features() int {
	return e.encoder.Features()
}

// Outputs returns the number of action values predicted by the network
func (e *encoderMLP) Outputs() int {
	return e.head.Outputs()
}

// SetInput sets the value of the input node before running the
// forward pass
func (e *encoderMLP) SetInput(input []float64) error {
	return e.encoder.SetInput(input)
}

// Set copies all trainable parameters from another QNetwork of the
// same architecture
func (e *encoderMLP) Set(source NeuralNet) error {
	src, ok := source.(QNetwork)
	if !ok {
		return fmt.Errorf("set: source is not a QNetwork: %T", source)
	}

	if err := e.encoder.Set(src.Encoder()); err != nil {
		return fmt.Errorf("set: could not set encoder: %v", err)
	}
	if err := e.head.Set(src.Head()); err != nil {
		return fmt.Errorf("set: could not set head: %v", err)
	}
	return nil
}

// Polyak sets the trainable parameters to a Polyak average between the
// existing parameters and those of another QNetwork
func (e *encoderMLP) Polyak(source NeuralNet, tau float64) error {
	src, ok := source.(QNetwork)
	if !ok {
		return fmt.Errorf("polyak: source is not a QNetwork: %T", source)
	}

	if err := e.encoder.Polyak(src.Encoder(), tau); err != nil {
		return err
	}
	return e.head.Polyak(src.Head(), tau)
}

// Learnables returns the learnable nodes of the encoder followed by
// those of the head
func (e *encoderMLP) Learnables() G.Nodes {
	if e.learnables == nil {
		learnables := make([]*G.Node, 0)
		learnables = append(learnables, e.encoder.Learnables()...)
		learnables = append(learnables, e.head.Learnables()...)
		e.learnables = G.Nodes(learnables)
	}
	return e.learnables
}

// Model returns the learnable nodes with their gradients
func (e *encoderMLP) Model() []G.ValueGrad {
	if e.model == nil {
		model := make([]G.ValueGrad, 0, len(e.Learnables()))
		for _, node := range e.Learnables() {
			model = append(model, node)
		}
		e.model = model
	}
	return e.model
}

// Fwd adds the full observation -> action values forward pass on the
// given node, reusing the network's weights
func (e *encoderMLP) Fwd(input *G.Node) (*G.Node, error) {
	embedding, err := e.encoder.Fwd(input)
	if err != nil {
		return nil, fmt.Errorf("fwd: could not compute embedding: %v", err)
	}
	return e.head.Fwd(embedding)
}

// Output returns the predicted action values from the last run of the
// computational graph
func (e *encoderMLP) Output() G.Value {
	return e.head.Output()
}

// Prediction returns the node holding the predicted action values
func (e *encoderMLP) Prediction() *G.Node {
	return e.head.Prediction()
}

// Embedding returns the node holding the latent embedding of the
// network's input batch
func (e *encoderMLP) Embedding() *G.Node {
	return e.encoder.Prediction()
}

// EmbeddingOutput returns the value of the latent embedding from the
// last run of the computational graph
func (e *encoderMLP) EmbeddingOutput() G.Value {
	return e.encoder.Output()
}

// EmbeddingSize returns the number of components of the latent
// embedding
func (e *encoderMLP) EmbeddingSize() int {
	return e.encoder.Outputs()
}

// Encoder returns the observation -> embedding stage of the network
func (e *encoderMLP) Encoder() NeuralNet {
	return e.encoder
}

// Head returns the embedding -> action values stage of the network
func (e *encoderMLP) Head() NeuralNet {
	return e.head
}

// DecodeEncoderMLP reconstructs an encoder MLP from the bytes produced
// by its GobEncode method. The returned network lives on a fresh graph.
func DecodeEncoderMLP(data []byte) (QNetwork, error) {
	net := &encoderMLP{}
	if err := net.GobDecode(data); err != nil {
		return nil, err
	}
	return net, nil
}

// GobEncode implements the gob.GobEncoder interface, serializing the
// network's architecture and parameter values
func (e *encoderMLP) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	arch := []interface{}{
		e.Features(), e.BatchSize(), e.numActions, e.encoderSizes,
		e.encoderBiases, e.encoderActivations, e.headSizes, e.headBiases,
		e.headActivations,
	}
	for _, field := range arch {
		if err := enc.Encode(field); err != nil {
			return nil, fmt.Errorf("gobencode: could not encode "+
				"architecture: %v", err)
		}
	}

	for i, learnable := range e.Learnables() {
		value, ok := learnable.Value().(*tensor.Dense)
		if !ok {
			return nil, fmt.Errorf("gobencode: learnable %v is not a "+
				"dense tensor", i)
		}
		if err := enc.Encode([]int(value.Shape())); err != nil {
			return nil, fmt.Errorf("gobencode: could not encode shape of "+
				"learnable %v: %v", i, err)
		}
		if err := enc.Encode(value.Data().([]float64)); err != nil {
			return nil, fmt.Errorf("gobencode: could not encode learnable "+
				"%v: %v", i, err)
		}
	}

	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface
func (e *encoderMLP) GobDecode(in []byte) error {
	buf := bytes.NewReader(in)
	dec := gob.NewDecoder(buf)

	var features, batchSize, numActions int
	var encoderSizes, headSizes []int
	var encoderBiases, headBiases []bool
	var encoderActivations, headActivations []*Activation

	arch := []interface{}{
		&features, &batchSize, &numActions, &encoderSizes, &encoderBiases,
		&encoderActivations, &headSizes, &headBiases, &headActivations,
	}
	for _, field := range arch {
		if err := dec.Decode(field); err != nil {
			return fmt.Errorf("gobdecode: could not decode architecture: "+
				"%v", err)
		}
	}

	g := G.NewGraph()
	newNet, err := NewEncoderMLP(features, batchSize, numActions, g,
		encoderSizes, encoderBiases, encoderActivations, headSizes,
		headBiases, headActivations, G.Zeroes())
	if err != nil {
		return fmt.Errorf("gobdecode: could not construct network: %v", err)
	}
	decoded := newNet.(*encoderMLP)

	for i, learnable := range decoded.Learnables() {
		var shape []int
		if err := dec.Decode(&shape); err != nil {
			return fmt.Errorf("gobdecode: could not decode shape of "+
				"learnable %v: %v", i, err)
		}

		var data []float64
		if err := dec.Decode(&data); err != nil {
			return fmt.Errorf("gobdecode: could not decode learnable %v: "+
				"%v", i, err)
		}

		value := tensor.New(tensor.WithShape(shape...),
			tensor.WithBacking(data))
		if err := G.Let(learnable, value); err != nil {
			return fmt.Errorf("gobdecode: could not set learnable %v: %v",
				i, err)
		}
	}

	*e = *decoded
	return nil
}
