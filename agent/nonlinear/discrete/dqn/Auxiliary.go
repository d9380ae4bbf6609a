package dqn

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/deepmdp/deepmdp/expreplay"
	"github.com/deepmdp/deepmdp/network"
	"github.com/deepmdp/deepmdp/utils/op"
)

// Labels under which auxiliary losses are recorded
const (
	RewardLossKey     = "reward loss"
	TransitionLossKey = "transition loss"
)

// AuxiliaryObjective is a secondary prediction task trained jointly
// with the Q-function to shape the latent embedding that the encoder
// learns. Each objective owns a prediction head wired to the training
// network's embedding on the training graph, so its loss is computed
// by the same graph run that computes the Q-loss, and its head's
// weights are adapted by the same solver step.
//
// The interface is closed: the reward and transition objectives are
// the only implementations.
type AuxiliaryObjective interface {
	// Label returns the name under which the objective's loss is
	// recorded
	Label() string

	// Net returns the objective's prediction head
	Net() network.NeuralNet

	// Loss returns the node holding the objective's scalar loss
	Loss() *G.Node

	// LossValue returns the objective's loss from the last run of the
	// training graph
	LossValue() float64

	// setInputs binds the objective's batch-dependent input nodes. The
	// nextObs argument holds the batch's next observations after any
	// pixel normalization.
	setInputs(batch *expreplay.Batch, nextObs []float64) error
}

// rewardObjective predicts the one-step reward of each action from the
// latent embedding, with the taken action's prediction regressed
// toward the observed reward.
type rewardObjective struct {
	head    network.NeuralNet
	rewards *G.Node

	loss    *G.Node
	lossVal G.Value

	batchSize int
}

// newRewardObjective wires a reward prediction head and its loss into
// the training graph of net. The selectedActions node holds the same
// one-hot action mask used to select Q-values.
func newRewardObjective(net network.QNetwork, selectedActions *G.Node,
	hiddenSizes []int, biases []bool, activations []*network.Activation,
	init G.InitWFn) (*rewardObjective, error) {
	g := net.Graph()
	batchSize := net.BatchSize()

	head, err := network.NewMLPOnInput(net.Embedding(), net.Outputs(),
		hiddenSizes, biases, init, activations, "rewardhead")
	if err != nil {
		return nil, fmt.Errorf("newrewardobjective: could not create "+
			"head: %v", err)
	}

	rewards := G.NewVector(g, tensor.Float64, G.WithShape(batchSize),
		G.WithName("rewardtarget"))

	predicted := G.Must(G.HadamardProd(head.Prediction(), selectedActions))
	predicted = G.Must(G.Sum(predicted, 1))

	loss, err := op.Huber(predicted, rewards, 1.0)
	if err != nil {
		return nil, fmt.Errorf("newrewardobjective: could not compute "+
			"loss: %v", err)
	}

	objective := &rewardObjective{
		head:      head,
		rewards:   rewards,
		loss:      loss,
		batchSize: batchSize,
	}
	G.Read(loss, &objective.lossVal)

	return objective, nil
}

// Label returns the name under which the reward loss is recorded
func (r *rewardObjective) Label() string {
	return RewardLossKey
}

// Net returns the reward prediction head
func (r *rewardObjective) Net() network.NeuralNet {
	return r.head
}

// Loss returns the node holding the reward loss
func (r *rewardObjective) Loss() *G.Node {
	return r.loss
}

// LossValue returns the reward loss from the last run of the training
// graph
func (r *rewardObjective) LossValue() float64 {
	return r.lossVal.Data().(float64)
}

func (r *rewardObjective) setInputs(batch *expreplay.Batch,
	_ []float64) error {
	rewards := tensor.New(
		tensor.WithBacking(batch.Rewards),
		tensor.WithShape(r.batchSize),
	)
	return G.Let(r.rewards, rewards)
}

// transitionObjective predicts the embedding of the next observation
// from the current embedding, one prediction per action, with the
// taken action's prediction regressed toward the encoder's embedding
// of the observed next observation.
type transitionObjective struct {
	head    network.NeuralNet
	mask    *G.Node
	nextObs *G.Node

	loss    *G.Node
	lossVal G.Value

	batchSize  int
	features   int
	numActions int
	embedSize  int
}

// newTransitionObjective wires a transition prediction head and its
// loss into the training graph of net. The head predicts numActions
// embeddings at once; a block one-hot mask selects the taken action's
// prediction per sample. The target embedding reuses the training
// network's encoder weights, so the transition loss also adapts the
// encoder through its embedding of the next observation.
func newTransitionObjective(net network.QNetwork, hiddenSizes []int,
	biases []bool, activations []*network.Activation,
	init G.InitWFn) (*transitionObjective, error) {
	g := net.Graph()
	batchSize := net.BatchSize()
	features := net.Features()
	numActions := net.Outputs()
	embedSize := net.EmbeddingSize()

	head, err := network.NewMLPOnInput(net.Embedding(),
		numActions*embedSize, hiddenSizes, biases, init, activations,
		"transitionhead")
	if err != nil {
		return nil, fmt.Errorf("newtransitionobjective: could not create "+
			"head: %v", err)
	}

	// Select the taken action's embedding prediction per sample
	mask := G.NewMatrix(g, tensor.Float64,
		G.WithShape(batchSize, numActions*embedSize),
		G.WithName("transitionmask"))
	predicted := G.Must(G.HadamardProd(head.Prediction(), mask))
	predicted = G.Must(G.Reshape(predicted,
		tensor.Shape{batchSize, numActions, embedSize}))
	predicted = G.Must(G.Sum(predicted, 1))

	nextObs := G.NewMatrix(g, tensor.Float64,
		G.WithShape(batchSize, features), G.WithName("transitionnextobs"))
	nextEmbedding, err := net.Encoder().Fwd(nextObs)
	if err != nil {
		return nil, fmt.Errorf("newtransitionobjective: could not embed "+
			"next observations: %v", err)
	}

	loss, err := op.Huber(predicted, nextEmbedding, 1.0)
	if err != nil {
		return nil, fmt.Errorf("newtransitionobjective: could not compute "+
			"loss: %v", err)
	}

	objective := &transitionObjective{
		head:       head,
		mask:       mask,
		nextObs:    nextObs,
		loss:       loss,
		batchSize:  batchSize,
		features:   features,
		numActions: numActions,
		embedSize:  embedSize,
	}
	G.Read(loss, &objective.lossVal)

	return objective, nil
}

// Label returns the name under which the transition loss is recorded
func (t *transitionObjective) Label() string {
	return TransitionLossKey
}

// Net returns the transition prediction head
func (t *transitionObjective) Net() network.NeuralNet {
	return t.head
}

// Loss returns the node holding the transition loss
func (t *transitionObjective) Loss() *G.Node {
	return t.loss
}

// LossValue returns the transition loss from the last run of the
// training graph
func (t *transitionObjective) LossValue() float64 {
	return t.lossVal.Data().(float64)
}

func (t *transitionObjective) setInputs(batch *expreplay.Batch,
	nextObs []float64) error {
	// Block one-hot action mask, built fresh per call
	mask := make([]float64, t.batchSize*t.numActions*t.embedSize)
	for i, action := range batch.Actions {
		start := i*t.numActions*t.embedSize + action*t.embedSize
		for j := 0; j < t.embedSize; j++ {
			mask[start+j] = 1.0
		}
	}

	maskTensor := tensor.New(
		tensor.WithBacking(mask),
		tensor.WithShape(t.batchSize, t.numActions*t.embedSize),
	)
	if err := G.Let(t.mask, maskTensor); err != nil {
		return fmt.Errorf("setinputs: could not set action mask: %v", err)
	}

	nextObsTensor := tensor.New(
		tensor.WithBacking(nextObs),
		tensor.WithShape(t.batchSize, t.features),
	)
	if err := G.Let(t.nextObs, nextObsTensor); err != nil {
		return fmt.Errorf("setinputs: could not set next observations: %v",
			err)
	}
	return nil
}
