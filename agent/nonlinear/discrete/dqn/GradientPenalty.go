package dqn

import (
	"fmt"

	"golang.org/x/exp/rand"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/deepmdp/deepmdp/network"
	"github.com/deepmdp/deepmdp/utils/op"
)

// PenaltyKey is the label under which the scaled gradient penalty is
// recorded
const PenaltyKey = "gradient penalty"

// gradientPenalty estimates E[‖∇ₓ f(x̂)‖₂²] for the encoder and every
// prediction head of a representation-learning run, where x̂ is a
// random interpolation between pairs of batch samples. Each network is
// probed on its own graph: the probe clones the network's forward pass
// onto a half-batch input node, takes the symbolic gradient of the
// summed output with respect to that input, and averages the squared
// per-sample gradient norms.
//
// The penalty regularizes the reported loss only. Matching its use in
// DeepMDP training, it contributes no parameter gradients, so probe
// runs happen outside the training graph with the pre-update weights.
type gradientPenalty struct {
	probes    []*gradientProbe
	rng       *rand.Rand
	halfBatch int
}

// newGradientPenalty creates a gradient penalty over the encoder, the
// Q-value head, and the head of each auxiliary objective of net.
func newGradientPenalty(net network.QNetwork,
	auxiliaries []AuxiliaryObjective, seed uint64) (*gradientPenalty,
	error) {
	if net.BatchSize()%2 != 0 {
		return nil, fmt.Errorf("newgradientpenalty: interpolating between "+
			"batch halves requires an even batch size \n\thave(%v)",
			net.BatchSize())
	}
	halfBatch := net.BatchSize() / 2

	encoder, err := newGradientProbe(net.Encoder(), halfBatch, false)
	if err != nil {
		return nil, fmt.Errorf("newgradientpenalty: could not probe "+
			"encoder: %v", err)
	}

	head, err := newGradientProbe(net.Head(), halfBatch, true)
	if err != nil {
		return nil, fmt.Errorf("newgradientpenalty: could not probe "+
			"Q-value head: %v", err)
	}

	probes := []*gradientProbe{encoder, head}
	for _, auxiliary := range auxiliaries {
		probe, err := newGradientProbe(auxiliary.Net(), halfBatch, true)
		if err != nil {
			return nil, fmt.Errorf("newgradientpenalty: could not probe "+
				"%v head: %v", auxiliary.Label(), err)
		}
		probes = append(probes, probe)
	}

	return &gradientPenalty{
		probes:    probes,
		rng:       rand.New(rand.NewSource(seed)),
		halfBatch: halfBatch,
	}, nil
}

// compute returns the total penalty over all probed networks. The obs
// argument holds the batch of normalized observations, fed to the
// encoder probe; embedding holds the batch of latent embeddings from
// the last training run, fed to every head probe.
func (p *gradientPenalty) compute(obs, embedding []float64) (float64,
	error) {
	var total float64
	for _, probe := range p.probes {
		samples := obs
		if probe.onEmbedding {
			samples = embedding
		}

		value, err := probe.compute(p.interpolate(samples, probe.features))
		if err != nil {
			return 0, fmt.Errorf("compute: %v", err)
		}
		total += value
	}
	return total, nil
}

// interpolate splits a batch of samples into halves and linearly
// interpolates between paired rows with an independent uniform weight
// per element.
func (p *gradientPenalty) interpolate(samples []float64,
	features int) []float64 {
	half := p.halfBatch * features
	first, second := samples[:half], samples[half:]

	interpolated := make([]float64, half)
	for i := range interpolated {
		alpha := p.rng.Float64()
		interpolated[i] = alpha*first[i] + (1-alpha)*second[i]
	}
	return interpolated
}

// gradientProbe computes the input-gradient norm penalty of a single
// network. The probed network's weights are copied from the source
// network before each run.
type gradientProbe struct {
	src   network.NeuralNet
	net   network.NeuralNet
	input *G.Node

	penaltyVal G.Value
	vm         G.VM

	onEmbedding bool
	features    int
}

func newGradientProbe(src network.NeuralNet, halfBatch int,
	onEmbedding bool) (*gradientProbe, error) {
	g := G.NewGraph()
	input := G.NewMatrix(g, tensor.Float64,
		G.WithShape(halfBatch, src.Features()),
		G.WithName("interpolated"), G.WithInit(G.Zeroes()))

	net, err := src.CloneWithInputTo(input, g)
	if err != nil {
		return nil, fmt.Errorf("newgradientprobe: could not clone "+
			"network: %v", err)
	}

	summed, err := G.Sum(net.Prediction())
	if err != nil {
		return nil, fmt.Errorf("newgradientprobe: could not sum "+
			"predictions: %v", err)
	}

	grads, err := G.Grad(summed, input)
	if err != nil {
		return nil, fmt.Errorf("newgradientprobe: could not compute input "+
			"gradient: %v", err)
	}

	penalty, err := op.GradientNormPenalty(grads[0])
	if err != nil {
		return nil, fmt.Errorf("newgradientprobe: %v", err)
	}

	probe := &gradientProbe{
		src:         src,
		net:         net,
		input:       input,
		onEmbedding: onEmbedding,
		features:    src.Features(),
	}
	G.Read(penalty, &probe.penaltyVal)
	probe.vm = G.NewTapeMachine(g)

	return probe, nil
}

func (p *gradientProbe) compute(interpolated []float64) (float64, error) {
	if err := p.net.Set(p.src); err != nil {
		return 0, fmt.Errorf("could not refresh probe weights: %v", err)
	}
	if err := p.net.SetInput(interpolated); err != nil {
		return 0, fmt.Errorf("could not set probe input: %v", err)
	}
	if err := p.vm.RunAll(); err != nil {
		return 0, fmt.Errorf("could not run probe: %v", err)
	}

	value := p.penaltyVal.Data().(float64)
	p.vm.Reset()
	return value, nil
}
