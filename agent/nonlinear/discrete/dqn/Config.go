package dqn

import (
	"fmt"

	"github.com/deepmdp/deepmdp/agent"
	env "github.com/deepmdp/deepmdp/environment"
	"github.com/deepmdp/deepmdp/expreplay"
	"github.com/deepmdp/deepmdp/initwfn"
	"github.com/deepmdp/deepmdp/network"
	"github.com/deepmdp/deepmdp/solver"
)

func init() {
	// Register both agent types so that TypedConfigs referring to
	// either can be deserialized into a Config.
	agent.Register(agent.DQNMLP, Config{})
	agent.Register(agent.DeepMDPMLP, Config{})
}

// Config implements a configuration for a DQN agent. When at least one
// auxiliary objective is enabled, the configured agent additionally
// learns its latent representation with DeepMDP-style reward and
// transition prediction losses and an input-gradient penalty.
type Config struct {
	// Encoder mapping observations to the latent embedding. The last
	// encoder layer is the embedding, so at least one layer is needed.
	EncoderLayers      []int
	EncoderBiases      []bool
	EncoderActivations []*network.Activation

	// Q-value head mapping the embedding to one value per action. A
	// final linear layer is always added, so these may be empty.
	HeadLayers      []int
	HeadBiases      []bool
	HeadActivations []*network.Activation

	// Hidden layers of each auxiliary objective's prediction head
	AuxiliaryLayers      []int
	AuxiliaryBiases      []bool
	AuxiliaryActivations []*network.Activation

	Solver  *solver.Solver   // Solver for learning weights
	InitWFn *initwfn.InitWFn // Weight initialization algorithm

	// Experience replay parameters. The replay batch size is the
	// training batch size of the agent.
	ExpReplay expreplay.Config

	Discount         float64 // Q-learning discount factor
	TargetUpdateFreq int     // Iterations between target network syncs
	NEpochCycles     int     // Iterations per epoch record
	NTrainSteps      int     // Gradient steps per training iteration

	// Auxiliary representation-learning objectives
	UseRewardAuxiliary     bool
	UseTransitionAuxiliary bool
	PenaltyLambda          float64 // Gradient penalty scale

	// Whether observations are pixel values that should be normalized
	// to [0, 1] before being fed to the networks
	NormalizePixels bool

	// Exploration parameters. Epsilon decays from MaxEpsilon to
	// MinEpsilon within DecayRatio * TotalTimesteps decay events,
	// unless ExponentialDecayRate is positive, in which case
	// exponential decay takes priority.
	MaxEpsilon           float64
	MinEpsilon           float64
	DecayRatio           float64
	TotalTimesteps       int
	EpisodicDecay        bool
	ExponentialDecayRate float64
}

// BatchSize returns the batch size of the agent constructed using this
// Config
func (c Config) BatchSize() int {
	return c.ExpReplay.BatchSize
}

// auxiliary returns whether the Config enables any auxiliary objective
func (c Config) auxiliary() bool {
	return c.UseRewardAuxiliary || c.UseTransitionAuxiliary
}

// Type returns the type of the configuration
func (c Config) Type() agent.Type {
	if c.auxiliary() {
		return agent.DeepMDPMLP
	}
	return agent.DQNMLP
}

// Validate checks a Config to ensure it is a valid configuration of a
// DQN agent.
func (c Config) Validate() error {
	if len(c.EncoderLayers) == 0 {
		return fmt.Errorf("new: encoders require at least one layer")
	}

	if len(c.EncoderLayers) != len(c.EncoderBiases) {
		return fmt.Errorf("new: invalid number of encoder biases"+
			"\n\twant(%v)\n\thave(%v)", len(c.EncoderLayers),
			len(c.EncoderBiases))
	}
	if len(c.EncoderLayers) != len(c.EncoderActivations) {
		return fmt.Errorf("new: invalid number of encoder activations"+
			"\n\twant(%v)\n\thave(%v)", len(c.EncoderLayers),
			len(c.EncoderActivations))
	}

	if len(c.HeadLayers) != len(c.HeadBiases) {
		return fmt.Errorf("new: invalid number of head biases"+
			"\n\twant(%v)\n\thave(%v)", len(c.HeadLayers), len(c.HeadBiases))
	}
	if len(c.HeadLayers) != len(c.HeadActivations) {
		return fmt.Errorf("new: invalid number of head activations"+
			"\n\twant(%v)\n\thave(%v)", len(c.HeadLayers),
			len(c.HeadActivations))
	}

	if len(c.AuxiliaryLayers) != len(c.AuxiliaryBiases) {
		return fmt.Errorf("new: invalid number of auxiliary biases"+
			"\n\twant(%v)\n\thave(%v)", len(c.AuxiliaryLayers),
			len(c.AuxiliaryBiases))
	}
	if len(c.AuxiliaryLayers) != len(c.AuxiliaryActivations) {
		return fmt.Errorf("new: invalid number of auxiliary activations"+
			"\n\twant(%v)\n\thave(%v)", len(c.AuxiliaryLayers),
			len(c.AuxiliaryActivations))
	}

	if c.Solver == nil {
		return fmt.Errorf("new: no solver provided")
	}
	if c.InitWFn == nil {
		return fmt.Errorf("new: no weight initialization provided")
	}

	if c.Discount < 0 || c.Discount >= 1 {
		return fmt.Errorf("new: invalid discount \n\twant(∈ [0, 1))"+
			"\n\thave(%v)", c.Discount)
	}

	if c.TargetUpdateFreq < 1 {
		return fmt.Errorf("new: target networks must be updated at "+
			"positive iteration intervals \n\twant(> 0)\n\thave(%v)",
			c.TargetUpdateFreq)
	}
	if c.NEpochCycles < 1 {
		return fmt.Errorf("new: epochs must span a positive number of "+
			"iterations \n\twant(> 0)\n\thave(%v)", c.NEpochCycles)
	}
	if c.NTrainSteps < 1 {
		return fmt.Errorf("new: iterations must take a positive number "+
			"of gradient steps \n\twant(> 0)\n\thave(%v)", c.NTrainSteps)
	}

	if c.PenaltyLambda < 0 {
		return fmt.Errorf("new: gradient penalty scale cannot be negative"+
			"\n\twant(>= 0)\n\thave(%v)", c.PenaltyLambda)
	}

	// The gradient penalty interpolates between the two halves of a
	// batch, so auxiliary runs need an even batch size
	if c.auxiliary() && c.BatchSize()%2 != 0 {
		return fmt.Errorf("new: auxiliary objectives require an even "+
			"batch size \n\thave(%v)", c.BatchSize())
	}

	return nil
}

// ValidAgent returns whether the agent is valid for the configuration.
// That is, whether Agent a can be constructed with Config c.
func (c Config) ValidAgent(a agent.Agent) bool {
	_, ok := a.(*DQN)
	return ok
}

// CreateAgent creates a new DQN agent based on the configuration
func (c Config) CreateAgent(e env.Environment, seed uint64) (agent.Agent,
	error) {
	if _, ok := e.ActionSpace().(env.Discrete); !ok {
		return nil, fmt.Errorf("createagent: %v agents require discrete "+
			"actions", c.Type())
	}

	return New(e, c, seed)
}
