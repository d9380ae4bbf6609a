// Package dqn implements deep Q-learning with a smooth L1 loss and,
// optionally, DeepMDP-style auxiliary objectives that shape the
// Q-network's latent embedding through reward and transition
// prediction alongside an input-gradient penalty.
package dqn

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/deepmdp/deepmdp/agent"
	"github.com/deepmdp/deepmdp/agent/exploration"
	"github.com/deepmdp/deepmdp/agent/nonlinear/discrete/policy"
	env "github.com/deepmdp/deepmdp/environment"
	"github.com/deepmdp/deepmdp/expreplay"
	"github.com/deepmdp/deepmdp/network"
	"github.com/deepmdp/deepmdp/solver"
	"github.com/deepmdp/deepmdp/tracker"
	"github.com/deepmdp/deepmdp/utils/floatutils"
	"github.com/deepmdp/deepmdp/utils/intutils"
	"github.com/deepmdp/deepmdp/utils/op"
)

// episodeWindow is the number of most recent completed episodes that
// epoch statistics average over
const episodeWindow = 100

// DQN implements the DQN algorithm with target network bootstrapping
// and an ε-greedy behaviour policy. When the configuration enables
// auxiliary objectives, the agent becomes a DeepMDP learner: the
// Q-network's encoder is additionally trained to support reward and
// next-embedding prediction, and a gradient penalty over the encoder
// and every prediction head joins the reported loss.
//
// Three networks share one architecture: trainNet learns the weights
// on batches, targetNet provides bootstrap targets and is synced on a
// fixed cadence, and the behaviour policy's batch-1 network is synced
// with trainNet after every gradient step.
type DQN struct {
	config Config
	seed   uint64

	policy   *policy.Greedy
	strategy *exploration.EpsilonGreedy

	trainNet network.QNetwork
	trainVM  G.VM
	solver   *solver.Solver
	model    []G.ValueGrad

	targetNet network.QNetwork
	targetVM  G.VM

	// Training-graph input nodes, set fresh before each run
	selectedActions *G.Node
	target          *G.Node
	qLossVal        G.Value

	auxiliaries []AuxiliaryObjective
	penalty     *gradientPenalty

	replay  *expreplay.Buffer
	tracker tracker.Tracker

	discount         float64
	penaltyLambda    float64
	targetUpdateFreq int
	nEpochCycles     int
	nTrainSteps      int
	normalizePixels  bool

	batchSize  int
	numActions int

	// Completed-episode statistics, appended to by TrainOnce
	numEpisodes    int
	episodeRewards []float64
	episodeQVals   []float64
	episodeQStds   []float64
	episodeLengths []float64
	qLosses        []float64
}

// New creates and returns a new DQN agent
func New(e env.Environment, config Config, seed uint64) (*DQN, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	actionSpace, ok := e.ActionSpace().(env.Discrete)
	if !ok {
		return nil, fmt.Errorf("new: cannot use non-discrete actions")
	}

	features := e.ObservationSpace().Len()
	gTrain := G.NewGraph()
	trainNet, err := network.NewEncoderMLP(
		features,
		config.BatchSize(),
		actionSpace.N,
		gTrain,
		config.EncoderLayers,
		config.EncoderBiases,
		config.EncoderActivations,
		config.HeadLayers,
		config.HeadBiases,
		config.HeadActivations,
		config.InitWFn.InitWFn(),
	)
	if err != nil {
		return nil, fmt.Errorf("new: could not create training network: %v",
			err)
	}

	return newFromNet(config, trainNet, seed)
}

// newFromNet builds a DQN agent around an existing training network,
// wiring the loss, the auxiliary objectives, and the action selection
// networks. The training network determines the observation and action
// dimensions.
func newFromNet(config Config, trainNet network.QNetwork,
	seed uint64) (*DQN, error) {
	gTrain := trainNet.Graph()
	batchSize := trainNet.BatchSize()
	numActions := trainNet.Outputs()
	init := config.InitWFn.InitWFn()

	// Nodes for the bootstrap target and the one-hot action mask
	target := G.NewVector(gTrain, tensor.Float64, G.WithShape(batchSize),
		G.WithName("updateTarget"))
	selectedActions := G.NewMatrix(gTrain, tensor.Float64,
		G.WithShape(batchSize, numActions), G.WithName("selectedActions"))

	// Q-value of the taken action per sample
	qSelected := G.Must(G.HadamardProd(trainNet.Prediction(),
		selectedActions))
	qSelected = G.Must(G.Sum(qSelected, 1))

	qLoss, err := op.Huber(qSelected, target, 1.0)
	if err != nil {
		return nil, fmt.Errorf("new: could not compute Q-loss: %v", err)
	}

	var auxiliaries []AuxiliaryObjective
	if config.UseRewardAuxiliary {
		reward, err := newRewardObjective(trainNet, selectedActions,
			config.AuxiliaryLayers, config.AuxiliaryBiases,
			config.AuxiliaryActivations, init)
		if err != nil {
			return nil, fmt.Errorf("new: %v", err)
		}
		auxiliaries = append(auxiliaries, reward)
	}
	if config.UseTransitionAuxiliary {
		transition, err := newTransitionObjective(trainNet,
			config.AuxiliaryLayers, config.AuxiliaryBiases,
			config.AuxiliaryActivations, init)
		if err != nil {
			return nil, fmt.Errorf("new: %v", err)
		}
		auxiliaries = append(auxiliaries, transition)
	}

	totalLoss := qLoss
	for _, auxiliary := range auxiliaries {
		totalLoss = G.Must(G.Add(totalLoss, auxiliary.Loss()))
	}

	learnables := make([]*G.Node, 0, len(trainNet.Learnables()))
	learnables = append(learnables, trainNet.Learnables()...)
	model := make([]G.ValueGrad, 0, len(trainNet.Model()))
	model = append(model, trainNet.Model()...)
	for _, auxiliary := range auxiliaries {
		learnables = append(learnables, auxiliary.Net().Learnables()...)
		model = append(model, auxiliary.Net().Model()...)
	}

	if _, err := G.Grad(totalLoss, learnables...); err != nil {
		panic(fmt.Sprintf("new: could not compute gradient: %v", err))
	}
	trainVM := G.NewTapeMachine(gTrain, G.BindDualValues(learnables...))

	// Target network providing the bootstrap target
	targetNetClone, err := trainNet.Clone()
	if err != nil {
		return nil, fmt.Errorf("new: could not create target network: %v",
			err)
	}
	targetNet := targetNetClone.(network.QNetwork)
	if err := targetNet.Set(trainNet); err != nil {
		return nil, fmt.Errorf("new: could not sync target network: %v",
			err)
	}
	targetVM := G.NewTapeMachine(targetNet.Graph())

	// Behaviour policy over a batch-1 copy of the training network
	policyNetClone, err := trainNet.CloneWithBatch(1)
	if err != nil {
		return nil, fmt.Errorf("new: could not create policy network: %v",
			err)
	}
	greedy, err := policy.NewGreedy(policyNetClone, int64(seed))
	if err != nil {
		return nil, fmt.Errorf("new: could not create policy: %v", err)
	}
	if err := greedy.Set(trainNet); err != nil {
		return nil, fmt.Errorf("new: could not sync policy network: %v",
			err)
	}

	strategy, err := exploration.NewEpsilonGreedy(
		greedy,
		numActions,
		config.TotalTimesteps,
		config.MaxEpsilon,
		config.MinEpsilon,
		config.DecayRatio,
		config.EpisodicDecay,
		config.ExponentialDecayRate,
		seed,
	)
	if err != nil {
		return nil, fmt.Errorf("new: could not create exploration "+
			"strategy: %v", err)
	}

	var penalty *gradientPenalty
	if len(auxiliaries) > 0 {
		penalty, err = newGradientPenalty(trainNet, auxiliaries, seed)
		if err != nil {
			return nil, fmt.Errorf("new: %v", err)
		}
	}

	replay, err := config.ExpReplay.Create(trainNet.Features(), seed)
	if err != nil {
		return nil, fmt.Errorf("new: could not create experience replay "+
			"buffer: %v", err)
	}

	d := &DQN{
		config:           config,
		seed:             seed,
		policy:           greedy,
		strategy:         strategy,
		trainNet:         trainNet,
		trainVM:          trainVM,
		solver:           config.Solver,
		model:            model,
		targetNet:        targetNet,
		targetVM:         targetVM,
		selectedActions:  selectedActions,
		target:           target,
		auxiliaries:      auxiliaries,
		penalty:          penalty,
		replay:           replay,
		tracker:          tracker.NewNop(),
		discount:         config.Discount,
		penaltyLambda:    config.PenaltyLambda,
		targetUpdateFreq: config.TargetUpdateFreq,
		nEpochCycles:     config.NEpochCycles,
		nTrainSteps:      config.NTrainSteps,
		normalizePixels:  config.NormalizePixels,
		batchSize:        batchSize,
		numActions:       numActions,
	}
	G.Read(qLoss, &d.qLossVal)

	return d, nil
}

// SetTracker sets the sink to which the agent records its losses and
// epoch statistics. The sink is a per-process collaborator: it is
// never serialized with the agent, and a restored agent records to a
// no-op sink until one is attached.
func (d *DQN) SetTracker(t tracker.Tracker) {
	if t == nil {
		t = tracker.NewNop()
	}
	d.tracker = t
}

// Observe adds an environmental transition to the replay buffer
func (d *DQN) Observe(t expreplay.Transition) error {
	return d.replay.Add(t)
}

// SelectAction returns an action for the argument observation, chosen
// by the ε-greedy behaviour policy
func (d *DQN) SelectAction(obs mat.Vector) (int, map[string]float64) {
	return d.strategy.SelectAction(obs)
}

// SelectActions returns one action per argument observation
func (d *DQN) SelectActions(obs []mat.Vector) ([]int,
	[]map[string]float64) {
	return d.strategy.SelectActions(obs)
}

// ActionValues returns the action values predicted during the most
// recent action selection
func (d *DQN) ActionValues() []float64 {
	return d.policy.ActionValues()
}

// Epsilon returns the current exploration rate of the behaviour policy
func (d *DQN) Epsilon() float64 {
	return d.strategy.Epsilon()
}

// EndEpisode performs cleanup at the end of an episode. Episodic ε
// decay is driven by TrainOnce over completed paths, so nothing needs
// to happen here.
func (d *DQN) EndEpisode() {}

// prefilled returns whether the replay buffer has reached its minimum
// fill threshold
func (d *DQN) prefilled() bool {
	return d.replay.NumStored() >= d.replay.MinCapacity()
}

// Optimize performs a single gradient update on the training network
// and returns the Q-loss of the sampled batch, excluding auxiliary
// terms. An error is returned without updating when the replay buffer
// cannot yet fill a batch.
func (d *DQN) Optimize() (float64, error) {
	batch, err := d.replay.Sample()
	if err != nil {
		return 0, fmt.Errorf("optimize: %v", err)
	}

	obs := batch.Observations
	nextObs := batch.NextObservations
	if d.normalizePixels {
		obs = normalizePixels(obs)
		nextObs = normalizePixels(nextObs)
	}

	// Bootstrap target, computed without gradient tracking by the
	// target network's own graph
	target := d.computeTarget(batch, nextObs)
	targetTensor := tensor.New(
		tensor.WithBacking(target),
		tensor.WithShape(d.batchSize),
	)
	if err := G.Let(d.target, targetTensor); err != nil {
		panic(fmt.Sprintf("optimize: could not set update target: %v", err))
	}

	// One-hot mask of the taken actions, built fresh per call
	if err := G.Let(d.selectedActions,
		d.oneHotActions(batch.Actions)); err != nil {
		panic(fmt.Sprintf("optimize: could not set selected actions: %v",
			err))
	}

	if err := d.trainNet.SetInput(obs); err != nil {
		panic(fmt.Sprintf("optimize: could not set training input: %v",
			err))
	}
	for _, auxiliary := range d.auxiliaries {
		if err := auxiliary.setInputs(batch, nextObs); err != nil {
			panic(fmt.Sprintf("optimize: %v", err))
		}
	}

	if err := d.trainVM.RunAll(); err != nil {
		return 0, fmt.Errorf("optimize: could not run training graph: %v",
			err)
	}

	for _, auxiliary := range d.auxiliaries {
		d.tracker.Record(auxiliary.Label(), auxiliary.LossValue())
	}

	// The penalty regularizes the reported loss only, so it is probed
	// with the pre-update weights and recorded rather than
	// backpropagated
	if d.penalty != nil {
		embedding := d.trainNet.EmbeddingOutput().Data().([]float64)
		value, err := d.penalty.compute(obs, embedding)
		if err != nil {
			return 0, fmt.Errorf("optimize: %v", err)
		}
		d.tracker.Record(PenaltyKey, d.penaltyLambda*value)
	}

	loss := d.qLossVal.Data().(float64)

	if err := d.solver.Step(d.model); err != nil {
		return 0, fmt.Errorf("optimize: could not step solver: %v", err)
	}
	d.trainVM.Reset()

	// Behaviour policy follows the newly learned weights
	if err := d.policy.Set(d.trainNet); err != nil {
		panic(fmt.Sprintf("optimize: could not sync policy network: %v",
			err))
	}

	return loss, nil
}

// computeTarget computes the bootstrap target
//
//	r + (1 - terminal) * γ * max_a target_qf(s')[a]
//
// for each sample of the batch
func (d *DQN) computeTarget(batch *expreplay.Batch,
	nextObs []float64) []float64 {
	if err := d.targetNet.SetInput(nextObs); err != nil {
		panic(fmt.Sprintf("optimize: could not set target network "+
			"input: %v", err))
	}
	if err := d.targetVM.RunAll(); err != nil {
		panic(fmt.Sprintf("optimize: could not run target network: %v",
			err))
	}
	values := d.targetNet.Output().Data().([]float64)

	rows := len(values) / d.numActions
	if rows != batch.BatchSize {
		panic(fmt.Sprintf("optimize: target network predictions do not "+
			"match batch size \n\twant(%v)\n\thave(%v)", batch.BatchSize,
			rows))
	}

	target := make([]float64, rows)
	for i := 0; i < rows; i++ {
		row := values[i*d.numActions : (i+1)*d.numActions]
		max, _ := floatutils.MaxSlice(row)
		target[i] = batch.Rewards[i] +
			(1.0-batch.Terminals[i])*d.discount*max
	}
	d.targetVM.Reset()

	return target
}

// oneHotActions returns a (batch, actions) one-hot encoding of the
// argument action indices
func (d *DQN) oneHotActions(actions []int) *tensor.Dense {
	backing := make([]float64, d.batchSize*d.numActions)
	for i, action := range actions {
		backing[i*d.numActions+action] = 1.0
	}
	return tensor.New(
		tensor.WithBacking(backing),
		tensor.WithShape(d.batchSize, d.numActions),
	)
}

// UpdateTarget copies the training network's parameters into the
// target network
func (d *DQN) UpdateTarget() {
	if err := d.targetNet.Set(d.trainNet); err != nil {
		panic(fmt.Sprintf("updatetarget: could not sync target "+
			"network: %v", err))
	}
}

// TrainOnce performs one training iteration: it records the statistics
// of every completed episode among the argument paths, decays ε once
// per completed episode when episodic decay is configured, takes the
// configured number of gradient steps once the replay buffer is
// prefilled, syncs the target network on its cadence, and emits epoch
// statistics averaged over the most recent completed episodes.
func (d *DQN) TrainOnce(itr int, paths []agent.Path) error {
	for _, path := range paths {
		if !path.Terminal {
			continue
		}

		d.episodeRewards = append(d.episodeRewards, path.Return())
		d.episodeQVals = append(d.episodeQVals, stat.Mean(path.QVals, nil))
		d.episodeQStds = append(d.episodeQStds,
			stat.StdDev(path.QVals, nil))
		d.episodeLengths = append(d.episodeLengths, float64(path.Len()))
		d.numEpisodes++

		d.strategy.EndEpisode()
		log.Printf("Episode: %v --- Episode length: %v --- Epsilon: %v",
			d.numEpisodes, path.Len(), d.strategy.Epsilon())
	}

	if d.prefilled() {
		for i := 0; i < d.nTrainSteps; i++ {
			loss, err := d.Optimize()
			if err != nil {
				return fmt.Errorf("trainonce: %v", err)
			}
			d.qLosses = append(d.qLosses, loss)
		}

		if itr%d.targetUpdateFreq == 0 {
			d.UpdateTarget()
		}
	}

	if itr%d.nEpochCycles == 0 && d.prefilled() {
		d.tracker.Record("Epoch", float64(itr/d.nEpochCycles))
		d.tracker.Record("Episode100QValuesMean",
			rollingMean(d.episodeQVals))
		d.tracker.Record("Episode100RewardMean",
			rollingMean(d.episodeRewards))
		d.tracker.Record("Episode100LossMean", rollingMean(d.qLosses))
		d.tracker.Record("CurrentEpsilon", d.strategy.Epsilon())
	}

	return nil
}

// Close releases the resources of the agent's virtual machines
func (d *DQN) Close() error {
	if err := d.trainVM.Close(); err != nil {
		return err
	}
	if err := d.targetVM.Close(); err != nil {
		return err
	}
	return d.policy.Close()
}

// Save serializes the agent's persistable state to the file at
// filename. The tracker sink is transient and excluded; so are the
// replay buffer contents and the solver's internal state, which a
// restored agent rebuilds fresh.
func (d *DQN) Save(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("save: could not create file: %v", err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(d); err != nil {
		return fmt.Errorf("save: could not encode agent: %v", err)
	}
	return nil
}

// GobEncode implements the gob.GobEncoder interface
func (d *DQN) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	configJSON, err := json.Marshal(d.config)
	if err != nil {
		return nil, fmt.Errorf("gobencode: could not encode config: %v",
			err)
	}

	trainBytes, err := d.trainNet.(gob.GobEncoder).GobEncode()
	if err != nil {
		return nil, fmt.Errorf("gobencode: could not encode training "+
			"network: %v", err)
	}
	targetBytes, err := d.targetNet.(gob.GobEncoder).GobEncode()
	if err != nil {
		return nil, fmt.Errorf("gobencode: could not encode target "+
			"network: %v", err)
	}

	fields := []interface{}{
		configJSON, d.seed, trainBytes, targetBytes, d.strategy.Epsilon(),
		d.numEpisodes, d.episodeRewards, d.episodeQVals, d.episodeQStds,
		d.episodeLengths, d.qLosses,
	}
	for _, field := range fields {
		if err := enc.Encode(field); err != nil {
			return nil, fmt.Errorf("gobencode: %v", err)
		}
	}

	for _, auxiliary := range d.auxiliaries {
		for i, learnable := range auxiliary.Net().Learnables() {
			value, ok := learnable.Value().(*tensor.Dense)
			if !ok {
				return nil, fmt.Errorf("gobencode: %v learnable %v is not "+
					"a dense tensor", auxiliary.Label(), i)
			}
			if err := enc.Encode([]int(value.Shape())); err != nil {
				return nil, fmt.Errorf("gobencode: %v", err)
			}
			if err := enc.Encode(value.Data().([]float64)); err != nil {
				return nil, fmt.Errorf("gobencode: %v", err)
			}
		}
	}

	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface, rebuilding the
// agent's graphs and virtual machines from the decoded configuration
// and parameter values
func (d *DQN) GobDecode(in []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(in))

	var configJSON, trainBytes, targetBytes []byte
	var seed uint64
	var epsilon float64
	var numEpisodes int
	var rewards, qVals, qStds, lengths, losses []float64

	fields := []interface{}{
		&configJSON, &seed, &trainBytes, &targetBytes, &epsilon,
		&numEpisodes, &rewards, &qVals, &qStds, &lengths, &losses,
	}
	for _, field := range fields {
		if err := dec.Decode(field); err != nil {
			return fmt.Errorf("gobdecode: %v", err)
		}
	}

	var config Config
	if err := json.Unmarshal(configJSON, &config); err != nil {
		return fmt.Errorf("gobdecode: could not decode config: %v", err)
	}

	trainNet, err := network.DecodeEncoderMLP(trainBytes)
	if err != nil {
		return fmt.Errorf("gobdecode: could not decode training "+
			"network: %v", err)
	}
	targetNet, err := network.DecodeEncoderMLP(targetBytes)
	if err != nil {
		return fmt.Errorf("gobdecode: could not decode target "+
			"network: %v", err)
	}

	decoded, err := newFromNet(config, trainNet, seed)
	if err != nil {
		return fmt.Errorf("gobdecode: could not rebuild agent: %v", err)
	}

	if err := decoded.targetNet.Set(targetNet); err != nil {
		return fmt.Errorf("gobdecode: could not restore target "+
			"network: %v", err)
	}

	for _, auxiliary := range decoded.auxiliaries {
		for i, learnable := range auxiliary.Net().Learnables() {
			var shape []int
			if err := dec.Decode(&shape); err != nil {
				return fmt.Errorf("gobdecode: %v", err)
			}
			var data []float64
			if err := dec.Decode(&data); err != nil {
				return fmt.Errorf("gobdecode: %v", err)
			}

			value := tensor.New(tensor.WithShape(shape...),
				tensor.WithBacking(data))
			if err := G.Let(learnable, value); err != nil {
				return fmt.Errorf("gobdecode: could not restore %v "+
					"learnable %v: %v", auxiliary.Label(), i, err)
			}
		}
	}

	if err := decoded.policy.Set(decoded.trainNet); err != nil {
		return fmt.Errorf("gobdecode: could not sync policy network: %v",
			err)
	}
	decoded.strategy.SetEpsilon(epsilon)

	decoded.numEpisodes = numEpisodes
	decoded.episodeRewards = rewards
	decoded.episodeQVals = qVals
	decoded.episodeQStds = qStds
	decoded.episodeLengths = lengths
	decoded.qLosses = losses

	*d = *decoded
	return nil
}

// rollingMean returns the mean of the last episodeWindow elements of
// data
func rollingMean(data []float64) float64 {
	start := intutils.Max(0, len(data)-episodeWindow)
	return stat.Mean(data[start:], nil)
}

// normalizePixels scales pixel observations to [0, 1]
func normalizePixels(obs []float64) []float64 {
	normalized := make([]float64, len(obs))
	for i := range obs {
		normalized[i] = obs[i] / 255.0
	}
	return normalized
}
