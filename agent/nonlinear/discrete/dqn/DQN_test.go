package dqn

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/deepmdp/deepmdp/agent"
	"github.com/deepmdp/deepmdp/environment"
	"github.com/deepmdp/deepmdp/expreplay"
	"github.com/deepmdp/deepmdp/initwfn"
	"github.com/deepmdp/deepmdp/network"
	"github.com/deepmdp/deepmdp/solver"
	"github.com/deepmdp/deepmdp/tracker"
)

const (
	testFeatures   = 4
	testNumActions = 3
	testBatchSize  = 4
)

// mockEnv is a stub environment with a fixed observation and action
// space
type mockEnv struct{}

func (m mockEnv) Reset() mat.Vector {
	return mat.NewVecDense(testFeatures, nil)
}

func (m mockEnv) Step(action int) (mat.Vector, float64, bool,
	map[string]interface{}) {
	return mat.NewVecDense(testFeatures, nil), 0.0, false, nil
}

func (m mockEnv) ObservationSpace() environment.Space {
	return environment.NewUniformBox([]int{testFeatures}, -1.0, 1.0,
		tensor.Float64)
}

func (m mockEnv) ActionSpace() environment.Space {
	return environment.Discrete{N: testNumActions}
}

func testConfig(t *testing.T, init *initwfn.InitWFn,
	auxiliary bool) Config {
	t.Helper()

	sol, err := solver.NewVanilla(0.01, testBatchSize, -1.0)
	if err != nil {
		t.Fatalf("could not create solver: %v", err)
	}

	return Config{
		EncoderLayers:      []int{5},
		EncoderBiases:      []bool{true},
		EncoderActivations: []*network.Activation{network.TanH()},

		HeadLayers:      []int{},
		HeadBiases:      []bool{},
		HeadActivations: []*network.Activation{},

		AuxiliaryLayers:      []int{},
		AuxiliaryBiases:      []bool{},
		AuxiliaryActivations: []*network.Activation{},

		Solver:  sol,
		InitWFn: init,

		ExpReplay: expreplay.Config{
			MaxReplayCapacity: 100,
			MinReplayCapacity: 1,
			BatchSize:         testBatchSize,
		},

		Discount:         0.9,
		TargetUpdateFreq: 1,
		NEpochCycles:     1,
		NTrainSteps:      1,

		UseRewardAuxiliary:     auxiliary,
		UseTransitionAuxiliary: auxiliary,
		PenaltyLambda:          0.01,

		MaxEpsilon:     0.5,
		MinEpsilon:     0.1,
		DecayRatio:     0.5,
		TotalTimesteps: 1000,
	}
}

func newTestAgent(t *testing.T, init *initwfn.InitWFn,
	auxiliary bool) *DQN {
	t.Helper()

	d, err := New(mockEnv{}, testConfig(t, init, auxiliary), 42)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	return d
}

func glorot(t *testing.T) *initwfn.InitWFn {
	t.Helper()
	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		t.Fatalf("could not create weight initializer: %v", err)
	}
	return init
}

func zeroes(t *testing.T) *initwfn.InitWFn {
	t.Helper()
	init, err := initwfn.NewZeroes()
	if err != nil {
		t.Fatalf("could not create weight initializer: %v", err)
	}
	return init
}

func testBatch(rewards, terminals []float64) *expreplay.Batch {
	batch := &expreplay.Batch{
		Observations:     make([]float64, testBatchSize*testFeatures),
		Actions:          make([]int, testBatchSize),
		Rewards:          rewards,
		NextObservations: make([]float64, testBatchSize*testFeatures),
		Terminals:        terminals,
		BatchSize:        testBatchSize,
		FeatureSize:      testFeatures,
	}
	for i := range batch.NextObservations {
		batch.NextObservations[i] = float64(i%7) * 0.1
	}
	return batch
}

// TestOneHotActions checks the one-hot encoding of taken actions
func TestOneHotActions(t *testing.T) {
	d := &DQN{batchSize: 3, numActions: 3}
	encoded := d.oneHotActions([]int{0, 2, 1})

	expected := []float64{
		1, 0, 0,
		0, 0, 1,
		0, 1, 0,
	}
	data := encoded.Data().([]float64)
	for i := range expected {
		if data[i] != expected[i] {
			t.Fatalf("wrong encoding at index %v \n\twant(%v)\n\thave(%v)",
				i, expected[i], data[i])
		}
	}
}

// TestComputeTargetTerminal checks that terminal transitions mask out
// the bootstrap term, leaving the target equal to the reward
// regardless of the target network's predictions
func TestComputeTargetTerminal(t *testing.T) {
	d := newTestAgent(t, glorot(t), false)

	rewards := []float64{1.0, 1.0, 1.0, 1.0}
	terminals := []float64{1.0, 1.0, 1.0, 1.0}
	batch := testBatch(rewards, terminals)

	target := d.computeTarget(batch, batch.NextObservations)
	for i, value := range target {
		if value != rewards[i] {
			t.Errorf("terminal target should equal reward at sample %v"+
				"\n\twant(%v)\n\thave(%v)", i, rewards[i], value)
		}
	}
}

// TestComputeTargetBootstrap checks the non-terminal target
// r + γv against a target network predicting a constant value v for
// every action
func TestComputeTargetBootstrap(t *testing.T) {
	d := newTestAgent(t, zeroes(t), false)

	// With all weights zero, setting the Q-value head's output bias
	// makes the target network predict a constant for every action
	const v = 2.5
	learnables := d.targetNet.Learnables()
	bias := learnables[len(learnables)-1]
	err := G.Let(bias, tensor.New(
		tensor.WithShape(testNumActions),
		tensor.WithBacking([]float64{v, v, v}),
	))
	if err != nil {
		t.Fatalf("could not set target network bias: %v", err)
	}

	rewards := []float64{1.0, 0.5, -1.0, 0.0}
	terminals := []float64{0.0, 0.0, 0.0, 0.0}
	batch := testBatch(rewards, terminals)

	target := d.computeTarget(batch, batch.NextObservations)
	for i, value := range target {
		expected := rewards[i] + d.discount*v
		if math.Abs(value-expected) > 1e-10 {
			t.Errorf("wrong bootstrap target at sample %v"+
				"\n\twant(%v)\n\thave(%v)", i, expected, value)
		}
	}
}

// TestGradientPenalty checks that the penalty is non-negative, and
// exactly zero for a constant network with zero gradient everywhere
func TestGradientPenalty(t *testing.T) {
	d := newTestAgent(t, glorot(t), true)

	obs := make([]float64, testBatchSize*testFeatures)
	for i := range obs {
		obs[i] = float64(i%5) * 0.2
	}
	embedding := make([]float64, testBatchSize*d.trainNet.EmbeddingSize())
	for i := range embedding {
		embedding[i] = float64(i%3) * 0.5
	}

	penalty, err := d.penalty.compute(obs, embedding)
	if err != nil {
		t.Fatalf("could not compute penalty: %v", err)
	}
	if penalty < 0 {
		t.Errorf("penalty cannot be negative \n\thave(%v)", penalty)
	}

	// A zero-weight network is constant, so its input gradient
	// vanishes everywhere
	constant := newTestAgent(t, zeroes(t), true)
	penalty, err = constant.penalty.compute(obs, embedding)
	if err != nil {
		t.Fatalf("could not compute penalty: %v", err)
	}
	if penalty != 0 {
		t.Errorf("constant networks should have zero penalty"+
			"\n\thave(%v)", penalty)
	}
}

// TestUpdateTarget checks that a sync makes the target network's
// parameters bit-identical to the training network's, and that later
// changes to the training network leave the target network unchanged
// until the next sync
func TestUpdateTarget(t *testing.T) {
	d := newTestAgent(t, glorot(t), false)

	// Perturb the training network so the two differ before the sync
	for _, learnable := range d.trainNet.Learnables() {
		data := learnable.Value().Data().([]float64)
		perturbed := make([]float64, len(data))
		for i := range data {
			perturbed[i] = data[i] + 0.25
		}
		err := G.Let(learnable, tensor.New(
			tensor.WithShape(learnable.Shape()...),
			tensor.WithBacking(perturbed),
		))
		if err != nil {
			t.Fatalf("could not perturb training network: %v", err)
		}
	}

	d.UpdateTarget()

	trainLearnables := d.trainNet.Learnables()
	targetLearnables := d.targetNet.Learnables()
	for i := range trainLearnables {
		trainData := trainLearnables[i].Value().Data().([]float64)
		targetData := targetLearnables[i].Value().Data().([]float64)
		for j := range trainData {
			if trainData[j] != targetData[j] {
				t.Fatalf("target network differs after sync at learnable "+
					"%v index %v \n\twant(%v)\n\thave(%v)", i, j,
					trainData[j], targetData[j])
			}
		}
	}

	// Further training-network changes must not leak into the target
	// network
	snapshot := make([][]float64, len(targetLearnables))
	for i, learnable := range targetLearnables {
		data := learnable.Value().Data().([]float64)
		snapshot[i] = append([]float64(nil), data...)
	}

	for _, learnable := range d.trainNet.Learnables() {
		data := learnable.Value().Data().([]float64)
		changed := make([]float64, len(data))
		for i := range data {
			changed[i] = data[i] * -3.0
		}
		err := G.Let(learnable, tensor.New(
			tensor.WithShape(learnable.Shape()...),
			tensor.WithBacking(changed),
		))
		if err != nil {
			t.Fatalf("could not change training network: %v", err)
		}
	}

	for i, learnable := range targetLearnables {
		data := learnable.Value().Data().([]float64)
		for j := range data {
			if data[j] != snapshot[i][j] {
				t.Fatalf("target network changed without a sync at "+
					"learnable %v index %v", i, j)
			}
		}
	}
}

// TestOptimizeInsufficientSamples checks that an agent with an empty
// replay buffer refuses to optimize
func TestOptimizeInsufficientSamples(t *testing.T) {
	d := newTestAgent(t, glorot(t), false)

	if _, err := d.Optimize(); err == nil {
		t.Error("expected error when optimizing with an empty buffer")
	}
}

// TestTrainOnceEpisodeBookkeeping checks that only completed episodes
// enter the per-episode statistics, that ε decays exactly once per
// completed episode in episodic decay mode, and that nothing is
// optimized or recorded while the replay buffer is below its minimum
// capacity
func TestTrainOnceEpisodeBookkeeping(t *testing.T) {
	config := testConfig(t, glorot(t), false)
	config.ExpReplay.MinReplayCapacity = testBatchSize
	config.MaxEpsilon = 1.0
	config.MinEpsilon = 0.0
	config.EpisodicDecay = true
	config.ExponentialDecayRate = 0.5

	d, err := New(mockEnv{}, config, 42)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}

	sink := tracker.NewTabular("")
	d.SetTracker(sink)

	paths := []agent.Path{
		{Rewards: []float64{1, 1, 1}, QVals: []float64{2, 4, 6},
			Terminal: true},
		{Rewards: []float64{0.5, 0.5}, QVals: []float64{1, 3}},
		{Rewards: []float64{2, 3}, QVals: []float64{5, 5},
			Terminal: true},
	}
	if err := d.TrainOnce(1, paths); err != nil {
		t.Fatalf("could not train: %v", err)
	}

	if d.numEpisodes != 2 {
		t.Errorf("wrong number of completed episodes \n\twant(%v)"+
			"\n\thave(%v)", 2, d.numEpisodes)
	}

	expectedRewards := []float64{3, 5}
	for i, reward := range expectedRewards {
		if d.episodeRewards[i] != reward {
			t.Errorf("wrong episodic return at episode %v \n\twant(%v)"+
				"\n\thave(%v)", i, reward, d.episodeRewards[i])
		}
	}

	expectedQVals := []float64{4, 5}
	for i, value := range expectedQVals {
		if d.episodeQVals[i] != value {
			t.Errorf("wrong mean episodic value at episode %v"+
				"\n\twant(%v)\n\thave(%v)", i, value, d.episodeQVals[i])
		}
	}

	// Two completed episodes halve ε twice
	if d.Epsilon() != 0.25 {
		t.Errorf("wrong ε after two completed episodes \n\twant(%v)"+
			"\n\thave(%v)", 0.25, d.Epsilon())
	}

	// The replay buffer is empty, so no gradient steps are taken and
	// no epoch statistics emitted, even at an epoch boundary
	if len(d.qLosses) != 0 {
		t.Errorf("optimized with an unfilled replay buffer")
	}
	if len(sink.Data("Epoch")) != 0 {
		t.Errorf("recorded epoch statistics with an unfilled replay " +
			"buffer")
	}
}

// TestTrainOnceEpochRecords checks that gradient steps run once the
// replay buffer is prefilled, that the target network syncs only on
// its cadence, and that the epoch statistics are emitted only on
// epoch boundaries
func TestTrainOnceEpochRecords(t *testing.T) {
	config := testConfig(t, glorot(t), false)
	config.ExpReplay.MinReplayCapacity = testBatchSize
	config.NEpochCycles = 2
	config.NTrainSteps = 3
	config.TargetUpdateFreq = 2

	d, err := New(mockEnv{}, config, 42)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}

	sink := tracker.NewTabular("")
	d.SetTracker(sink)

	for i := 0; i < testBatchSize; i++ {
		obs := make([]float64, testFeatures)
		next := make([]float64, testFeatures)
		for j := range obs {
			obs[j] = float64(i+j) * 0.1
			next[j] = float64(i+j+1) * 0.1
		}
		err := d.Observe(expreplay.Transition{
			Observation:     mat.NewVecDense(testFeatures, obs),
			Action:          i % testNumActions,
			Reward:          1.0,
			NextObservation: mat.NewVecDense(testFeatures, next),
		})
		if err != nil {
			t.Fatalf("could not observe transition: %v", err)
		}
	}

	path := agent.Path{
		Rewards:  []float64{1, 1},
		QVals:    []float64{2, 2},
		Terminal: true,
	}
	if err := d.TrainOnce(1, []agent.Path{path}); err != nil {
		t.Fatalf("could not train: %v", err)
	}

	if len(d.qLosses) != config.NTrainSteps {
		t.Errorf("wrong number of gradient steps \n\twant(%v)"+
			"\n\thave(%v)", config.NTrainSteps, len(d.qLosses))
	}

	// Iteration 1 is neither a sync nor an epoch boundary: the
	// gradient steps leave the two networks differing, and no epoch
	// statistics are emitted
	if networksMatch(d) {
		t.Error("target network changed off its sync cadence")
	}
	if len(sink.Data("Epoch")) != 0 {
		t.Error("recorded epoch statistics off the epoch boundary")
	}

	if err := d.TrainOnce(2, nil); err != nil {
		t.Fatalf("could not train: %v", err)
	}

	if len(d.qLosses) != 2*config.NTrainSteps {
		t.Errorf("wrong number of gradient steps \n\twant(%v)"+
			"\n\thave(%v)", 2*config.NTrainSteps, len(d.qLosses))
	}
	if !networksMatch(d) {
		t.Error("target network did not sync on its cadence")
	}

	labels := []string{"Epoch", "Episode100QValuesMean",
		"Episode100RewardMean", "Episode100LossMean", "CurrentEpsilon"}
	for _, label := range labels {
		if len(sink.Data(label)) != 1 {
			t.Fatalf("wrong number of %v records \n\twant(%v)"+
				"\n\thave(%v)", label, 1, len(sink.Data(label)))
		}
	}

	if sink.Data("Epoch")[0] != 1.0 {
		t.Errorf("wrong epoch number \n\twant(%v)\n\thave(%v)", 1.0,
			sink.Data("Epoch")[0])
	}
	if sink.Data("Episode100RewardMean")[0] != 2.0 {
		t.Errorf("wrong mean episodic return \n\twant(%v)\n\thave(%v)",
			2.0, sink.Data("Episode100RewardMean")[0])
	}
	if sink.Data("Episode100QValuesMean")[0] != 2.0 {
		t.Errorf("wrong mean episodic value \n\twant(%v)\n\thave(%v)",
			2.0, sink.Data("Episode100QValuesMean")[0])
	}

	lossMean := stat.Mean(d.qLosses, nil)
	if math.Abs(sink.Data("Episode100LossMean")[0]-lossMean) > 1e-12 {
		t.Errorf("wrong mean loss \n\twant(%v)\n\thave(%v)", lossMean,
			sink.Data("Episode100LossMean")[0])
	}
	if sink.Data("CurrentEpsilon")[0] != d.Epsilon() {
		t.Errorf("wrong recorded ε \n\twant(%v)\n\thave(%v)",
			d.Epsilon(), sink.Data("CurrentEpsilon")[0])
	}
}

// networksMatch reports whether the training and target networks hold
// identical parameters
func networksMatch(d *DQN) bool {
	trainLearnables := d.trainNet.Learnables()
	targetLearnables := d.targetNet.Learnables()
	for i := range trainLearnables {
		trainData := trainLearnables[i].Value().Data().([]float64)
		targetData := targetLearnables[i].Value().Data().([]float64)
		for j := range trainData {
			if trainData[j] != targetData[j] {
				return false
			}
		}
	}
	return true
}
