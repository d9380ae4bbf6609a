package exploration

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// constantPolicy always prefers the same action
type constantPolicy struct {
	action int
}

func (c constantPolicy) SelectAction(mat.Vector) (int, map[string]float64) {
	return c.action, map[string]float64{}
}

func (c constantPolicy) SelectActions(obs []mat.Vector) ([]int,
	[]map[string]float64) {
	actions := make([]int, len(obs))
	infos := make([]map[string]float64, len(obs))
	for i := range actions {
		actions[i] = c.action
		infos[i] = map[string]float64{}
	}
	return actions, infos
}

func TestEpsilonNonIncreasingAndBounded(t *testing.T) {
	strategies := map[string]*EpsilonGreedy{}

	linear, err := NewEpsilonGreedy(constantPolicy{}, 3, 100,
		1.0, 0.02, 0.5, false, 0, 1)
	if err != nil {
		t.Fatalf("could not create linear strategy: %v", err)
	}
	strategies["linear"] = linear

	exponential, err := NewEpsilonGreedy(constantPolicy{}, 3,
		100, 1.0, 0.02, 0.5, false, 0.9, 1)
	if err != nil {
		t.Fatalf("could not create exponential strategy: %v", err)
	}
	strategies["exponential"] = exponential

	obs := mat.NewVecDense(2, []float64{0, 0})
	for name, strategy := range strategies {
		prev := strategy.Epsilon()
		for i := 0; i < 500; i++ {
			strategy.SelectAction(obs)

			ε := strategy.Epsilon()
			if ε > prev {
				t.Fatalf("%v: epsilon increased from %v to %v", name, prev, ε)
			}
			if ε < 0.02 || ε > 1.0 {
				t.Fatalf("%v: epsilon %v outside [0.02, 1.0]", name, ε)
			}
			prev = ε
		}
	}
}

func TestLinearDecayReachesMinimum(t *testing.T) {
	const totalTimesteps = 1000
	const decayRatio = 0.1
	const minEpsilon = 0.02

	strategy, err := NewEpsilonGreedy(constantPolicy{}, 3,
		totalTimesteps, 1.0, minEpsilon, decayRatio, false, 0, 1)
	if err != nil {
		t.Fatalf("could not create strategy: %v", err)
	}

	decayPeriod := int(totalTimesteps * decayRatio)
	for i := 0; i < decayPeriod; i++ {
		strategy.decay(false)
	}

	if math.Abs(strategy.Epsilon()-minEpsilon) > 1e-10 {
		t.Errorf("epsilon after decay period \n\twant(%v)\n\thave(%v)",
			minEpsilon, strategy.Epsilon())
	}
}

func TestEpisodicDecayGating(t *testing.T) {
	strategy, err := NewEpsilonGreedy(constantPolicy{}, 3, 100,
		1.0, 0.02, 0.5, true, 0, 1)
	if err != nil {
		t.Fatalf("could not create strategy: %v", err)
	}

	obs := mat.NewVecDense(2, []float64{0, 0})
	for i := 0; i < 100; i++ {
		strategy.SelectAction(obs)
	}
	if strategy.Epsilon() != 1.0 {
		t.Fatalf("epsilon decayed without an episode-complete signal "+
			"\n\twant(%v)\n\thave(%v)", 1.0, strategy.Epsilon())
	}

	strategy.EndEpisode()
	if strategy.Epsilon() >= 1.0 {
		t.Error("epsilon did not decay when the episode completed")
	}

	after := strategy.Epsilon()
	for i := 0; i < 100; i++ {
		strategy.SelectAction(obs)
	}
	if strategy.Epsilon() != after {
		t.Error("epsilon changed between episode-complete signals")
	}
}

func TestExponentialDecayPriority(t *testing.T) {
	// Both modes look configured; exponential must win
	strategy, err := NewEpsilonGreedy(constantPolicy{}, 3, 100,
		1.0, 0.02, 0.5, false, 0.5, 1)
	if err != nil {
		t.Fatalf("could not create strategy: %v", err)
	}

	strategy.decay(false)
	if strategy.Epsilon() != 0.5 {
		t.Errorf("expected multiplicative decay \n\twant(%v)\n\thave(%v)",
			0.5, strategy.Epsilon())
	}
}

func TestConstructionFailsWithoutUsableDecayMode(t *testing.T) {
	// Linear decay period of zero and no exponential rate
	_, err := NewEpsilonGreedy(constantPolicy{}, 3, 0, 1.0,
		0.02, 0.1, false, 0, 1)
	if err == nil {
		t.Error("expected error when no decay mode is usable")
	}
}

func TestReplacedActionsStayInActionSpace(t *testing.T) {
	strategy, err := NewEpsilonGreedy(constantPolicy{action: 1}, 3,
		10000, 1.0, 1.0, 0.1, false, 0, 14)
	if err != nil {
		t.Fatalf("could not create strategy: %v", err)
	}

	// ε is pinned at 1, so every action is a random replacement
	obs := mat.NewVecDense(2, []float64{0, 0})
	seen := make(map[int]bool)
	for i := 0; i < 1000; i++ {
		action, _ := strategy.SelectAction(obs)
		if action < 0 || action > 2 {
			t.Fatalf("action %v outside action space", action)
		}
		seen[action] = true
	}
	if len(seen) != 3 {
		t.Errorf("uniform replacement did not cover the action space "+
			"\n\twant(%v actions)\n\thave(%v)", 3, len(seen))
	}
}
