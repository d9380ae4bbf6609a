// Package exploration implements exploration strategies, which wrap
// policies and modify their action selections to explore the
// environment
package exploration

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"

	"github.com/deepmdp/deepmdp/agent"
	"github.com/deepmdp/deepmdp/utils/floatutils"
)

// EpsilonGreedy wraps a policy and replaces its chosen action with a
// uniformly random one with probability ε. ε starts at a configured
// maximum and decays towards a configured minimum over the strategy's
// lifetime, by a fixed decrement per decay event in linear mode or by
// a fixed multiplicative rate in exponential mode.
//
// By default ε decays once per action selection. With episodic decay,
// ε decays only when EndEpisode signals that an episode completed.
type EpsilonGreedy struct {
	agent.Policy

	epsilon  float64
	interval r1.Interval

	episodicDecay bool
	decayRate     float64 // Exponential mode, <= 0 if unset
	decrement     float64 // Linear mode
	decayPeriod   int

	numActions int
	rng        *rand.Rand
}

// NewEpsilonGreedy creates and returns a new EpsilonGreedy exploration
// strategy wrapping the argument policy. ε decays from maxEpsilon to
// minEpsilon within decayRatio * totalTimesteps decay events, unless
// exponentialDecayRate is positive, in which case exponential decay by
// that rate is used instead and the linear parameters are ignored.
func NewEpsilonGreedy(p agent.Policy, numActions int,
	totalTimesteps int, maxEpsilon, minEpsilon, decayRatio float64,
	episodicDecay bool, exponentialDecayRate float64,
	seed uint64) (*EpsilonGreedy, error) {
	if numActions < 1 {
		return nil, fmt.Errorf("newepsilongreedy: cannot explore an "+
			"action space of %v actions", numActions)
	}

	if minEpsilon < 0 || maxEpsilon > 1 || minEpsilon > maxEpsilon {
		return nil, fmt.Errorf("newepsilongreedy: invalid epsilon range "+
			"[%v, %v]", minEpsilon, maxEpsilon)
	}

	strategy := &EpsilonGreedy{
		Policy:  p,
		epsilon: maxEpsilon,
		interval: r1.Interval{
			Min: minEpsilon,
			Max: maxEpsilon,
		},
		episodicDecay: episodicDecay,
		numActions:    numActions,
		rng:           rand.New(rand.NewSource(seed)),
	}

	// Exponential decay takes priority when both modes look configured
	if exponentialDecayRate > 0 {
		strategy.decayRate = exponentialDecayRate
		return strategy, nil
	}

	decayPeriod := int(float64(totalTimesteps) * decayRatio)
	if decayPeriod < 1 {
		return nil, fmt.Errorf("newepsilongreedy: no usable decay mode: "+
			"nonpositive linear decay period \n\twant(>= 1)\n\thave(%v)",
			decayPeriod)
	}
	strategy.decayPeriod = decayPeriod
	strategy.decrement = (maxEpsilon - minEpsilon) / float64(decayPeriod)

	return strategy, nil
}

// Epsilon returns the current value of ε
func (e *EpsilonGreedy) Epsilon() float64 {
	return e.epsilon
}

// SetEpsilon sets the current value of ε, clipped to the strategy's
// configured range. It is used to restore a strategy's decay progress
// after its agent is deserialized.
func (e *EpsilonGreedy) SetEpsilon(epsilon float64) {
	e.epsilon = floatutils.ClipInterval(epsilon, e.interval)
}

// SelectAction queries the wrapped policy for its preferred action,
// decays ε once, and with probability ε replaces the policy's choice
// with a uniformly random action. The returned info map is empty.
func (e *EpsilonGreedy) SelectAction(obs mat.Vector) (int,
	map[string]float64) {
	action, _ := e.Policy.SelectAction(obs)

	e.decay(false)
	if e.rng.Float64() < e.epsilon {
		action = e.rng.Intn(e.numActions)
	}

	return action, map[string]float64{}
}

// SelectActions queries the wrapped policy for its preferred actions
// and independently, for each, decays ε once and replaces the
// policy's choice with probability ε.
func (e *EpsilonGreedy) SelectActions(obs []mat.Vector) ([]int,
	[]map[string]float64) {
	actions, infos := e.Policy.SelectActions(obs)

	for i := range actions {
		e.decay(false)
		if e.rng.Float64() < e.epsilon {
			actions[i] = e.rng.Intn(e.numActions)
		}
	}

	return actions, infos
}

// EndEpisode signals that an episode completed. In episodic decay
// mode this triggers a single decay of ε; otherwise it is a no-op.
func (e *EpsilonGreedy) EndEpisode() {
	if !e.episodicDecay {
		return
	}
	e.decay(true)
}

// decay performs a single decay event. Once ε has reached its
// minimum, or when episodic decay is configured and no episode end is
// being signaled, ε is left unchanged.
func (e *EpsilonGreedy) decay(episodeDone bool) {
	if e.epsilon <= e.interval.Min {
		return
	}
	if e.episodicDecay && !episodeDone {
		return
	}

	if e.decayRate > 0 {
		e.epsilon *= e.decayRate
	} else {
		e.epsilon -= e.decrement
	}
	e.epsilon = floatutils.ClipInterval(e.epsilon, e.interval)
}
