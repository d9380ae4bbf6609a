// Package agent defines an agent interface
package agent

import (
	"gonum.org/v1/gonum/mat"

	"github.com/deepmdp/deepmdp/expreplay"
)

// Agent determines the implementation details of an agent or algorithm
//
// An Agent is composed of a Learner, which learns weights, and a Policy
// which chooses actions in each state. The Policy chooses which actions
// are taken, and the Learner uses these actions to update the Policy.
type Agent interface {
	Learner
	Policy
}

// Learner implements a learning algorithm that defines how weights are
// updated.
type Learner interface {
	// Observe records a single environmental transition so that it can
	// later be sampled for learning
	Observe(t expreplay.Transition) error

	// TrainOnce performs a single outer training iteration given the
	// rollout paths collected since the last iteration
	TrainOnce(itr int, paths []Path) error

	// EndEpisode performs cleanup at the end of an episode
	EndEpisode()
}

// Policy represents a policy that an agent can have.
//
// Policies determine how agents select actions. The info map returned
// alongside an action carries per-action metadata, such as the chosen
// action's estimated value.
type Policy interface {
	SelectAction(obs mat.Vector) (int, map[string]float64)
	SelectActions(obs []mat.Vector) ([]int, []map[string]float64)
}

// ValueReporter is a Policy that can report the action values it
// predicted during its most recent action selection. Experiments use
// this to record per-step value estimates for episode statistics.
type ValueReporter interface {
	ActionValues() []float64
}

// Path records a single rollout segment: the rewards seen on each
// step, the behaviour policy's value estimate for each chosen action,
// and whether the final step ended the episode. Learners aggregate
// completed paths into episodic statistics.
type Path struct {
	Rewards  []float64
	QVals    []float64
	Terminal bool
}

// Return computes the undiscounted return of the path
func (p Path) Return() float64 {
	total := 0.0
	for _, r := range p.Rewards {
		total += r
	}
	return total
}

// Len returns the number of steps in the path
func (p Path) Len() int {
	return len(p.Rewards)
}
