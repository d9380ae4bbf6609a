// Package experiment implements functionality for running an
// experiment. An experiment drives the interaction between an
// environment and an agent: each training iteration collects a fixed
// number of environmental steps into paths, hands the paths to the
// agent's training entry point, and periodically checkpoints the
// agent.
package experiment

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/deepmdp/deepmdp/agent"
	env "github.com/deepmdp/deepmdp/environment"
	"github.com/deepmdp/deepmdp/experiment/checkpointer"
	"github.com/deepmdp/deepmdp/expreplay"
	"github.com/deepmdp/deepmdp/utils/progressbar"
)

// Experiment outlines structs that can run experiments
type Experiment interface {
	Run() error
}

// Online is an Experiment that runs an agent online only. No offline
// evaluation is performed.
type Online struct {
	environment env.Environment
	agent       agent.Agent

	maxIterations     int
	stepsPerIteration int

	checkpointers []checkpointer.Checkpointer
	progress      *progressbar.ManualProgressBar
	timedProgress *progressbar.ProgressBar

	// Rollout state carried across iterations so that episodes may
	// span iteration boundaries
	obs     mat.Vector
	path    agent.Path
	started bool
}

// NewOnline creates and returns a new online experiment on a given
// environment with a given agent. Each of maxIterations training
// iterations collects stepsPerIteration environmental steps before
// calling the agent's TrainOnce method.
func NewOnline(e env.Environment, a agent.Agent, maxIterations,
	stepsPerIteration int,
	checkpointers ...checkpointer.Checkpointer) *Online {
	return &Online{
		environment:       e,
		agent:             a,
		maxIterations:     maxIterations,
		stepsPerIteration: stepsPerIteration,
		checkpointers:     checkpointers,
	}
}

// Register registers a checkpointer.Checkpointer with the (possibly
// already running) experiment
func (o *Online) Register(c checkpointer.Checkpointer) {
	o.checkpointers = append(o.checkpointers, c)
}

// DisplayProgress enables a terminal progress bar of the given
// character width over the experiment's training iterations. The bar
// is redrawn after every iteration.
func (o *Online) DisplayProgress(width int) {
	o.progress = progressbar.NewManualProgressBar(width, o.maxIterations)
	o.timedProgress = nil
}

// DisplayProgressEvery enables a terminal progress bar of the given
// character width which redraws itself every redrawEvery, rather than
// once per iteration. This keeps the elapsed-time display live when
// single iterations take a long time.
func (o *Online) DisplayProgressEvery(width int,
	redrawEvery time.Duration) {
	o.timedProgress = progressbar.NewProgressBar(width, o.maxIterations,
		redrawEvery, true)
	o.progress = nil
}

// Run runs the entire experiment for all training iterations
func (o *Online) Run() error {
	if o.timedProgress != nil {
		o.timedProgress.Display()
		defer o.timedProgress.Close()
	}

	for itr := 0; itr < o.maxIterations; itr++ {
		paths, err := o.rollout()
		if err != nil {
			return fmt.Errorf("run: %v", err)
		}

		if err := o.agent.TrainOnce(itr, paths); err != nil {
			return fmt.Errorf("run: %v", err)
		}

		for _, c := range o.checkpointers {
			if err := c.Checkpoint(itr); err != nil {
				return fmt.Errorf("run: could not checkpoint: %v", err)
			}
		}

		if o.progress != nil {
			o.progress.Increment()
			o.progress.Display()
		}
		if o.timedProgress != nil {
			o.timedProgress.Increment()
		}
	}
	return nil
}

// rollout collects one iteration's worth of environmental steps,
// cutting paths at episode ends. A path still in progress when the
// iteration ends is returned without its terminal
// flag set and continues into the next iteration.
func (o *Online) rollout() ([]agent.Path, error) {
	if !o.started {
		o.obs = o.environment.Reset()
		o.started = true
	}

	var paths []agent.Path
	for step := 0; step < o.stepsPerIteration; step++ {
		action, _ := o.agent.SelectAction(o.obs)

		if reporter, ok := o.agent.(agent.ValueReporter); ok {
			if values := reporter.ActionValues(); values != nil {
				o.path.QVals = append(o.path.QVals, values[action])
			}
		}

		nextObs, reward, done, _ := o.environment.Step(action)
		o.path.Rewards = append(o.path.Rewards, reward)

		err := o.agent.Observe(expreplay.Transition{
			Observation:     o.obs,
			Action:          action,
			Reward:          reward,
			NextObservation: nextObs,
			Terminal:        done,
		})
		if err != nil {
			return nil, fmt.Errorf("rollout: %v", err)
		}

		o.obs = nextObs
		if done {
			o.path.Terminal = true
			paths = append(paths, o.path)
			o.path = agent.Path{}

			o.agent.EndEpisode()
			o.obs = o.environment.Reset()
		}
	}

	if o.path.Len() > 0 {
		paths = append(paths, o.path)
	}

	return paths, nil
}
