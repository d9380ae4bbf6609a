package main

import (
	"fmt"
	"log"

	"github.com/deepmdp/deepmdp/agent/nonlinear/discrete/dqn"
	"github.com/deepmdp/deepmdp/environment/classiccontrol/cartpole"
	"github.com/deepmdp/deepmdp/environment/wrappers"
	"github.com/deepmdp/deepmdp/experiment"
	"github.com/deepmdp/deepmdp/experiment/checkpointer"
	"github.com/deepmdp/deepmdp/expreplay"
	"github.com/deepmdp/deepmdp/initwfn"
	"github.com/deepmdp/deepmdp/network"
	"github.com/deepmdp/deepmdp/solver"
	"github.com/deepmdp/deepmdp/tracker"
)

func main() {
	var seed uint64 = 192382

	// Cartpole with the last 4 observations stacked into each
	// observation the agent sees
	env, err := wrappers.NewFrameStack(cartpole.New(500, seed), 4, false)
	if err != nil {
		log.Fatalf("could not create environment: %v", err)
	}

	adam, err := solver.NewDefaultAdam(0.001, 64)
	if err != nil {
		log.Fatalf("could not create solver: %v", err)
	}
	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		log.Fatalf("could not create weight initializer: %v", err)
	}

	config := dqn.Config{
		EncoderLayers:      []int{64, 32},
		EncoderBiases:      []bool{true, true},
		EncoderActivations: []*network.Activation{network.ReLU(), network.ReLU()},

		HeadLayers:      []int{32},
		HeadBiases:      []bool{true},
		HeadActivations: []*network.Activation{network.ReLU()},

		AuxiliaryLayers:      []int{32},
		AuxiliaryBiases:      []bool{true},
		AuxiliaryActivations: []*network.Activation{network.ReLU()},

		Solver:  adam,
		InitWFn: init,

		ExpReplay: expreplay.Config{
			MaxReplayCapacity: 100000,
			MinReplayCapacity: 1000,
			BatchSize:         64,
		},

		Discount:         0.99,
		TargetUpdateFreq: 5,
		NEpochCycles:     20,
		NTrainSteps:      50,

		UseRewardAuxiliary:     true,
		UseTransitionAuxiliary: true,
		PenaltyLambda:          0.01,

		MaxEpsilon:           1.0,
		MinEpsilon:           0.02,
		DecayRatio:           0.4,
		TotalTimesteps:       100000,
		EpisodicDecay:        true,
		ExponentialDecayRate: 0.99,
	}

	a, err := config.CreateAgent(env, seed)
	if err != nil {
		log.Fatalf("could not create agent: %v", err)
	}
	agent := a.(*dqn.DQN)

	sink := tracker.NewTabular("data.bin")
	agent.SetTracker(sink)

	check := checkpointer.NewNStep(100, agent,
		checkpointer.FilenameEnumerator(0, "checkpoint", ".bin"))

	exp := experiment.NewOnline(env, agent, 1000, 500, check)
	exp.DisplayProgress(50)
	if err := exp.Run(); err != nil {
		log.Fatalf("experiment failed: %v", err)
	}

	if err := sink.Save(); err != nil {
		log.Fatalf("could not save training data: %v", err)
	}

	fmt.Println()
	data := tracker.LoadData("data.bin")
	rewards := data["Episode100RewardMean"]
	if len(rewards) > 0 {
		fmt.Printf("Final mean reward over last 100 episodes: %v\n",
			rewards[len(rewards)-1])
	}
}
