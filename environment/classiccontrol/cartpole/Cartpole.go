// Package cartpole implements the classic cart and pole balancing
// environment with discrete actions
package cartpole

import (
	"math"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"

	"github.com/deepmdp/deepmdp/environment"
)

const (
	Gravity        float64 = 9.8
	MassCart       float64 = 1.0
	MassPole       float64 = 0.1
	TotalMass      float64 = MassCart + MassPole
	HalfPoleLength float64 = 0.5
	PoleMassLength float64 = MassPole * HalfPoleLength
	ForceMag       float64 = 10.0
	Dt             float64 = 0.02

	// Episode failure thresholds
	XThreshold     float64 = 2.4
	ThetaThreshold float64 = 12.0 * math.Pi / 180.0

	// Start states are sampled uniformly from [-StartBound, StartBound]
	StartBound float64 = 0.05

	ObservationDims int = 4
	NumActions      int = 2
)

// Cartpole implements the cart and pole balancing task. A pole is
// attached to a cart which moves along a track. The agent applies a
// force of -ForceMag or +ForceMag to the cart, and the episode ends
// when the pole falls past ThetaThreshold radians or the cart leaves
// [-XThreshold, XThreshold]. A reward of 1 is given on every step
// until failure, and episodes are cut off at maxSteps.
//
// Observations are (x, ẋ, θ, θ̇).
type Cartpole struct {
	x, xDot, theta, thetaDot float64

	steps    int
	maxSteps int

	obsSpace    environment.Box
	actionSpace environment.Discrete

	rng *rand.Rand
}

// New creates and returns a new Cartpole environment with episodes cut
// off at maxSteps timesteps
func New(maxSteps int, seed uint64) *Cartpole {
	source := rand.NewSource(seed)

	low := mat.NewVecDense(ObservationDims, []float64{
		-XThreshold, math.Inf(-1), -ThetaThreshold, math.Inf(-1),
	})
	high := mat.NewVecDense(ObservationDims, []float64{
		XThreshold, math.Inf(1), ThetaThreshold, math.Inf(1),
	})

	return &Cartpole{
		maxSteps: maxSteps,
		obsSpace: environment.NewBox([]int{ObservationDims}, low, high,
			tensor.Float64),
		actionSpace: environment.Discrete{N: NumActions},
		rng:         rand.New(source),
	}
}

// Reset resets the environment to a randomized start state and returns
// the starting observation
func (c *Cartpole) Reset() mat.Vector {
	c.x = c.startValue()
	c.xDot = c.startValue()
	c.theta = c.startValue()
	c.thetaDot = c.startValue()
	c.steps = 0
	return c.observation()
}

// Step applies action 0 (push left) or 1 (push right) to the cart and
// advances the physics by a single timestep
func (c *Cartpole) Step(action int) (mat.Vector, float64, bool,
	map[string]interface{}) {
	force := ForceMag
	if action == 0 {
		force = -ForceMag
	}

	cosTheta := math.Cos(c.theta)
	sinTheta := math.Sin(c.theta)

	temp := (force + PoleMassLength*c.thetaDot*c.thetaDot*sinTheta) /
		TotalMass
	thetaAcc := (Gravity*sinTheta - cosTheta*temp) /
		(HalfPoleLength * (4.0/3.0 - MassPole*cosTheta*cosTheta/TotalMass))
	xAcc := temp - PoleMassLength*thetaAcc*cosTheta/TotalMass

	c.x += Dt * c.xDot
	c.xDot += Dt * xAcc
	c.theta += Dt * c.thetaDot
	c.thetaDot += Dt * thetaAcc
	c.steps++

	failed := c.x < -XThreshold || c.x > XThreshold ||
		c.theta < -ThetaThreshold || c.theta > ThetaThreshold
	done := failed || c.steps >= c.maxSteps

	reward := 1.0
	if failed {
		reward = 0.0
	}

	return c.observation(), reward, done, nil
}

// ObservationSpace returns the space of environmental observations
func (c *Cartpole) ObservationSpace() environment.Space {
	return c.obsSpace
}

// ActionSpace returns the space of available actions
func (c *Cartpole) ActionSpace() environment.Space {
	return c.actionSpace
}

func (c *Cartpole) startValue() float64 {
	return c.rng.Float64()*2.0*StartBound - StartBound
}

func (c *Cartpole) observation() mat.Vector {
	return mat.NewVecDense(ObservationDims, []float64{
		c.x, c.xDot, c.theta, c.thetaDot,
	})
}
