// Package wrappers provides wrappers for environments
package wrappers

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/deepmdp/deepmdp/environment"
)

// FrameStack wraps an environment so that each observation is built
// from the last NFrames raw observations. This is useful for training
// feed-forward agents on dynamic tasks, where a single frame does not
// carry velocity information.
//
// The wrapper owns a bounded, ordered buffer of the last NFrames raw
// observations. The oldest frame is evicted once the buffer is full,
// and the buffer is cleared on every environment reset.
//
// When constructed with no-op prefill, Reset() steps the wrapped
// environment NFrames-1 times with the no-op action so that the buffer
// holds distinct frames before real interaction begins. This advances
// real environment state during the reset. That trade-off is
// intentional: the alternative of repeating the initial frame hands
// the agent a stack of identical observations.
type FrameStack struct {
	environment.Environment

	nFrames  int
	frames   [][]float64
	frameLen int

	// Number of logical dimensions of a raw observation. Controls the
	// stacking rule in stack().
	obsSpaceDims int

	doNoops    bool
	noopAction int

	obsSpace environment.Box
}

// NewFrameStack wraps env so that observations are stacks of the last
// nFrames raw observations. If doNoops is true, each Reset() prefills
// the frame buffer by stepping the environment with the no-op action
// (action 0) nFrames-1 times; otherwise the initial observation is
// repeated nFrames times.
//
// The wrapped environment must have a Box observation space.
func NewFrameStack(env environment.Environment, nFrames int,
	doNoops bool) (*FrameStack, error) {
	box, ok := env.ObservationSpace().(environment.Box)
	if !ok {
		return nil, fmt.Errorf("framestack: observation space must be a "+
			"Box, got %T", env.ObservationSpace())
	}

	if nFrames < 1 {
		return nil, fmt.Errorf("framestack: nFrames must be positive "+
			"\n\twant(>0) \n\thave(%v)", nFrames)
	}

	// The stacked space has the same shape as the wrapped space with an
	// appended frame-count axis. Scalar bounds are taken from the first
	// component of the wrapped bounds.
	newShape := make([]int, len(box.Shape), len(box.Shape)+1)
	copy(newShape, box.Shape)
	newShape = append(newShape, nFrames)
	obsSpace := environment.NewUniformBox(newShape, box.Low.AtVec(0),
		box.High.AtVec(0), box.Dtype)

	return &FrameStack{
		Environment:  env,
		nFrames:      nFrames,
		frames:       make([][]float64, 0, nFrames),
		frameLen:     box.Len(),
		obsSpaceDims: len(box.Shape),
		doNoops:      doNoops,
		noopAction:   0,
		obsSpace:     obsSpace,
	}, nil
}

// ObservationSpace returns the space of stacked observations
func (f *FrameStack) ObservationSpace() environment.Space {
	return f.obsSpace
}

// NFrames returns the number of raw observations in a stack
func (f *FrameStack) NFrames() int {
	return f.nFrames
}

// Reset resets the wrapped environment, refills the frame buffer, and
// returns the first stacked observation of the episode
func (f *FrameStack) Reset() mat.Vector {
	obs := f.Environment.Reset()
	f.frames = f.frames[:0]

	if f.doNoops {
		f.append(obs)
		for i := 0; i < f.nFrames-1; i++ {
			next, _, _, _ := f.Environment.Step(f.noopAction)
			f.append(next)
		}
	} else {
		for i := 0; i < f.nFrames; i++ {
			f.append(obs)
		}
	}

	return f.stack()
}

// Step takes one step in the wrapped environment and returns the
// stacked observation along with the wrapped environment's reward,
// episode termination flag, and diagnostic information
func (f *FrameStack) Step(action int) (mat.Vector, float64, bool,
	map[string]interface{}) {
	obs, reward, done, info := f.Environment.Step(action)
	f.append(obs)
	return f.stack(), reward, done, info
}

// append adds a raw observation to the frame buffer, evicting the
// oldest frame if the buffer is full
func (f *FrameStack) append(obs mat.Vector) {
	frame := make([]float64, f.frameLen)
	for i := 0; i < f.frameLen; i++ {
		frame[i] = obs.AtVec(i)
	}

	if len(f.frames) >= f.nFrames {
		copy(f.frames, f.frames[1:])
		f.frames = f.frames[:f.nFrames-1]
	}
	f.frames = append(f.frames, frame)
}

// stack combines the buffered frames into a single flattened
// observation. Two-dimensional observations are stacked along a new
// trailing axis, so that in the flattened result the frame index
// varies fastest. Other observations are concatenated oldest-first.
func (f *FrameStack) stack() mat.Vector {
	stacked := make([]float64, f.frameLen*f.nFrames)

	if f.obsSpaceDims == 2 {
		for pos := 0; pos < f.frameLen; pos++ {
			for k, frame := range f.frames {
				stacked[pos*f.nFrames+k] = frame[pos]
			}
		}
	} else {
		for k, frame := range f.frames {
			copy(stacked[k*f.frameLen:(k+1)*f.frameLen], frame)
		}
	}

	return mat.NewVecDense(len(stacked), stacked)
}
