// Package environment outlines the interfaces and structs needed to
// implement concrete environments
package environment

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// Space describes the set of values that an observation or an action
// may take in an environment.
type Space interface {
	// Len returns the number of scalar components of a single element
	// of the Space
	Len() int
}

// Box implements a bounded, fixed-shape space of real values. An
// element of a Box is represented as a flattened (row-major)
// mat.Vector, with Shape describing the logical dimensions of the
// element.
type Box struct {
	Shape []int

	// Flattened bounds, one entry per scalar component
	Low  mat.Vector
	High mat.Vector

	Dtype tensor.Dtype
}

// NewBox constructs a new Box space. The low and high arguments are
// the flattened component-wise bounds and must have length equal to
// the product of shape.
func NewBox(shape []int, low, high mat.Vector, dtype tensor.Dtype) Box {
	b := Box{Shape: shape, Low: low, High: high, Dtype: dtype}
	if low.Len() != b.Len() || high.Len() != b.Len() {
		panic(fmt.Sprintf("newbox: bounds length must match space length "+
			"\n\twant(%v) \n\thave(%v, %v)", b.Len(), low.Len(), high.Len()))
	}
	return b
}

// NewUniformBox constructs a Box space whose components all share the
// same scalar bounds.
func NewUniformBox(shape []int, low, high float64, dtype tensor.Dtype) Box {
	length := 1
	for _, dim := range shape {
		length *= dim
	}

	lows := make([]float64, length)
	highs := make([]float64, length)
	for i := 0; i < length; i++ {
		lows[i] = low
		highs[i] = high
	}

	return Box{
		Shape: shape,
		Low:   mat.NewVecDense(length, lows),
		High:  mat.NewVecDense(length, highs),
		Dtype: dtype,
	}
}

// Len returns the number of scalar components of an element of the Box
func (b Box) Len() int {
	length := 1
	for _, dim := range b.Shape {
		length *= dim
	}
	return length
}

// Discrete implements a space of N discrete actions, enumerated from 0
type Discrete struct {
	N int
}

// Len returns the number of scalar components of an element of the
// space. Discrete actions are always single integers.
func (d Discrete) Len() int {
	return 1
}

// Environment implements a simulated environment that an agent
// interacts with through discrete actions
type Environment interface {
	// Reset resets the environment between episodes and returns the
	// starting observation
	Reset() mat.Vector

	// Step takes one environmental step given an action and returns
	// the next observation, the reward, whether the episode has
	// terminated, and any extra diagnostic information
	Step(action int) (mat.Vector, float64, bool, map[string]interface{})

	ObservationSpace() Space
	ActionSpace() Space
}
