// Package expreplay implements experience replay buffers
package expreplay

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Transition represents a single environmental transition: taking
// Action in the state described by Observation resulted in Reward and
// the state described by NextObservation. Terminal denotes whether
// NextObservation ended the episode.
type Transition struct {
	Observation     mat.Vector
	Action          int
	Reward          float64
	NextObservation mat.Vector
	Terminal        bool
}

// Batch is a fixed-size batch of transitions sampled from a replay
// buffer. Observations and NextObservations are stored flat in
// row-major order, with sample i occupying the elements
// [i*FeatureSize, (i+1)*FeatureSize). Terminals holds 0-1 flags.
type Batch struct {
	Observations     []float64
	Actions          []int
	Rewards          []float64
	NextObservations []float64
	Terminals        []float64

	BatchSize   int
	FeatureSize int
}

// Config implements a specific configuration of a replay Buffer
type Config struct {
	MaxReplayCapacity int
	MinReplayCapacity int
	BatchSize         int
}

// Create creates and returns the Buffer with the specified Config. The
// featureSize parameter defines the length of observation vectors
// added to the buffer.
func (c Config) Create(featureSize int, seed uint64) (*Buffer, error) {
	return New(c.MinReplayCapacity, c.MaxReplayCapacity, c.BatchSize,
		featureSize, seed)
}

// Buffer implements an experience replay buffer of fixed maximum
// capacity. Once full, the oldest stored transition is overwritten by
// each new one. Sampling is uniform with replacement.
type Buffer struct {
	obsCache     []float64
	actionCache  []int
	rewardCache  []float64
	nextObsCache []float64
	termCache    []float64

	insertPos int
	full      bool

	rng *rand.Rand

	batchSize   int
	minCapacity int
	maxCapacity int
	featureSize int
}

// New creates and returns a new replay Buffer. The minCapacity
// parameter determines the number of transitions that must be stored
// before sampling is allowed, and maxCapacity the number stored before
// old transitions are overwritten.
func New(minCapacity, maxCapacity, batchSize, featureSize int,
	seed uint64) (*Buffer, error) {
	if minCapacity <= 0 {
		return nil, fmt.Errorf("new: minCapacity must be > 0")
	}
	if maxCapacity < 1 {
		return nil, fmt.Errorf("new: maxCapacity must be >= 1")
	}
	if maxCapacity < batchSize {
		return nil, fmt.Errorf("new: cannot have batch size(%v) > max "+
			"buffer capacity (%v)", batchSize, maxCapacity)
	}
	if featureSize < 1 {
		return nil, fmt.Errorf("new: featureSize must be >= 1")
	}

	source := rand.NewSource(seed)

	return &Buffer{
		obsCache:     make([]float64, maxCapacity*featureSize),
		actionCache:  make([]int, maxCapacity),
		rewardCache:  make([]float64, maxCapacity),
		nextObsCache: make([]float64, maxCapacity*featureSize),
		termCache:    make([]float64, maxCapacity),

		rng: rand.New(source),

		batchSize:   batchSize,
		minCapacity: minCapacity,
		maxCapacity: maxCapacity,
		featureSize: featureSize,
	}, nil
}

// NumStored returns the number of transitions currently stored in the
// buffer and available for sampling
func (b *Buffer) NumStored() int {
	if b.full {
		return b.maxCapacity
	}
	return b.insertPos
}

// BatchSize returns the number of samples returned by Sample()
func (b *Buffer) BatchSize() int {
	return b.batchSize
}

// MaxCapacity returns the maximum number of transitions that the
// buffer can hold
func (b *Buffer) MaxCapacity() int {
	return b.maxCapacity
}

// MinCapacity returns the number of transitions required to be in
// the buffer before the buffer can be sampled
func (b *Buffer) MinCapacity() int {
	return b.minCapacity
}

// Add adds a transition to the buffer, overwriting the oldest stored
// transition when the buffer is full
func (b *Buffer) Add(t Transition) error {
	if t.Observation.Len() != b.featureSize ||
		t.NextObservation.Len() != b.featureSize {
		return fmt.Errorf("add: invalid feature size \n\twant(%v)"+
			"\n\thave(%v)", b.featureSize, t.Observation.Len())
	}

	index := b.insertPos
	start := index * b.featureSize
	for i := 0; i < b.featureSize; i++ {
		b.obsCache[start+i] = t.Observation.AtVec(i)
		b.nextObsCache[start+i] = t.NextObservation.AtVec(i)
	}

	b.actionCache[index] = t.Action
	b.rewardCache[index] = t.Reward
	if t.Terminal {
		b.termCache[index] = 1.0
	} else {
		b.termCache[index] = 0.0
	}

	b.insertPos++
	if b.insertPos >= b.maxCapacity {
		b.insertPos = 0
		b.full = true
	}
	return nil
}

// Sample samples and returns a batch of transitions from the buffer.
// Transitions are chosen uniformly at random with replacement. An
// error is returned if the buffer is empty or holds fewer transitions
// than its minimum capacity; use IsEmptyBuffer and
// IsInsufficientSamples to check which.
func (b *Buffer) Sample() (*Batch, error) {
	if b.NumStored() == 0 {
		return nil, &ExpReplayError{
			Op:  "sample",
			Err: errEmptyBuffer,
		}
	}
	if b.NumStored() < b.minCapacity || b.NumStored() < b.batchSize {
		return nil, &ExpReplayError{
			Op:  "sample",
			Err: errInsufficientSamples,
		}
	}

	batch := &Batch{
		Observations:     make([]float64, b.batchSize*b.featureSize),
		Actions:          make([]int, b.batchSize),
		Rewards:          make([]float64, b.batchSize),
		NextObservations: make([]float64, b.batchSize*b.featureSize),
		Terminals:        make([]float64, b.batchSize),

		BatchSize:   b.batchSize,
		FeatureSize: b.featureSize,
	}

	for i := 0; i < b.batchSize; i++ {
		index := b.rng.Intn(b.NumStored())

		batchStart := i * b.featureSize
		cacheStart := index * b.featureSize
		copy(batch.Observations[batchStart:batchStart+b.featureSize],
			b.obsCache[cacheStart:cacheStart+b.featureSize],
		)
		copy(batch.NextObservations[batchStart:batchStart+b.featureSize],
			b.nextObsCache[cacheStart:cacheStart+b.featureSize],
		)

		batch.Actions[i] = b.actionCache[index]
		batch.Rewards[i] = b.rewardCache[index]
		batch.Terminals[i] = b.termCache[index]
	}

	return batch, nil
}
