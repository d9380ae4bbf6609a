package expreplay

import (
	"testing"

	"gonum.org/v1/gonum/mat"
)

// transition constructs a Transition whose observation components all
// equal id, making stored transitions distinguishable after sampling.
func transition(id int, featureSize int) Transition {
	obs := make([]float64, featureSize)
	nextObs := make([]float64, featureSize)
	for i := range obs {
		obs[i] = float64(id)
		nextObs[i] = float64(id + 1)
	}

	return Transition{
		Observation:     mat.NewVecDense(featureSize, obs),
		Action:          id % 3,
		Reward:          float64(id),
		NextObservation: mat.NewVecDense(featureSize, nextObs),
		Terminal:        id%2 == 0,
	}
}

func TestSampleEmptyBuffer(t *testing.T) {
	buffer, err := New(1, 10, 2, 4, 1)
	if err != nil {
		t.Fatalf("could not create buffer: %v", err)
	}

	_, err = buffer.Sample()
	if err == nil {
		t.Fatal("expected error when sampling empty buffer")
	}
	if !IsEmptyBuffer(err) {
		t.Errorf("expected empty buffer error, got: %v", err)
	}
}

func TestSampleInsufficientSamples(t *testing.T) {
	buffer, err := New(5, 10, 2, 4, 1)
	if err != nil {
		t.Fatalf("could not create buffer: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := buffer.Add(transition(i, 4)); err != nil {
			t.Fatalf("could not add transition: %v", err)
		}
	}

	_, err = buffer.Sample()
	if err == nil {
		t.Fatal("expected error when buffer below min capacity")
	}
	if !IsInsufficientSamples(err) {
		t.Errorf("expected insufficient samples error, got: %v", err)
	}
	if IsEmptyBuffer(err) {
		t.Error("insufficient samples error misreported as empty buffer")
	}
}

func TestAddWrongFeatureSize(t *testing.T) {
	buffer, err := New(1, 10, 2, 4, 1)
	if err != nil {
		t.Fatalf("could not create buffer: %v", err)
	}

	if err := buffer.Add(transition(0, 3)); err == nil {
		t.Error("expected error when adding wrong-sized observation")
	}
}

func TestSampleBatchLayout(t *testing.T) {
	const featureSize = 4
	const batchSize = 8

	buffer, err := New(1, 32, batchSize, featureSize, 17)
	if err != nil {
		t.Fatalf("could not create buffer: %v", err)
	}

	for i := 0; i < 16; i++ {
		if err := buffer.Add(transition(i, featureSize)); err != nil {
			t.Fatalf("could not add transition: %v", err)
		}
	}

	batch, err := buffer.Sample()
	if err != nil {
		t.Fatalf("could not sample: %v", err)
	}

	if batch.BatchSize != batchSize || batch.FeatureSize != featureSize {
		t.Fatalf("wrong batch dimensions \n\twant(%v × %v)\n\thave(%v × %v)",
			batchSize, featureSize, batch.BatchSize, batch.FeatureSize)
	}
	if len(batch.Observations) != batchSize*featureSize {
		t.Fatalf("wrong observation length \n\twant(%v)\n\thave(%v)",
			batchSize*featureSize, len(batch.Observations))
	}

	// Each sampled row should be internally consistent with a stored
	// transition: observation components equal the id, reward equals
	// the id, next observation components equal id+1.
	for i := 0; i < batchSize; i++ {
		id := batch.Rewards[i]
		for j := 0; j < featureSize; j++ {
			if batch.Observations[i*featureSize+j] != id {
				t.Errorf("sample %v: observation does not match stored "+
					"transition \n\twant(%v)\n\thave(%v)",
					i, id, batch.Observations[i*featureSize+j])
			}
			if batch.NextObservations[i*featureSize+j] != id+1 {
				t.Errorf("sample %v: next observation does not match stored "+
					"transition \n\twant(%v)\n\thave(%v)",
					i, id+1, batch.NextObservations[i*featureSize+j])
			}
		}
		if batch.Actions[i] != int(id)%3 {
			t.Errorf("sample %v: action does not match stored transition",
				i)
		}
		wantTerm := 0.0
		if int(id)%2 == 0 {
			wantTerm = 1.0
		}
		if batch.Terminals[i] != wantTerm {
			t.Errorf("sample %v: terminal flag does not match stored "+
				"transition \n\twant(%v)\n\thave(%v)",
				i, wantTerm, batch.Terminals[i])
		}
	}
}

func TestOldestOverwrittenWhenFull(t *testing.T) {
	const featureSize = 2
	const maxCapacity = 4

	buffer, err := New(1, maxCapacity, 1, featureSize, 3)
	if err != nil {
		t.Fatalf("could not create buffer: %v", err)
	}

	for i := 0; i < maxCapacity+2; i++ {
		if err := buffer.Add(transition(i, featureSize)); err != nil {
			t.Fatalf("could not add transition: %v", err)
		}
	}

	if buffer.NumStored() != maxCapacity {
		t.Fatalf("wrong number stored \n\twant(%v)\n\thave(%v)",
			maxCapacity, buffer.NumStored())
	}

	// Transitions 0 and 1 were overwritten by 4 and 5; every sampled
	// reward must identify one of the surviving transitions.
	for i := 0; i < 50; i++ {
		batch, err := buffer.Sample()
		if err != nil {
			t.Fatalf("could not sample: %v", err)
		}
		if batch.Rewards[0] < 2 || batch.Rewards[0] > 5 {
			t.Fatalf("sampled an overwritten transition (reward %v)",
				batch.Rewards[0])
		}
	}
}
