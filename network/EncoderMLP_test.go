package network

import (
	"testing"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func newTestNet(t *testing.T, batch int) QNetwork {
	t.Helper()

	g := G.NewGraph()
	net, err := NewEncoderMLP(
		3, batch, 2, g,
		[]int{4}, []bool{true}, []*Activation{TanH()},
		[]int{}, []bool{}, []*Activation{},
		G.GlorotU(1.0),
	)
	if err != nil {
		t.Fatalf("could not create network: %v", err)
	}
	return net
}

// TestEncoderMLPForwardShapes checks the shapes of the action values
// and the embedding produced by a forward pass
func TestEncoderMLPForwardShapes(t *testing.T) {
	const batch = 5
	net := newTestNet(t, batch)

	vm := G.NewTapeMachine(net.Graph())
	defer vm.Close()

	input := make([]float64, batch*net.Features())
	for i := range input {
		input[i] = float64(i) * 0.1
	}
	if err := net.SetInput(input); err != nil {
		t.Fatalf("could not set input: %v", err)
	}
	if err := vm.RunAll(); err != nil {
		t.Fatalf("could not run forward pass: %v", err)
	}

	output := net.Output().Data().([]float64)
	if len(output) != batch*net.Outputs() {
		t.Errorf("wrong number of action values \n\twant(%v)\n\thave(%v)",
			batch*net.Outputs(), len(output))
	}

	embedding := net.EmbeddingOutput().Data().([]float64)
	if len(embedding) != batch*net.EmbeddingSize() {
		t.Errorf("wrong embedding size \n\twant(%v)\n\thave(%v)",
			batch*net.EmbeddingSize(), len(embedding))
	}
}

// TestEncoderMLPSetIndependence checks that Set copies parameter
// values rather than sharing them
func TestEncoderMLPSetIndependence(t *testing.T) {
	source := newTestNet(t, 1)

	cloned, err := source.Clone()
	if err != nil {
		t.Fatalf("could not clone network: %v", err)
	}
	dest := cloned.(QNetwork)

	if err := dest.Set(source); err != nil {
		t.Fatalf("could not set network: %v", err)
	}

	sourceLearnables := source.Learnables()
	destLearnables := dest.Learnables()
	if len(sourceLearnables) != len(destLearnables) {
		t.Fatalf("wrong number of learnables \n\twant(%v)\n\thave(%v)",
			len(sourceLearnables), len(destLearnables))
	}

	for i := range sourceLearnables {
		sourceData := sourceLearnables[i].Value().Data().([]float64)
		destData := destLearnables[i].Value().Data().([]float64)
		for j := range sourceData {
			if sourceData[j] != destData[j] {
				t.Fatalf("parameters differ after set at learnable %v "+
					"index %v", i, j)
			}
		}
	}

	// Changing the source must leave the copy untouched
	first := sourceLearnables[0]
	data := first.Value().Data().([]float64)
	changed := make([]float64, len(data))
	for i := range data {
		changed[i] = data[i] + 1.0
	}
	err = G.Let(first, tensor.New(
		tensor.WithShape(first.Shape()...),
		tensor.WithBacking(changed),
	))
	if err != nil {
		t.Fatalf("could not change source network: %v", err)
	}

	destData := destLearnables[0].Value().Data().([]float64)
	for j := range destData {
		if destData[j] == changed[j] {
			t.Fatalf("copy shares parameters with its source at index %v",
				j)
		}
	}
}

// TestEncoderMLPGobRoundTrip checks that an encoded network decodes to
// the same architecture and parameter values
func TestEncoderMLPGobRoundTrip(t *testing.T) {
	source := newTestNet(t, 3)

	encoded, err := source.(*encoderMLP).GobEncode()
	if err != nil {
		t.Fatalf("could not encode network: %v", err)
	}

	decoded, err := DecodeEncoderMLP(encoded)
	if err != nil {
		t.Fatalf("could not decode network: %v", err)
	}

	if decoded.Features() != source.Features() ||
		decoded.BatchSize() != source.BatchSize() ||
		decoded.Outputs() != source.Outputs() ||
		decoded.EmbeddingSize() != source.EmbeddingSize() {
		t.Fatal("decoded network has a different architecture")
	}

	sourceLearnables := source.Learnables()
	decodedLearnables := decoded.Learnables()
	for i := range sourceLearnables {
		sourceData := sourceLearnables[i].Value().Data().([]float64)
		decodedData := decodedLearnables[i].Value().Data().([]float64)
		for j := range sourceData {
			if sourceData[j] != decodedData[j] {
				t.Fatalf("parameters differ after decoding at learnable "+
					"%v index %v", i, j)
			}
		}
	}
}
