// Package tracker implements metrics sinks which record labeled
// scalars generated during training and save them to disk
package tracker

import (
	"encoding/gob"
	"log"
	"os"
)

// Interface Tracker is a sink for labeled scalar records generated
// during training, such as auxiliary losses or epoch summaries. Each
// call to Record appends a value to the series stored under label.
// The Save() function then takes all cached data and saves it to disk.
//
// A Tracker is purely an observability collaborator: its absence must
// never affect training. Agents therefore treat a Tracker as transient
// state, excluded from any serialized snapshot and reattached after a
// restore.
type Tracker interface {
	Record(label string, value float64)
	Save() error
}

// Tabular is a Tracker that caches every recorded series in RAM and
// gob-encodes the label → series table to a file on Save.
type Tabular struct {
	data     map[string][]float64
	filename string
}

// NewTabular creates and returns a new *Tabular Tracker which saves
// its data to filename
func NewTabular(filename string) *Tabular {
	return &Tabular{
		data:     make(map[string][]float64),
		filename: filename,
	}
}

// Record appends value to the series stored under label
func (t *Tabular) Record(label string, value float64) {
	t.data[label] = append(t.data[label], value)
}

// Data returns the series recorded so far under label
func (t *Tabular) Data(label string) []float64 {
	return t.data[label]
}

// Save saves the data cached by the Tabular Tracker to disk
func (t *Tabular) Save() error {
	file, err := os.Create(t.filename)
	if err != nil {
		return err
	}
	defer file.Close()

	en := gob.NewEncoder(file)
	return en.Encode(t.data)
}

// Nop is a Tracker that discards every record. It stands in for an
// absent sink, e.g. on a freshly restored agent before a real Tracker
// has been reattached.
type Nop struct{}

// NewNop returns a new no-op Tracker
func NewNop() Nop { return Nop{} }

// Record implements the Tracker interface
func (Nop) Record(string, float64) {}

// Save implements the Tracker interface
func (Nop) Save() error { return nil }

// LoadData loads and returns the data saved by a Tabular Tracker
func LoadData(filename string) map[string][]float64 {
	file, err := os.Open(filename)
	if err != nil {
		log.Fatalf("could not open data file: %v", err)
	}
	defer file.Close()

	dec := gob.NewDecoder(file)
	data := make(map[string][]float64)

	err = dec.Decode(&data)
	if err != nil {
		log.Fatalf("could not decode data: %v", err)
	}

	return data
}
