// Package checkpointer implements functionality for periodically
// saving agents during an experiment
package checkpointer

// Serializable is an object that can save its state to a file
type Serializable interface {
	Save(filename string) error
}

// Checkpointer saves serializable objects on some cadence over the
// iterations of an experiment
type Checkpointer interface {
	Checkpoint(itr int) error
}

// nStep implements checkpointing every N training iterations
type nStep struct {
	interval int
	object   Serializable

	// filename returns the name of the file to save the object in.
	// Use FilenameEnumerator for numbered files or FileTimer for
	// timestamped files.
	filename func() string
}

// NewNStep returns a checkpointer that checkpoints every n training
// iterations.
func NewNStep(n int, object Serializable,
	filename func() string) Checkpointer {
	return &nStep{
		interval: n,
		object:   object,
		filename: filename,
	}
}

// Checkpoint saves the tracked object if the argument iteration falls
// on the checkpointing cadence
func (n *nStep) Checkpoint(itr int) error {
	if itr%n.interval == 0 {
		return n.object.Save(n.filename())
	}
	return nil
}
