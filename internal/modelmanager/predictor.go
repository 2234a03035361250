// Package modelmanager owns the single segmentation predictor
// instance: its lifecycle, accelerator device selection, preventive
// reload policy, and FIFO-serialized access.
package modelmanager

import "context"

// MemoryUsage is a snapshot of accelerator memory state.
type MemoryUsage struct {
	AllocatedBytes int64
	ReservedBytes  int64
	FreeBytes      int64
}

// Predictor is the opaque, fixed-contract inference backend the
// manager owns exactly one instance of at a time.
type Predictor interface {
	// Load opens the model at path on the given device ("accelerator" or
	// "host") and prepares it for inference.
	Load(path, device string) error
	// Unload releases the model and any device-side allocations.
	Unload() error
	// Predict runs one forward pass. input is channel-first float32 data
	// of exactly inputChannels*128*128*128 elements.
	Predict(ctx context.Context, input []float32, inputChannels int) (output []float32, outputClasses int, err error)
	// ExpectedInputChannels reports the channel count Predict requires.
	ExpectedInputChannels() int
	// ParameterCount reports the loaded model's parameter count, or 0
	// when unloaded.
	ParameterCount() int64
	// MemoryUsage reports the current accelerator memory snapshot.
	MemoryUsage() MemoryUsage
}
