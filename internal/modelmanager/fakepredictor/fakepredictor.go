// Package fakepredictor is a deterministic in-memory stand-in for the
// ONNX-backed predictor, used by tests so the model manager's state
// machine and serialization policy can be exercised without a real
// model file or accelerator, following dicomforge's own
// deterministic-seed testing philosophy.
package fakepredictor

import (
	"context"
	"sync"
	"time"

	"github.com/brainvol/segforge/internal/modelmanager"
)

const (
	inputChannels  = 4
	outputClasses  = 5 // background + 4 foreground classes
	volumeDim      = 128
)

// Predictor deterministically argmax-picks class 1 for any voxel whose
// channel-0 input exceeds threshold, else background, so tests can
// assert on a known segmentation shape without real model weights.
type Predictor struct {
	mu          sync.Mutex
	loaded      bool
	device      string
	failLoad    bool
	failPredict bool
	delay       time.Duration
}

// New returns an unloaded fake predictor.
func New() *Predictor {
	return &Predictor{}
}

// FailNextLoad makes the next Load call return an error, for testing
// the manager's ensure_loaded failure path.
func (p *Predictor) FailNextLoad(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failLoad = fail
}

// FailNextPredict makes the next Predict call return an error, for
// testing the manager's force_cleanup-on-failure path.
func (p *Predictor) FailNextPredict(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failPredict = fail
}

// SetDelay makes every subsequent Predict call block for d before
// producing output, honoring ctx cancellation meanwhile. Used to
// exercise the model manager's whole-pipeline timeout path.
func (p *Predictor) SetDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
}

func (p *Predictor) Load(path, device string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failLoad {
		p.failLoad = false
		return errLoad
	}
	p.loaded = true
	p.device = device
	return nil
}

func (p *Predictor) Unload() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaded = false
	return nil
}

func (p *Predictor) Predict(ctx context.Context, input []float32, channels int) ([]float32, int, error) {
	p.mu.Lock()
	fail := p.failPredict
	delay := p.delay
	p.failPredict = false
	p.mu.Unlock()

	if fail {
		return nil, 0, errPredict
	}

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-timer.C:
		}
	}

	n := volumeDim * volumeDim * volumeDim
	out := make([]float32, n*outputClasses)
	for i := 0; i < n; i++ {
		// One-hot logits: class 1 if channel-0 input is "bright", else background.
		cls := 0
		if input[i] > 0.5 {
			cls = 1
		}
		out[i*outputClasses+cls] = 1
	}
	return out, outputClasses, nil
}

func (p *Predictor) ExpectedInputChannels() int { return inputChannels }

func (p *Predictor) ParameterCount() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.loaded {
		return 0
	}
	return 1024
}

func (p *Predictor) MemoryUsage() modelmanager.MemoryUsage {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.loaded {
		return modelmanager.MemoryUsage{}
	}
	return modelmanager.MemoryUsage{AllocatedBytes: 1 << 20, ReservedBytes: 2 << 20, FreeBytes: 6 << 20}
}

type fakeError string

func (e fakeError) Error() string { return string(e) }

const (
	errLoad    fakeError = "fakepredictor: simulated load failure"
	errPredict fakeError = "fakepredictor: simulated predict failure"
)
