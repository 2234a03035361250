// Package onnx backs modelmanager.Predictor with an ONNX Runtime
// session running the segmentation network, grounded on
// switchAILocal's embedding engine's onnxruntime_go usage.
package onnx

import (
	"context"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/brainvol/segforge/internal/modelmanager"
)

// envOnce ensures the process-wide ONNX Runtime environment is
// initialized exactly once, since onnxruntime_go's environment is a
// single global regardless of how many predictors load models.
var (
	envOnce sync.Once
	envErr  error
)

func initEnvironment(sharedLibPath string) error {
	envOnce.Do(func() {
		if sharedLibPath != "" {
			ort.SetSharedLibraryPath(sharedLibPath)
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

const (
	inputChannels = 4
	volumeDim     = 128
	outputClasses = 5

	inputName  = "input"
	outputName = "output"
)

// Predictor runs the segmentation network as a single ONNX graph.
type Predictor struct {
	mu             sync.Mutex
	session        *ort.DynamicAdvancedSession
	parameterCount int64
	sharedLibPath  string
}

// New returns an unloaded ONNX-backed predictor. sharedLibPath may be
// empty to use onnxruntime_go's platform default.
func New(sharedLibPath string) *Predictor {
	return &Predictor{sharedLibPath: sharedLibPath}
}

// Load initializes the ONNX Runtime environment (once per process) and
// opens the session at path. device selects the execution provider:
// "accelerator" requests CUDA, falling back to the host provider on
// construction failure since device selection is a one-shot decision.
func (p *Predictor) Load(path, device string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := initEnvironment(p.sharedLibPath); err != nil {
		return fmt.Errorf("initialize onnxruntime environment: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("create session options: %w", err)
	}
	defer options.Destroy()

	if device == "accelerator" {
		if cudaOpts, cudaErr := ort.NewCUDAProviderOptions(); cudaErr == nil {
			_ = options.AppendExecutionProviderCUDA(cudaOpts)
			cudaOpts.Destroy()
		}
		// Falls through to host execution if CUDA isn't available; the
		// session still loads, just without the accelerator provider.
	}

	session, err := ort.NewDynamicAdvancedSession(path, []string{inputName}, []string{outputName}, options)
	if err != nil {
		return fmt.Errorf("load ONNX model %s: %w", path, err)
	}
	p.session = session
	p.parameterCount = estimateParameterCount(path)
	return nil
}

func (p *Predictor) Unload() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		p.session.Destroy()
		p.session = nil
	}
	p.parameterCount = 0
	return nil
}

// Predict runs one forward pass over a channel-first (C,128,128,128)
// float32 volume, returning softmax-ready class logits.
func (p *Predictor) Predict(ctx context.Context, input []float32, channels int) ([]float32, int, error) {
	p.mu.Lock()
	session := p.session
	p.mu.Unlock()

	if session == nil {
		return nil, 0, fmt.Errorf("onnx: predict called before load")
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(channels), volumeDim, volumeDim, volumeDim), input)
	if err != nil {
		return nil, 0, fmt.Errorf("create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, outputClasses, volumeDim, volumeDim, volumeDim))
	if err != nil {
		return nil, 0, fmt.Errorf("create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := session.Run([]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor}); err != nil {
		return nil, 0, fmt.Errorf("onnxruntime session run: %w", err)
	}

	data := outputTensor.GetData()
	out := make([]float32, len(data))
	copy(out, data)
	return out, outputClasses, nil
}

func (p *Predictor) ExpectedInputChannels() int { return inputChannels }

func (p *Predictor) ParameterCount() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.parameterCount
}

func (p *Predictor) MemoryUsage() modelmanager.MemoryUsage {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return modelmanager.MemoryUsage{}
	}
	// onnxruntime_go does not expose an allocator memory API; report the
	// input/output tensor footprint as the allocated estimate.
	voxels := int64(volumeDim * volumeDim * volumeDim)
	allocated := voxels * (inputChannels + outputClasses) * 4
	return modelmanager.MemoryUsage{AllocatedBytes: allocated, ReservedBytes: allocated, FreeBytes: 0}
}

func estimateParameterCount(path string) int64 {
	// The ONNX file size is a rough proxy for parameter count (read as
	// 4-byte float32 weights) until a graph-introspection need justifies
	// parsing the protobuf directly.
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size() / 4
}
