package modelmanager

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/brainvol/segforge/internal/apierr"
)

// State is one point in the model's lifecycle state machine.
type State string

const (
	Unloaded  State = "Unloaded"
	Loading   State = "Loading"
	Ready     State = "Ready"
	Running   State = "Running"
	Reloading State = "Reloading"
	Unloading State = "Unloading"
)

// Info is a point-in-time snapshot returned by Manager.Info.
type Info struct {
	State           State
	Device          string
	ParameterCount  int64
	InvocationCount int64
}

// Manager owns exactly one Predictor, serializing predict calls FIFO
// through a weighted semaphore of capacity 1, and performing a
// preventive unload+reload every reloadAfterN successful invocations.
type Manager struct {
	mu    sync.Mutex
	state State

	predictor    Predictor
	modelPath    string
	device       string
	reloadAfterN int

	sinceLoad     int64
	invocations   int64
	pendingReload bool

	sem        *semaphore.Weighted
	queued     int32
	queueLimit int32

	log     *logrus.Entry
	metrics *metrics
}

type metrics struct {
	invocations prometheus.Counter
	queueDepth  prometheus.Gauge
	reloads     prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		invocations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segforge_model_invocations_total",
			Help: "Total number of completed predict calls.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "segforge_model_queue_depth",
			Help: "Number of predict calls currently queued or running.",
		}),
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segforge_model_preventive_reloads_total",
			Help: "Total number of preventive reload cycles performed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.invocations, m.queueDepth, m.reloads)
	}
	return m
}

// New builds a Manager bound to predictor, not yet loaded.
func New(predictor Predictor, modelPath, device string, reloadAfterN, queueDepth int, log *logrus.Entry, reg prometheus.Registerer) *Manager {
	return &Manager{
		state:        Unloaded,
		predictor:    predictor,
		modelPath:    modelPath,
		device:       device,
		reloadAfterN: reloadAfterN,
		sem:          semaphore.NewWeighted(1),
		queueLimit:   int32(queueDepth),
		log:          log,
		metrics:      newMetrics(reg),
	}
}

// EnsureLoaded brings the manager to Ready, idempotently.
func (m *Manager) EnsureLoaded() error {
	m.mu.Lock()
	if m.state == Ready {
		m.mu.Unlock()
		return nil
	}
	m.state = Loading
	m.mu.Unlock()

	if err := m.predictor.Load(m.modelPath, m.device); err != nil {
		m.mu.Lock()
		m.state = Unloaded
		m.mu.Unlock()
		return apierr.Wrap(apierr.ModelLoadFailed, err, "load model from %s", m.modelPath)
	}

	m.mu.Lock()
	m.state = Ready
	m.mu.Unlock()
	return nil
}

// Predict serializes FIFO on the manager's semaphore, rejecting with
// Overloaded when the queue is already at capacity.
func (m *Manager) Predict(ctx context.Context, input []float32, inputChannels int) ([]float32, int, error) {
	if inputChannels != m.predictor.ExpectedInputChannels() {
		return nil, 0, apierr.New(apierr.BadInput, "input channel count %d != expected %d", inputChannels, m.predictor.ExpectedInputChannels())
	}

	if n := atomic.AddInt32(&m.queued, 1); n > m.queueLimit {
		atomic.AddInt32(&m.queued, -1)
		return nil, 0, apierr.New(apierr.Overloaded, "predict queue at capacity (%d)", m.queueLimit)
	}
	m.metrics.queueDepth.Set(float64(atomic.LoadInt32(&m.queued)))
	defer func() {
		atomic.AddInt32(&m.queued, -1)
		m.metrics.queueDepth.Set(float64(atomic.LoadInt32(&m.queued)))
	}()

	if err := m.sem.Acquire(ctx, 1); err != nil {
		kind := apierr.Cancelled
		if errors.Is(err, context.DeadlineExceeded) {
			kind = apierr.Timeout
			m.forceCleanupLocked()
		}
		return nil, 0, apierr.Wrap(kind, err, "predict interrupted while queued")
	}
	defer m.sem.Release(1)

	if err := m.performPendingReload(); err != nil {
		return nil, 0, err
	}
	if err := m.EnsureLoaded(); err != nil {
		return nil, 0, err
	}

	m.mu.Lock()
	m.state = Running
	m.mu.Unlock()

	output, classes, err := m.predictor.Predict(ctx, input, inputChannels)

	if err != nil {
		m.forceCleanupLocked()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, 0, apierr.Wrap(apierr.Timeout, err, "predict timed out")
		}
		return nil, 0, apierr.Wrap(apierr.InferenceFailed, err, "predict")
	}

	m.mu.Lock()
	m.state = Ready
	m.invocations++
	m.sinceLoad++
	if m.reloadAfterN > 0 && m.sinceLoad >= int64(m.reloadAfterN) {
		m.pendingReload = true
	}
	m.mu.Unlock()

	m.metrics.invocations.Inc()
	return output, classes, nil
}

func (m *Manager) performPendingReload() error {
	m.mu.Lock()
	if !m.pendingReload {
		m.mu.Unlock()
		return nil
	}
	m.pendingReload = false
	m.sinceLoad = 0
	m.state = Reloading
	m.mu.Unlock()

	if m.log != nil {
		m.log.Info("performing preventive model reload")
	}
	m.metrics.reloads.Inc()

	if err := m.unloadLocked(); err != nil {
		return apierr.Wrap(apierr.ModelLoadFailed, err, "preventive unload")
	}
	return m.EnsureLoaded()
}

// Unload moves the predictor off the accelerator and forces a GC pass.
func (m *Manager) Unload() error {
	return m.unloadLocked()
}

func (m *Manager) unloadLocked() error {
	m.mu.Lock()
	m.state = Unloading
	m.mu.Unlock()

	err := m.predictor.Unload()

	m.mu.Lock()
	m.state = Unloaded
	m.mu.Unlock()

	runtime.GC()
	if err != nil {
		return apierr.Wrap(apierr.IOFailure, err, "unload predictor")
	}
	return nil
}

// ForceCleanup is Unload's idempotent, error-swallowing counterpart,
// always safe to call during shutdown or after a failed predict.
func (m *Manager) ForceCleanup() {
	m.forceCleanupLocked()
}

func (m *Manager) forceCleanupLocked() {
	_ = m.predictor.Unload()
	m.mu.Lock()
	m.state = Unloaded
	m.mu.Unlock()
	runtime.GC()
}

// MemoryUsage reports the predictor's current accelerator snapshot.
func (m *Manager) MemoryUsage() MemoryUsage {
	return m.predictor.MemoryUsage()
}

// Info reports the manager's current state, device, and counters.
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Info{
		State:           m.state,
		Device:          m.device,
		ParameterCount:  m.predictor.ParameterCount(),
		InvocationCount: m.invocations,
	}
}
