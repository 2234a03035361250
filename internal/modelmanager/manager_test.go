package modelmanager

import (
	"context"
	"testing"

	"github.com/brainvol/segforge/internal/apierr"
	"github.com/brainvol/segforge/internal/modelmanager/fakepredictor"
)

func newTestManager(reloadAfterN, queueDepth int) (*Manager, *fakepredictor.Predictor) {
	fp := fakepredictor.New()
	m := New(fp, "model.onnx", "host", reloadAfterN, queueDepth, nil, nil)
	return m, fp
}

func sampleInput() []float32 {
	n := 128 * 128 * 128 * 4
	return make([]float32, n)
}

func TestEnsureLoaded_IdempotentAndTransitionsToReady(t *testing.T) {
	m, _ := newTestManager(5, 8)
	if err := m.EnsureLoaded(); err != nil {
		t.Fatalf("EnsureLoaded: %v", err)
	}
	if m.Info().State != Ready {
		t.Fatalf("State = %v, want Ready", m.Info().State)
	}
	if err := m.EnsureLoaded(); err != nil {
		t.Fatalf("second EnsureLoaded: %v", err)
	}
}

func TestEnsureLoaded_FailureKeepsUnloaded(t *testing.T) {
	m, fp := newTestManager(5, 8)
	fp.FailNextLoad(true)
	err := m.EnsureLoaded()
	if err == nil {
		t.Fatal("expected load error")
	}
	if apierr.As(err).Kind != apierr.ModelLoadFailed {
		t.Errorf("Kind = %v, want ModelLoadFailed", apierr.As(err).Kind)
	}
	if m.Info().State != Unloaded {
		t.Fatalf("State = %v, want Unloaded after failed load", m.Info().State)
	}
}

func TestPredict_RejectsWrongChannelCount(t *testing.T) {
	m, _ := newTestManager(5, 8)
	_, _, err := m.Predict(context.Background(), []float32{1, 2, 3}, 3)
	if err == nil {
		t.Fatal("expected shape mismatch error")
	}
	if apierr.As(err).Kind != apierr.BadInput {
		t.Errorf("Kind = %v, want BadInput", apierr.As(err).Kind)
	}
}

func TestPredict_SucceedsAndCountsInvocations(t *testing.T) {
	m, _ := newTestManager(100, 8)
	_, classes, err := m.Predict(context.Background(), sampleInput(), 4)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if classes != 5 {
		t.Errorf("classes = %d, want 5", classes)
	}
	if m.Info().InvocationCount != 1 {
		t.Errorf("InvocationCount = %d, want 1", m.Info().InvocationCount)
	}
	if m.Info().State != Ready {
		t.Errorf("State after predict = %v, want Ready", m.Info().State)
	}
}

func TestPredict_FailureTriggersForceCleanup(t *testing.T) {
	m, fp := newTestManager(100, 8)
	if err := m.EnsureLoaded(); err != nil {
		t.Fatal(err)
	}
	fp.FailNextPredict(true)
	_, _, err := m.Predict(context.Background(), sampleInput(), 4)
	if err == nil {
		t.Fatal("expected predict failure")
	}
	if apierr.As(err).Kind != apierr.InferenceFailed {
		t.Errorf("Kind = %v, want InferenceFailed", apierr.As(err).Kind)
	}
	if m.Info().State != Unloaded {
		t.Errorf("State after failed predict = %v, want Unloaded (force_cleanup)", m.Info().State)
	}
}

func TestPredict_PreventiveReloadAfterThreshold(t *testing.T) {
	m, _ := newTestManager(2, 8)
	for i := 0; i < 2; i++ {
		if _, _, err := m.Predict(context.Background(), sampleInput(), 4); err != nil {
			t.Fatalf("predict %d: %v", i, err)
		}
	}
	// A third predict call should trigger the pending reload path
	// before running, and still succeed.
	if _, _, err := m.Predict(context.Background(), sampleInput(), 4); err != nil {
		t.Fatalf("predict after threshold: %v", err)
	}
	if m.Info().InvocationCount != 3 {
		t.Errorf("InvocationCount = %d, want 3", m.Info().InvocationCount)
	}
}

func TestPredict_QueueOverflowReportsOverloaded(t *testing.T) {
	m, _ := newTestManager(100, 0)
	_, _, err := m.Predict(context.Background(), sampleInput(), 4)
	if err == nil {
		t.Fatal("expected overloaded error with zero queue capacity")
	}
	if apierr.As(err).Kind != apierr.Overloaded {
		t.Errorf("Kind = %v, want Overloaded", apierr.As(err).Kind)
	}
}

func TestForceCleanup_IsIdempotent(t *testing.T) {
	m, _ := newTestManager(5, 8)
	m.ForceCleanup()
	m.ForceCleanup()
	if m.Info().State != Unloaded {
		t.Errorf("State = %v, want Unloaded", m.Info().State)
	}
}
