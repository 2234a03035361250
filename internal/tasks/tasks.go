// Package tasks implements spec.md §4.10's task registry: a
// badger-backed task-id→status map with TTL eviction, for the
// asynchronous form of the inference coordinator.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/brainvol/segforge/internal/coordinator"
)

// Status is one point in a task's lifecycle.
type Status string

const (
	Queued     Status = "queued"
	Processing Status = "processing"
	Completed  Status = "completed"
	Failed     Status = "failed"
)

// Record is the value stored per task id.
type Record struct {
	TaskID       string    `json:"task_id"`
	StudyID      string    `json:"study_id"`
	Status       Status    `json:"status"`
	ProgressPct  float64   `json:"progress_pct"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	ResultFile   string    `json:"result_file,omitempty"`
	Error        string    `json:"error,omitempty"`
	ElapsedSec   float64   `json:"elapsed_sec,omitempty"`
}

// Registry is the badger-backed task-id to status map.
type Registry struct {
	db  *badger.DB
	ttl time.Duration
}

// Open opens (or creates) a Badger database at dir. An empty dir opens
// an in-memory database, matching the pack's own badger test helper
// convention of an in-memory mode for ephemeral/test use.
func Open(dir string, ttl time.Duration) (*Registry, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("tasks: open badger store: %w", err)
	}
	return &Registry{db: db, ttl: ttl}, nil
}

// Close releases the underlying Badger database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Create registers a new queued task for studyID and returns its id.
func (r *Registry) Create(studyID string) (string, error) {
	taskID := uuid.NewString()
	now := time.Now()
	rec := Record{
		TaskID:    taskID,
		StudyID:   studyID,
		Status:    Queued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.put(taskID, rec); err != nil {
		return "", err
	}
	return taskID, nil
}

// Update applies mutate to the current record for taskID and persists
// the result with a refreshed UpdatedAt and TTL.
func (r *Registry) Update(taskID string, mutate func(*Record)) error {
	rec, err := r.Get(taskID)
	if err != nil {
		return err
	}
	mutate(&rec)
	rec.UpdatedAt = time.Now()
	return r.put(taskID, rec)
}

// Get returns the current record for taskID.
func (r *Registry) Get(taskID string) (Record, error) {
	var rec Record
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(taskID))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return fmt.Errorf("tasks: task %q not found", taskID)
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	return rec, err
}

// Delete explicitly evicts a task record before its TTL expires.
func (r *Registry) Delete(taskID string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(taskID))
	})
}

func (r *Registry) put(taskID string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("tasks: marshal record: %w", err)
	}
	return r.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(taskID), data)
		if r.ttl > 0 {
			entry = entry.WithTTL(r.ttl)
		}
		return txn.SetEntry(entry)
	})
}

// RunAsync starts co.Run(studyID, opts) in the background, tracking
// its progress in the registry under a freshly-created task id.
func (r *Registry) RunAsync(co *coordinator.Coordinator, studyID string, opts coordinator.Options) (string, error) {
	taskID, err := r.Create(studyID)
	if err != nil {
		return "", err
	}

	go func() {
		_ = r.Update(taskID, func(rec *Record) {
			rec.Status = Processing
			rec.ProgressPct = 0
			rec.Message = "running pipeline"
		})

		result := co.Run(context.Background(), studyID, opts)

		_ = r.Update(taskID, func(rec *Record) {
			rec.ProgressPct = 100
			rec.ElapsedSec = result.Timings.Total
			if !result.OK {
				rec.Status = Failed
				rec.Error = result.Error
				rec.Message = "pipeline failed"
				return
			}
			rec.Status = Completed
			rec.Message = "pipeline complete"
			rec.ResultFile = result.Paths.Segmentation
		})
	}()

	return taskID, nil
}
