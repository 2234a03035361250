package tasks

import (
	"testing"
	"time"
)

func TestCreate_StartsQueued(t *testing.T) {
	r, err := Open("", time.Hour)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	taskID, err := r.Create("study-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rec, err := r.Get(taskID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != Queued {
		t.Errorf("Status = %v, want Queued", rec.Status)
	}
	if rec.StudyID != "study-1" {
		t.Errorf("StudyID = %v, want study-1", rec.StudyID)
	}
}

func TestUpdate_MutatesAndRefreshesTimestamp(t *testing.T) {
	r, err := Open("", time.Hour)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	taskID, _ := r.Create("study-2")
	before, _ := r.Get(taskID)

	time.Sleep(time.Millisecond)
	err = r.Update(taskID, func(rec *Record) {
		rec.Status = Processing
		rec.ProgressPct = 42
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	after, _ := r.Get(taskID)
	if after.Status != Processing {
		t.Errorf("Status = %v, want Processing", after.Status)
	}
	if after.ProgressPct != 42 {
		t.Errorf("ProgressPct = %v, want 42", after.ProgressPct)
	}
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Error("expected UpdatedAt to advance after Update")
	}
}

func TestGet_UnknownTaskReturnsError(t *testing.T) {
	r, err := Open("", time.Hour)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if _, err := r.Get("does-not-exist"); err == nil {
		t.Fatal("expected error for unknown task id")
	}
}

func TestDelete_RemovesRecord(t *testing.T) {
	r, err := Open("", time.Hour)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	taskID, _ := r.Create("study-3")
	if err := r.Delete(taskID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := r.Get(taskID); err == nil {
		t.Fatal("expected error after delete")
	}
}
