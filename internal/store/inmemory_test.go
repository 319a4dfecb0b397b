package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/syedmozamilshah/healthverse/internal/triage"
)

func sampleSession(id string) *triage.Session {
	now := time.Now()
	return &triage.Session{
		ID:               id,
		InitialCondition: "blurry vision",
		Turns:            []triage.Turn{},
		Confidence: triage.Snapshot{
			PerSpecialist: map[triage.Specialist]float64{triage.Optometrist: 0.6},
			Overall:       0.6,
		},
		Status: triage.StatusActive,
		PendingQuestion: &triage.Question{
			Text: "How long has this been going on?",
			Options: []triage.QuestionOption{
				{Text: "Days"}, {Text: "Weeks"}, {Text: "Months"}, {Text: "Other", IsFreeForm: true},
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestInMemoryLifecycle(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	if err := s.Create(ctx, sampleSession("a")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.InitialCondition != "blurry vision" {
		t.Fatalf("unexpected session: %+v", got)
	}

	got.Status = triage.StatusComplete
	if err := s.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got2, _ := s.Get(ctx, "a")
	if got2.Status != triage.StatusComplete {
		t.Fatalf("update not persisted: %s", got2.Status)
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, triage.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after delete, got %v", err)
	}
}

func TestInMemoryNotFound(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, triage.ErrSessionNotFound) {
		t.Fatalf("Get: expected ErrSessionNotFound, got %v", err)
	}
	if err := s.Update(ctx, sampleSession("missing")); !errors.Is(err, triage.ErrSessionNotFound) {
		t.Fatalf("Update: expected ErrSessionNotFound, got %v", err)
	}
	if err := s.Delete(ctx, "missing"); !errors.Is(err, triage.ErrSessionNotFound) {
		t.Fatalf("Delete: expected ErrSessionNotFound, got %v", err)
	}
}

func TestInMemoryIsolation(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	orig := sampleSession("a")
	if err := s.Create(ctx, orig); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Mutating the caller's copy after Create must not reach the store.
	orig.PendingQuestion.Text = "tampered"
	orig.Confidence.PerSpecialist[triage.Optometrist] = 9

	got, _ := s.Get(ctx, "a")
	if got.PendingQuestion.Text == "tampered" {
		t.Fatal("store shares question memory with the caller")
	}
	if got.Confidence.PerSpecialist[triage.Optometrist] == 9 {
		t.Fatal("store shares confidence map with the caller")
	}

	// Mutating a Get result must not reach the store either.
	got.Turns = append(got.Turns, triage.Turn{Question: "injected"})
	got2, _ := s.Get(ctx, "a")
	if len(got2.Turns) != 0 {
		t.Fatal("store shares turn slice with the caller")
	}
}

func TestInMemorySweep(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	stale := sampleSession("stale")
	stale.UpdatedAt = time.Now().Add(-48 * time.Hour)
	fresh := sampleSession("fresh")

	if err := s.Create(ctx, stale); err != nil {
		t.Fatalf("Create stale: %v", err)
	}
	if err := s.Create(ctx, fresh); err != nil {
		t.Fatalf("Create fresh: %v", err)
	}

	n, err := s.Sweep(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept, got %d", n)
	}
	if _, err := s.Get(ctx, "stale"); !errors.Is(err, triage.ErrSessionNotFound) {
		t.Fatal("stale session survived the sweep")
	}
	if _, err := s.Get(ctx, "fresh"); err != nil {
		t.Fatalf("fresh session swept: %v", err)
	}
}
