package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/syedmozamilshah/healthverse/config"
)

func testConfig() config.TriageConfig {
	return config.TriageConfig{
		ConfidenceThreshold:     0.75,
		HighConfidenceThreshold: 0.9,
		SatisfactionThreshold:   0.8,
		MinQuestions:            3,
		MaxQuestions:            8,
		TopKSearch:              5,
		SessionTTL:              24 * time.Hour,
		CollaboratorTimeout:     time.Second,
	}
}

// stubGen returns canned responses keyed by a marker substring of the prompt,
// or fails every call when err is set.
type stubGen struct {
	mu        sync.Mutex
	err       error
	responses map[string]string // prompt marker -> raw response
	calls     int
}

func (g *stubGen) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	for marker, resp := range g.responses {
		if strings.Contains(prompt, marker) {
			return resp, nil
		}
	}
	return "", errors.New("no canned response for prompt")
}

type stubRetriever struct {
	evidence []Evidence
	err      error
}

func (r *stubRetriever) Retrieve(_ context.Context, _ string, topK int) ([]Evidence, error) {
	if r.err != nil {
		return nil, r.err
	}
	if len(r.evidence) > topK {
		return r.evidence[:topK], nil
	}
	return r.evidence, nil
}

// memStore is a minimal in-test session store.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	failPut  bool
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]*Session)}
}

func (m *memStore) Create(_ context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.ID] = sess.Clone()
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.Clone(), nil
}

func (m *memStore) Update(_ context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return errors.New("store down")
	}
	if _, ok := m.sessions[sess.ID]; !ok {
		return ErrSessionNotFound
	}
	m.sessions[sess.ID] = sess.Clone()
	return nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *memStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, sess := range m.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func TestStartEmptyConditionRejected(t *testing.T) {
	engine := NewEngine(testConfig(), newMemStore(), &stubGen{err: errors.New("down")}, nil, nil, nil)

	_, err := engine.Start(context.Background(), "   ")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestStartAlwaysAsksAQuestion(t *testing.T) {
	engine := NewEngine(testConfig(), newMemStore(), &stubGen{err: errors.New("down")}, &stubRetriever{err: errors.New("down")}, nil, nil)

	res, err := engine.Start(context.Background(), "my glasses frame is broken")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.SessionID == "" {
		t.Fatal("expected a session id")
	}
	if res.Question.Text == "" {
		t.Fatal("expected a first question even with all collaborators down")
	}
	if len(res.Question.Options) != 4 {
		t.Fatalf("expected 4 options, got %d", len(res.Question.Options))
	}
	last := res.Question.Options[len(res.Question.Options)-1]
	if !last.IsFreeForm {
		t.Fatalf("expected last option to be the free-form slot, got %+v", last)
	}
	for _, opt := range res.Question.Options[:3] {
		if opt.IsFreeForm {
			t.Fatalf("concrete option marked free-form: %+v", opt)
		}
	}
}

// With every collaborator failing, the session must still reach a valid
// recommendation through the deterministic fallbacks, never exceeding the
// question budget and never repeating a question.
func TestSessionCompletesOnFallbacksAlone(t *testing.T) {
	cfg := testConfig()
	store := newMemStore()
	engine := NewEngine(cfg, store, &stubGen{err: errors.New("llm down")}, &stubRetriever{err: errors.New("qdrant down")}, nil, nil)

	res, err := engine.Start(context.Background(), "something feels off with my eye")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	asked := map[string]bool{res.Question.Text: true}
	var final *TurnResult
	for i := 0; i < cfg.MaxQuestions+2; i++ {
		tr, err := engine.SubmitAnswer(context.Background(), res.SessionID, fmt.Sprintf("answer %d", i))
		if err != nil {
			t.Fatalf("SubmitAnswer %d: %v", i, err)
		}
		if tr.Complete {
			final = tr
			break
		}
		if asked[tr.Question.Text] {
			t.Fatalf("question repeated: %q", tr.Question.Text)
		}
		asked[tr.Question.Text] = true
	}
	if final == nil {
		t.Fatal("session never completed within the question budget")
	}
	if final.Recommendation == nil {
		t.Fatal("complete turn carried no recommendation")
	}
	if _, ok := ParseSpecialist(string(final.Recommendation.Specialist)); !ok {
		t.Fatalf("recommendation names unknown specialist %q", final.Recommendation.Specialist)
	}
	if final.Recommendation.ClinicalSummary == "" {
		t.Fatal("expected a clinical summary")
	}

	sess, err := engine.Status(context.Background(), res.SessionID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if sess.Status != StatusComplete {
		t.Fatalf("expected complete status, got %s", sess.Status)
	}
	if len(sess.Turns) != cfg.MaxQuestions {
		t.Fatalf("expected %d turns at the budget, got %d", cfg.MaxQuestions, len(sess.Turns))
	}
	for i, turn := range sess.Turns {
		if turn.Index != i {
			t.Fatalf("turn %d has index %d", i, turn.Index)
		}
	}
}

func TestHighConfidenceStopsAtMinQuestions(t *testing.T) {
	cfg := testConfig()
	gen := &stubGen{responses: map[string]string{
		"provide confidence scores": `{"overall_confidence": 0.95, "per_specialist": {"Ophthalmologist": 1.0, "Optometrist": 0.1, "Optician": 0.05, "Ocular Surgeon": 0.05}, "reasoning": "clear"}`,
		"follow-up question":        `{"question": "Does bright light make it worse?", "options": [{"text": "Yes", "is_other": false}, {"text": "No", "is_other": false}, {"text": "Sometimes", "is_other": false}, {"text": "Other", "is_other": true}]}`,
		"satisfaction_score":        `{"is_satisfied": false, "satisfaction_score": 0.2, "reasoning": "keep going"}`,
		"final eye care specialist recommendation": `{"specialist": "Ophthalmologist", "justification": "symptoms indicate medical evaluation"}`,
		"medical summary":                          `Patient reports a painful red eye with discharge. Referral to Ophthalmologist.`,
	}}
	engine := NewEngine(cfg, newMemStore(), gen, &stubRetriever{err: errors.New("down")}, nil, nil)

	res, err := engine.Start(context.Background(), "painful red eye with discharge")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	var final *TurnResult
	for i := 0; i < cfg.MaxQuestions; i++ {
		tr, err := engine.SubmitAnswer(context.Background(), res.SessionID, "yes")
		if err != nil {
			t.Fatalf("SubmitAnswer %d: %v", i, err)
		}
		if tr.Complete {
			final = tr
			break
		}
	}
	if final == nil {
		t.Fatal("session never completed")
	}
	if final.Recommendation.Specialist != Ophthalmologist {
		t.Fatalf("expected Ophthalmologist, got %s", final.Recommendation.Specialist)
	}

	sess, _ := engine.Status(context.Background(), res.SessionID)
	if len(sess.Turns) != cfg.MinQuestions {
		t.Fatalf("expected stop at min questions (%d), got %d turns", cfg.MinQuestions, len(sess.Turns))
	}
	if sess.Confidence.Overall < cfg.ConfidenceThreshold {
		t.Fatalf("completed below threshold: %.2f", sess.Confidence.Overall)
	}
}

func TestSubmitAnswerOnCompleteSession(t *testing.T) {
	cfg := testConfig()
	cfg.MinQuestions = 0
	cfg.MaxQuestions = 1
	engine := NewEngine(cfg, newMemStore(), &stubGen{err: errors.New("down")}, nil, nil, nil)

	res, err := engine.Start(context.Background(), "red eye with discharge")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	tr, err := engine.SubmitAnswer(context.Background(), res.SessionID, "two days")
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if !tr.Complete {
		t.Fatal("expected completion at max questions 1")
	}

	_, err = engine.SubmitAnswer(context.Background(), res.SessionID, "more")
	if !errors.Is(err, ErrSessionComplete) {
		t.Fatalf("expected ErrSessionComplete, got %v", err)
	}
}

func TestSubmitAnswerValidation(t *testing.T) {
	engine := NewEngine(testConfig(), newMemStore(), &stubGen{err: errors.New("down")}, nil, nil, nil)

	res, err := engine.Start(context.Background(), "blurry vision")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := engine.SubmitAnswer(context.Background(), res.SessionID, "  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty answer, got %v", err)
	}
	if _, err := engine.SubmitAnswer(context.Background(), "no-such-session", "fine"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestBusyGateRejectsConcurrentAnswer(t *testing.T) {
	engine := NewEngine(testConfig(), newMemStore(), &stubGen{err: errors.New("down")}, nil, nil, nil)

	res, err := engine.Start(context.Background(), "eye strain from reading")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := engine.acquire(res.SessionID); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	_, err = engine.SubmitAnswer(context.Background(), res.SessionID, "it started yesterday")
	if !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("expected ErrSessionBusy, got %v", err)
	}
	engine.release(res.SessionID)

	if _, err := engine.SubmitAnswer(context.Background(), res.SessionID, "it started yesterday"); err != nil {
		t.Fatalf("SubmitAnswer after release: %v", err)
	}
}

// A failed store write must leave the session exactly as it was so the caller
// can retry the same answer.
func TestFailedUpdateDoesNotAdvanceSession(t *testing.T) {
	store := newMemStore()
	engine := NewEngine(testConfig(), store, &stubGen{err: errors.New("down")}, nil, nil, nil)

	res, err := engine.Start(context.Background(), "sudden vision loss")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	before, _ := engine.Status(context.Background(), res.SessionID)

	store.failPut = true
	if _, err := engine.SubmitAnswer(context.Background(), res.SessionID, "an hour ago"); err == nil {
		t.Fatal("expected error from failing store")
	}
	store.failPut = false

	after, _ := engine.Status(context.Background(), res.SessionID)
	if len(after.Turns) != len(before.Turns) {
		t.Fatalf("turns advanced despite failed write: %d -> %d", len(before.Turns), len(after.Turns))
	}
	if after.PendingQuestion == nil || after.PendingQuestion.Text != before.PendingQuestion.Text {
		t.Fatal("pending question changed despite failed write")
	}

	if _, err := engine.SubmitAnswer(context.Background(), res.SessionID, "an hour ago"); err != nil {
		t.Fatalf("retry after recovery: %v", err)
	}
}

func TestExpireAndSweep(t *testing.T) {
	store := newMemStore()
	engine := NewEngine(testConfig(), store, &stubGen{err: errors.New("down")}, nil, nil, nil)

	res, err := engine.Start(context.Background(), "itchy eyes")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := engine.Expire(context.Background(), res.SessionID); err != nil {
		t.Fatalf("Expire: %v", err)
	}
	if _, err := engine.Status(context.Background(), res.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after expire, got %v", err)
	}

	res, err = engine.Start(context.Background(), "itchy eyes again")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	store.mu.Lock()
	store.sessions[res.SessionID].UpdatedAt = time.Now().Add(-48 * time.Hour)
	store.mu.Unlock()

	n, err := engine.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept session, got %d", n)
	}
}

func TestStatusReturnsIsolatedCopy(t *testing.T) {
	engine := NewEngine(testConfig(), newMemStore(), &stubGen{err: errors.New("down")}, nil, nil, nil)

	res, err := engine.Start(context.Background(), "dry eyes")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess, _ := engine.Status(context.Background(), res.SessionID)
	sess.PendingQuestion.Text = "tampered"
	sess.Confidence.PerSpecialist[Optician] = 9

	fresh, _ := engine.Status(context.Background(), res.SessionID)
	if fresh.PendingQuestion.Text == "tampered" {
		t.Fatal("stored session mutated through a returned copy")
	}
	if fresh.Confidence.PerSpecialist[Optician] == 9 {
		t.Fatal("stored confidence mutated through a returned copy")
	}
}
