package triage

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/syedmozamilshah/healthverse/config"
	"github.com/syedmozamilshah/healthverse/internal/telemetry"
)

// Engine owns the per-conversation lifecycle: start, answer ingestion, the
// stopping decision, and finalization. Sessions move ACTIVE -> COMPLETE and
// never back; any error during answer processing leaves the stored session
// untouched so the caller can retry the same answer.
//
// Writes to one session id are serialized by a busy gate: a second in-flight
// SubmitAnswer for the same id is rejected with ErrSessionBusy. Distinct ids
// proceed fully in parallel.
type Engine struct {
	cfg       config.TriageConfig
	store     Store
	assessor  *Assessor
	planner   *Planner
	finalizer *Finalizer
	metrics   *telemetry.Metrics
	logger    *log.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewEngine wires the engine with its collaborators. The store, generator and
// retriever are injected so multiple engine instances never share state.
func NewEngine(cfg config.TriageConfig, store Store, gen Generator, retriever Retriever, metrics *telemetry.Metrics, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[ENGINE] ", log.LstdFlags)
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	return &Engine{
		cfg:       cfg,
		store:     store,
		assessor:  NewAssessor(cfg, gen, retriever, metrics, nil),
		planner:   NewPlanner(cfg, gen, metrics, nil),
		finalizer: NewFinalizer(cfg, gen, metrics, nil),
		metrics:   metrics,
		logger:    logger,
		inflight:  make(map[string]struct{}),
	}
}

// Start creates a new session from the free-text initial condition and
// returns the first question with the initial confidence snapshot.
func (e *Engine) Start(ctx context.Context, condition string) (*StartResult, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return nil, fmt.Errorf("initial condition is empty: %w", ErrInvalidInput)
	}

	snap := e.assessor.Assess(ctx, condition, nil)

	question := e.planner.NextQuestion(ctx, condition, nil, snap)
	if question == nil {
		// A session always asks at least one question before it can complete.
		question = fallbackQuestion(0, nil)
	}

	now := time.Now()
	sess := &Session{
		ID:               uuid.NewString(),
		InitialCondition: condition,
		Turns:            []Turn{},
		Confidence:       snap,
		Status:           StatusActive,
		PendingQuestion:  question,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	e.metrics.SessionStarted()
	e.logger.Printf("started session %s with initial confidence %.2f", sess.ID, snap.Overall)

	return &StartResult{SessionID: sess.ID, Question: *question, Confidence: snap}, nil
}

// SubmitAnswer ingests an answer to the pending question, recomputes
// confidence, and either returns the next question or completes the session
// with a recommendation. All mutations happen on a copy; the stored session
// only advances when the whole turn succeeds.
func (e *Engine) SubmitAnswer(ctx context.Context, sessionID, answer string) (*TurnResult, error) {
	if err := e.acquire(sessionID); err != nil {
		return nil, err
	}
	defer e.release(sessionID)

	sess, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == StatusComplete {
		return nil, ErrSessionComplete
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, fmt.Errorf("answer is empty: %w", ErrInvalidInput)
	}
	if sess.PendingQuestion == nil {
		return nil, fmt.Errorf("session %s is active without a pending question", sessionID)
	}

	next := sess.Clone()
	next.Turns = append(next.Turns, Turn{
		Question: next.PendingQuestion.Text,
		Answer:   answer,
		Index:    len(next.Turns),
		AskedAt:  time.Now(),
	})

	snap := e.assessor.Assess(ctx, next.InitialCondition, next.Turns)
	next.ConfidenceHistory = append(next.ConfidenceHistory, next.Confidence)
	next.Confidence = snap

	result := &TurnResult{SessionID: sessionID, Confidence: snap}

	question := e.planner.NextQuestion(ctx, next.InitialCondition, next.Turns, snap)
	if question != nil {
		next.PendingQuestion = question
		result.Question = question
	} else {
		rec := e.finalizer.Finalize(ctx, next.InitialCondition, next.Turns, snap)
		next.Status = StatusComplete
		next.PendingQuestion = nil
		next.Recommendation = &rec
		result.Complete = true
		result.Recommendation = &rec
	}
	next.UpdatedAt = time.Now()

	if err := e.store.Update(ctx, next); err != nil {
		return nil, fmt.Errorf("updating session: %w", err)
	}

	e.metrics.TurnIngested()
	if result.Complete {
		e.metrics.SessionCompleted(len(next.Turns))
		e.logger.Printf("completed session %s after %d turns: %s", sessionID, len(next.Turns), next.Recommendation.Specialist)
	}

	return result, nil
}

// Status returns a read-only snapshot of the session.
func (e *Engine) Status(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// Expire removes a session regardless of its state.
func (e *Engine) Expire(ctx context.Context, sessionID string) error {
	if err := e.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	e.metrics.SessionsExpired(1)
	return nil
}

// SweepExpired removes sessions idle past the configured TTL. Meant to be
// called periodically by an external reaper.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	n, err := e.store.Sweep(ctx, time.Now().Add(-e.cfg.SessionTTL))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.metrics.SessionsExpired(n)
		e.logger.Printf("swept %d expired sessions", n)
	}
	return n, nil
}

func (e *Engine) acquire(sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[sessionID]; busy {
		return ErrSessionBusy
	}
	e.inflight[sessionID] = struct{}{}
	return nil
}

func (e *Engine) release(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, sessionID)
}
