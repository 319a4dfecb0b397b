package triage

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Specialist is one of the fixed eye-care referral categories.
type Specialist string

const (
	Ophthalmologist Specialist = "Ophthalmologist"
	Optometrist     Specialist = "Optometrist"
	Optician        Specialist = "Optician"
	OcularSurgeon   Specialist = "Ocular Surgeon"
)

// Specialists returns the fixed category set in enumeration order.
// The order doubles as the tie-break priority when scores are equal.
func Specialists() []Specialist {
	return []Specialist{Ophthalmologist, Optometrist, Optician, OcularSurgeon}
}

// ParseSpecialist matches a free-text specialist name against the fixed set.
func ParseSpecialist(s string) (Specialist, bool) {
	name := strings.TrimSpace(strings.ToLower(s))
	for _, sp := range Specialists() {
		if name == strings.ToLower(string(sp)) {
			return sp, true
		}
	}
	return "", false
}

// Turn is one completed question/answer exchange. Turns are append-only
// and Index values are contiguous starting at 0.
type Turn struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	Index    int       `json:"turn_index"`
	AskedAt  time.Time `json:"asked_at"`
}

// Snapshot is the engine's belief state after an assessment pass.
//
// PerSpecialist values are independent evidence strengths in [0,1]; they are
// deliberately not normalized to sum to 1. Overall is defined as the
// PerSpecialist value of the leading category (the max).
type Snapshot struct {
	PerSpecialist  map[Specialist]float64 `json:"per_specialist"`
	Overall        float64                `json:"overall"`
	ComputedAtTurn int                    `json:"computed_at_turn"`
	Reasoning      string                 `json:"reasoning"`
}

// Leading returns the category with the highest score, ties broken by
// the Specialists() enumeration order.
func (s Snapshot) Leading() Specialist {
	leading := Ophthalmologist
	best := -1.0
	for _, sp := range Specialists() {
		if v := s.PerSpecialist[sp]; v > best {
			best = v
			leading = sp
		}
	}
	return leading
}

// QuestionOption is a single answer choice. Exactly one option per question
// is the free-form "Other" slot, always last.
type QuestionOption struct {
	Text       string `json:"text"`
	IsFreeForm bool   `json:"is_free_form"`
}

// Question is a multiple-choice follow-up question handed to the caller.
// It is never mutated after being returned.
type Question struct {
	Text    string           `json:"text"`
	Options []QuestionOption `json:"options"`
}

// Recommendation is the terminal output of a session, immutable once produced.
type Recommendation struct {
	Specialist      Specialist `json:"specialist"`
	Justification   string     `json:"justification"`
	ClinicalSummary string     `json:"clinical_summary"`
}

// Status is the session lifecycle state. There is no transition out of complete.
type Status string

const (
	StatusActive   Status = "active"
	StatusComplete Status = "complete"
)

// Session is one end-to-end patient conversation. It is owned by the engine;
// callers only ever see copies.
type Session struct {
	ID                string          `json:"id"`
	InitialCondition  string          `json:"initial_condition"`
	Turns             []Turn          `json:"turns"`
	Confidence        Snapshot        `json:"confidence"`
	ConfidenceHistory []Snapshot      `json:"confidence_history,omitempty"`
	Status            Status          `json:"status"`
	PendingQuestion   *Question       `json:"pending_question,omitempty"`
	Recommendation    *Recommendation `json:"recommendation,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Clone returns a deep copy so stored state cannot be mutated through results.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Turns = append([]Turn(nil), s.Turns...)
	out.ConfidenceHistory = append([]Snapshot(nil), s.ConfidenceHistory...)
	out.Confidence = s.Confidence.clone()
	for i := range out.ConfidenceHistory {
		out.ConfidenceHistory[i] = out.ConfidenceHistory[i].clone()
	}
	if s.PendingQuestion != nil {
		q := *s.PendingQuestion
		q.Options = append([]QuestionOption(nil), s.PendingQuestion.Options...)
		out.PendingQuestion = &q
	}
	if s.Recommendation != nil {
		r := *s.Recommendation
		out.Recommendation = &r
	}
	return &out
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.PerSpecialist = make(map[Specialist]float64, len(s.PerSpecialist))
	for k, v := range s.PerSpecialist {
		out.PerSpecialist[k] = v
	}
	return out
}

// Engine error taxonomy. Collaborator failures (retrieval, generation) are
// never part of it; those are absorbed by component fallbacks.
var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionComplete      = errors.New("session already complete")
	ErrSessionBusy          = errors.New("session busy")
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
)

// Generator is the single abstract generation capability shared by the
// confidence model, question planner, satisfaction judgment, and finalizer.
// Callers build their own prompts and parse the raw text themselves; on error
// or unparseable output they apply their deterministic fallback, never retry.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Evidence is one retrieved prior case with its recorded outcome.
type Evidence struct {
	CaseSummary string     `json:"case_summary"`
	Outcome     Specialist `json:"outcome"`
	Similarity  float64    `json:"similarity"` // normalized, higher = more similar
}

// Retriever searches the case corpus for prior cases similar to the query.
// Implementations return ErrRetrievalUnavailable (wrapped) when the backing
// store cannot be reached; the confidence model treats that as "no evidence".
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]Evidence, error)
}

// Store is the injected session storage. Implementations must be safe for
// concurrent use across distinct session ids; per-id write serialization is
// the engine's job.
type Store interface {
	Create(ctx context.Context, sess *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, sess *Session) error
	Delete(ctx context.Context, id string) error
	// Sweep removes sessions not updated since the cutoff, returning how many.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// StartResult is the response to starting a session.
type StartResult struct {
	SessionID  string   `json:"session_id"`
	Question   Question `json:"question"`
	Confidence Snapshot `json:"confidence"`
}

// TurnResult is the response to submitting an answer: either the next
// question, or the terminal recommendation.
type TurnResult struct {
	SessionID      string          `json:"session_id"`
	Complete       bool            `json:"complete"`
	Question       *Question       `json:"question,omitempty"`
	Confidence     Snapshot        `json:"confidence"`
	Recommendation *Recommendation `json:"recommendation,omitempty"`
}

// cleanJSON strips markdown code fences the generation service tends to wrap
// JSON payloads in.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = s[len("```json"):]
	} else if strings.HasPrefix(s, "```") {
		s = s[len("```"):]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
