package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/syedmozamilshah/healthverse/config"
	"github.com/syedmozamilshah/healthverse/internal/telemetry"
)

// Assessor is the confidence model. It blends three signals into one
// Snapshot: deterministic keyword matching, agreement among retrieved prior
// cases, and a generative self-assessment. The blend is a weighted average;
// the keyword weight decays as the conversation grows (0.40 - 0.05 per turn,
// floor 0.10) and the remainder is split evenly between the evidence and
// generative signals, each ceding its share when unavailable.
//
// Overall is always the blended score of the leading category, nudged up by
// a turn-count boost and an answer-quality boost, capped at 0.95. Retrieval
// or generation failures degrade the blend, never abort it.
type Assessor struct {
	gen       Generator
	retriever Retriever
	cfg       config.TriageConfig
	metrics   *telemetry.Metrics
	logger    *log.Logger
}

// NewAssessor creates the confidence model.
func NewAssessor(cfg config.TriageConfig, gen Generator, retriever Retriever, metrics *telemetry.Metrics, logger *log.Logger) *Assessor {
	if logger == nil {
		logger = log.New(log.Writer(), "[CONFIDENCE] ", log.LstdFlags)
	}
	if cfg.CollaboratorTimeout <= 0 {
		cfg.CollaboratorTimeout = 30 * time.Second
	}
	return &Assessor{gen: gen, retriever: retriever, cfg: cfg, metrics: metrics, logger: logger}
}

// Assess computes a fresh confidence snapshot for the conversation so far.
func (a *Assessor) Assess(ctx context.Context, condition string, turns []Turn) Snapshot {
	if strings.TrimSpace(condition) == "" {
		return zeroSnapshot(len(turns))
	}

	fullText := conversationText(condition, turns)

	kwScores := keywordScores(fullText)

	evScores := a.evidenceScores(ctx, fullText)

	genScores, genOK := a.generativeScores(ctx, condition, turns)

	kwWeight := 0.4 - 0.05*float64(len(turns))
	if kwWeight < 0.1 {
		kwWeight = 0.1
	}
	rest := 1 - kwWeight
	evWeight, genWeight := rest/2, rest/2
	if evScores == nil {
		evWeight = 0
	}
	if !genOK {
		genWeight = 0
	}
	total := kwWeight + evWeight + genWeight

	per := make(map[Specialist]float64, len(kwScores))
	for _, sp := range Specialists() {
		v := kwWeight * kwScores[sp]
		if evScores != nil {
			v += evWeight * evScores[sp]
		}
		if genOK {
			v += genWeight * genScores[sp]
		}
		per[sp] = clamp01(v / total)
	}

	snap := Snapshot{
		PerSpecialist:  per,
		ComputedAtTurn: len(turns),
		Reasoning:      blendReasoning(kwWeight/total, evWeight/total, genWeight/total),
	}

	// Boost the leading category for conversation length and answer quality,
	// then derive Overall from it. The boost shrinks per turn later in the
	// conversation to avoid runaway confidence from uninformative answers.
	leading := snap.Leading()
	boost := lengthBoost(len(turns)) + answerQuality(turns)*0.6
	boosted := per[leading] + boost
	if boosted > 0.95 {
		boosted = 0.95
	}
	per[leading] = boosted
	snap.Overall = boosted

	return snap
}

// evidenceScores converts retrieved prior cases into a per-category
// agreement distribution: the similarity-weighted share of cases whose
// outcome matches each category. Returns nil when retrieval fails or finds
// nothing, which the blend treats as "no evidence".
func (a *Assessor) evidenceScores(ctx context.Context, query string) map[Specialist]float64 {
	if a.retriever == nil {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, a.cfg.CollaboratorTimeout)
	defer cancel()

	topK := a.cfg.TopKSearch
	if topK <= 0 {
		topK = 5
	}
	evidence, err := a.retriever.Retrieve(cctx, query, topK)
	if err != nil {
		a.logger.Printf("evidence retrieval failed, continuing without: %v", err)
		a.metrics.RetrievalFailure()
		return nil
	}
	if len(evidence) == 0 {
		return nil
	}

	scores := make(map[Specialist]float64, 4)
	total := 0.0
	for _, ev := range evidence {
		sim := clamp01(ev.Similarity)
		scores[ev.Outcome] += sim
		total += sim
	}
	if total == 0 {
		return nil
	}
	for _, sp := range Specialists() {
		scores[sp] = scores[sp] / total
	}
	return scores
}

// generativeScores asks the generation service for a confidence
// self-assessment. One attempt; any error or unparseable payload drops the
// signal entirely.
func (a *Assessor) generativeScores(ctx context.Context, condition string, turns []Turn) (map[Specialist]float64, bool) {
	if a.gen == nil {
		return nil, false
	}
	cctx, cancel := context.WithTimeout(ctx, a.cfg.CollaboratorTimeout)
	defer cancel()

	raw, err := a.gen.Generate(cctx, confidencePrompt(condition, turns))
	if err != nil {
		a.logger.Printf("generative confidence call failed, falling back to evidence scoring: %v", err)
		a.metrics.GenerationFallback("confidence")
		return nil, false
	}

	var parsed struct {
		OverallConfidence float64            `json:"overall_confidence"`
		PerSpecialist     map[string]float64 `json:"per_specialist"`
		Reasoning         string             `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &parsed); err != nil {
		a.logger.Printf("unparseable confidence response, falling back to evidence scoring: %v", err)
		a.metrics.GenerationFallback("confidence")
		return nil, false
	}

	scores := make(map[Specialist]float64, 4)
	for _, sp := range Specialists() {
		scores[sp] = clamp01(parsed.PerSpecialist[string(sp)])
	}
	return scores, true
}

// lengthBoost rewards accumulated conversation turns; early answers count
// more than later ones (3% each for the first three, 1.5% after, capped).
func lengthBoost(turns int) float64 {
	if turns <= 0 {
		return 0
	}
	if turns <= 3 {
		b := 0.03 * float64(turns)
		if b > 0.08 {
			return 0.08
		}
		return b
	}
	extra := 0.015 * float64(turns-3)
	if extra > 0.06 {
		extra = 0.06
	}
	return 0.09 + extra
}

func zeroSnapshot(turn int) Snapshot {
	per := make(map[Specialist]float64, 4)
	for _, sp := range Specialists() {
		per[sp] = 0
	}
	return Snapshot{PerSpecialist: per, Overall: 0, ComputedAtTurn: turn, Reasoning: "no signal"}
}

func blendReasoning(kw, ev, gen float64) string {
	return fmt.Sprintf("weighted blend (keyword %.2f, evidence %.2f, generative %.2f)", kw, ev, gen)
}

// conversationText concatenates the initial condition and every answered
// turn; it is both the retrieval query and the keyword-scoring input.
func conversationText(condition string, turns []Turn) string {
	var b strings.Builder
	b.WriteString(condition)
	for _, turn := range turns {
		if strings.TrimSpace(turn.Answer) == "" {
			continue
		}
		b.WriteString(" ")
		b.WriteString(turn.Answer)
	}
	return b.String()
}

// conversationTranscript renders the Q/A history for prompts.
func conversationTranscript(turns []Turn) string {
	var b strings.Builder
	for i, turn := range turns {
		fmt.Fprintf(&b, "Q%d: %s\nA%d: %s\n\n", i+1, turn.Question, i+1, turn.Answer)
	}
	return b.String()
}

func confidencePrompt(condition string, turns []Turn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Initial condition: %s\n\n", condition)
	if len(turns) > 0 {
		b.WriteString("Conversation history:\n")
		b.WriteString(conversationTranscript(turns))
	}

	return fmt.Sprintf(`As a medical AI assistant, analyze the following patient information and provide confidence scores for eye specialist recommendations.

%s
Analyze this information and provide confidence scores for each specialist type:
1. Ophthalmologist - General eye doctor for medical treatment and diagnosis
2. Optometrist - Vision correction and primary eye care
3. Optician - Eyewear fitting and dispensing
4. Ocular Surgeon - Surgical procedures for serious eye conditions

Consider:
- Severity and complexity of symptoms
- Need for medical vs. corrective intervention
- Urgency of the condition

Return ONLY a JSON object in this exact format:
{
    "overall_confidence": 0.75,
    "per_specialist": {
        "Ophthalmologist": 0.45,
        "Optometrist": 0.35,
        "Optician": 0.15,
        "Ocular Surgeon": 0.05
    },
    "reasoning": "Brief explanation of the confidence assessment"
}

IMPORTANT:
- All scores must be between 0.0 and 1.0
- Do NOT use asterisks or markdown formatting
- Return only the JSON object`, b.String())
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
