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

// Finalizer maps the terminal confidence snapshot to a single recommendation
// with a justification and a clinical summary. The generative path drafts
// both; the deterministic keyword fallback is a first-class path that takes
// over whenever generation fails or names a category outside the fixed set.
type Finalizer struct {
	gen     Generator
	cfg     config.TriageConfig
	metrics *telemetry.Metrics
	logger  *log.Logger
}

// NewFinalizer creates the recommendation finalizer.
func NewFinalizer(cfg config.TriageConfig, gen Generator, metrics *telemetry.Metrics, logger *log.Logger) *Finalizer {
	if logger == nil {
		logger = log.New(log.Writer(), "[FINALIZER] ", log.LstdFlags)
	}
	if cfg.CollaboratorTimeout <= 0 {
		cfg.CollaboratorTimeout = 30 * time.Second
	}
	return &Finalizer{gen: gen, cfg: cfg, metrics: metrics, logger: logger}
}

// Finalize produces the terminal recommendation for a session. It never fails;
// the worst case is the fully templated fallback.
func (f *Finalizer) Finalize(ctx context.Context, condition string, turns []Turn, final Snapshot) Recommendation {
	rec, ok := f.generativeRecommendation(ctx, condition, turns, final)
	if !ok {
		return f.fallbackRecommendation(condition, turns, final)
	}

	summary, ok := f.generativeSummary(ctx, condition, turns, rec.Specialist, final)
	if !ok {
		summary = templatedSummary(condition, turns, rec.Specialist)
	}
	rec.ClinicalSummary = summary
	return rec
}

// generativeRecommendation asks for the specialist choice and justification.
// The reply must parse and must name a member of the fixed category set.
func (f *Finalizer) generativeRecommendation(ctx context.Context, condition string, turns []Turn, final Snapshot) (Recommendation, bool) {
	if f.gen == nil {
		return Recommendation{}, false
	}
	cctx, cancel := context.WithTimeout(ctx, f.cfg.CollaboratorTimeout)
	defer cancel()

	raw, err := f.gen.Generate(cctx, recommendationPrompt(condition, turns, final))
	if err != nil {
		f.logger.Printf("recommendation generation failed, using keyword fallback: %v", err)
		f.metrics.GenerationFallback("finalizer")
		return Recommendation{}, false
	}

	var parsed struct {
		Specialist    string `json:"specialist"`
		Justification string `json:"justification"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &parsed); err != nil {
		f.logger.Printf("unparseable recommendation response, using keyword fallback: %v", err)
		f.metrics.GenerationFallback("finalizer")
		return Recommendation{}, false
	}

	specialist, ok := ParseSpecialist(parsed.Specialist)
	if !ok {
		f.logger.Printf("recommendation named unknown specialist %q, using keyword fallback", parsed.Specialist)
		f.metrics.GenerationFallback("finalizer")
		return Recommendation{}, false
	}
	justification := strings.TrimSpace(parsed.Justification)
	if justification == "" {
		justification = fmt.Sprintf("Based on the consultation, %s is the most appropriate specialist.", specialist)
	}
	return Recommendation{Specialist: specialist, Justification: justification}, true
}

// generativeSummary asks for the structured clinical note.
func (f *Finalizer) generativeSummary(ctx context.Context, condition string, turns []Turn, specialist Specialist, final Snapshot) (string, bool) {
	cctx, cancel := context.WithTimeout(ctx, f.cfg.CollaboratorTimeout)
	defer cancel()

	raw, err := f.gen.Generate(cctx, summaryPrompt(condition, turns, specialist, final))
	if err != nil {
		f.logger.Printf("summary generation failed, using templated summary: %v", err)
		f.metrics.GenerationFallback("finalizer")
		return "", false
	}
	summary := strings.TrimSpace(raw)
	if summary == "" {
		f.metrics.GenerationFallback("finalizer")
		return "", false
	}
	return summary, true
}

// fallbackRecommendation is the deterministic backstop: category from the
// keyword table over the full conversation text (first match wins,
// Ophthalmologist as catch-all), templated justification and summary.
func (f *Finalizer) fallbackRecommendation(condition string, turns []Turn, final Snapshot) Recommendation {
	text := conversationText(condition, turns)
	specialist, hits := matchFallbackCategory(text)

	var justification string
	if len(hits) > 0 {
		justification = fmt.Sprintf("Reported symptoms mention %s; this is best evaluated by %s.", strings.Join(hits, ", "), specialist)
	} else {
		justification = fmt.Sprintf("No specific indicators were identified; %s is the appropriate first point of contact for evaluation.", specialist)
	}

	return Recommendation{
		Specialist:      specialist,
		Justification:   justification,
		ClinicalSummary: templatedSummary(condition, turns, specialist),
	}
}

// templatedSummary concatenates the condition and all turns into a minimal
// referral note.
func templatedSummary(condition string, turns []Turn, specialist Specialist) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Chief complaint: %s\n", condition)
	if len(turns) > 0 {
		b.WriteString("Consultation notes:\n")
		for _, turn := range turns {
			fmt.Fprintf(&b, "- %s %s\n", turn.Question, turn.Answer)
		}
	}
	fmt.Fprintf(&b, "Assessment: recommend evaluation by %s based on %d consultation exchanges.", specialist, len(turns))
	return b.String()
}

func recommendationPrompt(condition string, turns []Turn, final Snapshot) string {
	var scores strings.Builder
	for _, sp := range Specialists() {
		fmt.Fprintf(&scores, "  - %s: %.2f\n", sp, final.PerSpecialist[sp])
	}

	return fmt.Sprintf(`Based on this complete medical consultation session, provide a final eye care specialist recommendation.

Initial condition: %s

Conversation:
%s
Final confidence scores:
%s
Overall confidence: %.2f
Leading recommendation: %s

The specialist must be exactly one of: Ophthalmologist, Optometrist, Optician, Ocular Surgeon.

Return ONLY a JSON object:
{
    "specialist": "Specialist type from the list above",
    "justification": "Clear reasoning based on the patient's specific situation, including any urgency considerations"
}`, condition, conversationTranscript(turns), scores.String(), final.Overall, final.Leading())
}

func summaryPrompt(condition string, turns []Turn, specialist Specialist, final Snapshot) string {
	return fmt.Sprintf(`Generate a concise but comprehensive medical summary for an eye care specialist based on this patient consultation.

Initial condition: %s

Patient responses:
%s
Recommended specialist: %s (confidence %.2f)

Create a professional medical note covering:
1. Chief complaint and presenting symptoms
2. Duration, timeline and progression
3. Associated symptoms and severity
4. Assessment and reasoning for the specialist referral

Keep it concise (2-3 paragraphs maximum). Respond with the note text only.`, condition, conversationTranscript(turns), specialist, final.Overall)
}
