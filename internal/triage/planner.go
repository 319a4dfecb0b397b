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

// Planner decides the next question, or that no further question is needed.
// A nil return from NextQuestion means "stop asking, finalize now".
type Planner struct {
	gen     Generator
	cfg     config.TriageConfig
	metrics *telemetry.Metrics
	logger  *log.Logger
}

// NewPlanner creates the question planner.
func NewPlanner(cfg config.TriageConfig, gen Generator, metrics *telemetry.Metrics, logger *log.Logger) *Planner {
	if logger == nil {
		logger = log.New(log.Writer(), "[PLANNER] ", log.LstdFlags)
	}
	if cfg.MaxQuestions <= 0 {
		cfg.MaxQuestions = 8
	}
	if cfg.CollaboratorTimeout <= 0 {
		cfg.CollaboratorTimeout = 30 * time.Second
	}
	return &Planner{gen: gen, cfg: cfg, metrics: metrics, logger: logger}
}

// NextQuestion returns the next question to ask, or nil when the session
// should finalize: turn budget exhausted, confidence over threshold, or the
// satisfaction judgment signals enough information has been gathered.
func (p *Planner) NextQuestion(ctx context.Context, condition string, turns []Turn, snap Snapshot) *Question {
	n := len(turns)
	if n >= p.cfg.MaxQuestions {
		p.logger.Printf("stopping at max question limit (%d)", p.cfg.MaxQuestions)
		return nil
	}
	if n >= p.cfg.MinQuestions {
		if snap.Overall >= p.cfg.ConfidenceThreshold {
			p.logger.Printf("stopping on confidence %.2f >= %.2f", snap.Overall, p.cfg.ConfidenceThreshold)
			return nil
		}
		if satisfied, score := p.assessSatisfaction(ctx, condition, turns, snap); satisfied && score >= p.cfg.SatisfactionThreshold {
			p.logger.Printf("stopping on satisfaction score %.2f", score)
			return nil
		}
	}

	q := p.draftQuestion(ctx, condition, turns, snap)
	if q == nil || isDuplicateQuestion(q.Text, turns) {
		if q != nil {
			p.logger.Printf("drafted question duplicates an earlier one, using fallback")
		}
		q = fallbackQuestion(n, turns)
	}
	return q
}

// assessSatisfaction asks the generation service whether enough information
// has been gathered. Failure or unparseable output counts as not satisfied,
// the conservative direction.
func (p *Planner) assessSatisfaction(ctx context.Context, condition string, turns []Turn, snap Snapshot) (bool, float64) {
	if p.gen == nil {
		return false, 0
	}
	cctx, cancel := context.WithTimeout(ctx, p.cfg.CollaboratorTimeout)
	defer cancel()

	raw, err := p.gen.Generate(cctx, satisfactionPrompt(condition, turns, snap))
	if err != nil {
		p.logger.Printf("satisfaction judgment failed, continuing with questions: %v", err)
		p.metrics.GenerationFallback("satisfaction")
		return false, 0
	}

	var parsed struct {
		IsSatisfied       bool    `json:"is_satisfied"`
		SatisfactionScore float64 `json:"satisfaction_score"`
		Reasoning         string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &parsed); err != nil {
		p.logger.Printf("unparseable satisfaction response, continuing with questions: %v", err)
		p.metrics.GenerationFallback("satisfaction")
		return false, 0
	}
	return parsed.IsSatisfied, clamp01(parsed.SatisfactionScore)
}

// draftQuestion asks the generation service for one disambiguating question.
// Returns nil on failure; the caller falls back to the fixed bank.
func (p *Planner) draftQuestion(ctx context.Context, condition string, turns []Turn, snap Snapshot) *Question {
	if p.gen == nil {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, p.cfg.CollaboratorTimeout)
	defer cancel()

	raw, err := p.gen.Generate(cctx, questionPrompt(condition, turns, snap))
	if err != nil {
		p.logger.Printf("question drafting failed, using fallback bank: %v", err)
		p.metrics.GenerationFallback("planner")
		return nil
	}

	var parsed struct {
		Question string `json:"question"`
		Options  []struct {
			Text    string `json:"text"`
			IsOther bool   `json:"is_other"`
		} `json:"options"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &parsed); err != nil {
		p.logger.Printf("unparseable question response, using fallback bank: %v", err)
		p.metrics.GenerationFallback("planner")
		return nil
	}
	if strings.TrimSpace(parsed.Question) == "" {
		p.metrics.GenerationFallback("planner")
		return nil
	}

	// Repair the option list into the fixed shape: three concrete choices
	// followed by the open "Other" slot.
	var options []QuestionOption
	for _, opt := range parsed.Options {
		text := strings.TrimSpace(opt.Text)
		if text == "" || opt.IsOther {
			continue
		}
		options = append(options, QuestionOption{Text: text})
		if len(options) == 3 {
			break
		}
	}
	for len(options) < 3 {
		options = append(options, QuestionOption{Text: "None of these"})
	}
	options = append(options, QuestionOption{Text: "Other", IsFreeForm: true})

	return &Question{Text: strings.TrimSpace(parsed.Question), Options: options}
}

// questionBank is the deterministic fallback, indexed by turn count. Entries
// are distinct so progress is guaranteed even when every generation call
// fails for the life of a session.
var questionBank = []Question{
	{Text: "How would you describe the severity of your symptoms?", Options: []QuestionOption{
		{Text: "Mild - minimal impact on daily activities"},
		{Text: "Moderate - some impact on daily activities"},
		{Text: "Severe - significant impact on daily activities"},
		{Text: "Other", IsFreeForm: true},
	}},
	{Text: "How long have you been experiencing these symptoms?", Options: []QuestionOption{
		{Text: "Less than 24 hours"},
		{Text: "1-7 days"},
		{Text: "More than a week"},
		{Text: "Other", IsFreeForm: true},
	}},
	{Text: "Are you experiencing any additional symptoms?", Options: []QuestionOption{
		{Text: "No additional symptoms"},
		{Text: "Pain or discomfort"},
		{Text: "Vision changes"},
		{Text: "Other", IsFreeForm: true},
	}},
	{Text: "Did the symptoms come on suddenly or gradually?", Options: []QuestionOption{
		{Text: "Suddenly, within hours"},
		{Text: "Gradually over days"},
		{Text: "Gradually over weeks or longer"},
		{Text: "Other", IsFreeForm: true},
	}},
	{Text: "Have you had any recent injury or trauma to the eye?", Options: []QuestionOption{
		{Text: "No injury"},
		{Text: "Minor bump or scratch"},
		{Text: "Significant injury"},
		{Text: "Other", IsFreeForm: true},
	}},
	{Text: "Do you currently wear glasses or contact lenses?", Options: []QuestionOption{
		{Text: "Glasses"},
		{Text: "Contact lenses"},
		{Text: "Neither"},
		{Text: "Other", IsFreeForm: true},
	}},
	{Text: "Are you taking any medications or eye drops?", Options: []QuestionOption{
		{Text: "No medications"},
		{Text: "Over-the-counter eye drops"},
		{Text: "Prescription medication"},
		{Text: "Other", IsFreeForm: true},
	}},
	{Text: "Is the problem affecting one eye or both?", Options: []QuestionOption{
		{Text: "Right eye only"},
		{Text: "Left eye only"},
		{Text: "Both eyes"},
		{Text: "Other", IsFreeForm: true},
	}},
}

// fallbackQuestion picks the bank entry for the turn index, scanning forward
// past any entry that duplicates an already-asked question.
func fallbackQuestion(turn int, turns []Turn) *Question {
	for i := 0; i < len(questionBank); i++ {
		candidate := questionBank[(turn+i)%len(questionBank)]
		if !isDuplicateQuestion(candidate.Text, turns) {
			q := candidate
			q.Options = append([]QuestionOption(nil), candidate.Options...)
			return &q
		}
	}
	// Every bank entry asked already; only reachable when the configured max
	// exceeds the bank size.
	q := Question{
		Text: fmt.Sprintf("Is there anything else about your symptoms you would like to add? (%d)", turn+1),
		Options: []QuestionOption{
			{Text: "Nothing further"},
			{Text: "Yes, about my vision"},
			{Text: "Yes, about pain or discomfort"},
			{Text: "Other", IsFreeForm: true},
		},
	}
	return &q
}

// normalizeQuestion lowercases, strips punctuation, and collapses whitespace
// so trivially rephrased repeats still match.
func normalizeQuestion(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// isDuplicateQuestion reports whether the candidate text normalizes equal to,
// contains, or is contained by any prior question. A cheap deterministic
// check, not a semantic guarantee.
func isDuplicateQuestion(text string, turns []Turn) bool {
	norm := normalizeQuestion(text)
	if norm == "" {
		return true
	}
	for _, turn := range turns {
		prior := normalizeQuestion(turn.Question)
		if prior == "" {
			continue
		}
		if norm == prior || strings.Contains(norm, prior) || strings.Contains(prior, norm) {
			return true
		}
	}
	return false
}

func questionPrompt(condition string, turns []Turn, snap Snapshot) string {
	var ctx strings.Builder
	fmt.Fprintf(&ctx, "Initial condition: %s\n\n", condition)
	if len(turns) > 0 {
		ctx.WriteString("Previous conversation:\n")
		ctx.WriteString(conversationTranscript(turns))
	}
	fmt.Fprintf(&ctx, "Current leading recommendation: %s\n", snap.Leading())
	fmt.Fprintf(&ctx, "Current overall confidence: %.2f\n", snap.Overall)
	ctx.WriteString("Specialist confidence scores:\n")
	for _, sp := range Specialists() {
		fmt.Fprintf(&ctx, "  - %s: %.2f\n", sp, snap.PerSpecialist[sp])
	}

	return fmt.Sprintf(`You are a medical AI assistant helping to gather information for an eye care consultation.

Based on the following context, generate ONE highly relevant follow-up question that will help:
1. Increase diagnostic confidence
2. Differentiate between the currently closest eye care specialists
3. Gather the most important missing information

Context:
%s
The question should:
- Be specific and medically relevant
- Have 3 multiple choice options plus "Other"
- Focus on symptoms, timeline, severity, or relevant medical history
- Not repeat a question already asked

Return ONLY a JSON object in this exact format:
{
    "question": "Your specific question here?",
    "options": [
        {"text": "Option 1", "is_other": false},
        {"text": "Option 2", "is_other": false},
        {"text": "Option 3", "is_other": false},
        {"text": "Other", "is_other": true}
    ]
}

Do NOT use asterisks or markdown formatting. Return only the JSON object.`, ctx.String())
}

func satisfactionPrompt(condition string, turns []Turn, snap Snapshot) string {
	var ctx strings.Builder
	fmt.Fprintf(&ctx, "Initial condition: %s\n\n", condition)
	fmt.Fprintf(&ctx, "Overall confidence: %.2f\n", snap.Overall)
	fmt.Fprintf(&ctx, "Leading specialist: %s\n\n", snap.Leading())
	fmt.Fprintf(&ctx, "Conversation history (%d exchanges):\n", len(turns))
	ctx.WriteString(conversationTranscript(turns))

	return fmt.Sprintf(`You are a medical AI assistant evaluating whether sufficient information has been gathered to make a confident eye care specialist recommendation.

Analyze the following consultation session:

%s
Evaluate information completeness, diagnostic clarity, confidence level, and whether further questions would add significant diagnostic value or only diminishing returns.

Return ONLY a JSON object in this format:
{
    "is_satisfied": true,
    "satisfaction_score": 0.85,
    "reasoning": "Brief explanation of the satisfaction assessment"
}

Be decisive; consider patient experience and do not over-question. Return only the JSON object.`, ctx.String())
}
