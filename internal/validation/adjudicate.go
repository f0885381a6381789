package validation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/parentmap/venue-pipeline/internal/model"
	"github.com/parentmap/venue-pipeline/internal/resilience"
)

// DefaultPromptEvidence is how many evidence items go into a prompt.
const DefaultPromptEvidence = 5

// promptSnippetLen bounds each snippet in the prompt, in characters.
const promptSnippetLen = 300

const systemPrompt = `You are a data validator for a Hong Kong parent-child activity directory.
You decide whether a listed venue is still operating, based only on the evidence provided.

Statuses:
- OPEN: the venue is operating.
- CLOSED: an official announcement or credible media report says the venue has closed.
- SUSPECTED_CLOSED: several indicators suggest closure but nothing confirms it.
- NEEDS_REVIEW: the evidence is insufficient, stale or contradictory.

Rules:
- Only answer CLOSED when an official announcement or credible media report is present.
- Be conservative. Wrongly marking a venue closed is worse than missing a closure.
- Summary at most 100 words, rationale at most 200 words.

Respond with a single JSON object and nothing else:
{"status": "OPEN|CLOSED|SUSPECTED_CLOSED|NEEDS_REVIEW", "summary": "...", "rationale": "...", "confidence": 0-100, "needs_review": false, "supporting_urls": ["..."]}`

// closureIndicators are phrases that count as an explicit closure report.
var closureIndicators = []string{
	"結業",
	"停止營業",
	"永久關閉",
	"已關閉",
	"光榮結業",
	"permanently closed",
	"closed down",
	"ceased operation",
	"closed permanently",
	"shut down",
}

// Adjudicator turns evidence into a status judgement through a reasoning
// backend. The closure policy is enforced here regardless of what the backend
// answers.
type Adjudicator struct {
	reasoner       ReasoningCapability
	promptEvidence int
	nowFunc        func() time.Time
	log            *zap.Logger
}

// NewAdjudicator builds an Adjudicator. reasoner may be nil, in which case
// every venue is sent to review.
func NewAdjudicator(reasoner ReasoningCapability, promptEvidence int) *Adjudicator {
	if promptEvidence <= 0 {
		promptEvidence = DefaultPromptEvidence
	}
	return &Adjudicator{
		reasoner:       reasoner,
		promptEvidence: promptEvidence,
		nowFunc:        time.Now,
		log:            zap.L().With(zap.String("component", "adjudicator")),
	}
}

// Analyze judges v from evidence. prior carries the cheap-check results and is
// not modified; the returned record is a copy with the judgement applied.
func (a *Adjudicator) Analyze(ctx context.Context, v *model.Venue, evidence []model.Evidence, prior *model.ValidationRecord) *model.ValidationRecord {
	var rec *model.ValidationRecord
	if prior != nil {
		cp := *prior
		rec = &cp
	} else {
		rec = model.NewValidationRecord(v.ID, a.nowFunc())
	}
	if len(evidence) > 0 {
		rec.SetEvidence(evidence)
	}
	log := a.log.With(zap.String("venue_id", v.ID))

	if len(evidence) == 0 {
		rec.Advance(model.StageSearchFlag)
		a.toReview(rec, "no evidence found")
		return rec
	}

	if a.reasoner == nil {
		rec.Advance(model.StageLLMFlag)
		a.fail(rec, resilience.CapabilityUnavailablef("no reasoning backend configured"))
		return rec
	}

	j, err := a.reasoner.Judge(ctx, BuildPrompt(v, evidence, a.promptEvidence))
	rec.Advance(model.StageLLMFlag)
	if err != nil {
		log.Warn("adjudication failed", zap.Error(err), zap.String("error_class", resilience.Classify(err)))
		a.fail(rec, err)
		return rec
	}

	status := mapJudgedStatus(j.Status)
	rec.NeedsReview = j.NeedsReview || status == model.StatusNeedsReview
	if j.NeedsReview {
		status = model.StatusNeedsReview
	}
	if status == model.StatusClosed && !HasClosureIndicator(evidence) {
		log.Info("closure not backed by explicit evidence, downgrading",
			zap.String("judged", j.Status))
		status = model.StatusSuspectedClosed
		rec.NeedsReview = true
	}

	rec.Status = status
	rec.Summary = j.Summary
	rec.Rationale = model.Truncate(strings.TrimSpace(j.Rationale), model.MaxRationaleLen)
	rec.SetConfidence(j.Confidence)
	rec.RiskTier = RiskFor(status)
	if urls := supportingEvidence(evidence, j.SupportingURLs); len(urls) > 0 {
		rec.SetEvidence(urls)
	}

	log.Debug("adjudicated",
		zap.String("status", string(rec.Status)),
		zap.Int("confidence", rec.Confidence))
	return rec
}

func (a *Adjudicator) toReview(rec *model.ValidationRecord, reason string) {
	rec.Status = model.StatusNeedsReview
	rec.NeedsReview = true
	rec.RiskTier = RiskFor(model.StatusNeedsReview)
	if rec.Rationale == "" {
		rec.Rationale = reason
	}
}

func (a *Adjudicator) fail(rec *model.ValidationRecord, err error) {
	rec.Status = model.StatusNeedsReview
	rec.NeedsReview = true
	rec.RiskTier = RiskFor(model.StatusNeedsReview)
	rec.SetConfidence(0)
	rec.Rationale = model.Truncate("adjudication unavailable: "+err.Error(), model.MaxRationaleLen)
}

// RiskFor derives the risk tier from a status.
func RiskFor(s model.PlaceStatus) model.RiskTier {
	switch s {
	case model.StatusOpen:
		return model.RiskLow
	case model.StatusSuspectedClosed, model.StatusClosed, model.StatusAlert:
		return model.RiskHigh
	default:
		return model.RiskMedium
	}
}

// mapJudgedStatus maps a backend status label onto PlaceStatus. Unknown
// labels are treated as NEEDS_REVIEW.
func mapJudgedStatus(label string) model.PlaceStatus {
	l := strings.ToUpper(strings.TrimSpace(label))
	l = strings.NewReplacer(" ", "_", "-", "_").Replace(l)
	switch l {
	case "OPEN":
		return model.StatusOpen
	case "CLOSED":
		return model.StatusClosed
	case "SUSPECTED_CLOSED", "SUSPECTEDCLOSED":
		return model.StatusSuspectedClosed
	default:
		return model.StatusNeedsReview
	}
}

// HasClosureIndicator reports whether any evidence title or snippet contains
// an explicit closure phrase.
func HasClosureIndicator(evidence []model.Evidence) bool {
	for _, e := range evidence {
		text := strings.ToLower(e.Title + " " + e.Snippet)
		for _, ind := range closureIndicators {
			if strings.Contains(text, ind) {
				return true
			}
		}
	}
	return false
}

// supportingEvidence moves the evidence the backend cited to the front,
// keeping every collected item. Cited URLs that were not collected are ignored.
func supportingEvidence(evidence []model.Evidence, cited []string) []model.Evidence {
	if len(cited) == 0 {
		return nil
	}
	want := make(map[string]bool, len(cited))
	for _, u := range cited {
		want[strings.TrimSpace(u)] = true
	}
	front := make([]model.Evidence, 0, len(evidence))
	var rest []model.Evidence
	for _, e := range evidence {
		if want[e.URL] {
			front = append(front, e)
		} else {
			rest = append(rest, e)
		}
	}
	if len(front) == 0 {
		return nil
	}
	return append(front, rest...)
}

// BuildPrompt renders the adjudication prompt with the first n evidence items.
func BuildPrompt(v *model.Venue, evidence []model.Evidence, n int) string {
	if n <= 0 || n > len(evidence) {
		n = len(evidence)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the following evidence about %q in %s and determine its status.\n\n", v.Name, orDefault(v.District, "Hong Kong"))
	b.WriteString("PLACE DETAILS:\n")
	fmt.Fprintf(&b, "- Name: %s\n", v.Name)
	if v.NameEn != "" {
		fmt.Fprintf(&b, "- English name: %s\n", v.NameEn)
	}
	fmt.Fprintf(&b, "- Address: %s\n", orDefault(v.Address, "Unknown"))
	fmt.Fprintf(&b, "- Website: %s\n", orDefault(v.WebsiteURL, "None"))
	fmt.Fprintf(&b, "- Previous status: %s\n", orDefault(string(v.Status), "Unknown"))

	b.WriteString("\nEVIDENCE:\n")
	for i, e := range evidence[:n] {
		fmt.Fprintf(&b, "\nEvidence %d:\n", i+1)
		fmt.Fprintf(&b, "URL: %s\n", e.URL)
		if e.Title != "" {
			fmt.Fprintf(&b, "Title: %s\n", e.Title)
		}
		if e.PublishedAt != nil {
			fmt.Fprintf(&b, "Published: %s\n", e.PublishedAt.Format("2006-01-02"))
		}
		fmt.Fprintf(&b, "Snippet: %s\n", model.Truncate(e.Snippet, promptSnippetLen))
	}
	return b.String()
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
