package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/parentmap/venue-pipeline/internal/model"
	"github.com/parentmap/venue-pipeline/internal/resilience"
)

func newAdjudicator(r ReasoningCapability) *Adjudicator {
	a := NewAdjudicator(r, 0)
	a.nowFunc = func() time.Time { return testNow }
	return a
}

func ev(url, title, snippet string) model.Evidence {
	return model.NewEvidence(url, title, snippet, testNow)
}

func priorRecord() *model.ValidationRecord {
	rec := model.NewValidationRecord("v-1", testNow)
	rec.Stage = model.StageSearchFlag
	rec.SetConfidence(40)
	rec.RiskTier = model.RiskMedium
	return rec
}

func TestAdjudicator_NeverClosedOnEmptyEvidence(t *testing.T) {
	r := new(mockReasoner)
	r.On("Judge", mock.Anything, mock.Anything).Return(&Judgement{Status: "CLOSED", Confidence: 99}, nil).Maybe()

	for _, evidence := range [][]model.Evidence{nil, {}} {
		rec := newAdjudicator(r).Analyze(context.Background(), completeVenue(), evidence, priorRecord())
		assert.Equal(t, model.StatusNeedsReview, rec.Status)
		assert.True(t, rec.NeedsReview)
		assert.NotEqual(t, model.StatusClosed, rec.Status)
	}
	r.AssertNotCalled(t, "Judge", mock.Anything, mock.Anything)
}

func TestAdjudicator_ClosedWithExplicitIndicator(t *testing.T) {
	r := new(mockReasoner)
	r.On("Judge", mock.Anything, mock.Anything).Return(&Judgement{
		Status:     "CLOSED",
		Summary:    "Venue announced closure",
		Rationale:  "Official Facebook post says the venue has closed.",
		Confidence: 90,
	}, nil)

	evidence := []model.Evidence{ev("https://news.example/1", "Playtown 光榮結業", "Playtown 將於本月底結業")}
	rec := newAdjudicator(r).Analyze(context.Background(), completeVenue(), evidence, priorRecord())

	assert.Equal(t, model.StatusClosed, rec.Status)
	assert.Equal(t, model.RiskHigh, rec.RiskTier)
	assert.Equal(t, model.StageLLMFlag, rec.Stage)
	assert.Equal(t, 90, rec.Confidence)
	assert.False(t, rec.NeedsReview)
	assert.Equal(t, []string{"https://news.example/1"}, rec.EvidenceURLs)
}

func TestAdjudicator_ClosedWithoutIndicatorIsDowngraded(t *testing.T) {
	r := new(mockReasoner)
	r.On("Judge", mock.Anything, mock.Anything).Return(&Judgement{Status: "CLOSED", Confidence: 80}, nil)

	evidence := []model.Evidence{ev("https://blog.example/1", "Weekend ideas", "We visited Playtown last year")}
	rec := newAdjudicator(r).Analyze(context.Background(), completeVenue(), evidence, priorRecord())

	assert.Equal(t, model.StatusSuspectedClosed, rec.Status)
	assert.Equal(t, model.RiskHigh, rec.RiskTier)
	assert.True(t, rec.NeedsReview)
}

func TestAdjudicator_EnglishIndicator(t *testing.T) {
	r := new(mockReasoner)
	r.On("Judge", mock.Anything, mock.Anything).Return(&Judgement{Status: "closed", Confidence: 85}, nil)

	evidence := []model.Evidence{ev("https://news.example/2", "", "The play centre has PERMANENTLY CLOSED after ten years.")}
	rec := newAdjudicator(r).Analyze(context.Background(), completeVenue(), evidence, priorRecord())
	assert.Equal(t, model.StatusClosed, rec.Status)
}

func TestAdjudicator_BackendFailureGoesToReview(t *testing.T) {
	for name, err := range map[string]error{
		"timeout":      resilience.NewTransientError(errors.New("i/o timeout"), 0),
		"unavailable":  resilience.CapabilityUnavailablef("reasoning: malformed judgement"),
		"breaker open": resilience.ErrCircuitOpen,
	} {
		t.Run(name, func(t *testing.T) {
			r := new(mockReasoner)
			r.On("Judge", mock.Anything, mock.Anything).Return(nil, err)

			v := completeVenue()
			v.Status = model.StatusOpen
			rec := newAdjudicator(r).Analyze(context.Background(), v, []model.Evidence{ev("https://a.example", "", "open")}, priorRecord())

			assert.Equal(t, model.StatusNeedsReview, rec.Status, "a stale Open is never kept")
			assert.True(t, rec.NeedsReview)
			assert.Equal(t, model.StageLLMFlag, rec.Stage)
			assert.Zero(t, rec.Confidence)
			assert.Equal(t, model.RiskMedium, rec.RiskTier)
			assert.LessOrEqual(t, len([]rune(rec.Rationale)), model.MaxRationaleLen)
		})
	}
}

func TestAdjudicator_NoBackend(t *testing.T) {
	rec := newAdjudicator(nil).Analyze(context.Background(), completeVenue(), []model.Evidence{ev("https://a.example", "", "x")}, priorRecord())
	assert.Equal(t, model.StatusNeedsReview, rec.Status)
	assert.Equal(t, model.StageLLMFlag, rec.Stage)
}

func TestAdjudicator_NeedsReviewFlagWins(t *testing.T) {
	r := new(mockReasoner)
	r.On("Judge", mock.Anything, mock.Anything).Return(&Judgement{Status: "OPEN", NeedsReview: true, Confidence: 60}, nil)

	rec := newAdjudicator(r).Analyze(context.Background(), completeVenue(), []model.Evidence{ev("https://a.example", "", "x")}, priorRecord())
	assert.Equal(t, model.StatusNeedsReview, rec.Status)
	assert.Equal(t, model.RiskMedium, rec.RiskTier)
}

func TestAdjudicator_OpenClampsAndTruncates(t *testing.T) {
	r := new(mockReasoner)
	r.On("Judge", mock.Anything, mock.Anything).Return(&Judgement{
		Status:     "OPEN",
		Rationale:  strings.Repeat("r", 500),
		Confidence: 140,
	}, nil)

	rec := newAdjudicator(r).Analyze(context.Background(), completeVenue(), []model.Evidence{ev("https://a.example", "", "open daily")}, priorRecord())
	assert.Equal(t, model.StatusOpen, rec.Status)
	assert.Equal(t, model.RiskLow, rec.RiskTier)
	assert.Equal(t, 100, rec.Confidence)
	assert.Len(t, rec.Rationale, model.MaxRationaleLen)
}

func TestAdjudicator_UnknownLabel(t *testing.T) {
	r := new(mockReasoner)
	r.On("Judge", mock.Anything, mock.Anything).Return(&Judgement{Status: "MAYBE", Confidence: 50}, nil)

	rec := newAdjudicator(r).Analyze(context.Background(), completeVenue(), []model.Evidence{ev("https://a.example", "", "x")}, priorRecord())
	assert.Equal(t, model.StatusNeedsReview, rec.Status)
	assert.True(t, rec.NeedsReview)
}

func TestAdjudicator_DoesNotModifyPrior(t *testing.T) {
	r := new(mockReasoner)
	r.On("Judge", mock.Anything, mock.Anything).Return(&Judgement{Status: "OPEN", Confidence: 75}, nil)

	prior := priorRecord()
	_ = newAdjudicator(r).Analyze(context.Background(), completeVenue(), []model.Evidence{ev("https://a.example", "", "x")}, prior)
	assert.Equal(t, model.StageSearchFlag, prior.Stage)
	assert.Equal(t, 40, prior.Confidence)
	assert.Empty(t, prior.EvidenceURLs)
}

func TestAdjudicator_SupportingURLsFirst(t *testing.T) {
	r := new(mockReasoner)
	r.On("Judge", mock.Anything, mock.Anything).Return(&Judgement{
		Status:         "OPEN",
		Confidence:     70,
		SupportingURLs: []string{"https://c.example", "https://not-collected.example"},
	}, nil)

	evidence := []model.Evidence{
		ev("https://a.example", "", "a"),
		ev("https://b.example", "", "b"),
		ev("https://c.example", "", "c"),
	}
	rec := newAdjudicator(r).Analyze(context.Background(), completeVenue(), evidence, priorRecord())
	assert.Equal(t, []string{"https://c.example", "https://a.example", "https://b.example"}, rec.EvidenceURLs)
}

func TestBuildPrompt(t *testing.T) {
	v := completeVenue()
	evidence := make([]model.Evidence, 0, 7)
	for i := range 7 {
		evidence = append(evidence, ev(fmt.Sprintf("https://e%d.example", i), "", strings.Repeat("字", 400)))
	}

	prompt := BuildPrompt(v, evidence, 5)

	assert.Contains(t, prompt, "Playtown 童樂園")
	assert.Contains(t, prompt, "灣仔灣仔道3號")
	assert.Contains(t, prompt, "Previous status: Open")
	assert.Contains(t, prompt, "https://e4.example")
	assert.NotContains(t, prompt, "https://e5.example")
	assert.Contains(t, prompt, "Snippet: "+strings.Repeat("字", 300)+"\n")
	assert.NotContains(t, prompt, strings.Repeat("字", 301))
}

func TestBuildPrompt_MissingDetails(t *testing.T) {
	v := &model.Venue{ID: "v-2", Name: "Mystery Place"}
	prompt := BuildPrompt(v, []model.Evidence{ev("https://a.example", "T", "s")}, 5)
	assert.Contains(t, prompt, "Address: Unknown")
	assert.Contains(t, prompt, "Website: None")
	assert.Contains(t, prompt, "Title: T")
}

func TestHasClosureIndicator(t *testing.T) {
	assert.True(t, HasClosureIndicator([]model.Evidence{ev("u", "", "本店已停止營業")}))
	assert.True(t, HasClosureIndicator([]model.Evidence{ev("u", "Closed Down: Playtown", "")}))
	assert.False(t, HasClosureIndicator([]model.Evidence{ev("u", "Opening hours", "Open 10am to 7pm")}))
	assert.False(t, HasClosureIndicator(nil))
}

func TestRiskFor(t *testing.T) {
	assert.Equal(t, model.RiskLow, RiskFor(model.StatusOpen))
	assert.Equal(t, model.RiskHigh, RiskFor(model.StatusSuspectedClosed))
	assert.Equal(t, model.RiskHigh, RiskFor(model.StatusClosed))
	assert.Equal(t, model.RiskMedium, RiskFor(model.StatusNeedsReview))
}

func TestMapJudgedStatus(t *testing.T) {
	assert.Equal(t, model.StatusSuspectedClosed, mapJudgedStatus("suspected closed"))
	assert.Equal(t, model.StatusSuspectedClosed, mapJudgedStatus("SUSPECTED-CLOSED"))
	assert.Equal(t, model.StatusOpen, mapJudgedStatus(" open "))
	require.Equal(t, model.StatusNeedsReview, mapJudgedStatus(""))
}
