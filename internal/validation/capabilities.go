package validation

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/parentmap/venue-pipeline/internal/metrics"
	"github.com/parentmap/venue-pipeline/internal/resilience"
	"github.com/parentmap/venue-pipeline/pkg/anthropic"
	"github.com/parentmap/venue-pipeline/pkg/google"
	"github.com/parentmap/venue-pipeline/pkg/jina"
	"github.com/parentmap/venue-pipeline/pkg/perplexity"
)

// SearchHit is one web search result.
type SearchHit struct {
	URL         string
	Title       string
	Snippet     string
	PublishedAt *time.Time
}

// SearchCapability runs web searches. Implementations return an error
// matching resilience.ErrCapabilityUnavailable when the backend is down or
// its breaker is open.
type SearchCapability interface {
	Search(ctx context.Context, query string) ([]SearchHit, error)
}

// Judgement is the structured answer of a reasoning backend. Status is one of
// OPEN, CLOSED, SUSPECTED_CLOSED or NEEDS_REVIEW.
type Judgement struct {
	Status         string   `json:"status"`
	Summary        string   `json:"summary"`
	Rationale      string   `json:"rationale"`
	Confidence     int      `json:"confidence"`
	NeedsReview    bool     `json:"needs_review"`
	SupportingURLs []string `json:"supporting_urls"`
}

// ReasoningCapability turns an adjudication prompt into a Judgement. A
// response that cannot be parsed is an error, never a guessed judgement.
type ReasoningCapability interface {
	Judge(ctx context.Context, prompt string) (*Judgement, error)
}

// guarded runs fn through cb (when set) and counts the outcome.
func guarded[T any](ctx context.Context, cb *resilience.CircuitBreaker, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		v   T
		err error
	)
	if cb != nil {
		v, err = resilience.ExecuteVal(ctx, cb, fn)
	} else {
		v, err = fn(ctx)
	}
	outcome := "ok"
	if err != nil {
		outcome = resilience.Classify(err)
	}
	metrics.ObserveCapability(name, outcome)
	return v, err
}

// --- Search backends ---

// JinaSearch adapts the Jina search API.
type JinaSearch struct {
	client  jina.Client
	opts    []jina.SearchOption
	breaker *resilience.CircuitBreaker
}

// NewJinaSearch wraps client. breaker may be nil. opts are sent with every
// query.
func NewJinaSearch(client jina.Client, breaker *resilience.CircuitBreaker, opts ...jina.SearchOption) *JinaSearch {
	return &JinaSearch{client: client, opts: opts, breaker: breaker}
}

// Search implements SearchCapability.
func (s *JinaSearch) Search(ctx context.Context, query string) ([]SearchHit, error) {
	return guarded(ctx, s.breaker, "jina_search", func(ctx context.Context) ([]SearchHit, error) {
		resp, err := s.client.Search(ctx, query, s.opts...)
		if err != nil {
			return nil, eris.Wrapf(jinaError(err), "jina search %q", query)
		}
		hits := make([]SearchHit, 0, len(resp.Data))
		for _, r := range resp.Data {
			snippet := r.Description
			if snippet == "" {
				snippet = r.Content
			}
			hits = append(hits, SearchHit{
				URL:         r.URL,
				Title:       r.Title,
				Snippet:     snippet,
				PublishedAt: parseDate(r.Date),
			})
		}
		return hits, nil
	})
}

// jinaError maps API status answers onto the resilience error types.
func jinaError(err error) error {
	var se *jina.StatusError
	if !errors.As(err, &se) {
		return err
	}
	return statusError(err, se.StatusCode, "jina search")
}

// statusError marks 5xx answers as server errors and 429 as transient so the
// retry policy and breaker classify them. Other errors pass through.
func statusError(err error, code int, backend string) error {
	switch {
	case resilience.IsServerStatus(code):
		return &resilience.ServerError{StatusCode: code, URL: backend}
	case code == http.StatusTooManyRequests:
		return resilience.NewTransientError(err, code)
	}
	return err
}

// GoogleSearch adapts the Google Programmable Search JSON API.
type GoogleSearch struct {
	client  google.Client
	num     int
	breaker *resilience.CircuitBreaker
}

// NewGoogleSearch wraps client, requesting num results per query.
func NewGoogleSearch(client google.Client, num int, breaker *resilience.CircuitBreaker) *GoogleSearch {
	return &GoogleSearch{client: client, num: num, breaker: breaker}
}

// Search implements SearchCapability.
func (s *GoogleSearch) Search(ctx context.Context, query string) ([]SearchHit, error) {
	return guarded(ctx, s.breaker, "google_search", func(ctx context.Context) ([]SearchHit, error) {
		resp, err := s.client.Search(ctx, query, s.num)
		if err != nil {
			return nil, eris.Wrapf(err, "google search %q", query)
		}
		hits := make([]SearchHit, 0, len(resp.Items))
		for _, it := range resp.Items {
			hits = append(hits, SearchHit{
				URL:         it.Link,
				Title:       it.Title,
				Snippet:     it.Snippet,
				PublishedAt: parseDate(it.PublishedTime()),
			})
		}
		return hits, nil
	})
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02", time.RFC1123} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// --- Reasoning backends ---

// AnthropicReasoner judges with the Anthropic Messages API. The system prompt
// is sent with a cache breakpoint.
type AnthropicReasoner struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	breaker   *resilience.CircuitBreaker
}

// NewAnthropicReasoner wraps client. breaker may be nil.
func NewAnthropicReasoner(client anthropic.Client, model string, maxTokens int, breaker *resilience.CircuitBreaker) *AnthropicReasoner {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &AnthropicReasoner{client: client, model: model, maxTokens: int64(maxTokens), breaker: breaker}
}

// Judge implements ReasoningCapability.
func (r *AnthropicReasoner) Judge(ctx context.Context, prompt string) (*Judgement, error) {
	return guarded(ctx, r.breaker, "anthropic", func(ctx context.Context) (*Judgement, error) {
		temp := 0.0
		resp, err := r.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:       r.model,
			MaxTokens:   r.maxTokens,
			System:      anthropic.CachedSystem(systemPrompt, "5m"),
			Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
			Temperature: &temp,
		})
		if err != nil {
			return nil, eris.Wrap(statusError(err, anthropic.StatusCode(err), "anthropic"), "anthropic judge")
		}
		resp.Usage.Log(r.model, "adjudicate")
		if resp.Truncated() {
			return nil, resilience.CapabilityUnavailablef("anthropic: answer truncated at %d tokens", r.maxTokens)
		}
		return ParseJudgement(resp.Text())
	})
}

// PerplexityReasoner judges with the Perplexity chat completions API.
type PerplexityReasoner struct {
	client  perplexity.Client
	model   string
	breaker *resilience.CircuitBreaker
}

// NewPerplexityReasoner wraps client. An empty model uses the client default.
func NewPerplexityReasoner(client perplexity.Client, model string, breaker *resilience.CircuitBreaker) *PerplexityReasoner {
	return &PerplexityReasoner{client: client, model: model, breaker: breaker}
}

// Judge implements ReasoningCapability.
func (r *PerplexityReasoner) Judge(ctx context.Context, prompt string) (*Judgement, error) {
	return guarded(ctx, r.breaker, "perplexity", func(ctx context.Context) (*Judgement, error) {
		temp := 0.0
		resp, err := r.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
			Model: r.model,
			Messages: []perplexity.Message{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: prompt},
			},
			Temperature: &temp,
		})
		if err != nil {
			return nil, eris.Wrap(err, "perplexity judge")
		}
		return ParseJudgement(resp.Content())
	})
}

// ParseJudgement extracts the JSON object from a model answer. Code fences and
// surrounding prose are tolerated; anything else is reported as an unusable
// answer.
func ParseJudgement(text string) (*Judgement, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, resilience.CapabilityUnavailablef("reasoning: no JSON object in answer")
	}

	var raw struct {
		Status         string   `json:"status"`
		Summary        string   `json:"summary"`
		Rationale      string   `json:"rationale"`
		Confidence     float64  `json:"confidence"`
		NeedsReview    bool     `json:"needs_review"`
		SupportingURLs []string `json:"supporting_urls"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, resilience.CapabilityUnavailablef("reasoning: malformed judgement: %v", err)
	}
	if strings.TrimSpace(raw.Status) == "" {
		return nil, resilience.CapabilityUnavailablef("reasoning: judgement has no status")
	}
	return &Judgement{
		Status:         raw.Status,
		Summary:        raw.Summary,
		Rationale:      raw.Rationale,
		Confidence:     int(math.Round(raw.Confidence)),
		NeedsReview:    raw.NeedsReview,
		SupportingURLs: raw.SupportingURLs,
	}, nil
}
