package datanorm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ignite/contact-import/internal/inference"
	"github.com/ignite/contact-import/internal/pkg/logger"
)

const (
	DefaultInferenceTimeout = 5 * time.Second
	DefaultMaxAIHeaders     = 20
)

// PredictInput is everything the mapper looks at.
type PredictInput struct {
	Headers      []string
	SampleRows   []map[string]string
	LanguageHint string
	IsTemplate   bool
}

// Mapper proposes column mappings. The inference client is optional; without
// it (or when it fails) the keyword heuristics stand.
type Mapper struct {
	client     inference.Client
	timeout    time.Duration
	maxHeaders int
	logger     *zap.Logger
}

// MapperOption configures a Mapper.
type MapperOption func(*Mapper)

// WithTimeout bounds each inference call.
func WithTimeout(d time.Duration) MapperOption {
	return func(m *Mapper) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithMaxHeaders sets the header count above which inference is skipped.
func WithMaxHeaders(n int) MapperOption {
	return func(m *Mapper) {
		if n > 0 {
			m.maxHeaders = n
		}
	}
}

// NewMapper creates a mapper. A nil client disables inference.
func NewMapper(client inference.Client, logger *zap.Logger, opts ...MapperOption) *Mapper {
	if client == nil {
		client = inference.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Mapper{
		client:     client,
		timeout:    DefaultInferenceTimeout,
		maxHeaders: DefaultMaxAIHeaders,
		logger:     logger.Named("datanorm"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Predict returns one prediction per header, in header order. It never fails:
// inference errors are logged and the heuristic result is returned.
func (m *Mapper) Predict(ctx context.Context, in PredictInput) PredictionResult {
	if in.IsTemplate {
		return PredictionResult{Predictions: TemplatePredictions(in.Headers), Language: LangEnglish}
	}

	lang, ok := ParseLanguageHint(in.LanguageHint)
	if !ok {
		lang = DetectLanguage(in.Headers, in.SampleRows)
	}

	result := PredictionResult{
		Predictions: HeuristicPredictions(in.Headers),
		Language:    lang,
	}

	if !m.client.Enabled() || len(in.Headers) > m.maxHeaders || !needsRefinement(result.Predictions) {
		return result
	}

	suggestions, err := m.infer(ctx, lang, in)
	if err != nil {
		m.logger.Warn("inference failed, keeping heuristic mapping",
			logger.Redacted("error", err.Error()), zap.Int("headers", len(in.Headers)), zap.String("language", string(lang)))
		return result
	}

	replaced := mergePredictions(result.Predictions, suggestions)
	result.AIUsed = replaced > 0
	m.logger.Debug("inference merged", zap.Int("replaced", replaced), zap.Int("suggested", len(suggestions)))
	return result
}

// aiResponse is the shape requested from the model.
type aiResponse struct {
	Predictions []aiPrediction `json:"predictions"`
	Language    string         `json:"language"`
	Confidence  float64        `json:"confidence"`
}

type aiPrediction struct {
	SourceColumn string   `json:"sourceColumn"`
	TargetField  *string  `json:"targetField"`
	Confidence   *float64 `json:"confidence"`
	Reasoning    string   `json:"reasoning"`
}

type completion struct {
	text string
	err  error
}

// infer runs one inference call raced against the mapper timeout. A result
// arriving after the deadline is dropped into the buffered channel and
// ignored.
func (m *Mapper) infer(ctx context.Context, lang Language, in PredictInput) ([]Prediction, error) {
	prompt, err := buildPrompt(lang, in.Headers, in.SampleRows)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	done := make(chan completion, 1)
	go func() {
		text, err := m.client.Complete(callCtx, inference.Request{System: systemPrompt, User: prompt})
		done <- completion{text: text, err: err}
	}()

	var c completion
	select {
	case c = <-done:
	case <-callCtx.Done():
		return nil, fmt.Errorf("inference call: %w", callCtx.Err())
	}
	if c.err != nil {
		return nil, c.err
	}

	var resp aiResponse
	if err := inference.ExtractJSON(c.text, &resp); err != nil {
		return nil, err
	}
	return validSuggestions(resp, in.Headers), nil
}

// validSuggestions drops predictions that name an unknown header or field or
// carry an out-of-range confidence.
func validSuggestions(resp aiResponse, headers []string) []Prediction {
	known := make(map[string]bool, len(headers))
	for _, h := range headers {
		known[h] = true
	}

	out := make([]Prediction, 0, len(resp.Predictions))
	for _, p := range resp.Predictions {
		if !known[p.SourceColumn] || p.Confidence == nil {
			continue
		}
		conf := *p.Confidence
		if conf < 0 || conf > 1 {
			continue
		}
		pred := Prediction{SourceColumn: p.SourceColumn, Confidence: conf, Reasoning: strings.TrimSpace(p.Reasoning)}
		if p.TargetField != nil {
			target := strings.TrimSpace(*p.TargetField)
			if target != "" && !strings.EqualFold(target, "null") {
				f, err := ParseField(target)
				if err != nil {
					continue
				}
				pred.TargetField = fieldPtr(f)
			}
		}
		if pred.Reasoning == "" {
			pred.Reasoning = "suggested by language model"
		}
		out = append(out, pred)
	}
	return out
}

// mergePredictions overwrites a heuristic entry whenever a suggestion for the
// same column is strictly more confident, and returns the number replaced.
func mergePredictions(base []Prediction, suggestions []Prediction) int {
	index := make(map[string]int, len(base))
	for i, p := range base {
		index[p.SourceColumn] = i
	}
	replaced := 0
	for _, s := range suggestions {
		i, ok := index[s.SourceColumn]
		if !ok || s.Confidence <= base[i].Confidence {
			continue
		}
		base[i] = s
		replaced++
	}
	return replaced
}
