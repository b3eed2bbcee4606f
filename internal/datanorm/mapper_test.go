package datanorm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ignite/contact-import/internal/inference"
)

type fakeClient struct {
	enabled bool
	reply   string
	err     error
	block   bool

	calls int32
	mu    sync.Mutex
	last  inference.Request
}

func (f *fakeClient) Enabled() bool { return f.enabled }

func (f *fakeClient) Complete(ctx context.Context, req inference.Request) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.reply, f.err
}

func (f *fakeClient) callCount() int32 { return atomic.LoadInt32(&f.calls) }

func (f *fakeClient) lastRequest() inference.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

var lowConfidenceHeaders = []string{"Email", "Favorite Color", "Kundennummer"}

func TestPredictMergesMoreConfidentSuggestions(t *testing.T) {
	client := &fakeClient{enabled: true, reply: "Here is the mapping:\n```json\n" + `{
		"predictions": [
			{"sourceColumn": "Email", "targetField": "phone", "confidence": 0.5, "reasoning": "unsure"},
			{"sourceColumn": "Favorite Color", "targetField": "notes", "confidence": 0.85, "reasoning": "free text"},
			{"sourceColumn": "Kundennummer", "targetField": "customerId", "confidence": 0.99},
			{"sourceColumn": "Unknown", "targetField": "email", "confidence": 0.99},
			{"sourceColumn": "Kundennummer", "targetField": null, "confidence": 1.5}
		],
		"language": "de",
		"confidence": 0.8
	}` + "\n```"}

	res := NewMapper(client, nil).Predict(context.Background(), PredictInput{Headers: lowConfidenceHeaders})

	assert.True(t, res.AIUsed)
	assert.Equal(t, int32(1), client.callCount())

	mapping := res.Mapping()
	assert.Equal(t, FieldEmail, mapping["Email"])
	assert.Equal(t, FieldNotes, mapping["Favorite Color"])
	_, mapped := mapping["Kundennummer"]
	assert.False(t, mapped)

	assert.Equal(t, 0.85, res.Predictions[1].Confidence)
	assert.Equal(t, "free text", res.Predictions[1].Reasoning)
	assert.Equal(t, unmatchedConfidence, res.Predictions[2].Confidence)
}

func TestPredictNullSuggestionCanUnmapColumn(t *testing.T) {
	client := &fakeClient{enabled: true, reply: `{"predictions":[{"sourceColumn":"Type","targetField":null,"confidence":0.95,"reasoning":"internal code"}]}`}

	res := NewMapper(client, nil).Predict(context.Background(), PredictInput{Headers: []string{"Full Name", "Type"}})

	assert.True(t, res.AIUsed)
	assert.Nil(t, res.Predictions[1].TargetField)
}

func TestPredictSkipsInference(t *testing.T) {
	manyHeaders := make([]string, 21)
	for i := range manyHeaders {
		manyHeaders[i] = "Column " + string(rune('A'+i))
	}

	tests := []struct {
		name    string
		enabled bool
		headers []string
	}{
		{"client disabled", false, lowConfidenceHeaders},
		{"all confident", true, []string{"Full Name", "Email", "Phone"}},
		{"too many headers", true, manyHeaders},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{enabled: tt.enabled, reply: `{"predictions":[]}`}
			res := NewMapper(client, nil).Predict(context.Background(), PredictInput{Headers: tt.headers})
			assert.Equal(t, int32(0), client.callCount())
			assert.False(t, res.AIUsed)
			assert.Len(t, res.Predictions, len(tt.headers))
		})
	}
}

func TestPredictFallsBackOnInferenceFailure(t *testing.T) {
	tests := []struct {
		name   string
		client *fakeClient
	}{
		{"client error", &fakeClient{enabled: true, err: errors.New("503 service unavailable")}},
		{"not json", &fakeClient{enabled: true, reply: "I cannot help with that."}},
		{"nothing better", &fakeClient{enabled: true, reply: `{"predictions":[{"sourceColumn":"Favorite Color","targetField":"notes","confidence":0.3}]}`}},
	}

	want := HeuristicPredictions(lowConfidenceHeaders)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.WarnLevel)
			res := NewMapper(tt.client, zap.New(core)).Predict(context.Background(), PredictInput{Headers: lowConfidenceHeaders})

			assert.False(t, res.AIUsed)
			assert.Equal(t, want, res.Predictions)
			assert.Equal(t, int32(1), tt.client.callCount())
			if tt.name != "nothing better" {
				assert.Equal(t, 1, logs.FilterMessage("inference failed, keeping heuristic mapping").Len())
			}
		})
	}
}

func TestPredictTimeoutDoesNotLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := &fakeClient{enabled: true, block: true}
	m := NewMapper(client, nil, WithTimeout(20*time.Millisecond))

	start := time.Now()
	res := m.Predict(context.Background(), PredictInput{Headers: lowConfidenceHeaders})

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, res.AIUsed)
	assert.Equal(t, HeuristicPredictions(lowConfidenceHeaders), res.Predictions)
}

func TestPredictUsesLanguageHint(t *testing.T) {
	client := &fakeClient{enabled: true, reply: `{"predictions":[]}`}
	res := NewMapper(client, nil).Predict(context.Background(), PredictInput{
		Headers:      lowConfidenceHeaders,
		SampleRows:   []map[string]string{{"Email": "a@b.de", "Favorite Color": "blau", "Kundennummer": "42"}, {"Email": "c@d.de"}, {"Email": "e@f.de"}},
		LanguageHint: "fr",
	})
	assert.Equal(t, LangFrench, res.Language)

	req := client.lastRequest()
	assert.Equal(t, systemPrompt, req.System)
	assert.Contains(t, req.User, "French")
	assert.Contains(t, req.User, "Courriel")
	assert.Contains(t, req.User, "- Kundennummer")
	assert.Contains(t, req.User, "1. Email: a@b.de | Favorite Color: blau | Kundennummer: 42")
	assert.Contains(t, req.User, "2. Email: c@d.de")
	assert.NotContains(t, req.User, "e@f.de")
}

func TestBuildPromptWithoutSamples(t *testing.T) {
	out, err := buildPrompt(LangGerman, []string{"Vorname"}, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "German")
	assert.Contains(t, out, "PLZ")
	assert.NotContains(t, out, "SAMPLE ROWS")
	assert.True(t, strings.Contains(out, `"language":"de"`))
}
