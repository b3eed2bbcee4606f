package inference

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/contact-import/internal/config"
)

func TestOpenAIClientComplete(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"predictions\":[]}"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL+"/", "sk-test", "", time.Second)
	require.True(t, c.Enabled())

	out, err := c.Complete(context.Background(), Request{System: "sys", User: "hello"})
	require.NoError(t, err)
	assert.Equal(t, `{"predictions":[]}`, out)
	assert.Equal(t, defaultOpenAIModel, got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "hello", got.Messages[1].Content)
}

func TestOpenAIClientErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "non-2xx", status: http.StatusTooManyRequests, body: `{"error":"rate limited"}`},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`, wantErr: ErrEmptyResponse},
		{name: "garbage", status: http.StatusOK, body: `<html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewOpenAIClient(srv.URL, "k", "m", time.Second).Complete(context.Background(), Request{})
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestOpenAIClientHonorsContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewOpenAIClient(srv.URL, "k", "m", 10*time.Second).Complete(ctx, Request{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

type fakeInvoker struct {
	input *bedrockruntime.InvokeModelInput
	body  string
	err   error
}

func (f *fakeInvoker) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.body)}, nil
}

func TestBedrockClientComplete(t *testing.T) {
	inv := &fakeInvoker{body: `{"content":[{"type":"text","text":"{\"a\":"},{"type":"text","text":"1}"}]}`}
	c := newBedrockClient(inv, "gpt-4o-mini")
	assert.Equal(t, defaultBedrockModel, c.modelID)

	out, err := c.Complete(context.Background(), Request{System: "sys", User: "map these"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, out)

	var sent bedrockRequest
	require.NoError(t, json.Unmarshal(inv.input.Body, &sent))
	assert.Equal(t, "sys", sent.System)
	assert.Equal(t, "map these", sent.Messages[0].Content[0].Text)
}

func TestBedrockClientErrors(t *testing.T) {
	_, err := newBedrockClient(&fakeInvoker{err: errors.New("throttled")}, "").Complete(context.Background(), Request{})
	assert.ErrorContains(t, err, "throttled")

	_, err = newBedrockClient(&fakeInvoker{body: `{"content":[]}`}, "").Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestNew(t *testing.T) {
	c, err := New(context.Background(), config.InferenceConfig{Enabled: false, Provider: "openai"}, nil)
	require.NoError(t, err)
	assert.False(t, c.Enabled())

	c, err = New(context.Background(), config.InferenceConfig{Enabled: true, Provider: "openai", APIKey: "k"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, c)
	assert.True(t, c.Enabled())

	_, err = New(context.Background(), config.InferenceConfig{Enabled: true, Provider: "mystery"}, nil)
	assert.Error(t, err)

	_, err = Noop{}.Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestExtractJSON(t *testing.T) {
	type payload struct {
		Language string `json:"language"`
		Count    int    `json:"count"`
	}
	tests := []struct {
		name string
		in   string
		want payload
	}{
		{"plain", `{"language":"fr","count":2}`, payload{"fr", 2}},
		{"fenced", "Sure:\n```json\n{\"language\":\"de\",\"count\":1}\n```", payload{"de", 1}},
		{"surrounded", `Here you go {"language":"en","count":3} hope it helps`, payload{"en", 3}},
		{"trailing comma", `{"language":"en","count":4,}`, payload{"en", 4}},
		{"truncated", `{"language":"fr","count":5`, payload{"fr", 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got payload
			require.NoError(t, ExtractJSON(tt.in, &got))
			assert.Equal(t, tt.want, got)
		})
	}

	var p payload
	assert.ErrorIs(t, ExtractJSON("", &p), ErrNoJSON)
	assert.ErrorIs(t, ExtractJSON("no braces here", &p), ErrNoJSON)
}
