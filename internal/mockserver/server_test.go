package mockserver

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inferload/internal/adapter"
	"inferload/internal/datagen"
)

func startTestServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(New(cfg, nil).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func collect(t *testing.T, events <-chan adapter.Event) (tokens int, done, failed bool, err error) {
	t.Helper()
	for ev := range events {
		switch ev.Kind {
		case adapter.EventToken:
			tokens++
		case adapter.EventDone:
			done = true
		case adapter.EventError:
			failed = true
			err = ev.Err
		}
	}
	return
}

func TestStreamsRequestedTokenCount(t *testing.T) {
	ts := startTestServer(t, Config{TTFT: time.Millisecond, TokenInterval: time.Millisecond})

	client := adapter.NewOpenAIClient(adapter.OpenAIConfig{BaseURL: ts.URL, Model: "mock"})
	req := datagen.Request{ID: "r1", Prompt: "one two three", InputTokens: 3, OutputTokens: 7}

	tokens, done, failed, _ := collect(t, client.Stream(context.Background(), req))
	require.False(t, failed)
	assert.True(t, done)
	assert.Equal(t, 7, tokens)
}

func TestUsageFrameOverridesTokenCounts(t *testing.T) {
	ts := startTestServer(t, Config{TTFT: time.Millisecond, TokenInterval: time.Millisecond})

	client := adapter.NewOpenAIClient(adapter.OpenAIConfig{BaseURL: ts.URL, Model: "mock"})
	req := datagen.Request{ID: "r1", Prompt: "alpha beta gamma delta", InputTokens: 99, OutputTokens: 5}

	var final adapter.Event
	for ev := range client.Stream(context.Background(), req) {
		final = ev
	}

	require.Equal(t, adapter.EventDone, final.Kind)
	// The server counts prompt words itself; the adapter trusts usage
	// over its own request metadata.
	assert.Equal(t, 4, final.InputTokens)
	assert.Equal(t, 5, final.OutputTokens)
}

func TestTTFTPacing(t *testing.T) {
	ts := startTestServer(t, Config{TTFT: 150 * time.Millisecond, TokenInterval: time.Millisecond})

	client := adapter.NewOpenAIClient(adapter.OpenAIConfig{BaseURL: ts.URL, Model: "mock"})
	req := datagen.Request{ID: "r1", Prompt: "hi", OutputTokens: 2}

	start := time.Now()
	var firstToken time.Time
	for ev := range client.Stream(context.Background(), req) {
		if ev.Kind == adapter.EventToken && firstToken.IsZero() {
			firstToken = ev.At
		}
	}

	require.False(t, firstToken.IsZero())
	assert.GreaterOrEqual(t, firstToken.Sub(start), 150*time.Millisecond)
}

func TestConcurrencyLimitRejects(t *testing.T) {
	// Limit of zero inflight is impossible, so use 1 and hold a slow
	// stream open while probing with a second request.
	ts := startTestServer(t, Config{TTFT: 500 * time.Millisecond, TokenInterval: time.Millisecond, MaxConcurrency: 1})

	client := adapter.NewOpenAIClient(adapter.OpenAIConfig{BaseURL: ts.URL, Model: "mock"})
	slow := client.Stream(context.Background(), datagen.Request{ID: "slow", Prompt: "x", OutputTokens: 1})

	time.Sleep(50 * time.Millisecond)
	_, _, failed, err := collect(t, client.Stream(context.Background(),
		datagen.Request{ID: "fast", Prompt: "x", OutputTokens: 1}))
	require.True(t, failed)
	assert.Contains(t, err.Error(), "429")

	_, done, _, _ := collect(t, slow)
	assert.True(t, done)
}

func TestNonStreamingRejected(t *testing.T) {
	ts := startTestServer(t, Config{TTFT: time.Millisecond, TokenInterval: time.Millisecond})

	resp, err := ts.Client().Post(ts.URL+"/v1/completions", "application/json",
		nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 400, resp.StatusCode)
}

func TestRunShutsDownOnCancel(t *testing.T) {
	srv := New(Config{Port: 0}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
