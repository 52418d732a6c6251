package adapter

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"context"

	"inferload/internal/datagen"
)

// completionRequest is the OpenAI-compatible completion request body.
type completionRequest struct {
	Model         string         `json:"model"`
	Prompt        string         `json:"prompt"`
	MaxTokens     int            `json:"max_tokens"`
	Temperature   float64        `json:"temperature"`
	Stream        bool           `json:"stream"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
	IgnoreEOS     bool           `json:"ignore_eos,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// completionChunk is one SSE data frame from a streaming completion.
type completionChunk struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// OpenAIConfig configures the streaming completions adapter.
type OpenAIConfig struct {
	BaseURL   string
	Model     string
	APIKey    string
	IgnoreEOS bool
	// MaxConns caps simultaneously open transport connections,
	// independent of request concurrency.
	MaxConns int
	Timeout  time.Duration
}

// OpenAIClient speaks the OpenAI-compatible /v1/completions API with
// SSE streaming (vLLM, TGI and friends).
type OpenAIClient struct {
	cfg    OpenAIConfig
	client *http.Client
}

func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 2000
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = cfg.MaxConns
	t.MaxConnsPerHost = cfg.MaxConns
	t.MaxIdleConnsPerHost = cfg.MaxConns

	return &OpenAIClient{
		cfg: cfg,
		client: &http.Client{
			Transport: t,
			// Per-request deadlines come from ctx; no client-wide timeout
			// so long streams are not cut mid-flight.
		},
	}
}

func (c *OpenAIClient) Stream(ctx context.Context, req datagen.Request) <-chan Event {
	events := make(chan Event, 64)
	go func() {
		defer close(events)
		c.stream(ctx, req, events)
	}()
	return events
}

func (c *OpenAIClient) stream(ctx context.Context, req datagen.Request, events chan<- Event) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(completionRequest{
		Model:         c.cfg.Model,
		Prompt:        req.Prompt,
		MaxTokens:     req.OutputTokens,
		Temperature:   0.0,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
		IgnoreEOS:     c.cfg.IgnoreEOS,
	})
	if err != nil {
		events <- Event{Kind: EventError, At: time.Now(), Err: err}
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.BaseURL, "/")+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		events <- Event{Kind: EventError, At: time.Now(), Err: err}
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		events <- Event{Kind: EventError, At: time.Now(), Err: err}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		events <- Event{Kind: EventError, At: time.Now(),
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(b))}
		return
	}

	reader := bufio.NewReader(resp.Body)
	tokens := 0
	inputTokens := req.InputTokens
	usageTokens := 0

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			events <- Event{Kind: EventError, At: time.Now(), Err: err}
			return
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var chunk completionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // tolerate non-JSON keepalive frames
		}
		if chunk.Usage != nil {
			if chunk.Usage.PromptTokens > 0 {
				inputTokens = chunk.Usage.PromptTokens
			}
			if chunk.Usage.CompletionTokens > 0 {
				usageTokens = chunk.Usage.CompletionTokens
			}
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Text != "" {
			tokens++
			events <- Event{Kind: EventToken, At: time.Now()}
		}
	}

	if usageTokens > 0 {
		tokens = usageTokens
	}
	if tokens == 0 {
		events <- Event{Kind: EventError, At: time.Now(), Err: fmt.Errorf("no tokens received")}
		return
	}
	events <- Event{Kind: EventDone, At: time.Now(), InputTokens: inputTokens, OutputTokens: tokens}
}
