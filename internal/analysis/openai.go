package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

type OpenAIGateway struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

type headerTransport struct {
	rt      http.RoundTripper
	headers http.Header
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone request to avoid mutating the original
	cl := req.Clone(req.Context())
	for k, vs := range t.headers {
		for _, v := range vs {
			cl.Header.Add(k, v)
		}
	}
	return t.rt.RoundTrip(cl)
}

func NewOpenAI(apiKey, baseURL, model, referrer, title string, timeout time.Duration) *OpenAIGateway {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	// Inject optional headers (useful for OpenRouter)
	if referrer != "" || title != "" {
		h := http.Header{}
		if referrer != "" {
			h.Set("HTTP-Referer", referrer)
		}
		if title != "" {
			h.Set("X-Title", title)
		}
		base := http.DefaultTransport
		config.HTTPClient = &http.Client{Transport: headerTransport{rt: base, headers: h}}
	}
	return &OpenAIGateway{
		client:  openai.NewClientWithConfig(config),
		model:   model,
		timeout: timeout,
	}
}

func (g *OpenAIGateway) Analyze(ctx context.Context, description, decision string, considerations []string) (Analysis, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(description, decision, considerations)},
		},
		Temperature: 0.7,
		MaxTokens:   256,
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Analysis{}, fmt.Errorf("%w after %s", ErrTimeout, g.timeout)
		}
		return Analysis{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if len(resp.Choices) == 0 {
		return Analysis{}, fmt.Errorf("%w: no choices in completion", ErrMalformed)
	}
	return parseAnalysis(resp.Choices[0].Message.Content)
}
