// Package llm is a client for OpenAI-compatible chat-completion endpoints.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jw6ventures/calassist/internal/metrics"
	"github.com/jw6ventures/calassist/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 64 << 10

// Options configures a Client.
type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Client talks to {BaseURL}/chat/completions.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	timeout     time.Duration
	http        *http.Client
}

func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		apiKey:      opts.APIKey,
		model:       opts.Model,
		temperature: opts.Temperature,
		timeout:     opts.Timeout,
		http:        hc,
	}
}

// Model returns the default model name.
func (c *Client) Model() string { return c.model }

// Complete sends req and returns the first choice's message. A non-2xx answer
// yields *UpstreamError. The configured timeout bounds the whole round trip.
func (c *Client) Complete(ctx context.Context, req Request) (*Message, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	temp := req.Temperature
	if temp == nil {
		t := c.temperature
		temp = &t
	}
	phase := req.Phase
	if phase == "" {
		phase = "call"
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	ctx, span := tracing.StartLLMSpan(ctx, phase, model)
	start := time.Now()
	msg, err := c.do(ctx, chatRequest{Model: model, Messages: req.Messages, Tools: req.Tools, Temperature: temp})
	var ue *UpstreamError
	if errors.As(err, &ue) {
		span.SetAttributes(attribute.Int(tracing.AttrStatus, ue.Status))
	}
	tracing.End(span, err)
	metrics.ObserveLLMRequest(phase, start, err)
	return msg, err
}

func (c *Client) do(ctx context.Context, body chatRequest) (*Message, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(raw)}
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, ErrNoChoices
	}
	choice := decoded.Choices[0].Message
	out := &Message{Role: RoleAssistant, ToolCalls: choice.ToolCalls}
	if choice.Content != nil {
		out.Content = *choice.Content
	}
	return out, nil
}
