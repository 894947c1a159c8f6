package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultTimeout = 60 * time.Second

	systemPrompt = "You are a radio frequency analyst. Given the metadata of a signal detected by a " +
		"scanning receiver and the station location, identify the most likely service or " +
		"transmitter type, its typical use, and anything notable. Answer in a short paragraph."

	maxErrorBody = 4 << 10
)

// ErrAnalysisFailure is returned when the analysis service fails or returns
// nothing. Callers log it and carry on without an analysis.
var ErrAnalysisFailure = errors.New("analysis failure")

// Analyzer annotates signal metadata with a free text analysis.
type Analyzer interface {
	Analyze(ctx context.Context, metadata []byte, locationHint string) (string, error)
}

// WithHTTPClient sets the HTTP client
func WithHTTPClient(hc *http.Client) func(*Client) {
	return func(c *Client) {
		c.http = hc
	}
}

// WithAPIKey sets the bearer token sent with every request
func WithAPIKey(key string) func(*Client) {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithTimeout sets the per request timeout
func WithTimeout(d time.Duration) func(*Client) {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger for the client
func WithLogger(logger *slog.Logger) func(*Client) {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client is an Analyzer backed by an OpenAI compatible chat completions
// endpoint.
type Client struct {
	endpoint string
	model    string
	apiKey   string
	timeout  time.Duration
	http     *http.Client
	logger   *slog.Logger
}

func NewClient(endpoint, model string, options ...func(*Client)) *Client {
	c := Client{
		endpoint: endpoint,
		model:    model,
		timeout:  DefaultTimeout,
		http:     http.DefaultClient,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&c)
	}

	return &c
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

// Analyze sends one completion request. Every failure, including an empty
// answer, wraps ErrAnalysisFailure.
func (c *Client) Analyze(ctx context.Context, metadata []byte, locationHint string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prompt := "Signal metadata:\n" + string(metadata)
	if locationHint != "" {
		prompt += "\nStation location: " + locationHint
	}

	body, err := json.Marshal(completionRequest{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: encoding request: %w", ErrAnalysisFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAnalysisFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAnalysisFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("%w: %s: %s", ErrAnalysisFailure, resp.Status, strings.TrimSpace(string(p)))
	}

	var out completionResponse
	if err = json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decoding response: %w", ErrAnalysisFailure, err)
	}

	c.logger.Debug("analysis complete", slog.Duration("took", time.Since(started)))

	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrAnalysisFailure)
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty answer", ErrAnalysisFailure)
	}

	return text, nil
}
