// Package llm talks to an OpenRouter-compatible chat completions API to
// suggest filenames for generated PDFs.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/spherical/fotopdf/internal/domain"
	"github.com/spherical/fotopdf/internal/observability"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultModel   = "google/gemini-2.5-flash-preview-09-2025"
	defaultTimeout = 15 * time.Second

	// Responses larger than this are not a filename.
	maxResponseBytes = 1 << 20
)

// Config holds client settings.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	Retry      *RetryConfig
	HTTPClient *http.Client
}

// Client handles communication with the OpenRouter API.
type Client struct {
	apiKey     string
	model      string
	endpoint   string
	timeout    time.Duration
	retry      *RetryConfig
	httpClient *http.Client
	logger     *observability.Logger
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat asks the model for a JSON object.
type ResponseFormat struct {
	Type string `json:"type"`
}

// Request represents the API request structure.
type Request struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Stream         bool            `json:"stream"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// Response represents the API response structure.
type Response struct {
	ID      string   `json:"id"`
	Choices []Choice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

// Choice represents a single completion choice.
type Choice struct {
	Message      Delta  `json:"message"`
	FinishReason string `json:"finish_reason"`
}

// Delta holds message content.
type Delta struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

// NewClient creates a new LLM client. An API key is required.
func NewClient(cfg Config, logger *observability.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, domain.ConfigError("OPENROUTER_API_KEY is not set", nil)
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retry == nil {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if logger == nil {
		logger = observability.Nop()
	}

	return &Client{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		timeout:    cfg.Timeout,
		retry:      cfg.Retry,
		httpClient: cfg.HTTPClient,
		logger:     logger.WithComponent("llm"),
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// SuggestFilename asks the model for a filename describing the given
// image descriptions. The answer is returned as the model wrote it; callers
// normalise it.
func (c *Client) SuggestFilename(ctx context.Context, descriptions []string) (string, error) {
	if len(descriptions) == 0 {
		return "", domain.ValidationError("no descriptions to name", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(c.buildRequest(descriptions))
	if err != nil {
		return "", domain.APIError("Failed to marshal request", err)
	}

	start := time.Now()
	resp, err := c.retryWithBackoff(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("HTTP-Referer", "https://github.com/spherical/fotopdf")
		req.Header.Set("X-Title", "fotopdf")

		return c.httpClient.Do(req)
	})
	if err != nil {
		return "", domain.APIError("Failed to send request", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", domain.APIError("Failed to read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", domain.APIError(fmt.Sprintf("API returned status %d: %s", resp.StatusCode, truncate(string(raw), 200)), nil)
	}

	var parsed Response
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", domain.APIError("Failed to decode response", err)
	}
	if parsed.Error != nil {
		return "", domain.APIError("API error: "+parsed.Error.Message, nil)
	}
	if len(parsed.Choices) == 0 {
		return "", domain.APIError("API returned no choices", nil)
	}

	name, err := ParseFilename(parsed.Choices[0].Message.Content)
	if err != nil {
		return "", domain.APIError("Unusable suggestion", err)
	}

	c.logger.Debug().
		Str("model", c.model).
		Int("descriptions", len(descriptions)).
		Dur("latency", time.Since(start)).
		Str("filename", name).
		Msg("Filename suggested")

	return name, nil
}

func (c *Client) buildRequest(descriptions []string) *Request {
	return &Request{
		Model: c.model,
		Messages: []Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(descriptions)},
		},
		Stream:         false,
		Temperature:    0.2,
		MaxTokens:      100,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	}
}

const systemPrompt = `You are an expert at suggesting relevant filenames based on a list of image descriptions.
Reply with a JSON object of the form {"filename": "<name>.pdf"} and nothing else.
The filename must be concise, descriptive, lowercase, use hyphens instead of spaces and contain no path separators.`

// buildPrompt lists the descriptions one per line.
func buildPrompt(descriptions []string) string {
	var b strings.Builder
	b.WriteString("Given the following image descriptions, suggest a concise and descriptive filename for the PDF:\n\n")
	for _, d := range descriptions {
		b.WriteString("- ")
		b.WriteString(strings.TrimSpace(d))
		b.WriteString("\n")
	}
	b.WriteString("\nFilename: ")
	return b.String()
}

var fencePattern = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")

// ParseFilename extracts the filename from a model answer. It accepts a
// JSON object with a filename field, optionally inside a code fence, or a
// single line, optionally prefixed with "Filename:".
func ParseFilename(content string) (string, error) {
	s := strings.TrimSpace(content)
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	if s == "" {
		return "", fmt.Errorf("empty answer")
	}

	if strings.HasPrefix(s, "{") {
		var obj struct {
			Filename string `json:"filename"`
		}
		if err := json.Unmarshal([]byte(s), &obj); err != nil {
			return "", fmt.Errorf("malformed JSON answer: %w", err)
		}
		if strings.TrimSpace(obj.Filename) == "" {
			return "", fmt.Errorf("answer has no filename")
		}
		return strings.TrimSpace(obj.Filename), nil
	}

	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) >= len("filename:") && strings.EqualFold(line[:len("filename:")], "filename:") {
			line = strings.TrimSpace(line[len("filename:"):])
		}
		if line != "" {
			return line, nil
		}
	}
	return "", fmt.Errorf("answer has no filename")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
