// Package anthropic is a hand-rolled client for the Anthropic Messages API,
// including the Message Batches endpoints used for bulk extraction.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docmesh/graphrag-backend/internal/pkg/httpx"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
)

const (
	apiVersion = "2023-06-01"

	BatchStatusInProgress = "in_progress"
	BatchStatusCanceling  = "canceling"
	BatchStatusEnded      = "ended"
)

type Client interface {
	// GenerateText runs one message and returns the concatenated text blocks.
	GenerateText(ctx context.Context, system string, user string) (string, error)

	CreateMessageBatch(ctx context.Context, items []BatchItem) (batchID string, err error)
	GetMessageBatch(ctx context.Context, batchID string) (*MessageBatch, error)
	// GetMessageBatchResults streams the JSONL results of an ended batch.
	GetMessageBatchResults(ctx context.Context, batchID string) ([]BatchResult, error)

	Model() string
}

type BatchItem struct {
	CustomID string
	System   string
	User     string
}

type MessageBatch struct {
	ID               string `json:"id"`
	ProcessingStatus string `json:"processing_status"`
	ResultsURL       string `json:"results_url"`
	RequestCounts    struct {
		Processing int `json:"processing"`
		Succeeded  int `json:"succeeded"`
		Errored    int `json:"errored"`
		Canceled   int `json:"canceled"`
		Expired    int `json:"expired"`
	} `json:"request_counts"`
}

type BatchResult struct {
	CustomID string
	Text     string
	Err      error
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
	maxRetries int
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	apiKey := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing ANTHROPIC_API_KEY")
	}

	baseURL := strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(os.Getenv("ANTHROPIC_MODEL"))
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	maxTokens := 4096
	if v := os.Getenv("ANTHROPIC_MAX_TOKENS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			maxTokens = parsed
		}
	}

	timeoutSec := 180
	if v := os.Getenv("ANTHROPIC_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	maxRetries := 3
	if v := os.Getenv("ANTHROPIC_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	return &client{
		log:        log.With("service", "AnthropicClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		maxTokens:  maxTokens,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: maxRetries,
	}, nil
}

func (c *client) Model() string { return c.model }

type anthropicHTTPError struct {
	StatusCode int
	Body       string
}

func (e *anthropicHTTPError) Error() string {
	return fmt.Sprintf("anthropic http %d: %s", e.StatusCode, e.Body)
}

func (e *anthropicHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (c *client) doOnce(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &anthropicHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *client) do(ctx context.Context, method, path string, body any, out any) error {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("anthropic decode error: %w; raw=%s", uErr, string(raw))
			}
			return nil
		}

		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			return err
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, 10*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)

		c.log.Warn("Anthropic request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		time.Sleep(sleepFor)
		backoff *= 2
	}

	return fmt.Errorf("unreachable retry loop")
}

// -------------------- Messages --------------------

type messageRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Messages  []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (r *messageResponse) text() (string, error) {
	if r == nil || len(r.Content) == 0 {
		return "", fmt.Errorf("message returned no content")
	}
	var b strings.Builder
	for _, block := range r.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

func (c *client) GenerateText(ctx context.Context, system string, user string) (string, error) {
	req := messageRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    system,
		Messages:  []chatMessage{{Role: "user", Content: user}},
	}
	var resp messageResponse
	if err := c.do(ctx, "POST", "/v1/messages", req, &resp); err != nil {
		return "", err
	}
	return resp.text()
}

// -------------------- Message Batches --------------------

type batchCreateRequest struct {
	Requests []batchCreateItem `json:"requests"`
}

type batchCreateItem struct {
	CustomID string         `json:"custom_id"`
	Params   messageRequest `json:"params"`
}

func (c *client) CreateMessageBatch(ctx context.Context, items []BatchItem) (string, error) {
	if len(items) == 0 {
		return "", fmt.Errorf("empty batch")
	}
	req := batchCreateRequest{Requests: make([]batchCreateItem, 0, len(items))}
	for _, it := range items {
		req.Requests = append(req.Requests, batchCreateItem{
			CustomID: it.CustomID,
			Params: messageRequest{
				Model:     c.model,
				MaxTokens: c.maxTokens,
				System:    it.System,
				Messages:  []chatMessage{{Role: "user", Content: it.User}},
			},
		})
	}

	var out MessageBatch
	if err := c.do(ctx, "POST", "/v1/messages/batches", req, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("batch create returned no id")
	}
	return out.ID, nil
}

func (c *client) GetMessageBatch(ctx context.Context, batchID string) (*MessageBatch, error) {
	var out MessageBatch
	if err := c.do(ctx, "GET", "/v1/messages/batches/"+batchID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type batchResultLine struct {
	CustomID string `json:"custom_id"`
	Result   struct {
		Type    string           `json:"type"`
		Message *messageResponse `json:"message"`
		Error   *struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"result"`
}

func (c *client) GetMessageBatchResults(ctx context.Context, batchID string) ([]BatchResult, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/v1/messages/batches/"+batchID+"/results", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, &anthropicHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var results []BatchResult
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var parsed batchResultLine
		if err := json.Unmarshal([]byte(line), &parsed); err != nil {
			return nil, fmt.Errorf("anthropic batch results decode error: %w", err)
		}

		res := BatchResult{CustomID: parsed.CustomID}
		switch parsed.Result.Type {
		case "succeeded":
			text, tErr := parsed.Result.Message.text()
			if tErr != nil {
				res.Err = tErr
			} else {
				res.Text = text
			}
		case "errored":
			msg := "unknown error"
			if parsed.Result.Error != nil && parsed.Result.Error.Message != "" {
				msg = parsed.Result.Error.Message
			}
			res.Err = fmt.Errorf("batch item errored: %s", msg)
		default:
			res.Err = fmt.Errorf("batch item %s", parsed.Result.Type)
		}
		results = append(results, res)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
