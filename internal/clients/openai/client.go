// Package openai is a hand-rolled client for the OpenAI REST API and for
// OpenAI-compatible endpoints (Moonshot/Kimi, DeepSeek) selected via base URL.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docmesh/graphrag-backend/internal/pkg/httpx"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
)

// Batch lifecycle statuses returned by GET /v1/batches/{id}.
const (
	BatchStatusValidating = "validating"
	BatchStatusInProgress = "in_progress"
	BatchStatusFinalizing = "finalizing"
	BatchStatusCompleted  = "completed"
	BatchStatusFailed     = "failed"
	BatchStatusExpired    = "expired"
	BatchStatusCancelled  = "cancelled"
)

type Client interface {
	// GenerateText runs one chat completion and returns the assistant text.
	GenerateText(ctx context.Context, system string, user string) (string, error)

	// Embed returns one vector per input, in input order.
	Embed(ctx context.Context, inputs []string) ([][]float32, error)

	// Batch API: upload a JSONL request file, start a batch against the chat
	// completions endpoint, poll it, and fetch the output file.
	UploadBatchFile(ctx context.Context, jsonl []byte) (fileID string, err error)
	CreateBatch(ctx context.Context, inputFileID string) (batchID string, err error)
	GetBatch(ctx context.Context, batchID string) (*Batch, error)
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)

	Model() string
	EmbedModel() string
}

type Batch struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	OutputFileID string `json:"output_file_id"`
	ErrorFileID  string `json:"error_file_id"`
}

// BatchRequestLine is one line of the JSONL batch input file.
type BatchRequestLine struct {
	CustomID string           `json:"custom_id"`
	Method   string           `json:"method"`
	URL      string           `json:"url"`
	Body     *ChatCompletions `json:"body"`
}

// BatchResultLine is one line of the JSONL batch output file.
type BatchResultLine struct {
	CustomID string `json:"custom_id"`
	Response *struct {
		StatusCode int                      `json:"status_code"`
		Body       *chatCompletionsResponse `json:"body"`
	} `json:"response"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Text returns the assistant text of a successful result line.
func (l *BatchResultLine) Text() (string, error) {
	if l.Error != nil && l.Error.Message != "" {
		return "", fmt.Errorf("batch item failed: %s", l.Error.Message)
	}
	if l.Response == nil || l.Response.Body == nil {
		return "", fmt.Errorf("batch item has no response body")
	}
	if l.Response.StatusCode < 200 || l.Response.StatusCode >= 300 {
		return "", fmt.Errorf("batch item http %d", l.Response.StatusCode)
	}
	return l.Response.Body.text()
}

type ChatCompletions struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	embedModel string
	httpClient *http.Client
	maxRetries int
}

// Config carries per-vendor env naming so one client implementation serves
// every OpenAI-compatible endpoint.
type Config struct {
	// EnvPrefix selects the env vars: {prefix}_API_KEY, {prefix}_BASE_URL,
	// {prefix}_MODEL, {prefix}_TIMEOUT_SECONDS, {prefix}_MAX_RETRIES.
	EnvPrefix      string
	DefaultBaseURL string
	DefaultModel   string
}

func NewClient(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	prefix := strings.TrimSpace(cfg.EnvPrefix)
	if prefix == "" {
		prefix = "OPENAI"
	}

	apiKey := strings.TrimSpace(os.Getenv(prefix + "_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing %s_API_KEY", prefix)
	}

	baseURL := strings.TrimSpace(os.Getenv(prefix + "_BASE_URL"))
	if baseURL == "" {
		baseURL = cfg.DefaultBaseURL
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(os.Getenv(prefix + "_MODEL"))
	if model == "" {
		model = cfg.DefaultModel
	}

	embedModel := strings.TrimSpace(os.Getenv(prefix + "_EMBED_MODEL"))
	if embedModel == "" {
		embedModel = "text-embedding-3-small"
	}

	timeoutSec := 180
	if v := os.Getenv(prefix + "_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	maxRetries := 3
	if v := os.Getenv(prefix + "_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	return &client{
		log:        log.With("service", prefix+"Client"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: maxRetries,
	}, nil
}

func (c *client) Model() string      { return c.model }
func (c *client) EmbedModel() string { return c.embedModel }

type apiHTTPError struct {
	StatusCode int
	Body       string
}

func (e *apiHTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (e *apiHTTPError) HTTPStatusCode() int {
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
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
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
		return resp, raw, &apiHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
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
				return fmt.Errorf("openai decode error: %w; raw=%s", uErr, string(raw))
			}
			return nil
		}

		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			return err
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, 10*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)

		c.log.Warn("OpenAI-compatible request retrying",
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

// -------------------- Chat --------------------

type chatCompletionsResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (r *chatCompletionsResponse) text() (string, error) {
	if r == nil || len(r.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return r.Choices[0].Message.Content, nil
}

func (c *client) GenerateText(ctx context.Context, system string, user string) (string, error) {
	req := &ChatCompletions{
		Model: c.model,
		Messages: []ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	var resp chatCompletionsResponse
	if err := c.do(ctx, "POST", "/v1/chat/completions", req, &resp); err != nil {
		return "", err
	}
	return resp.text()
}

// -------------------- Embeddings --------------------

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}

	clean := make([]string, len(inputs))
	for i := range inputs {
		s := strings.TrimSpace(inputs[i])
		if s == "" {
			s = " "
		}
		clean[i] = s
	}

	req := embeddingsRequest{Model: c.embedModel, Input: clean}
	var resp embeddingsResponse
	if err := c.do(ctx, "POST", "/v1/embeddings", req, &resp); err != nil {
		return nil, err
	}

	out := make([][]float32, len(clean))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = vec
		}
	}
	for i := range out {
		if out[i] == nil {
			return nil, fmt.Errorf("embeddings response missing index %d (requested %d, returned %d)", i, len(clean), len(resp.Data))
		}
	}
	return out, nil
}

// -------------------- Files + Batches --------------------

type fileUploadResponse struct {
	ID string `json:"id"`
}

func (c *client) UploadBatchFile(ctx context.Context, jsonl []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("purpose", "batch"); err != nil {
		return "", err
	}
	fw, err := mw.CreateFormFile("file", "batch.jsonl")
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(jsonl); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/files", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return "", readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &apiHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var out fileUploadResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("openai decode error: %w; raw=%s", err, string(raw))
	}
	if out.ID == "" {
		return "", fmt.Errorf("file upload returned no id")
	}
	return out.ID, nil
}

type createBatchRequest struct {
	InputFileID      string `json:"input_file_id"`
	Endpoint         string `json:"endpoint"`
	CompletionWindow string `json:"completion_window"`
}

func (c *client) CreateBatch(ctx context.Context, inputFileID string) (string, error) {
	req := createBatchRequest{
		InputFileID:      inputFileID,
		Endpoint:         "/v1/chat/completions",
		CompletionWindow: "24h",
	}
	var out Batch
	if err := c.do(ctx, "POST", "/v1/batches", req, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("batch create returned no id")
	}
	return out.ID, nil
}

func (c *client) GetBatch(ctx context.Context, batchID string) (*Batch, error) {
	var out Batch
	if err := c.do(ctx, "GET", "/v1/batches/"+batchID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/v1/files/"+fileID+"/content", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &apiHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}
