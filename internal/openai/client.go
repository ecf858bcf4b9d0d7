// Package openai adapts the official OpenAI SDK to the three calls
// clip-memory needs: responses, embeddings and audio transcriptions. It adds
// outbound pacing and maps provider errors onto APIError.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://api.openai.com/v1"

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	// RequestsPerSecond paces outbound calls; 0 disables pacing.
	RequestsPerSecond float64
	Timeout           time.Duration
	HTTPClient        *http.Client
}

// Client talks to an OpenAI-compatible API. It is safe for concurrent use.
// The SDK's own retries are disabled; callers decide what to retry.
type Client struct {
	sdk     sdk.Client
	http    *http.Client
	limiter *rate.Limiter
}

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
	err        error
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("openai error %d (%s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("openai error %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.err }

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout,
		e.StatusCode == http.StatusConflict,
		e.StatusCode == http.StatusTooManyRequests,
		e.StatusCode >= 500:
		return true
	}
	return false
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}

	opts := []option.RequestOption{
		option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/") + "/"),
		option.WithHTTPClient(hc),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}

	c := &Client{sdk: sdk.NewClient(opts...), http: hc}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// mapError converts SDK status errors into *APIError and wraps the rest.
func mapError(op string, err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error()
		}
		return &APIError{StatusCode: apiErr.StatusCode, Type: apiErr.Type, Message: msg, err: err}
	}
	return fmt.Errorf("openai %s: %w", op, err)
}

// ResponseRequest is a single-turn text generation request.
type ResponseRequest struct {
	Model           string
	Instructions    string
	Input           string
	MaxOutputTokens int
}

// Respond calls the responses endpoint and returns the concatenated output
// text. An empty string with a nil error means the model produced nothing.
func (c *Client) Respond(ctx context.Context, r ResponseRequest) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(r.Model),
		Input: responses.ResponseNewParamsInputUnion{OfString: sdk.String(r.Input)},
	}
	if r.Instructions != "" {
		params.Instructions = sdk.String(r.Instructions)
	}
	if r.MaxOutputTokens > 0 {
		params.MaxOutputTokens = sdk.Int(int64(r.MaxOutputTokens))
	}

	resp, err := c.sdk.Responses.New(ctx, params)
	if err != nil {
		return "", mapError("responses", err)
	}
	return OutputText([]byte(resp.RawJSON())), nil
}

// OutputText extracts generated text from a responses payload. It prefers the
// aggregated output_text field and otherwise joins every output_text part.
func OutputText(payload []byte) string {
	if t := gjson.GetBytes(payload, "output_text"); t.Type == gjson.String {
		return strings.TrimSpace(t.String())
	}
	var parts []string
	gjson.GetBytes(payload, "output").ForEach(func(_, item gjson.Result) bool {
		item.Get("content").ForEach(func(_, part gjson.Result) bool {
			if part.Get("type").String() == "output_text" {
				parts = append(parts, part.Get("text").String())
			}
			return true
		})
		return true
	})
	return strings.TrimSpace(strings.Join(parts, ""))
}

// Embed returns the embedding of input.
func (c *Client) Embed(ctx context.Context, model, input string) ([]float32, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.sdk.Embeddings.New(ctx, sdk.EmbeddingNewParams{
		Model: sdk.EmbeddingModel(model),
		Input: sdk.EmbeddingNewParamsInputUnion{OfString: sdk.String(input)},
	})
	if err != nil {
		return nil, mapError("embeddings", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}

	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}

// TranscriptionRequest uploads a local audio file for speech recognition.
type TranscriptionRequest struct {
	FilePath       string
	Model          string
	Language       string
	ResponseFormat string
	Prompt         string
}

// Transcribe uploads the audio file and returns the raw response body so
// callers can validate its shape.
func (c *Client) Transcribe(ctx context.Context, r TranscriptionRequest) ([]byte, error) {
	f, err := os.Open(r.FilePath)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	params := sdk.AudioTranscriptionNewParams{
		File:  sdk.File(f, filepath.Base(r.FilePath), "application/octet-stream"),
		Model: sdk.AudioModel(r.Model),
	}
	if r.ResponseFormat != "" {
		params.ResponseFormat = sdk.AudioResponseFormat(r.ResponseFormat)
	}
	if r.Language != "" {
		params.Language = sdk.String(r.Language)
	}
	if r.Prompt != "" {
		params.Prompt = sdk.String(r.Prompt)
	}
	if r.ResponseFormat == string(sdk.AudioResponseFormatVerboseJSON) {
		params.TimestampGranularities = []string{"segment"}
	}

	resp, err := c.sdk.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, mapError("transcriptions", err)
	}
	return []byte(resp.RawJSON()), nil
}
