package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
)

// DefaultGoogleURL is the Cloud Translation v2 endpoint.
const DefaultGoogleURL = "https://translation.googleapis.com/language/translate/v2"

// GoogleConfig configures the Google translator.
type GoogleConfig struct {
	APIKey     string
	Target     string // target language code, e.g. "en"
	Source     string // empty to auto-detect
	BaseURL    string // optional (tests)
	MaxRetries int
	RetryDelay time.Duration
	HTTPClient *http.Client
}

// Google translates through the Cloud Translation v2 REST API. Rate limits
// and server errors are retried with exponential backoff.
type Google struct {
	apiKey     string
	target     string
	source     string
	url        string
	maxRetries int
	retryDelay time.Duration
	client     *http.Client
}

// NewGoogle creates a Google translator.
func NewGoogle(cfg GoogleConfig) *Google {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGoogleURL
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Google{
		apiKey:     cfg.APIKey,
		target:     cfg.Target,
		source:     cfg.Source,
		url:        cfg.BaseURL,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		client:     cfg.HTTPClient,
	}
}

type googleRequest struct {
	Q      []string `json:"q"`
	Target string   `json:"target"`
	Source string   `json:"source,omitempty"`
	Format string   `json:"format"`
}

type googleResponse struct {
	Data struct {
		Translations []struct {
			TranslatedText string `json:"translatedText"`
		} `json:"translations"`
	} `json:"data"`
}

// googleStatusError is a non-200 answer.
type googleStatusError struct {
	StatusCode int
	Body       string
}

func (e *googleStatusError) Error() string {
	return fmt.Sprintf("google translate error (status %d): %s", e.StatusCode, e.Body)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// Translate implements Translator.
func (g *Google) Translate(ctx context.Context, texts []string) ([]string, error) {
	if len(texts) == 0 {
		return []string{}, nil
	}

	body, err := json.Marshal(googleRequest{Q: texts, Target: g.target, Source: g.source, Format: "text"})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var out []string
	err = retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")
			q := req.URL.Query()
			q.Set("key", g.apiKey)
			req.URL.RawQuery = q.Encode()

			resp, err := g.client.Do(req)
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			defer resp.Body.Close()

			respBody, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("failed to read response: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				statusErr := &googleStatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
				if retryableStatus(resp.StatusCode) {
					return statusErr
				}
				return retry.Unrecoverable(statusErr)
			}

			var parsed googleResponse
			if err := json.Unmarshal(respBody, &parsed); err != nil {
				return retry.Unrecoverable(fmt.Errorf("failed to unmarshal response: %w", err))
			}
			out = make([]string, len(parsed.Data.Translations))
			for i, tr := range parsed.Data.Translations {
				out[i] = tr.TranslatedText
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(g.maxRetries+1)),
		retry.Delay(g.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	if err := checkLength(len(texts), len(out)); err != nil {
		return nil, err
	}
	return out, nil
}
