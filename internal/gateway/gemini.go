package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	defaultModel     = "gemini-2.0-flash"
	maxAttempts      = 3
	rateLimitBackoff = 3 * time.Second
	timeoutBackoff   = 2 * time.Second
)

// Sentinels for retryable attempt outcomes; everything else fails fast.
var (
	errRateLimited    = errors.New("rate limited")
	errAttemptTimeout = errors.New("attempt timed out")
)

// Client performs vision-model extraction calls against the Gemini API.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
	configs    map[Level]LevelConfig

	// sleep is replaced in tests so backoff waits can be asserted
	// without real sleeping.
	sleep func(ctx context.Context, d time.Duration) error
}

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType string  `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

func New(apiKey string, logger *zap.Logger) *Client {
	settings := gobreaker.Settings{
		Name:        "gemini",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    "https://generativelanguage.googleapis.com",
		model:      defaultModel,
		httpClient: &http.Client{},
		breaker:    gobreaker.NewCircuitBreaker(settings),
		logger:     logger,
		configs:    defaultLevelConfigs(),
		sleep:      sleepCtx,
	}
}

// Extract sends one image plus the unified prompt and returns the raw
// model text. Failures come back as *Error carrying the taxonomy code;
// retry policy: 429 waits (attempt+1)*3s, timeout waits 2s, both up to
// 3 attempts total, any other non-200 fails immediately.
func (c *Client) Extract(ctx context.Context, imageB64, mimeType string, level Level) (string, error) {
	if c.apiKey == "" {
		return "", &Error{Code: CodeServiceError, Msg: "gemini api key not configured"}
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.extract(ctx, imageB64, mimeType, level)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", &Error{Code: CodeServiceError, Msg: "gemini circuit breaker open", Err: err}
		}
		if _, ok := err.(*Error); ok {
			return "", err
		}
		return "", &Error{Code: CodeServiceError, Err: err}
	}
	return result.(string), nil
}

func (c *Client) extract(ctx context.Context, imageB64, mimeType string, level Level) (string, error) {
	cfg, ok := c.configs[level]
	if !ok {
		cfg = c.configs[LevelSummary]
	}

	payload := geminiRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{
				{InlineData: &inlineData{MimeType: mimeType, Data: imageB64}},
				{Text: fmt.Sprintf("%s\n\n【今回の output_level】: %s", promptUnifiedJP, level)},
			},
		}},
		GenerationConfig: generationConfig{
			Temperature:      0,
			MaxOutputTokens:  cfg.MaxOutputTokens,
			ResponseMIMEType: "application/json",
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", &Error{Code: CodeServiceError, Err: err}
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		text, err := c.once(ctx, url, body, cfg.Timeout)
		if err == nil {
			return text, nil
		}

		switch {
		case errors.Is(err, errRateLimited):
			wait := time.Duration(attempt+1) * rateLimitBackoff
			c.logger.Warn("gemini rate limited",
				zap.Int("attempt", attempt+1),
				zap.Duration("wait", wait))
			if serr := c.sleep(ctx, wait); serr != nil {
				return "", &Error{Code: CodeServiceError, Err: serr}
			}
		case errors.Is(err, errAttemptTimeout):
			c.logger.Warn("gemini attempt timed out",
				zap.Int("attempt", attempt+1),
				zap.Duration("budget", cfg.Timeout))
			if attempt == maxAttempts-1 {
				return "", &Error{Code: CodeTimeout, Msg: fmt.Sprintf("no response within %s after %d attempts", cfg.Timeout, maxAttempts)}
			}
			if serr := c.sleep(ctx, timeoutBackoff); serr != nil {
				return "", &Error{Code: CodeServiceError, Err: serr}
			}
		default:
			return "", err
		}
	}

	return "", &Error{Code: CodeMaxRetries, Msg: fmt.Sprintf("exhausted %d attempts", maxAttempts)}
}

// once performs a single attempt under the level's time budget.
func (c *Client) once(ctx context.Context, url string, body []byte, timeout time.Duration) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &Error{Code: CodeServiceError, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded {
			return "", errAttemptTimeout
		}
		return "", &Error{Code: CodeServiceError, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", errRateLimited
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return "", &Error{
			Code: CodeServiceError,
			Msg:  fmt.Sprintf("gemini api error (status %d): %s", resp.StatusCode, string(respBody)),
		}
	}

	var geminiResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded {
			return "", errAttemptTimeout
		}
		return "", &Error{Code: CodeProcessingFailed, Msg: "malformed response body", Err: err}
	}

	if len(geminiResp.Candidates) == 0 || len(geminiResp.Candidates[0].Content.Parts) == 0 {
		return "", &Error{Code: CodeProcessingFailed, Msg: "no candidates in response"}
	}

	text := geminiResp.Candidates[0].Content.Parts[0].Text
	if text == "" {
		return "", &Error{Code: CodeProcessingFailed, Msg: "empty candidate text"}
	}
	return text, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
