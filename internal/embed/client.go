package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	aerrors "github.com/amanmcp/codesearch/internal/errors"
	"github.com/amanmcp/codesearch/internal/ratelimit"
)

// defaultEndpoint is Google's generative-language embedding endpoint, the
// home of the EMBED_MODEL default ("text-embedding-004") referenced
// throughout the external interface.
const defaultEndpoint = "https://generativelanguage.googleapis.com/v1beta"

// Config configures a remote embedding Client.
type Config struct {
	Endpoint   string // base URL; defaults to defaultEndpoint
	APIKey     string
	Model      string
	Dimensions int
	Profile    ratelimit.ModelProfile
}

// embedRequestItem mirrors one entry of a batchEmbedContents call.
type embedRequestItem struct {
	Model    string        `json:"model"`
	Content  embedContent  `json:"content"`
	TaskType string        `json:"taskType,omitempty"`
}

type embedContent struct {
	Parts []embedPart `json:"parts"`
}

type embedPart struct {
	Text string `json:"text"`
}

type batchEmbedRequest struct {
	Requests []embedRequestItem `json:"requests"`
}

type batchEmbedResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
	Error *struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// Client implements Embedder against a remote HTTP provider. Context-scoped
// per-call timeouts are used instead of http.Client.Timeout so a retry gets
// a fresh deadline rather than inheriting an already-expired one.
type Client struct {
	httpClient *http.Client
	transport  *http.Transport

	endpoint string
	apiKey   string
	model    string
	dims     int
	profile  ratelimit.ModelProfile
	governor *ratelimit.Governor

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*Client)(nil)

// NewClient constructs a Client. governor is shared with every caller of
// this model; the Client calls Reserve before and Record after each HTTP
// round trip.
func NewClient(cfg Config, governor *ratelimit.Governor) *Client {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	dims := cfg.Dimensions
	if dims == 0 {
		dims = DefaultDimensions
	}

	transport := &http.Transport{
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     30 * time.Second,
	}

	return &Client{
		httpClient: &http.Client{Transport: transport},
		transport:  transport,
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dims:       dims,
		profile:    cfg.Profile,
		governor:   governor,
	}
}

// Dimensions returns the embedding dimension.
func (c *Client) Dimensions() int { return c.dims }

// ModelName returns the model identifier.
func (c *Client) ModelName() string { return c.model }

// Embed generates an embedding for a single text.
func (c *Client) Embed(ctx context.Context, text string, hint TaskHint) ([]float32, error) {
	embeddings, err := c.EmbedBatch(ctx, []string{text}, hint)
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch dispatches texts according to the configured ModelProfile:
// parallel-profile models fire whole batches of BatchSize concurrently and
// pace to one batch per second; serial-profile models issue one request at
// a time with a fixed minimum gap. Both paths reserve against the shared
// Governor before every HTTP call.
func (c *Client) EmbedBatch(ctx context.Context, texts []string, hint TaskHint) ([][]float32, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedding client is closed")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	if c.profile.Parallel {
		return c.embedParallel(ctx, texts, hint)
	}
	return c.embedSerial(ctx, texts, hint)
}

func (c *Client) embedParallel(ctx context.Context, texts []string, hint TaskHint) ([][]float32, error) {
	batchSize := c.profile.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}

	results := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batchStart := time.Now()

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			idx := i
			g.Go(func() error {
				emb, err := c.embedOneWithRetry(gctx, texts[idx], hint, ParallelBackoffBase, ParallelMaxRetries)
				if err != nil {
					return err
				}
				results[idx] = emb
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		elapsed := time.Since(batchStart)
		if remaining := time.Second - elapsed; remaining > 0 && end < len(texts) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(remaining):
			}
		}
	}
	return results, nil
}

func (c *Client) embedSerial(ctx context.Context, texts []string, hint TaskHint) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(SerialMinGap):
			}
		}
		emb, err := c.embedOneWithRetry(ctx, text, hint, SerialBackoffBase, SerialMaxRetries)
		if err != nil {
			return nil, err
		}
		results[i] = emb
	}
	return results, nil
}

// embedOneWithRetry embeds a single text, retrying only on retryable
// failures (throttling, 5xx, transport errors) with exponential backoff
// capped at MaxBackoff. A non-retryable 4xx (other than 429) returns
// immediately without consuming a retry, per spec: the caller sees
// ChunkEmbeddingFailure either way, but the provider isn't hammered with
// requests that will never succeed.
func (c *Client) embedOneWithRetry(ctx context.Context, text string, hint TaskHint, base time.Duration, maxRetries int) ([]float32, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, c.dims), nil
	}

	delay := base
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		estimated := ratelimit.EstimateTokens(text)
		if err := c.governor.Reserve(ctx, estimated); err != nil {
			return nil, err
		}
		emb, actualTokens, err := c.doEmbed(ctx, text, hint)
		c.governor.Record(actualTokens)
		if err == nil {
			return emb, nil
		}
		lastErr = err

		if !aerrors.IsRetryable(err) || attempt >= maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > MaxBackoff {
			delay = MaxBackoff
		}
	}

	return nil, aerrors.ChunkEmbeddingFailure("embed chunk", lastErr)
}

// doEmbed performs one HTTP round trip. It runs the request in a goroutine
// and watches ctx so a cancelled context returns promptly instead of
// blocking on an in-flight read.
func (c *Client) doEmbed(ctx context.Context, text string, hint TaskHint) ([]float32, int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	body := batchEmbedRequest{Requests: []embedRequestItem{{
		Model:    "models/" + c.model,
		Content:  embedContent{Parts: []embedPart{{Text: text}}},
		TaskType: string(hint),
	}}}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal embed request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:batchEmbedContents", c.endpoint, c.model)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	type result struct {
		emb    []float32
		tokens int
		err    error
	}
	resultCh := make(chan result, 1)

	go func() {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			resultCh <- result{err: aerrors.TransientProviderError("embedding request", err)}
			return
		}
		defer func() { _ = resp.Body.Close() }()

		respBody, _ := io.ReadAll(resp.Body)

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resultCh <- result{err: aerrors.TransientProviderError(
				fmt.Sprintf("embedding provider returned status %d", resp.StatusCode),
				fmt.Errorf("%s", string(respBody)))}
			return
		}
		if resp.StatusCode != http.StatusOK {
			// Non-retryable 4xx: ValidationError carries a non-retryable
			// code, so embedOneWithRetry's IsRetryable check breaks the
			// loop instead of spending the remaining retry budget.
			resultCh <- result{err: aerrors.ValidationError(
				fmt.Sprintf("embedding provider rejected request with status %d", resp.StatusCode),
				fmt.Errorf("%s", string(respBody)))}
			return
		}

		var parsed batchEmbedResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			resultCh <- result{err: fmt.Errorf("decode embed response: %w", err)}
			return
		}
		if parsed.Error != nil {
			resultCh <- result{err: aerrors.TransientProviderError("embedding provider error: "+parsed.Error.Message, nil)}
			return
		}
		if len(parsed.Embeddings) == 0 {
			resultCh <- result{err: fmt.Errorf("embedding provider returned no embeddings")}
			return
		}
		resultCh <- result{emb: normalizeVector(parsed.Embeddings[0].Values), tokens: ratelimit.EstimateTokens(text)}
	}()

	select {
	case <-ctx.Done():
		c.transport.CloseIdleConnections()
		return nil, 0, ctx.Err()
	case r := <-resultCh:
		if r.err != nil {
			return nil, 0, r.err
		}
		return r.emb, r.tokens, nil
	}
}

// Close releases idle HTTP connections.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.transport.CloseIdleConnections()
	return nil
}
