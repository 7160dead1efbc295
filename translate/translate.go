// Package translate resolves katakana phrases to glosses through an ordered
// chain of backends: a structured LLM backend speaking OpenAI-compatible,
// Gemini or Anthropic APIs, and a bulk lexicon backend speaking the Google
// Translate web endpoints with alternate hosts.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Backend interfaces
// ---------------------------------------------------------------------------

// Emit receives one resolved phrase. Backends call it as soon as a phrase
// resolves, possibly from several goroutines at once.
type Emit func(phrase, gloss string)

// Backend resolves a batch of phrases.
type Backend interface {
	// Name is used in log messages.
	Name() string
	// Translate resolves phrases, emitting each gloss as it becomes known.
	// A nil error means the backend finished; it need not have emitted a
	// gloss for every phrase.
	Translate(ctx context.Context, phrases []string, emit Emit) error
}

// Endpoint is one request/response shape of a remote service.
type Endpoint interface {
	Name() string
	// BuildRequest encodes a batch.
	BuildRequest(phrases []string) (Request, error)
	// ParseResponse decodes a successful response body into phrase→gloss
	// pairs. Errors wrap ErrParse or are *AlignmentError.
	ParseResponse(phrases []string, body []byte) (map[string]string, error)
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// ErrParse marks a response body that does not have the expected shape.
var ErrParse = errors.New("unexpected response shape")

// TransportError is a network failure or a non-2xx response.
type TransportError struct {
	URL    string
	Status int // 0 for network errors
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.URL, e.Status, truncate(e.Body, 200))
}

func (e *TransportError) Unwrap() error { return e.Err }

// AlignmentError is returned when a line-oriented reply does not have one
// line per requested phrase.
type AlignmentError struct {
	Want, Got int
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("reply has %d lines for %d phrases", e.Got, e.Want)
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Options carries logging hooks shared by all backends.
type Options struct {
	// OnLog emits progress messages.
	OnLog func(format string, args ...any)
	// OnError emits non-fatal failures.
	OnError func(format string, args ...any)
	// Verbose enables request-level detail.
	Verbose bool
}

func (o *Options) log(format string, args ...any) {
	if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

func (o *Options) debug(format string, args ...any) {
	if o.Verbose {
		o.log(format, args...)
	}
}

func (o *Options) logError(format string, args ...any) {
	if o.OnError != nil {
		o.OnError(format, args...)
	} else if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

// Request is a transport-neutral HTTP request.
type Request struct {
	Method string
	URL    string
	Header map[string]string
	Body   []byte
}

// Response is a successful HTTP response.
type Response struct {
	Status int
	Body   []byte
}

// Transport sends requests. Failures, including non-2xx statuses, are
// reported as *TransportError so they stay distinct from an empty body.
type Transport interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// HTTPTransport is the net/http Transport. A 429 reply puts its host on
// cooldown for the delay the server asks for; requests to a cooling host
// fail immediately so the chain can move to another host.
type HTTPTransport struct {
	client *http.Client

	mu       sync.Mutex
	cooldown map[string]time.Time
	now      func() time.Time
}

// NewHTTPTransport returns a transport with the given proxy (empty uses the
// HTTP_PROXY/HTTPS_PROXY environment) and per-request timeout.
func NewHTTPTransport(proxyURL string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		client:   makeHTTPClient(proxyURL, timeout),
		cooldown: make(map[string]time.Time),
		now:      time.Now,
	}
}

func makeHTTPClient(proxyURL string, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err == nil {
			transport.Proxy = http.ProxyURL(parsed)
		}
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// Do implements Transport.
func (t *HTTPTransport) Do(ctx context.Context, r Request) (*Response, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	host := hostOf(r.URL)
	if wait := t.coolingFor(host); wait > 0 {
		return nil, &TransportError{URL: r.URL, Status: http.StatusTooManyRequests,
			Body: fmt.Sprintf("host cooling down for %s", wait.Round(time.Second))}
	}

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range r.Header {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &TransportError{URL: r.URL, Err: err}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{URL: r.URL, Err: fmt.Errorf("reading body: %w", err)}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		t.coolDown(host, parseRetryDelay(respBody))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{URL: r.URL, Status: resp.StatusCode, Body: string(respBody)}
	}
	return &Response{Status: resp.StatusCode, Body: respBody}, nil
}

func (t *HTTPTransport) coolingFor(host string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	until, ok := t.cooldown[host]
	if !ok {
		return 0
	}
	remaining := until.Sub(t.now())
	if remaining <= 0 {
		delete(t.cooldown, host)
		return 0
	}
	return remaining
}

func (t *HTTPTransport) coolDown(host string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cooldown[host] = t.now().Add(d)
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Host
}

// parseRetryDelay extracts the retry delay from a 429 response body.
// Looks for Google's RetryInfo detail with retryDelay field.
// Returns the delay to wait, defaulting to 60s + 5s buffer.
func parseRetryDelay(body []byte) time.Duration {
	const defaultDelay = 65 * time.Second

	var errResp struct {
		Error struct {
			Details []struct {
				Type       string `json:"@type"`
				RetryDelay string `json:"retryDelay"`
			} `json:"details"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &errResp); err != nil {
		return defaultDelay
	}

	for _, detail := range errResp.Error.Details {
		if strings.Contains(detail.Type, "RetryInfo") && detail.RetryDelay != "" {
			d := strings.TrimSuffix(detail.RetryDelay, "s")
			if secs, err := strconv.ParseFloat(d, 64); err == nil {
				return time.Duration(secs*1000)*time.Millisecond + 5*time.Second
			}
		}
	}

	return defaultDelay
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// splitPhrases divides phrases into chunks of at most size.
func splitPhrases(phrases []string, size int) [][]string {
	if size <= 0 || size >= len(phrases) {
		return [][]string{phrases}
	}
	var chunks [][]string
	for i := 0; i < len(phrases); i += size {
		end := i + size
		if end > len(phrases) {
			end = len(phrases)
		}
		chunks = append(chunks, phrases[i:end])
	}
	return chunks
}

// runParallel runs fn over tasks with at most maxConcurrent in flight and
// joins every error.
func runParallel[T any](ctx context.Context, tasks []T, maxConcurrent int, fn func(context.Context, T) error) error {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	for _, task := range tasks {
		if ctx.Err() != nil {
			mu.Lock()
			errs = append(errs, ctx.Err())
			mu.Unlock()
			break
		}

		sem <- struct{}{}
		wg.Add(1)

		go func(t T) {
			defer func() {
				<-sem
				wg.Done()
			}()

			if err := fn(ctx, t); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(task)
	}

	wg.Wait()
	return errors.Join(errs...)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
