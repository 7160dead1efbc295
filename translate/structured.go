package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// ---------------------------------------------------------------------------
// API formats
// ---------------------------------------------------------------------------

// Format selects the wire format of the structured backend.
type Format string

const (
	FormatOpenAI    Format = "openai"    // OpenAI chat/completions
	FormatGemini    Format = "gemini"    // Google Gemini generateContent
	FormatAnthropic Format = "anthropic" // Anthropic messages
)

// DefaultStructuredURL is the OpenAI-compatible Gemini endpoint.
const DefaultStructuredURL = "https://generativelanguage.googleapis.com/v1beta/openai/chat/completions"

// DefaultStructuredModel is used when no model is configured.
const DefaultStructuredModel = "gemini-2.0-flash-lite"

// MaxStructuredChunk bounds the phrases sent in one structured request.
const MaxStructuredChunk = 100

// ScholarRole is the system message of every structured request.
const ScholarRole = "You are a multilingual scholar."

// ---------------------------------------------------------------------------
// Prompt
// ---------------------------------------------------------------------------

// BuildPrompt returns the user message for a sub-chunk. The reply contract
// is one line per phrase, in order, each "<lang>: <word>".
func BuildPrompt(phrases []string) string {
	var b strings.Builder
	b.WriteString("Restore each of the following Japanese katakana terms to the original word it was borrowed from.\n\n")
	b.WriteString("Rules:\n")
	b.WriteString(fmt.Sprintf("- Return exactly %d lines, one per input line, in the same order.\n", len(phrases)))
	b.WriteString("- Prefix every line with the ISO 639-1 code of the source language, a colon and a space.\n")
	b.WriteString("- Do not add explanations, numbering, blank lines or any other commentary.\n")
	b.WriteString("- Do not repeat the katakana term in your answer.\n")
	b.WriteString("- If a term is a native Japanese word or name written in katakana, transliterate it in romaji and tag it \"ja\".\n")
	b.WriteString("- If a term is an abbreviation (e.g. パソコン, エアコン), give the full original form.\n\n")
	b.WriteString("Terms:\n")
	for _, p := range phrases {
		b.WriteString(p)
		b.WriteByte('\n')
	}
	b.WriteString("\nExample request and response format:\n")
	b.WriteString("Request:\nストレス\nアルバイト\nパソコン\n")
	b.WriteString("Response:\nen: stress\nde: Arbeit\nen: personal computer\n")
	return b.String()
}

// ---------------------------------------------------------------------------
// Request builders for each API format
// ---------------------------------------------------------------------------

func buildOpenAIChatRequest(model, systemPrompt, userPrompt string, temperature float64) ([]byte, error) {
	type msg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	req := struct {
		Model       string  `json:"model"`
		Messages    []msg   `json:"messages"`
		Temperature float64 `json:"temperature"`
		Stream      bool    `json:"stream"`
	}{
		Model: model,
		Messages: []msg{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: temperature,
		Stream:      false,
	}
	return json.Marshal(req)
}

func buildGeminiRequest(systemPrompt, userPrompt string, temperature float64) ([]byte, error) {
	type part struct {
		Text string `json:"text"`
	}
	type content struct {
		Role  string `json:"role,omitempty"`
		Parts []part `json:"parts"`
	}
	type genConfig struct {
		Temperature float64 `json:"temperature"`
	}
	req := struct {
		Contents          []content `json:"contents"`
		GenerationConfig  genConfig `json:"generationConfig"`
		SystemInstruction *content  `json:"systemInstruction,omitempty"`
	}{
		Contents: []content{
			{Role: "user", Parts: []part{{Text: userPrompt}}},
		},
		GenerationConfig: genConfig{Temperature: temperature},
	}
	if systemPrompt != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: systemPrompt}}}
	}
	return json.Marshal(req)
}

func buildAnthropicRequest(model, systemPrompt, userPrompt string, temperature float64) ([]byte, error) {
	type msg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	req := struct {
		Model       string  `json:"model"`
		MaxTokens   int     `json:"max_tokens"`
		System      string  `json:"system,omitempty"`
		Messages    []msg   `json:"messages"`
		Temperature float64 `json:"temperature"`
	}{
		Model:     model,
		MaxTokens: 8192,
		System:    systemPrompt,
		Messages: []msg{
			{Role: "user", Content: userPrompt},
		},
		Temperature: temperature,
	}
	return json.Marshal(req)
}

// ---------------------------------------------------------------------------
// Response text extraction (multi-format)
// ---------------------------------------------------------------------------

// extractResponseText tries all known response formats and returns the text.
func extractResponseText(body []byte) (string, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", fmt.Errorf("%w: invalid JSON: %v", ErrParse, err)
	}

	if errObj, ok := raw["error"]; ok {
		if errMap, ok := errObj.(map[string]any); ok {
			if msg, ok := errMap["message"].(string); ok {
				return "", fmt.Errorf("%w: API error: %s", ErrParse, msg)
			}
		}
		return "", fmt.Errorf("%w: API error: %v", ErrParse, errObj)
	}

	// OpenAI chat format: choices[0].message.content
	if choices, ok := raw["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if message, ok := choice["message"].(map[string]any); ok {
				if content, ok := message["content"].(string); ok {
					return content, nil
				}
			}
		}
	}

	// Gemini format: candidates[0].content.parts[0].text
	if candidates, ok := raw["candidates"].([]any); ok && len(candidates) > 0 {
		if candidate, ok := candidates[0].(map[string]any); ok {
			if content, ok := candidate["content"].(map[string]any); ok {
				if parts, ok := content["parts"].([]any); ok && len(parts) > 0 {
					if part, ok := parts[0].(map[string]any); ok {
						if text, ok := part["text"].(string); ok {
							return text, nil
						}
					}
				}
			}
		}
	}

	// Anthropic format: content[].type=="text" -> .text
	if contentArr, ok := raw["content"].([]any); ok {
		for _, c := range contentArr {
			if block, ok := c.(map[string]any); ok {
				if block["type"] == "text" {
					if text, ok := block["text"].(string); ok {
						return text, nil
					}
				}
			}
		}
	}

	return "", fmt.Errorf("%w: could not extract text from response: %s", ErrParse, truncate(string(body), 300))
}

var codeFence = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")

// parseLines splits a reply into one gloss per phrase. The line count must
// match exactly; a misaligned reply is rejected whole.
func parseLines(phrases []string, text string) (map[string]string, error) {
	text = strings.TrimSpace(text)
	if m := codeFence.FindStringSubmatch(text); len(m) > 1 {
		text = m[1]
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")

	lines := strings.Split(text, "\n")
	if text == "" {
		lines = nil
	}
	if len(lines) != len(phrases) {
		return nil, &AlignmentError{Want: len(phrases), Got: len(lines)}
	}
	out := make(map[string]string, len(phrases))
	for i, p := range phrases {
		out[p] = strings.TrimSpace(lines[i])
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Structured endpoint
// ---------------------------------------------------------------------------

// StructuredConfig configures the LLM endpoint.
type StructuredConfig struct {
	// URL is the endpoint. For FormatOpenAI a base URL without
	// /chat/completions is completed; for FormatGemini the
	// /v1beta/models/{model}:generateContent path is appended to a base URL;
	// for FormatAnthropic /messages is appended.
	URL         string
	APIKey      string
	Model       string
	Temperature float64
	Format      Format
}

// Usable reports whether the endpoint is configured well enough to call.
func (c StructuredConfig) Usable() bool {
	return strings.TrimSpace(c.URL) != "" && strings.TrimSpace(c.APIKey) != ""
}

// LLMEndpoint is the Endpoint of a structured backend.
type LLMEndpoint struct {
	cfg StructuredConfig
}

// NewLLMEndpoint returns an endpoint for cfg.
func NewLLMEndpoint(cfg StructuredConfig) *LLMEndpoint {
	if cfg.Format == "" {
		cfg.Format = FormatOpenAI
	}
	if cfg.Model == "" {
		cfg.Model = DefaultStructuredModel
	}
	return &LLMEndpoint{cfg: cfg}
}

// Name implements Endpoint.
func (e *LLMEndpoint) Name() string {
	return fmt.Sprintf("%s (%s)", e.cfg.Model, e.cfg.Format)
}

// BuildRequest implements Endpoint.
func (e *LLMEndpoint) BuildRequest(phrases []string) (Request, error) {
	prompt := BuildPrompt(phrases)
	base := strings.TrimRight(e.cfg.URL, "/")
	headers := map[string]string{"Content-Type": "application/json"}

	var (
		endpoint string
		body     []byte
		err      error
	)
	switch e.cfg.Format {
	case FormatGemini:
		if strings.Contains(base, ":generateContent") {
			endpoint = base
		} else {
			endpoint = fmt.Sprintf("%s/v1beta/models/%s:generateContent", base, e.cfg.Model)
		}
		headers["x-goog-api-key"] = e.cfg.APIKey
		body, err = buildGeminiRequest(ScholarRole, prompt, e.cfg.Temperature)

	case FormatAnthropic:
		endpoint = base
		if !strings.HasSuffix(endpoint, "/messages") {
			endpoint += "/messages"
		}
		headers["x-api-key"] = e.cfg.APIKey
		headers["anthropic-version"] = "2023-06-01"
		body, err = buildAnthropicRequest(e.cfg.Model, ScholarRole, prompt, e.cfg.Temperature)

	case FormatOpenAI:
		endpoint = base
		if !strings.HasSuffix(endpoint, "/chat/completions") {
			endpoint += "/chat/completions"
		}
		headers["Authorization"] = "Bearer " + e.cfg.APIKey
		body, err = buildOpenAIChatRequest(e.cfg.Model, ScholarRole, prompt, e.cfg.Temperature)

	default:
		return Request{}, fmt.Errorf("unknown structured format %q", e.cfg.Format)
	}
	if err != nil {
		return Request{}, err
	}
	return Request{Method: http.MethodPost, URL: endpoint, Header: headers, Body: body}, nil
}

// ParseResponse implements Endpoint.
func (e *LLMEndpoint) ParseResponse(phrases []string, body []byte) (map[string]string, error) {
	text, err := extractResponseText(body)
	if err != nil {
		return nil, err
	}
	return parseLines(phrases, text)
}

// ---------------------------------------------------------------------------
// Structured backend
// ---------------------------------------------------------------------------

// Structured sends a batch as concurrent sub-chunks of at most ChunkSize
// phrases. A sub-chunk resolves all of its phrases or none; the error
// returned joins the failures of every failed sub-chunk.
type Structured struct {
	Options
	endpoint      Endpoint
	transport     Transport
	chunkSize     int
	maxConcurrent int
}

// NewStructured returns a structured backend. chunkSize is clamped to
// MaxStructuredChunk.
func NewStructured(transport Transport, endpoint Endpoint, chunkSize, maxConcurrent int, opts Options) *Structured {
	if chunkSize <= 0 || chunkSize > MaxStructuredChunk {
		chunkSize = MaxStructuredChunk
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Structured{
		Options:       opts,
		endpoint:      endpoint,
		transport:     transport,
		chunkSize:     chunkSize,
		maxConcurrent: maxConcurrent,
	}
}

// Name implements Backend.
func (s *Structured) Name() string { return "structured" }

// Translate implements Backend.
func (s *Structured) Translate(ctx context.Context, phrases []string, emit Emit) error {
	chunks := splitPhrases(phrases, s.chunkSize)
	return runParallel(ctx, chunks, s.maxConcurrent, func(ctx context.Context, chunk []string) error {
		req, err := s.endpoint.BuildRequest(chunk)
		if err != nil {
			return fmt.Errorf("building request: %w", err)
		}
		s.debug("%s: %d phrases -> %s", s.endpoint.Name(), len(chunk), req.URL)
		resp, err := s.transport.Do(ctx, req)
		if err != nil {
			return fmt.Errorf("%s: %w", s.endpoint.Name(), err)
		}
		glosses, err := s.endpoint.ParseResponse(chunk, resp.Body)
		if err != nil {
			return fmt.Errorf("%s: %w", s.endpoint.Name(), err)
		}
		for _, p := range chunk {
			emit(p, glosses[p])
		}
		return nil
	})
}
