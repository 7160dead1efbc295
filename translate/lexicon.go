package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode"
)

// ---------------------------------------------------------------------------
// Google-style lexicon endpoints
// ---------------------------------------------------------------------------

// Default lexicon endpoints, tried in this order.
const (
	GoogleTranslateURL  = "https://translate.googleapis.com/translate_a/single"
	GoogleDictionaryURL = "https://translate.google.cn/translate_a/t"
)

// GoogleEndpoint is a Google Translate web endpoint. Phrases travel as one
// newline-joined query; the reply comes back in one of three shapes, all
// handled by ParseResponse:
//
//	[[["translated","original"],...],...]            (client=gtx)
//	["translated\ntranslated"]                       (client=dict-chrome-ex)
//	{"sentences":[{"trans":"...","orig":"..."},...]} (client=dict-chrome-ex)
type GoogleEndpoint struct {
	// Label names the endpoint in logs.
	Label string
	// URL is the full endpoint URL without a query string.
	URL string
	// Client is the value of the client query parameter.
	Client string
	// SourceLang and TargetLang are the sl/tl tags (default ja → en).
	SourceLang string
	TargetLang string
}

// DefaultGoogleEndpoints returns the translate and dictionary endpoints.
func DefaultGoogleEndpoints(sourceLang, targetLang string) []Endpoint {
	return []Endpoint{
		&GoogleEndpoint{Label: "Google Translate", URL: GoogleTranslateURL, Client: "gtx",
			SourceLang: sourceLang, TargetLang: targetLang},
		&GoogleEndpoint{Label: "Google Dictionary", URL: GoogleDictionaryURL, Client: "dict-chrome-ex",
			SourceLang: sourceLang, TargetLang: targetLang},
	}
}

// Name implements Endpoint.
func (g *GoogleEndpoint) Name() string {
	if g.Label != "" {
		return g.Label
	}
	return g.URL
}

// BuildRequest implements Endpoint.
func (g *GoogleEndpoint) BuildRequest(phrases []string) (Request, error) {
	if len(phrases) == 0 {
		return Request{}, fmt.Errorf("empty batch")
	}
	sl, tl := g.SourceLang, g.TargetLang
	if sl == "" {
		sl = "ja"
	}
	if tl == "" {
		tl = "en"
	}
	q := url.Values{}
	q.Set("sl", sl)
	q.Set("tl", tl)
	q.Set("dt", "t")
	q.Set("client", g.Client)
	q.Set("q", trimRightSpace(strings.Join(phrases, "\n")))
	return Request{Method: http.MethodGet, URL: g.URL + "?" + q.Encode()}, nil
}

// ParseResponse implements Endpoint.
func (g *GoogleEndpoint) ParseResponse(phrases []string, body []byte) (map[string]string, error) {
	// Stray ASCII apostrophes in some replies break the decoder.
	text := strings.ReplaceAll(string(body), "'", "’")

	var raw any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	switch v := raw.(type) {
	case map[string]any:
		return parseSentences(v)
	case []any:
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: empty array", ErrParse)
		}
		switch first := v[0].(type) {
		case []any:
			return parsePairs(first)
		case string:
			return parseJoined(phrases, first)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrParse, truncate(text, 200))
}

// parsePairs reads [["translated","original"],...].
func parsePairs(items []any) (map[string]string, error) {
	out := make(map[string]string, len(items))
	for _, item := range items {
		pair, ok := item.([]any)
		if !ok || len(pair) < 2 {
			continue
		}
		trans, ok1 := pair[0].(string)
		orig, ok2 := pair[1].(string)
		if !ok1 || !ok2 {
			continue
		}
		out[trimRightSpace(orig)] = trimRightSpace(trans)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no translation pairs", ErrParse)
	}
	return out, nil
}

// parseJoined reads a single newline-joined blob aligned with phrases.
func parseJoined(phrases []string, blob string) (map[string]string, error) {
	lines := strings.Split(blob, "\n")
	if len(lines) != len(phrases) {
		return nil, &AlignmentError{Want: len(phrases), Got: len(lines)}
	}
	out := make(map[string]string, len(lines))
	for i, l := range lines {
		out[phrases[i]] = trimRightSpace(l)
	}
	return out, nil
}

// parseSentences reads {"sentences":[{"trans":..,"orig":..}]}.
func parseSentences(obj map[string]any) (map[string]string, error) {
	list, ok := obj["sentences"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: object without sentences", ErrParse)
	}
	out := make(map[string]string, len(list))
	for _, item := range list {
		s, ok := item.(map[string]any)
		if !ok {
			continue
		}
		orig, _ := s["orig"].(string)
		trans, _ := s["trans"].(string)
		if orig == "" {
			continue
		}
		out[strings.TrimSpace(orig)] = strings.TrimSpace(trans)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no sentences", ErrParse)
	}
	return out, nil
}

func trimRightSpace(s string) string {
	return strings.TrimRightFunc(s, unicode.IsSpace)
}

// ---------------------------------------------------------------------------
// Lexicon backend
// ---------------------------------------------------------------------------

// Lexicon is the bulk backend. Its endpoints are alternates: the first one
// that answers with a parsable body resolves the batch.
type Lexicon struct {
	Options
	endpoints []Endpoint
	transport Transport
}

// NewLexicon returns a lexicon backend over endpoints, tried in order.
func NewLexicon(transport Transport, endpoints []Endpoint, opts Options) *Lexicon {
	return &Lexicon{Options: opts, endpoints: endpoints, transport: transport}
}

// Name implements Backend.
func (l *Lexicon) Name() string { return "lexicon" }

// Translate implements Backend.
func (l *Lexicon) Translate(ctx context.Context, phrases []string, emit Emit) error {
	if len(l.endpoints) == 0 {
		return fmt.Errorf("no lexicon endpoints configured")
	}
	var lastErr error
	for _, ep := range l.endpoints {
		if err := ctx.Err(); err != nil {
			return err
		}
		glosses, err := l.try(ctx, ep, phrases)
		if err != nil {
			l.logError("%s: %v", ep.Name(), err)
			lastErr = err
			continue
		}
		l.debug("%s resolved %d of %d phrases", ep.Name(), len(glosses), len(phrases))
		for phrase, gloss := range glosses {
			emit(phrase, gloss)
		}
		return nil
	}
	return fmt.Errorf("all %d lexicon endpoints failed: %w", len(l.endpoints), lastErr)
}

func (l *Lexicon) try(ctx context.Context, ep Endpoint, phrases []string) (map[string]string, error) {
	req, err := ep.BuildRequest(phrases)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := l.transport.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return ep.ParseResponse(phrases, resp.Body)
}
