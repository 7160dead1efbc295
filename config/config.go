// Package config loads, validates and writes .kataterm.yaml.
//
// The file is optional: every key has a default, so a missing file in the
// working directory yields the lexicon backend with no persistent store.
// The structured backend's API key may come from the KATATERM_API_KEY
// environment variable instead of the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/minios-linux/kataterm/annotate"
	"github.com/minios-linux/kataterm/pipeline"
	"github.com/minios-linux/kataterm/store"
	"github.com/minios-linux/kataterm/translate"
)

// FileName is the default config file name.
const FileName = ".kataterm.yaml"

// EnvAPIKey overrides structured.api_key.
const EnvAPIKey = "KATATERM_API_KEY"

// Backend names.
const (
	BackendLexicon    = "lexicon"
	BackendStructured = "structured"
)

// ---------------------------------------------------------------------------
// YAML schema
// ---------------------------------------------------------------------------

// File is the top-level .kataterm.yaml structure.
type File struct {
	// SourceLang and TargetLang are the lexicon's sl/tl tags (default ja → en).
	SourceLang string `yaml:"source_lang,omitempty"`
	TargetLang string `yaml:"target_lang,omitempty"`
	// Backend is "lexicon" (default) or "structured".
	Backend string `yaml:"backend,omitempty"`
	// ChunkSize bounds the phrases of one batch (default 200).
	ChunkSize int `yaml:"chunk_size,omitempty"`
	// Tick is the rescan interval in serve mode (default 500ms).
	Tick time.Duration `yaml:"tick,omitempty"`
	// ExcludeTags replaces the default list of elements never annotated.
	ExcludeTags []string `yaml:"exclude_tags,omitempty"`
	// SkipSelectors are CSS selectors whose subtrees are never annotated.
	SkipSelectors []string `yaml:"skip_selectors,omitempty"`
	// Proxy is an HTTP proxy URL for every backend.
	Proxy string `yaml:"proxy,omitempty"`

	Structured Structured `yaml:"structured,omitempty"`
	Lexicon    Lexicon    `yaml:"lexicon,omitempty"`
	Store      Store      `yaml:"store,omitempty"`

	path string `yaml:"-"`
}

// Structured configures the LLM backend.
type Structured struct {
	Endpoint    string        `yaml:"endpoint,omitempty"`
	APIKey      string        `yaml:"api_key,omitempty"`
	Model       string        `yaml:"model,omitempty"`
	Temperature float64       `yaml:"temperature,omitempty"`
	// Format is "openai" (default), "gemini" or "anthropic".
	Format string `yaml:"format,omitempty"`
	// ChunkSize bounds one request (default and maximum 100).
	ChunkSize int `yaml:"chunk_size,omitempty"`
	// Concurrency bounds parallel requests (default 4).
	Concurrency int           `yaml:"concurrency,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
}

// Lexicon configures the bulk backend.
type Lexicon struct {
	// Endpoints replaces the default Google endpoints, tried in order.
	Endpoints []LexiconEndpoint `yaml:"endpoints,omitempty"`
	Timeout   time.Duration     `yaml:"timeout,omitempty"`
}

// LexiconEndpoint is one Google-style lexicon host.
type LexiconEndpoint struct {
	Name   string `yaml:"name,omitempty"`
	Host   string `yaml:"host"`
	Path   string `yaml:"path,omitempty"`
	Client string `yaml:"client,omitempty"`
}

// Store selects the persistent gloss store.
type Store struct {
	// Kind is "none" (default), "file", "sqlite" or "redis".
	Kind string        `yaml:"kind,omitempty"`
	Path string        `yaml:"path,omitempty"`
	URL  string        `yaml:"url,omitempty"`
	TTL  time.Duration `yaml:"ttl,omitempty"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns the configuration used when no file exists.
func Default() *File {
	f := &File{}
	f.applyDefaults()
	return f
}

// Load reads the config at path. An empty path means FileName in the
// working directory, and a missing default file yields Default(); an
// explicitly named file must exist.
func Load(path string) (*File, error) {
	explicit := path != ""
	if !explicit {
		path = FileName
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			f := Default()
			f.applyEnv()
			return f, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	f, err := Parse(data, path)
	if err != nil {
		return nil, err
	}
	f.path = path
	return f, nil
}

// Parse decodes, completes and validates a config. source names the input
// in error messages.
func Parse(data []byte, source string) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", source, err)
	}
	f.applyEnv()
	f.applyDefaults()
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	return &f, nil
}

func (f *File) applyEnv() {
	if key := strings.TrimSpace(os.Getenv(EnvAPIKey)); key != "" {
		f.Structured.APIKey = key
	}
}

func (f *File) applyDefaults() {
	if f.SourceLang == "" {
		f.SourceLang = "ja"
	}
	if f.TargetLang == "" {
		f.TargetLang = "en"
	}
	if f.Backend == "" {
		f.Backend = BackendLexicon
	}
	if f.ChunkSize <= 0 {
		f.ChunkSize = pipeline.DefaultChunkSize
	}
	if f.Tick <= 0 {
		f.Tick = pipeline.DefaultTick
	}
	if f.Structured.Endpoint == "" {
		f.Structured.Endpoint = translate.DefaultStructuredURL
	}
	if f.Structured.Model == "" {
		f.Structured.Model = translate.DefaultStructuredModel
	}
	if f.Structured.Format == "" {
		f.Structured.Format = string(translate.FormatOpenAI)
	}
	if f.Structured.ChunkSize <= 0 {
		f.Structured.ChunkSize = translate.MaxStructuredChunk
	}
	if f.Structured.Concurrency <= 0 {
		f.Structured.Concurrency = 4
	}
	if f.Structured.Timeout <= 0 {
		f.Structured.Timeout = 60 * time.Second
	}
	if f.Lexicon.Timeout <= 0 {
		f.Lexicon.Timeout = 30 * time.Second
	}
	if f.Store.Kind == "" {
		f.Store.Kind = store.KindNone
	}
	for i := range f.Lexicon.Endpoints {
		e := &f.Lexicon.Endpoints[i]
		if e.Path == "" {
			e.Path = "/translate_a/single"
		}
		if e.Client == "" {
			e.Client = "gtx"
		}
		if e.Name == "" {
			e.Name = e.Host
		}
	}
}

func (f *File) validate() error {
	switch f.Backend {
	case BackendLexicon, BackendStructured:
	default:
		return fmt.Errorf("unknown backend %q (valid: %s, %s)", f.Backend, BackendLexicon, BackendStructured)
	}
	switch translate.Format(f.Structured.Format) {
	case translate.FormatOpenAI, translate.FormatGemini, translate.FormatAnthropic:
	default:
		return fmt.Errorf("unknown structured.format %q (valid: openai, gemini, anthropic)", f.Structured.Format)
	}
	if f.Structured.ChunkSize > translate.MaxStructuredChunk {
		return fmt.Errorf("structured.chunk_size %d exceeds %d", f.Structured.ChunkSize, translate.MaxStructuredChunk)
	}
	for i, e := range f.Lexicon.Endpoints {
		if e.Host == "" {
			return fmt.Errorf("lexicon endpoint #%d has no host", i+1)
		}
	}
	switch f.Store.Kind {
	case store.KindNone, store.KindFile:
	case store.KindSQLite:
		if f.Store.Path == "" {
			return fmt.Errorf("store kind %q needs a path", f.Store.Kind)
		}
	case store.KindRedis:
		if f.Store.URL == "" {
			return fmt.Errorf("store kind %q needs a url", f.Store.Kind)
		}
	default:
		return fmt.Errorf("unknown store kind %q (valid: none, file, sqlite, redis)", f.Store.Kind)
	}
	return nil
}

// Path returns the file the config was read from, or "" for defaults.
func (f *File) Path() string {
	return f.path
}

// Write saves f as YAML at path, refusing to overwrite an existing file.
// The API key is never written.
func (f *File) Write(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	out := *f
	out.Structured.APIKey = ""
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

// StructuredConfig returns the structured backend settings.
func (f *File) StructuredConfig() translate.StructuredConfig {
	return translate.StructuredConfig{
		URL:         f.Structured.Endpoint,
		APIKey:      f.Structured.APIKey,
		Model:       f.Structured.Model,
		Temperature: f.Structured.Temperature,
		Format:      translate.Format(f.Structured.Format),
	}
}

// UseStructured reports whether the structured backend is selected and
// configured well enough to be called.
func (f *File) UseStructured() bool {
	return f.Backend == BackendStructured && f.StructuredConfig().Usable()
}

// LexiconEndpoints returns the lexicon endpoints in the order they are
// tried.
func (f *File) LexiconEndpoints() []translate.Endpoint {
	if len(f.Lexicon.Endpoints) == 0 {
		return translate.DefaultGoogleEndpoints(f.SourceLang, f.TargetLang)
	}
	eps := make([]translate.Endpoint, 0, len(f.Lexicon.Endpoints))
	for _, e := range f.Lexicon.Endpoints {
		url := e.Host
		if !strings.Contains(url, "://") {
			url = "https://" + url
		}
		eps = append(eps, &translate.GoogleEndpoint{
			Label:      e.Name,
			URL:        strings.TrimRight(url, "/") + e.Path,
			Client:     e.Client,
			SourceLang: f.SourceLang,
			TargetLang: f.TargetLang,
		})
	}
	return eps
}

// StoreConfig returns the persistent store settings.
func (f *File) StoreConfig() store.Config {
	return store.Config{Kind: f.Store.Kind, Path: f.Store.Path, URL: f.Store.URL, TTL: f.Store.TTL}
}

// PipelineOptions returns the scheduling and scanning options. Logging
// hooks are left for the caller.
func (f *File) PipelineOptions() pipeline.Options {
	return pipeline.Options{
		ChunkSize:     f.ChunkSize,
		Interval:      f.Tick,
		ExcludeTags:   f.ExcludeTags,
		SkipSelectors: f.SkipSelectors,
	}
}

// ExcludedTags returns the effective exclusion list.
func (f *File) ExcludedTags() []string {
	if len(f.ExcludeTags) == 0 {
		return annotate.DefaultExcludeTags
	}
	return f.ExcludeTags
}

// MaskKey returns a masked version of an API key for display.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
