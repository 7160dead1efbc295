package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/minios-linux/kataterm/config"
	"github.com/minios-linux/kataterm/dom"
	"github.com/minios-linux/kataterm/store"
)

func quietLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := logOut
	logOut = &buf
	t.Cleanup(func() { logOut = old })
	return &buf
}

// lexiconServer answers Google-style sentence replies from a table.
func lexiconServer(t *testing.T, table map[string]string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		type sentence struct {
			Trans string `json:"trans"`
			Orig  string `json:"orig"`
		}
		var reply struct {
			Sentences []sentence `json:"sentences"`
		}
		for _, q := range strings.Split(r.URL.Query().Get("q"), "\n") {
			if g, ok := table[q]; ok {
				reply.Sentences = append(reply.Sentences, sentence{Trans: g, Orig: q})
			}
		}
		_ = json.NewEncoder(w).Encode(reply)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func testConfig(t *testing.T, yaml string) *config.File {
	t.Helper()
	t.Setenv(config.EnvAPIKey, "")
	cfg, err := config.Parse([]byte(yaml), "test.yaml")
	if err != nil {
		t.Fatalf("config.Parse: %v", err)
	}
	return cfg
}

func TestRunAnnotate(t *testing.T) {
	logs := quietLogs(t)
	srv, hits := lexiconServer(t, map[string]string{"アルバイト": "part-time job", "テスト": "test"})
	cfg := testConfig(t, "lexicon:\n  endpoints:\n    - host: "+srv.URL+"\n      path: /t\n")

	in := strings.NewReader(`<html><body><p>アルバイトのテスト</p><textarea>テスト</textarea></body></html>`)
	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := runAnnotate(ctx, cfg, in, &out); err != nil {
		t.Fatalf("runAnnotate: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		`<ruby>アルバイト<rt class="katakana-terminator-rt" data-rt="part-time job"></rt></ruby>の`,
		`<ruby>テスト<rt class="katakana-terminator-rt" data-rt="test"></rt></ruby></p>`,
		`<textarea>テスト</textarea>`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output lacks %s\n%s", want, got)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("lexicon hit %d times, want one batch", hits.Load())
	}
	if !strings.Contains(logs.String(), "2 phrases in 1 requests") {
		t.Errorf("logs lack batch stats:\n%s", logs.String())
	}
}

func TestRunAnnotateUsesStore(t *testing.T) {
	quietLogs(t)
	srv, hits := lexiconServer(t, map[string]string{"テスト": "from lexicon"})

	path := filepath.Join(t.TempDir(), "glosses.yaml")
	f, err := store.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Save(context.Background(), map[string]string{"テスト": "from store"}); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(t, "lexicon:\n  endpoints:\n    - host: "+srv.URL+"\nstore:\n  kind: file\n  path: "+path+"\n")
	var out bytes.Buffer
	if err := runAnnotate(context.Background(), cfg, strings.NewReader("<p>テスト</p>"), &out); err != nil {
		t.Fatalf("runAnnotate: %v", err)
	}
	if !strings.Contains(out.String(), `data-rt="from store"`) {
		t.Fatalf("output = %s", out.String())
	}
	if hits.Load() != 0 {
		t.Fatalf("lexicon contacted for a stored phrase")
	}
}

func TestRunAnnotateBackendDown(t *testing.T) {
	logs := quietLogs(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testConfig(t, "lexicon:\n  endpoints:\n    - host: "+srv.URL+"\n")
	var out bytes.Buffer
	if err := runAnnotate(context.Background(), cfg, strings.NewReader("<p>テスト</p>"), &out); err != nil {
		t.Fatalf("runAnnotate: %v", err)
	}
	if !strings.Contains(out.String(), `<ruby>テスト<rt class="katakana-terminator-rt" data-rt=""></rt></ruby>`) {
		t.Fatalf("output = %s", out.String())
	}
	if !strings.Contains(logs.String(), "[ERROR]") {
		t.Fatalf("failure not logged:\n%s", logs.String())
	}
}

func TestBuildChain(t *testing.T) {
	logs := quietLogs(t)

	names := func(cfg *config.File) string {
		var out []string
		for _, b := range buildChain(cfg, nil).Backends() {
			out = append(out, b.Name())
		}
		return strings.Join(out, ",")
	}

	if got := names(testConfig(t, "")); got != "lexicon" {
		t.Errorf("default chain = %s", got)
	}
	if got := names(testConfig(t, "backend: structured\nstructured:\n  api_key: k\n")); got != "structured,lexicon" {
		t.Errorf("structured chain = %s", got)
	}
	if got := names(testConfig(t, "backend: structured\n")); got != "lexicon" {
		t.Errorf("keyless structured chain = %s", got)
	}
	if !strings.Contains(logs.String(), "lexicon only") {
		t.Errorf("keyless structured backend not warned about:\n%s", logs.String())
	}
}

func TestDocServer(t *testing.T) {
	doc, err := dom.ParseString(`<html><body><div id="feed"></div><p class="ad">広告</p></body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	h := newDocServer(doc).routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/nodes?selector=%23feed", strings.NewReader("<p>ニュース</p><p>more</p>")))
	if rec.Code != http.StatusCreated || strings.TrimSpace(rec.Body.String()) != "2" {
		t.Fatalf("POST = %d %q", rec.Code, rec.Body.String())
	}
	recs := doc.TakeRecords()
	if len(recs) != 1 || len(recs[0].Added) != 2 {
		t.Fatalf("records = %+v", recs)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/nodes?selector=%23missing", strings.NewReader("<p>x</p>")))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("POST to missing selector = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/nodes?selector=.ad", nil))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "1" {
		t.Fatalf("DELETE = %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/nodes", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("DELETE without selector = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `<div id="feed"><p>ニュース</p><p>more</p></div>`) || strings.Contains(string(body), "広告") {
		t.Fatalf("GET / = %s", body)
	}
}

func TestGlossStats(t *testing.T) {
	doc, err := dom.ParseString(`<p>` +
		`<ruby>ア<rt data-rt="de: Arbeit"></rt></ruby>` +
		`<ruby>イ<rt data-rt="en: ink"></rt></ruby>` +
		`<ruby>ウ<rt data-rt="en: wool"></rt></ruby>` +
		`<ruby>エ<rt data-rt="plain"></rt></ruby></p>`)
	if err != nil {
		t.Fatal(err)
	}
	total, byLang := glossStats(doc)
	if total != 4 || byLang["en"] != 2 || byLang["de"] != 1 || len(byLang) != 2 {
		t.Fatalf("glossStats = %d, %v", total, byLang)
	}
	if got := formatLangStats(byLang); got != "🇺🇸 en (English) 2, 🇩🇪 de (Deutsch) 1" {
		t.Fatalf("formatLangStats = %q", got)
	}
}

func TestPrintStatus(t *testing.T) {
	cfg := testConfig(t, "backend: structured\nstructured:\n  api_key: sk-abcdefghijkl\nstore:\n  kind: sqlite\n  path: g.db\n")
	var out bytes.Buffer
	printStatus(&out, cfg)
	got := out.String()
	for _, want := range []string{"sk-a...ijkl", "1. store: sqlite", "2. structured: openai", "3. lexicon: Google Translate", "4. lexicon: Google Dictionary", "🇯🇵 ja (日本語)"} {
		if !strings.Contains(got, want) {
			t.Errorf("status lacks %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "sk-abcdefghijkl") {
		t.Error("status printed the full API key")
	}
}

func TestInitAndVersionCommands(t *testing.T) {
	quietLogs(t)
	t.Chdir(t.TempDir())
	t.Setenv(config.EnvAPIKey, "")
	configPath = ""
	t.Cleanup(func() { configPath = "" })

	root := newRootCmd()
	root.SetArgs([]string{"init", "--store", "sqlite"})
	if err := root.Execute(); err != nil {
		t.Fatalf("init: %v", err)
	}
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Path() != config.FileName || cfg.Store.Kind != store.KindSQLite || cfg.Store.Path == "" {
		t.Fatalf("written config = %+v", cfg)
	}

	root = newRootCmd()
	root.SetArgs([]string{"init"})
	if err := root.Execute(); err == nil {
		t.Fatal("init overwrote an existing config")
	}

	var out bytes.Buffer
	root = newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out.String(), "kataterm version dev") {
		t.Fatalf("version output = %q", out.String())
	}
}

func TestAnnotateCommandWritesOutput(t *testing.T) {
	quietLogs(t)
	srv, _ := lexiconServer(t, map[string]string{"テスト": "test"})
	dir := t.TempDir()
	t.Setenv(config.EnvAPIKey, "")

	cfgPath := filepath.Join(dir, "k.yaml")
	if err := os.WriteFile(cfgPath, []byte("lexicon:\n  endpoints:\n    - host: "+srv.URL+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	in := filepath.Join(dir, "in.html")
	if err := os.WriteFile(in, []byte("<p>テスト</p>"), 0644); err != nil {
		t.Fatal(err)
	}
	outPath := filepath.Join(dir, "out.html")

	t.Cleanup(func() { configPath = "" })
	root := newRootCmd()
	root.SetArgs([]string{"annotate", "--config", cfgPath, "-o", outPath, in})
	if err := root.Execute(); err != nil {
		t.Fatalf("annotate: %v", err)
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `data-rt="test"`) {
		t.Fatalf("output file = %s", data)
	}
}
