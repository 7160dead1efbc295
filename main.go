// kataterm — annotates katakana loanwords in HTML documents with the words
// they were borrowed from.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/html"

	"github.com/minios-linux/kataterm/annotate"
	"github.com/minios-linux/kataterm/config"
	"github.com/minios-linux/kataterm/dom"
	"github.com/minios-linux/kataterm/gloss"
	"github.com/minios-linux/kataterm/i18n"
	"github.com/minios-linux/kataterm/langmeta"
	"github.com/minios-linux/kataterm/pipeline"
	"github.com/minios-linux/kataterm/store"
	"github.com/minios-linux/kataterm/translate"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ANSI colors
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[0;31m"
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
	colorBlue   = "\033[0;34m"
)

// logOut is where the log helpers write.
var logOut io.Writer = os.Stderr

func logInfo(format string, args ...any) {
	fmt.Fprintf(logOut, colorBlue+"[INFO]"+colorReset+" "+format+"\n", args...)
}

func logSuccess(format string, args ...any) {
	fmt.Fprintf(logOut, colorGreen+"[OK]"+colorReset+" "+format+"\n", args...)
}

func logWarning(format string, args ...any) {
	fmt.Fprintf(logOut, colorYellow+"[WARN]"+colorReset+" "+format+"\n", args...)
}

func logError(format string, args ...any) {
	fmt.Fprintf(logOut, colorRed+"[ERROR]"+colorReset+" "+format+"\n", args...)
}

// ---------------------------------------------------------------------------
// Global flags
// ---------------------------------------------------------------------------

var (
	configPath string
	verbose    bool
)

// ---------------------------------------------------------------------------
// Root command
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kataterm",
		Short: i18n.T("Annotate katakana loanwords in HTML with their source words"),
		Long: i18n.T(`kataterm finds katakana runs in an HTML document, wraps each one in
<ruby> markup and fills the <rt> slot with the word it was borrowed from.

Commands:
  annotate    Annotate a file once and write the result
  serve       Keep a document live and annotate nodes as they are added
  init        Write a default .kataterm.yaml
  status      Show the effective configuration
  version     Show version information

Backends:
  lexicon     Google Translate web endpoints (default, no key needed)
  structured  An LLM endpoint (OpenAI-compatible, Gemini or Anthropic);
              falls back to the lexicon for anything it cannot answer`),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", i18n.T("Config file (default .kataterm.yaml in the working directory)"))
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, i18n.T("Log every batch and request"))

	root.AddCommand(
		newAnnotateCmd(),
		newServeCmd(),
		newInitCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)

	return root
}

func main() {
	i18n.Init("")
	if err := newRootCmd().Execute(); err != nil {
		logError("%v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// version
// ---------------------------------------------------------------------------

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: i18n.T("Show version information"),
		Long:  i18n.T(`Display version, commit hash, and build date.`),
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "kataterm version %s\n", version)
			fmt.Fprintf(out, "  commit:    %s\n", commit)
			fmt.Fprintf(out, "  built:     %s\n", date)
		},
	}

	return cmd
}

// ---------------------------------------------------------------------------
// init
// ---------------------------------------------------------------------------

func newInitCmd() *cobra.Command {
	var storeKind string

	cmd := &cobra.Command{
		Use:   "init",
		Short: i18n.T("Write a default .kataterm.yaml"),
		Long: i18n.T(`Write a .kataterm.yaml with every key set to its default value.

The API key of the structured backend is never written; set it in the file
by hand or export KATATERM_API_KEY.`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = config.FileName
			}
			cfg := config.Default()
			if storeKind != "" {
				cfg.Store.Kind = storeKind
				if storeKind == store.KindSQLite {
					cfg.Store.Path = ".kataterm.db"
				}
				if storeKind == store.KindFile {
					cfg.Store.Path = store.DefaultFileName
				}
			}
			if err := cfg.Write(path); err != nil {
				return err
			}
			logSuccess(i18n.T("Wrote %s"), path)
			return nil
		},
	}

	cmd.Flags().StringVar(&storeKind, "store", "", i18n.T("Gloss store to configure: none, file, sqlite or redis"))

	return cmd
}

// ---------------------------------------------------------------------------
// status
// ---------------------------------------------------------------------------

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: i18n.T("Show the effective configuration"),
		Long: i18n.T(`Show the configuration after defaults and environment overrides, and the
order in which backends are tried. Does not contact any backend.`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), cfg)
			return nil
		},
	}

	return cmd
}

func printStatus(w io.Writer, cfg *config.File) {
	source := cfg.Path()
	if source == "" {
		source = i18n.T("defaults (no config file)")
	}
	fmt.Fprintf(w, "%s%s%s\n", colorBlue, i18n.T("Configuration"), colorReset)
	fmt.Fprintf(w, "  %-12s %s\n", i18n.T("Source:"), source)
	fmt.Fprintf(w, "  %-12s %s → %s\n", i18n.T("Languages:"), langmeta.Label(cfg.SourceLang), langmeta.Label(cfg.TargetLang))
	fmt.Fprintf(w, "  %-12s %d\n", i18n.T("Batch size:"), cfg.ChunkSize)
	fmt.Fprintf(w, "  %-12s %s\n", i18n.T("Tick:"), cfg.Tick)
	fmt.Fprintf(w, "  %-12s %s\n", i18n.T("Excluded:"), strings.Join(cfg.ExcludedTags(), ", "))
	if len(cfg.SkipSelectors) > 0 {
		fmt.Fprintf(w, "  %-12s %s\n", i18n.T("Skipped:"), strings.Join(cfg.SkipSelectors, ", "))
	}
	fmt.Fprintf(w, "  %-12s %s\n", i18n.T("Interface:"), strings.Join(i18n.Languages(), ", "))

	fmt.Fprintf(w, "\n%s%s%s\n", colorBlue, i18n.T("Backends (in order)"), colorReset)
	n := 1
	fmt.Fprintf(w, "  %d. %s: %s\n", n, i18n.T("store"), cfg.Store.Kind)
	n++
	if cfg.UseStructured() {
		sc := cfg.StructuredConfig()
		fmt.Fprintf(w, "  %d. structured: %s %s (%s, key %s)\n", n, sc.Format, sc.Model, sc.URL, config.MaskKey(sc.APIKey))
		n++
	} else if cfg.Backend == config.BackendStructured {
		fmt.Fprintf(w, "  -  structured: %s%s%s\n", colorRed, i18n.T("not usable (endpoint or API key missing)"), colorReset)
	}
	for _, ep := range cfg.LexiconEndpoints() {
		fmt.Fprintf(w, "  %d. lexicon: %s\n", n, ep.Name())
		n++
	}
}

// ---------------------------------------------------------------------------
// annotate
// ---------------------------------------------------------------------------

func newAnnotateCmd() *cobra.Command {
	var (
		output  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "annotate FILE",
		Short: i18n.T("Annotate a file once and write the result"),
		Long: i18n.T(`Parse an HTML file, annotate every katakana run, wait until every
translation batch has finished, and write the annotated document.

Use - to read standard input. The result goes to standard output unless
--output is given.`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			in, err := openInput(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			defer in.Close()

			var out io.Writer = cmd.OutOrStdout()
			var buf bytes.Buffer
			if output != "" {
				out = &buf
			}
			if err := runAnnotate(ctx, cfg, in, out); err != nil {
				return err
			}
			if output != "" {
				if err := os.WriteFile(output, buf.Bytes(), 0644); err != nil {
					return fmt.Errorf("writing %s: %w", output, err)
				}
				logSuccess(i18n.T("Annotated document written to %s"), output)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", i18n.T("Write the annotated document to this file"))
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, i18n.T("Give up on unfinished batches after this long"))

	return cmd
}

func openInput(name string, stdin io.Reader) (io.ReadCloser, error) {
	if name == "-" {
		return io.NopCloser(stdin), nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	return f, nil
}

// runAnnotate annotates the document read from in and renders it to out.
// A timeout is reported but the partially annotated document is still
// written.
func runAnnotate(ctx context.Context, cfg *config.File, in io.Reader, out io.Writer) error {
	doc, err := dom.Parse(in)
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, cfg.StoreConfig())
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}

	p := newPipeline(doc, cfg, buildChain(cfg, st))
	p.Tick(ctx)
	if err := p.Settle(ctx); err != nil {
		logWarning(i18n.T("Stopped waiting for %d batches: %v"), p.Inflight(), err)
	}

	total, byLang := glossStats(doc)
	if total > 0 {
		logSuccess(i18n.N("%d katakana run annotated", "%d katakana runs annotated", total), total)
		if len(byLang) > 0 {
			logInfo(i18n.T("Source languages: %s"), formatLangStats(byLang))
		}
	} else {
		logInfo(i18n.T("No katakana found"))
	}

	if err := doc.Render(out); err != nil {
		return fmt.Errorf("rendering document: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Wiring
// ---------------------------------------------------------------------------

// buildChain assembles the backend chain cfg describes. st may be nil.
func buildChain(cfg *config.File, st translate.Store) *translate.Chain {
	opts := translate.Options{OnLog: logInfo, OnError: logWarning, Verbose: verbose}

	var backends []translate.Backend
	if cfg.UseStructured() {
		tr := translate.NewHTTPTransport(cfg.Proxy, cfg.Structured.Timeout)
		backends = append(backends, translate.NewStructured(tr,
			translate.NewLLMEndpoint(cfg.StructuredConfig()),
			cfg.Structured.ChunkSize, cfg.Structured.Concurrency, opts))
	} else if cfg.Backend == config.BackendStructured {
		logWarning(i18n.T("Structured backend needs an endpoint and an API key; using the lexicon only"))
	}

	lexTransport := translate.NewHTTPTransport(cfg.Proxy, cfg.Lexicon.Timeout)
	backends = append(backends, translate.NewLexicon(lexTransport, cfg.LexiconEndpoints(), opts))

	return translate.NewChain(st, backends, opts)
}

func newPipeline(doc *dom.Document, cfg *config.File, resolver pipeline.Resolver) *pipeline.Pipeline {
	opts := cfg.PipelineOptions()
	opts.OnLog = logInfo
	opts.OnError = logError
	opts.Verbose = verbose
	return pipeline.New(doc, gloss.NewQueue[annotate.Target](), gloss.NewCache(), resolver, opts)
}

// glossStats counts the gloss slots of doc and, for tagged glosses, the
// source language of each.
func glossStats(doc *dom.Document) (total int, byLang map[string]int) {
	byLang = make(map[string]int)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "rt" {
			for _, a := range n.Attr {
				if a.Key != annotate.GlossAttr {
					continue
				}
				total++
				if lang, _, ok := langmeta.SplitTagged(a.Val); ok {
					byLang[lang]++
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	doc.Do(func(root *html.Node) { walk(root) })
	return total, byLang
}

// formatLangStats renders counts most frequent first.
func formatLangStats(byLang map[string]int) string {
	langs := make([]string, 0, len(byLang))
	for l := range byLang {
		langs = append(langs, l)
	}
	sort.Slice(langs, func(i, j int) bool {
		if byLang[langs[i]] != byLang[langs[j]] {
			return byLang[langs[i]] > byLang[langs[j]]
		}
		return langs[i] < langs[j]
	})
	parts := make([]string, len(langs))
	for i, l := range langs {
		parts[i] = fmt.Sprintf("%s %d", langmeta.Label(l), byLang[l])
	}
	return strings.Join(parts, ", ")
}
