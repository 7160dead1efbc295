package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/minios-linux/kataterm/config"
	"github.com/minios-linux/kataterm/dom"
	"github.com/minios-linux/kataterm/i18n"
	"github.com/minios-linux/kataterm/store"
)

// ---------------------------------------------------------------------------
// serve (live document over HTTP)
// ---------------------------------------------------------------------------

func newServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve FILE",
		Short: i18n.T("Keep a document live and annotate nodes as they are added"),
		Long: i18n.T(`Load an HTML file and keep it in memory as a live document. New nodes
are annotated on the next tick, and glosses appear as soon as they resolve.

Endpoints:
  GET    /                      Render the current document
  POST   /nodes?selector=SEL    Append the HTML fragment in the request body
                                to every element matching SEL (default body)
  DELETE /nodes?selector=SEL    Remove every element matching SEL

Send SIGHUP to reload the config file; the gloss cache is cleared and
pending phrases are requested again with the new backends.`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), args[0], listen)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "127.0.0.1:8080", i18n.T("Address to listen on"))

	return cmd
}

func runServe(ctx context.Context, file, listen string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("opening %s: %w", file, err)
	}
	doc, err := dom.Parse(f)
	f.Close()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores opened by reloads stay open until shutdown: batches already in
	// flight may still write to them.
	var (
		storesMu sync.Mutex
		stores   []store.Store
	)
	keep := func(s store.Store) {
		if s == nil {
			return
		}
		storesMu.Lock()
		stores = append(stores, s)
		storesMu.Unlock()
	}
	defer func() {
		storesMu.Lock()
		defer storesMu.Unlock()
		for _, s := range stores {
			s.Close()
		}
	}()
	st, err := store.Open(ctx, cfg.StoreConfig())
	if err != nil {
		return err
	}
	keep(st)

	p := newPipeline(doc, cfg, buildChain(cfg, st))

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				next, err := config.Load(configPath)
				if err != nil {
					logError(i18n.T("Reload failed, keeping the current config: %v"), err)
					continue
				}
				nextStore, err := store.Open(ctx, next.StoreConfig())
				if err != nil {
					logError(i18n.T("Reload failed, keeping the current config: %v"), err)
					continue
				}
				keep(nextStore)
				chain := buildChain(next, nextStore)
				p.Post(ctx, func() { p.Reset(chain) })
				logSuccess(i18n.T("Config reloaded"))
			}
		}
	}()

	srv := &http.Server{
		Addr:              listen,
		Handler:           newDocServer(doc).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 2)
	go func() {
		errc <- p.Run(ctx)
	}()
	go func() {
		logInfo(i18n.T("Serving %s on http://%s"), file, listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			stop()
			shutdown(srv)
			return err
		}
	}
	shutdown(srv)
	logInfo(i18n.T("Stopped"))
	return nil
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

// docServer exposes a live document over HTTP. Every change goes through
// the document, so the pipeline sees it as a mutation.
type docServer struct {
	doc *dom.Document
}

func newDocServer(doc *dom.Document) *docServer {
	return &docServer{doc: doc}
}

func (s *docServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRender)
	mux.HandleFunc("POST /nodes", s.handleAppend)
	mux.HandleFunc("DELETE /nodes", s.handleRemove)
	return mux
}

func (s *docServer) handleRender(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.doc.Render(w); err != nil {
		logError("render: %v", err)
	}
}

func (s *docServer) handleAppend(w http.ResponseWriter, r *http.Request) {
	selector := r.URL.Query().Get("selector")
	if selector == "" {
		selector = "body"
	}
	fragment, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	parents := s.doc.Find(selector)
	if len(parents) == 0 {
		http.Error(w, fmt.Sprintf("no element matches %q", selector), http.StatusNotFound)
		return
	}
	added := 0
	for _, parent := range parents {
		nodes, err := s.doc.AppendHTML(parent, string(fragment))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		added += len(nodes)
	}
	if verbose {
		logInfo("appended %d nodes under %s", added, selector)
	}
	w.WriteHeader(http.StatusCreated)
	fmt.Fprintf(w, "%d\n", added)
}

func (s *docServer) handleRemove(w http.ResponseWriter, r *http.Request) {
	selector := r.URL.Query().Get("selector")
	if selector == "" {
		http.Error(w, "selector is required", http.StatusBadRequest)
		return
	}
	nodes := s.doc.Find(selector)
	for _, n := range nodes {
		s.doc.RemoveChild(n)
	}
	fmt.Fprintf(w, "%d\n", len(nodes))
}
