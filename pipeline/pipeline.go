// Package pipeline keeps a live document annotated. It ties together the
// scanner, the translation queue and cache, and a resolver chain, and runs
// them on a single event loop:
//
//	mutations → Coalescer → Scanner → Queue → Drain → Resolver
//	                                              ↓
//	                         targets ← Propagate ← Cache
//
// Every method that touches the queue, the cache or the coalescer must run
// on the loop: Run's goroutine, or the caller's when Tick and Settle are
// driven by hand. Resolver calls run on their own goroutines and report back
// by posting closures to the loop.
package pipeline

import (
	"context"
	"time"

	"golang.org/x/net/html"

	"github.com/minios-linux/kataterm/annotate"
	"github.com/minios-linux/kataterm/dom"
	"github.com/minios-linux/kataterm/gloss"
	"github.com/minios-linux/kataterm/translate"
)

// Default scheduling parameters.
const (
	DefaultChunkSize = 200
	DefaultTick      = 500 * time.Millisecond
)

// Resolver resolves a batch of phrases, emitting glosses as they arrive.
// *translate.Chain implements it.
type Resolver interface {
	Resolve(ctx context.Context, phrases []string, emit translate.Emit) error
}

// Options configures a Pipeline.
type Options struct {
	// ChunkSize bounds the phrases of one batch (default 200).
	ChunkSize int
	// Interval is the tick period used by Run (default 500ms).
	Interval time.Duration
	// ExcludeTags and SkipSelectors are passed to the scanner.
	ExcludeTags   []string
	SkipSelectors []string

	// OnLog emits progress messages.
	OnLog func(format string, args ...any)
	// OnError emits non-fatal failures.
	OnError func(format string, args ...any)
	// Verbose enables per-batch detail.
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

// Pipeline annotates a document and fills in glosses.
type Pipeline struct {
	Options

	doc       *dom.Document
	queue     *gloss.Queue[annotate.Target]
	cache     *gloss.Cache
	resolver  Resolver
	scanner   *annotate.Scanner
	coalescer *Coalescer

	events chan func()
	wake   chan struct{}

	// inflight counts dispatched batches whose completion has not run yet.
	inflight int
	// gen invalidates the completions of batches dispatched before a Reset.
	gen uint64
}

// New returns a pipeline over doc. The queue and cache are owned by the
// pipeline from now on.
func New(doc *dom.Document, queue *gloss.Queue[annotate.Target], cache *gloss.Cache, resolver Resolver, opts Options) *Pipeline {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultTick
	}
	p := &Pipeline{
		Options:   opts,
		doc:       doc,
		queue:     queue,
		cache:     cache,
		resolver:  resolver,
		coalescer: NewCoalescer(doc.Body()),
		events:    make(chan func(), 256),
		wake:      make(chan struct{}, 1),
	}
	p.scanner = annotate.NewScanner(annotate.Options{
		ExcludeTags:   opts.ExcludeTags,
		SkipSelectors: opts.SkipSelectors,
		Attached:      doc.Attached,
		OnTarget: func(phrase string, t annotate.Target) {
			p.queue.Add(phrase, t)
		},
	})
	return p
}

// Document returns the document the pipeline annotates.
func (p *Pipeline) Document() *dom.Document { return p.doc }

// Run drives the pipeline until ctx is done: it ticks every Options.Interval,
// collects mutation records as soon as they are buffered and runs posted
// closures.
func (p *Pipeline) Run(ctx context.Context) error {
	p.doc.Observe(func() {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	})
	defer p.doc.Observe(nil)

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	p.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Tick(ctx)
		case <-p.wake:
			p.coalescer.Observe(p.doc.TakeRecords())
		case fn := <-p.events:
			fn()
		}
	}
}

// Tick runs one tick: it takes the buffered mutation records and, on the
// first tick or when new nodes arrived, scans the frontier and drains the
// queue. It reports whether a scan happened.
func (p *Pipeline) Tick(ctx context.Context) bool {
	p.coalescer.Observe(p.doc.TakeRecords())
	roots, ok := p.coalescer.Flush()
	if !ok {
		return false
	}
	targets := 0
	p.doc.Do(func(*html.Node) {
		for _, root := range roots {
			targets += p.scanner.Scan(root)
		}
	})
	if targets > 0 {
		p.debug("scanned %d subtrees, %d new targets", len(roots), targets)
	}
	p.Drain(ctx)
	return true
}

// Settle runs posted closures until no batch is in flight. It is meant for
// callers that drive the pipeline by hand instead of with Run.
func (p *Pipeline) Settle(ctx context.Context) error {
	for p.inflight > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-p.events:
			fn()
		}
	}
	return nil
}

// Post schedules fn on the loop. It gives up when ctx is done.
func (p *Pipeline) Post(ctx context.Context, fn func()) bool {
	select {
	case p.events <- fn:
		return true
	case <-ctx.Done():
		return false
	}
}

// Reset forgets every cached gloss and switches to resolver (nil keeps the
// current one). Batches already in flight still finish, but their results
// are dropped. Queued targets are requested again on the next tick.
func (p *Pipeline) Reset(resolver Resolver) {
	p.gen++
	p.cache.Clear()
	if resolver != nil {
		p.resolver = resolver
	}
	p.coalescer.Force()
	p.log("gloss cache cleared, %d phrases will be requested again", p.queue.Len())
}

// Inflight returns the number of batches awaiting completion.
func (p *Pipeline) Inflight() int { return p.inflight }
