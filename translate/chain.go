package translate

import (
	"context"
	"fmt"
	"sync"
)

// Store persists glosses across runs. Lookup returns only the phrases it
// knows.
type Store interface {
	Lookup(ctx context.Context, phrases []string) (map[string]string, error)
	Save(ctx context.Context, glosses map[string]string) error
}

// Chain resolves a batch through a persistent store and then through its
// backends in order. Each backend after the first only sees the phrases its
// predecessors left unresolved, and is only tried when its predecessor
// failed. Glosses a failing backend already emitted, such as those of its
// successful sub-chunks, are kept.
type Chain struct {
	Options
	store    Store
	backends []Backend
}

// NewChain returns a chain over backends. store may be nil.
func NewChain(store Store, backends []Backend, opts Options) *Chain {
	return &Chain{Options: opts, store: store, backends: backends}
}

// Backends returns the backends in the order they are tried.
func (c *Chain) Backends() []Backend { return c.backends }

// resolvedSet records emitted phrases; backends emit concurrently.
type resolvedSet struct {
	mu    sync.Mutex
	fresh map[string]string
	seen  map[string]bool
}

func (r *resolvedSet) add(phrase, gloss string, fresh bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[phrase] = true
	if fresh {
		r.fresh[phrase] = gloss
	}
}

func (r *resolvedSet) remaining(phrases []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, p := range phrases {
		if !r.seen[p] {
			out = append(out, p)
		}
	}
	return out
}

func (r *resolvedSet) takeFresh() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.fresh
	r.fresh = make(map[string]string)
	return out
}

// Resolve resolves phrases, emitting each gloss as soon as it is known.
// It fails only when the last backend tried failed.
func (c *Chain) Resolve(ctx context.Context, phrases []string, emit Emit) error {
	set := &resolvedSet{fresh: make(map[string]string), seen: make(map[string]bool)}

	pending := phrases
	if c.store != nil {
		known, err := c.store.Lookup(ctx, phrases)
		if err != nil {
			c.logError("gloss store lookup: %v", err)
		}
		for _, p := range phrases {
			if g, ok := known[p]; ok {
				set.add(p, g, false)
				emit(p, g)
			}
		}
		pending = set.remaining(phrases)
		if len(known) > 0 {
			c.debug("gloss store resolved %d of %d phrases", len(phrases)-len(pending), len(phrases))
		}
	}
	if len(pending) == 0 {
		return nil
	}
	if len(c.backends) == 0 {
		return fmt.Errorf("no translation backends configured")
	}

	record := func(phrase, gloss string) {
		set.add(phrase, gloss, true)
		emit(phrase, gloss)
	}

	var err error
	for i, b := range c.backends {
		if i > 0 {
			pending = set.remaining(pending)
			if len(pending) == 0 {
				break
			}
			c.log("falling back to %s for %d phrases", b.Name(), len(pending))
		}
		err = b.Translate(ctx, pending, record)
		c.save(ctx, set.takeFresh())
		if err == nil {
			return nil
		}
		c.logError("%s backend: %v", b.Name(), err)
	}
	if len(set.remaining(pending)) == 0 {
		return nil
	}
	return err
}

func (c *Chain) save(ctx context.Context, glosses map[string]string) {
	if c.store == nil || len(glosses) == 0 {
		return
	}
	if err := c.store.Save(ctx, glosses); err != nil {
		c.logError("gloss store save: %v", err)
	}
}
