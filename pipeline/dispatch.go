package pipeline

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/minios-linux/kataterm/gloss"
)

// batch is one dispatched resolver call.
type batch struct {
	id      string
	gen     uint64
	phrases []string
}

// Drain walks the queue in discovery order. Resolved phrases are propagated
// at once, pending ones are skipped and absent ones are collected into
// batches of at most ChunkSize phrases, each marked pending and dispatched.
func (p *Pipeline) Drain(ctx context.Context) {
	var (
		next     []string
		ids      []string
		phrases  int
		resolved int
	)
	flush := func() {
		if len(next) == 0 {
			return
		}
		ids = append(ids, p.dispatch(ctx, next))
		phrases += len(next)
		next = nil
	}

	for _, phrase := range p.queue.Phrases() {
		switch p.cache.State(phrase) {
		case gloss.Resolved:
			if p.Propagate(phrase) {
				resolved++
			}
		case gloss.Pending:
		default:
			next = append(next, phrase)
			if len(next) >= p.ChunkSize {
				flush()
			}
		}
	}
	flush()

	if resolved > 0 {
		p.debug("%d phrases answered from cache", resolved)
	}
	if len(ids) > 0 {
		p.log("%d phrases in %d requests (batch %s)", phrases, len(ids), strings.Join(ids, ", "))
	}
}

// dispatch marks phrases pending and hands them to the resolver on a new
// goroutine. Every gloss and the final outcome come back as loop closures.
// It returns the batch ID.
func (p *Pipeline) dispatch(ctx context.Context, phrases []string) string {
	b := &batch{id: uuid.NewString(), gen: p.gen, phrases: phrases}
	for _, phrase := range phrases {
		p.cache.MarkPending(phrase)
	}
	p.inflight++
	p.debug("batch %s: %d phrases", b.id, len(phrases))

	resolver := p.resolver
	go func() {
		err := resolver.Resolve(ctx, b.phrases, func(phrase, text string) {
			p.Post(ctx, func() { p.resolve(b, phrase, text) })
		})
		if !p.Post(ctx, func() { p.finish(b, err) }) {
			p.debug("batch %s: dropped, loop stopped", b.id)
		}
	}()
	return b.id
}

// resolve records one gloss from b.
func (p *Pipeline) resolve(b *batch, phrase, text string) {
	if b.gen != p.gen {
		return
	}
	p.cache.Resolve(phrase, text)
	p.Propagate(phrase)
}

// finish completes b. Phrases still pending, whether the call failed or
// simply never answered them, go back to absent so a later drain retries.
func (p *Pipeline) finish(b *batch, err error) {
	p.inflight--
	if b.gen != p.gen {
		return
	}
	reverted := 0
	for _, phrase := range b.phrases {
		if p.cache.Revert(phrase) {
			reverted++
		}
	}
	switch {
	case err != nil:
		p.logError("batch %s: %d of %d phrases unresolved: %v", b.id, reverted, len(b.phrases), err)
	case reverted > 0:
		p.debug("batch %s: %d of %d phrases got no gloss", b.id, reverted, len(b.phrases))
	default:
		p.debug("batch %s: done", b.id)
	}
}
