// Package gloss holds the two maps the annotation pipeline shares between
// discovery and resolution: the Queue of annotation targets waiting for a
// gloss, keyed by phrase, and the Cache of per-phrase resolution state.
//
// Neither type is safe for concurrent use; both are owned by the pipeline's
// event loop.
package gloss

// ---------------------------------------------------------------------------
// Queue
// ---------------------------------------------------------------------------

type queueEntry[T any] struct {
	targets []T
	seq     uint64
}

type queueKey struct {
	phrase string
	seq    uint64
}

// Queue maps a phrase to the targets waiting for its gloss. Phrases iterate
// in first-discovery order; a phrase that is deleted and discovered again
// moves to the end.
type Queue[T any] struct {
	entries map[string]*queueEntry[T]
	order   []queueKey
	seq     uint64
}

// NewQueue returns an empty queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{entries: make(map[string]*queueEntry[T])}
}

// Add registers target under phrase.
func (q *Queue[T]) Add(phrase string, target T) {
	e, ok := q.entries[phrase]
	if !ok {
		q.seq++
		e = &queueEntry[T]{seq: q.seq}
		q.entries[phrase] = e
		q.order = append(q.order, queueKey{phrase: phrase, seq: e.seq})
	}
	e.targets = append(e.targets, target)
}

// Targets returns the targets registered for phrase, in discovery order.
func (q *Queue[T]) Targets(phrase string) []T {
	if e, ok := q.entries[phrase]; ok {
		return e.targets
	}
	return nil
}

// Has reports whether phrase is queued.
func (q *Queue[T]) Has(phrase string) bool {
	_, ok := q.entries[phrase]
	return ok
}

// Delete evicts phrase and its targets.
func (q *Queue[T]) Delete(phrase string) {
	if _, ok := q.entries[phrase]; !ok {
		return
	}
	delete(q.entries, phrase)
	if len(q.order) > 32 && len(q.order) > 2*len(q.entries) {
		q.compact()
	}
}

// Len returns the number of queued phrases.
func (q *Queue[T]) Len() int {
	return len(q.entries)
}

// Phrases returns a snapshot of the queued phrases in iteration order.
// The queue may be modified while the snapshot is walked.
func (q *Queue[T]) Phrases() []string {
	out := make([]string, 0, len(q.entries))
	for _, k := range q.order {
		if e, ok := q.entries[k.phrase]; ok && e.seq == k.seq {
			out = append(out, k.phrase)
		}
	}
	return out
}

func (q *Queue[T]) compact() {
	live := q.order[:0]
	for _, k := range q.order {
		if e, ok := q.entries[k.phrase]; ok && e.seq == k.seq {
			live = append(live, k)
		}
	}
	clear(q.order[len(live):])
	q.order = live
}

// ---------------------------------------------------------------------------
// Cache
// ---------------------------------------------------------------------------

// State is the resolution state of a phrase.
type State int

const (
	// Absent means the phrase was never requested, or its last request failed.
	Absent State = iota
	// Pending means the phrase belongs to an outstanding batch.
	Pending
	// Resolved means a gloss is known. The gloss may be empty.
	Resolved
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	default:
		return "absent"
	}
}

type cacheEntry struct {
	state State
	gloss string
}

// Cache tracks the resolution state of every phrase seen.
type Cache struct {
	entries map[string]cacheEntry
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

// State returns the state of phrase.
func (c *Cache) State(phrase string) State {
	return c.entries[phrase].state
}

// Lookup returns the gloss of a resolved phrase.
func (c *Cache) Lookup(phrase string) (string, bool) {
	e, ok := c.entries[phrase]
	if !ok || e.state != Resolved {
		return "", false
	}
	return e.gloss, true
}

// MarkPending moves an absent phrase to Pending. It reports false, leaving
// the entry untouched, when the phrase is already pending or resolved.
func (c *Cache) MarkPending(phrase string) bool {
	if c.entries[phrase].state != Absent {
		return false
	}
	c.entries[phrase] = cacheEntry{state: Pending}
	return true
}

// Resolve records the gloss for phrase. A later resolution replaces an
// earlier one.
func (c *Cache) Resolve(phrase, gloss string) {
	c.entries[phrase] = cacheEntry{state: Resolved, gloss: gloss}
}

// Revert moves a pending phrase back to Absent so it is requested again.
// Resolved phrases are left alone: a late failure must not discard a gloss
// another batch already delivered.
func (c *Cache) Revert(phrase string) bool {
	if c.entries[phrase].state != Pending {
		return false
	}
	delete(c.entries, phrase)
	return true
}

// Clear forgets every phrase.
func (c *Cache) Clear() {
	clear(c.entries)
}

// Len returns the number of phrases with an entry (pending or resolved).
func (c *Cache) Len() int {
	return len(c.entries)
}
